package portfolio

import (
	"fmt"
	"strconv"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/services/aging"
	"loan-portfolio-engine/internal/utils"
)

// Report names accepted by Report.
const (
	ReportGeneral           = "general"
	ReportDelinquent        = "delinquent"
	ReportHighRisk          = "high-risk"
	ReportDueToday          = "due-today"
	ReportRollover          = "rollover"
	ReportCollectionActions = "collection-actions"
	ReportStale             = "stale"
	ReportLoans             = "loans"
)

// ReportNames lists every available report.
func ReportNames() []string {
	return []string{
		ReportGeneral,
		ReportDelinquent,
		ReportHighRisk,
		ReportDueToday,
		ReportRollover,
		ReportCollectionActions,
		ReportStale,
		ReportLoans,
	}
}

// Loan exports reuse the extract header names so a download can be re-uploaded.
var (
	generalHeader = []string{
		"PAGARE", "NOMBRE", "CEDULASOCI", "CATEGORIAF", "SALDOCAPIT", "DIASMORA", "SALDOPONER",
		"ANUALIDAD", "FORMAPAGO", "PERIODOCAP", "TASACOLOCA", "FECHADESEM", "PLAZO", "RAPORTES",
	}
	delinquentHeader = []string{
		"PAGARE", "NOMBRE", "CEDULASOCI", "CATEGORIAF", "SALDOCAPIT", "DIASMORA", "SALDOPONER", "CUOTASMORA",
	}
	highRiskHeader = []string{
		"PAGARE", "NOMBRE", "CEDULASOCI", "CATEGORIAF", "SALDOCAPIT", "DIASMORA", "SALDOPONER",
	}
	dueTodayHeader = []string{
		"PAGARE", "NOMBRE", "CEDULASOCI", "ANUALIDAD", "SALDOPONER", "DIASMORA", "CATEGORIAF",
		"NOMBREDEST", "FORMAPAGO", "RAPORTES",
	}
	rolloverHeader = []string{
		"PAGARE", "NOMBRE", "CEDULASOCI", "SALDOCAPIT", "DIASMORA",
		"CATEGORIA_ACTUAL", "DIAS_FIN_MES", "CATEGORIA_FIN_MES",
	}
	actionsHeader = []string{
		"FECHA", "PAGARE", "NOMBRE", "CANAL", "RESULTADO", "COMPROMISO", "MONTO", "OBSERVACIONES", "GESTOR",
	}
	staleHeader = []string{
		"PAGARE", "NOMBRE", "CEDULASOCI", "CATEGORIAF", "SALDOCAPIT", "DIASMORA", "SALDOPONER", "ULTIMA_GESTION", "DIAS_SIN_GESTION",
	}
)

// Report builds the named export over the current snapshot. loanFilter only
// applies to the "loans" report and actionFilter to "collection-actions".
func (s *Service) Report(name string, loanFilter models.LoanFilter, actionFilter models.CollectionActionFilter) (*utils.Table, error) {
	snap := s.Snapshot()
	today := s.Today()
	table := &utils.Table{Name: fmt.Sprintf("%s_%s", name, today.Format(utils.DateLayout))}

	switch name {
	case ReportGeneral:
		table.Header = generalHeader
		table.Rows = generalRows(snap.Loans)
	case ReportLoans:
		table.Header = generalHeader
		table.Rows = generalRows(aging.FilterLoans(snap.Loans, loanFilter))
	case ReportDelinquent:
		table.Header = delinquentHeader
		for _, l := range aging.LoansInCategories(snap.Loans, models.RiskCategoryB, models.RiskCategoryC, models.RiskCategoryD, models.RiskCategoryE) {
			table.Rows = append(table.Rows, []string{
				l.LoanID, l.BorrowerName, l.BorrowerID, string(l.RiskCategory), l.PrincipalBalance.String(),
				strconv.Itoa(l.DaysOverdue), l.AmountDueToCatchUp.String(), strconv.Itoa(l.OverdueInstallmentCount),
			})
		}
	case ReportHighRisk:
		table.Header = highRiskHeader
		for _, l := range aging.LoansInCategories(snap.Loans, models.RiskCategoryC, models.RiskCategoryD, models.RiskCategoryE) {
			table.Rows = append(table.Rows, []string{
				l.LoanID, l.BorrowerName, l.BorrowerID, string(l.RiskCategory), l.PrincipalBalance.String(),
				strconv.Itoa(l.DaysOverdue), l.AmountDueToCatchUp.String(),
			})
		}
	case ReportDueToday:
		table.Header = dueTodayHeader
		for _, l := range aging.SelectDueToday(snap.Loans, today).Loans {
			table.Rows = append(table.Rows, []string{
				l.LoanID, l.BorrowerName, l.BorrowerID, l.InstallmentAmount.String(), l.AmountDueToCatchUp.String(),
				strconv.Itoa(l.DaysOverdue), string(l.RiskCategory), l.ContactDestination,
				string(l.PaymentForm), optionalInt(l.RecurringDueDay),
			})
		}
	case ReportRollover:
		table.Header = rolloverHeader
		for _, e := range aging.ProjectRollover(snap.Loans, today).Loans {
			table.Rows = append(table.Rows, []string{
				e.LoanID, e.BorrowerName, e.BorrowerID, e.PrincipalBalance.String(), strconv.Itoa(e.DaysOverdue),
				string(e.CurrentCategory), strconv.Itoa(e.ProjectedDays), string(e.ProjectedCategory),
			})
		}
	case ReportCollectionActions:
		table.Header = actionsHeader
		for _, a := range snap.Actions {
			if !actionFilter.Matches(&a) {
				continue
			}
			commitment, amount := "", ""
			if a.CommitmentDate != nil {
				commitment = a.CommitmentDate.Format(utils.DateLayout)
			}
			if a.CommittedAmount != nil {
				amount = a.CommittedAmount.String()
			}
			table.Rows = append(table.Rows, []string{
				utils.LocalDay(a.ActionDate, s.loc).Format(utils.DateLayout), a.LoanID, a.BorrowerNameSnapshot,
				string(a.Channel), string(a.Outcome), commitment, amount, a.Notes, a.AgentName,
			})
		}
	case ReportStale:
		table.Header = staleHeader
		for _, l := range aging.DetectStale(snap.Loans, snap.Actions, today, s.staleThreshold).Loans {
			last := ""
			if l.LastActionDate != nil {
				last = utils.LocalDay(*l.LastActionDate, s.loc).Format(utils.DateLayout)
			}
			table.Rows = append(table.Rows, []string{
				l.LoanID, l.BorrowerName, l.BorrowerID, string(l.RiskCategory), l.PrincipalBalance.String(),
				strconv.Itoa(l.DaysOverdue), l.AmountDueToCatchUp.String(), last, optionalInt(l.DaysSinceAction),
			})
		}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownReport, name)
	}

	return table, nil
}

func generalRows(loans []models.LoanRecord) [][]string {
	rows := make([][]string, 0, len(loans))
	for _, l := range loans {
		disbursed := ""
		if l.DisbursementDate != nil {
			disbursed = *l.DisbursementDate
		}
		rows = append(rows, []string{
			l.LoanID, l.BorrowerName, l.BorrowerID, string(l.RiskCategory), l.PrincipalBalance.String(),
			strconv.Itoa(l.DaysOverdue), l.AmountDueToCatchUp.String(), l.InstallmentAmount.String(),
			string(l.PaymentForm), string(l.PaymentPeriod), l.InterestRate.String(), disbursed,
			optionalInt(l.TermMonths), optionalInt(l.RecurringDueDay),
		})
	}
	return rows
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
