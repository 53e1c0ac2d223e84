package aging

import (
	"time"

	"github.com/shopspring/decimal"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/utils"
)

// DefaultStaleThresholdDays is how long an overdue loan may go without contact.
const DefaultStaleThresholdDays = 7

// StaleLoan is an overdue loan without recent collection contact.
type StaleLoan struct {
	models.LoanRecord
	LastActionDate  *time.Time `json:"last_action_date,omitempty"`
	DaysSinceAction *int       `json:"days_since_action,omitempty"`
}

// StaleReport lists overdue loans lacking recent follow-up.
type StaleReport struct {
	ThresholdDays int             `json:"threshold_days"`
	Loans         []StaleLoan     `json:"loans"`
	Principal     decimal.Decimal `json:"principal"`
}

// LatestActions indexes the most recent collection action per loan id.
func LatestActions(actions []models.CollectionAction) map[string]*models.CollectionAction {
	latest := make(map[string]*models.CollectionAction, len(actions))
	for i := range actions {
		a := &actions[i]
		if cur, ok := latest[a.LoanID]; !ok || a.ActionDate.After(cur.ActionDate) {
			latest[a.LoanID] = a
		}
	}
	return latest
}

// DetectStale returns overdue loans whose latest action is missing or older than
// thresholdDays calendar days. A non-positive threshold uses the default.
func DetectStale(loans []models.LoanRecord, actions []models.CollectionAction, today time.Time, thresholdDays int) StaleReport {
	if thresholdDays <= 0 {
		thresholdDays = DefaultStaleThresholdDays
	}

	latest := LatestActions(actions)
	report := StaleReport{
		ThresholdDays: thresholdDays,
		Loans:         make([]StaleLoan, 0),
		Principal:     decimal.Zero,
	}

	for i := range loans {
		l := loans[i]
		if !l.IsOverdue() {
			continue
		}

		entry := StaleLoan{LoanRecord: l}
		if last, ok := latest[l.LoanID]; ok {
			days := utils.DaysBetween(utils.LocalDay(last.ActionDate, today.Location()), today)
			if days <= thresholdDays {
				continue
			}
			date := last.ActionDate
			entry.LastActionDate = &date
			entry.DaysSinceAction = &days
		}

		report.Loans = append(report.Loans, entry)
		report.Principal = report.Principal.Add(l.PrincipalBalance)
	}

	return report
}
