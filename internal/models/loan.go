// Package models defines the data structures for the loan portfolio engine.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentForm represents how the borrower pays the installment.
type PaymentForm string

const (
	PaymentFormWindowPay        PaymentForm = "window_pay"
	PaymentFormPayrollDeduction PaymentForm = "payroll_deduction"
)

// PaymentPeriod represents the installment periodicity.
type PaymentPeriod string

const (
	PaymentPeriodMonthly  PaymentPeriod = "monthly"
	PaymentPeriodBiweekly PaymentPeriod = "biweekly"
)

// NormalizePaymentForm converts the extract's payment form labels to standard values.
func NormalizePaymentForm(raw string) PaymentForm {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return ""
	}

	switch {
	case strings.Contains(normalized, "NOMINA"),
		strings.Contains(normalized, "NÓMINA"),
		strings.Contains(normalized, "LIBRANZA"),
		strings.Contains(normalized, "PAYROLL"),
		strings.Contains(normalized, "DEDUC"):
		return PaymentFormPayrollDeduction
	case strings.Contains(normalized, "VENTANILLA"),
		strings.Contains(normalized, "CAJA"),
		strings.Contains(normalized, "WINDOW"):
		return PaymentFormWindowPay
	}

	// Return as-is if no mapping found
	return PaymentForm(strings.TrimSpace(raw))
}

// NormalizePaymentPeriod converts the extract's period labels to standard values.
func NormalizePaymentPeriod(raw string) PaymentPeriod {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return ""
	}

	switch {
	case strings.Contains(normalized, "QUINCENA"),
		strings.Contains(normalized, "BIWEEK"),
		normalized == "15":
		return PaymentPeriodBiweekly
	case strings.Contains(normalized, "MENSUAL"),
		strings.Contains(normalized, "MONTH"),
		normalized == "30":
		return PaymentPeriodMonthly
	}

	return PaymentPeriod(strings.TrimSpace(raw))
}

// LoanRecord is one row of the portfolio extract.
type LoanRecord struct {
	LoanID                  string          `json:"loan_id" db:"loan_id"`
	BorrowerID              string          `json:"borrower_id" db:"borrower_id"`
	BorrowerName            string          `json:"borrower_name" db:"borrower_name"`
	EmployerName            string          `json:"employer_name" db:"employer_name"`
	ContactDestination      string          `json:"contact_destination,omitempty" db:"contact_destination"`
	PrincipalBalance        decimal.Decimal `json:"principal_balance" db:"principal_balance"`
	InstallmentAmount       decimal.Decimal `json:"installment_amount" db:"installment_amount"`
	InterestRate            decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	TermMonths              *int            `json:"term_months,omitempty" db:"term_months"`
	AmountDueToCatchUp      decimal.Decimal `json:"amount_due_to_catch_up" db:"amount_due_to_catch_up"`
	DisbursementDate        *string         `json:"disbursement_date,omitempty" db:"disbursement_date"`
	PaymentForm             PaymentForm     `json:"payment_form" db:"payment_form"`
	PaymentPeriod           PaymentPeriod   `json:"payment_period" db:"payment_period"`
	RecurringDueDay         *int            `json:"recurring_due_day,omitempty" db:"recurring_due_day"`
	DaysOverdue             int             `json:"days_overdue" db:"days_overdue"`
	OverdueInstallmentCount int             `json:"overdue_installment_count" db:"overdue_installment_count"`
	RiskCategory            RiskCategory    `json:"risk_category" db:"risk_category"`
	CutoffDate              time.Time       `json:"cutoff_date" db:"cutoff_date"`
	Handled                 bool            `json:"handled" db:"handled"`
}

// IsOverdue reports whether the loan has any days past due.
func (l *LoanRecord) IsOverdue() bool {
	return l.DaysOverdue > 0
}

// LoanFilter narrows the loan list the way the portfolio screen does.
type LoanFilter struct {
	Search        string        `json:"search,omitempty"`
	Category      RiskCategory  `json:"category,omitempty"`
	PaymentForm   PaymentForm   `json:"payment_form,omitempty"`
	PaymentPeriod PaymentPeriod `json:"payment_period,omitempty"`
	// Handled is nil for "any", otherwise the flag value to match.
	Handled     *bool `json:"handled,omitempty"`
	OnlyOverdue bool  `json:"only_overdue,omitempty"`
}

// Matches checks a single loan against the filter.
func (f LoanFilter) Matches(l *LoanRecord) bool {
	if f.OnlyOverdue && !l.IsOverdue() {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(l.BorrowerName), q) &&
			!strings.Contains(l.LoanID, q) &&
			!strings.Contains(l.BorrowerID, q) {
			return false
		}
	}
	if f.Category != "" && l.RiskCategory != f.Category {
		return false
	}
	if f.PaymentForm != "" && l.PaymentForm != f.PaymentForm {
		return false
	}
	if f.PaymentPeriod != "" && l.PaymentPeriod != f.PaymentPeriod {
		return false
	}
	if f.Handled != nil && l.Handled != *f.Handled {
		return false
	}
	return true
}
