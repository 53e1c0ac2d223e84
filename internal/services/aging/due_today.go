package aging

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/utils"
)

// DueTodayResult lists loans whose installment falls on today's day of month.
type DueTodayResult struct {
	Day                 int                 `json:"day"`
	Loans               []models.LoanRecord `json:"loans"`
	ExpectedCollections decimal.Decimal     `json:"expected_collections"`
}

// IsDueOn reports whether a loan's installment is expected on the given day of month.
// Without a recurring due day the disbursement date's day is used.
func IsDueOn(l *models.LoanRecord, day int) bool {
	if l.RecurringDueDay != nil {
		return *l.RecurringDueDay == day
	}
	if l.DisbursementDate == nil {
		return false
	}
	d, ok := utils.DayOfMonth(*l.DisbursementDate)
	return ok && d == day
}

// SelectDueToday returns the loans due today, largest installment first.
func SelectDueToday(loans []models.LoanRecord, today time.Time) DueTodayResult {
	result := DueTodayResult{
		Day:                 today.Day(),
		Loans:               make([]models.LoanRecord, 0),
		ExpectedCollections: decimal.Zero,
	}

	for i := range loans {
		if IsDueOn(&loans[i], result.Day) {
			result.Loans = append(result.Loans, loans[i])
			result.ExpectedCollections = result.ExpectedCollections.Add(loans[i].InstallmentAmount)
		}
	}

	sort.SliceStable(result.Loans, func(i, j int) bool {
		return result.Loans[i].InstallmentAmount.GreaterThan(result.Loans[j].InstallmentAmount)
	})

	return result
}
