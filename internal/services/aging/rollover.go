package aging

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"loan-portfolio-engine/internal/models"
)

// RolloverEntry is a loan projected to change category by month end.
type RolloverEntry struct {
	models.LoanRecord
	CurrentCategory   models.RiskCategory `json:"current_category"`
	ProjectedDays     int                 `json:"projected_days"`
	ProjectedCategory models.RiskCategory `json:"projected_category"`
}

// TransitionBucket aggregates rollover loans moving between two adjacent categories.
type TransitionBucket struct {
	From      models.RiskCategory `json:"from"`
	To        models.RiskCategory `json:"to"`
	Count     int                 `json:"count"`
	Principal decimal.Decimal     `json:"principal"`
}

// RolloverProjection is the month-end rollover forecast.
type RolloverProjection struct {
	DaysRemaining  int                `json:"days_remaining"`
	Loans          []RolloverEntry    `json:"loans"`
	Transitions    []TransitionBucket `json:"transitions"`
	TotalPrincipal decimal.Decimal    `json:"total_principal"`
}

// DaysRemainingInMonth counts whole days from today to the last day of its month.
// It is zero on the last day.
func DaysRemainingInMonth(today time.Time) int {
	y, m, d := today.Date()
	lastDay := time.Date(y, m+1, 0, 0, 0, 0, 0, today.Location()).Day()
	return lastDay - d
}

// ProjectRollover forecasts which overdue loans cross a category boundary by the
// end of today's month, assuming no further payments.
func ProjectRollover(loans []models.LoanRecord, today time.Time) RolloverProjection {
	return ProjectRolloverWithin(loans, DaysRemainingInMonth(today))
}

// ProjectRolloverWithin projects every overdue loan daysRemaining days ahead.
// Loans that skip a category stay in the detail list but in no transition bucket.
func ProjectRolloverWithin(loans []models.LoanRecord, daysRemaining int) RolloverProjection {
	categories := models.RiskCategories()
	transitions := make([]TransitionBucket, 0, len(categories)-1)
	for i := 0; i+1 < len(categories); i++ {
		transitions = append(transitions, TransitionBucket{
			From:      categories[i],
			To:        categories[i+1],
			Principal: decimal.Zero,
		})
	}

	entries := make([]RolloverEntry, 0)
	total := decimal.Zero

	for i := range loans {
		l := loans[i]
		if !l.IsOverdue() {
			continue
		}

		current := l.RiskCategory
		if !current.IsValid() {
			current = models.ClassifyRisk(l.DaysOverdue)
		}

		projectedDays := l.DaysOverdue + daysRemaining
		projected := models.ClassifyRisk(projectedDays)
		if projected == current {
			continue
		}

		entries = append(entries, RolloverEntry{
			LoanRecord:        l,
			CurrentCategory:   current,
			ProjectedDays:     projectedDays,
			ProjectedCategory: projected,
		})
		total = total.Add(l.PrincipalBalance)

		if projected.Rank()-current.Rank() == 1 {
			b := &transitions[current.Rank()]
			b.Count++
			b.Principal = b.Principal.Add(l.PrincipalBalance)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].PrincipalBalance.GreaterThan(entries[j].PrincipalBalance)
	})

	return RolloverProjection{
		DaysRemaining:  daysRemaining,
		Loans:          entries,
		Transitions:    transitions,
		TotalPrincipal: total,
	}
}
