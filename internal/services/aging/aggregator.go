// Package aging computes the read models of a loan portfolio: summary rollups,
// month-end rollover projection, collection staleness and due-today selection.
// Every function here is pure over the loan and action slices it is given.
package aging

import (
	"sort"

	"github.com/shopspring/decimal"

	"loan-portfolio-engine/internal/models"
)

var hundred = decimal.NewFromInt(100)

// CategoryBucket is the count and principal of one risk category.
type CategoryBucket struct {
	Category  models.RiskCategory `json:"category"`
	Count     int                 `json:"count"`
	Principal decimal.Decimal     `json:"principal"`
}

// OverdueRange buckets loans by days overdue. MaxDays is nil for the open-ended range.
type OverdueRange struct {
	Label     string          `json:"label"`
	MinDays   int             `json:"min_days"`
	MaxDays   *int            `json:"max_days,omitempty"`
	Count     int             `json:"count"`
	Principal decimal.Decimal `json:"principal"`
}

func (r *OverdueRange) contains(days int) bool {
	return days >= r.MinDays && (r.MaxDays == nil || days <= *r.MaxDays)
}

// PortfolioSummary is the dashboard rollup of the current loan set.
type PortfolioSummary struct {
	LoanCount           int              `json:"loan_count"`
	UniqueBorrowers     int              `json:"unique_borrowers"`
	TotalPrincipal      decimal.Decimal  `json:"total_principal"`
	DelinquentCount     int              `json:"delinquent_count"`
	DelinquentPrincipal decimal.Decimal  `json:"delinquent_principal"`
	DelinquencyRate     string           `json:"delinquency_rate"`
	AmountToCatchUp     decimal.Decimal  `json:"amount_to_catch_up"`
	AvgDaysOverdue      string           `json:"avg_days_overdue"`
	AvgPrincipal        decimal.Decimal  `json:"avg_principal"`
	CategoryBreakdown   []CategoryBucket `json:"category_breakdown"`
	OverdueRanges       []OverdueRange   `json:"overdue_ranges"`
}

func intPtr(n int) *int { return &n }

func newOverdueRanges() []OverdueRange {
	return []OverdueRange{
		{Label: "current", MinDays: 0, MaxDays: intPtr(0)},
		{Label: "1-30", MinDays: 1, MaxDays: intPtr(30)},
		{Label: "31-60", MinDays: 31, MaxDays: intPtr(60)},
		{Label: "61-90", MinDays: 61, MaxDays: intPtr(90)},
		{Label: "90+", MinDays: 91},
	}
}

// Summarize computes the portfolio rollup. A counts as current; B through E are delinquent.
func Summarize(loans []models.LoanRecord) PortfolioSummary {
	summary := PortfolioSummary{
		LoanCount:           len(loans),
		TotalPrincipal:      decimal.Zero,
		DelinquentPrincipal: decimal.Zero,
		AmountToCatchUp:     decimal.Zero,
		AvgPrincipal:        decimal.Zero,
		DelinquencyRate:     "0.00",
		AvgDaysOverdue:      "0.0",
		OverdueRanges:       newOverdueRanges(),
	}

	categories := models.RiskCategories()
	summary.CategoryBreakdown = make([]CategoryBucket, len(categories))
	byCategory := make(map[models.RiskCategory]int, len(categories))
	for i, c := range categories {
		summary.CategoryBreakdown[i] = CategoryBucket{Category: c, Principal: decimal.Zero}
		byCategory[c] = i
	}
	for i := range summary.OverdueRanges {
		summary.OverdueRanges[i].Principal = decimal.Zero
	}

	borrowers := make(map[string]struct{})
	totalDays := 0

	for i := range loans {
		l := &loans[i]

		summary.TotalPrincipal = summary.TotalPrincipal.Add(l.PrincipalBalance)
		totalDays += l.DaysOverdue

		if l.BorrowerID != "" {
			borrowers[l.BorrowerID] = struct{}{}
		}

		if l.RiskCategory.IsDelinquent() {
			summary.DelinquentCount++
			summary.DelinquentPrincipal = summary.DelinquentPrincipal.Add(l.PrincipalBalance)
		}

		if l.IsOverdue() {
			summary.AmountToCatchUp = summary.AmountToCatchUp.Add(l.AmountDueToCatchUp)
		}

		if idx, ok := byCategory[l.RiskCategory]; ok {
			summary.CategoryBreakdown[idx].Count++
			summary.CategoryBreakdown[idx].Principal = summary.CategoryBreakdown[idx].Principal.Add(l.PrincipalBalance)
		}

		for j := range summary.OverdueRanges {
			r := &summary.OverdueRanges[j]
			if r.contains(l.DaysOverdue) {
				r.Count++
				r.Principal = r.Principal.Add(l.PrincipalBalance)
				break
			}
		}
	}

	summary.UniqueBorrowers = len(borrowers)

	if !summary.TotalPrincipal.IsZero() {
		summary.DelinquencyRate = summary.DelinquentPrincipal.Div(summary.TotalPrincipal).Mul(hundred).StringFixed(2)
	}

	if n := len(loans); n > 0 {
		count := decimal.NewFromInt(int64(n))
		summary.AvgDaysOverdue = decimal.NewFromInt(int64(totalDays)).Div(count).StringFixed(1)
		summary.AvgPrincipal = summary.TotalPrincipal.Div(count).Round(0)
	}

	return summary
}

// Delinquent returns loans with days overdue, most overdue first.
func Delinquent(loans []models.LoanRecord) []models.LoanRecord {
	out := make([]models.LoanRecord, 0)
	for i := range loans {
		if loans[i].IsOverdue() {
			out = append(out, loans[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DaysOverdue > out[j].DaysOverdue
	})
	return out
}

// TopDelinquent returns up to limit overdue loans with the largest principal.
func TopDelinquent(loans []models.LoanRecord, limit int) []models.LoanRecord {
	out := make([]models.LoanRecord, 0)
	for i := range loans {
		if loans[i].IsOverdue() {
			out = append(out, loans[i])
		}
	}
	sortByPrincipalDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FilterLoans returns the loans matching filter, preserving order.
func FilterLoans(loans []models.LoanRecord, filter models.LoanFilter) []models.LoanRecord {
	out := make([]models.LoanRecord, 0, len(loans))
	for i := range loans {
		if filter.Matches(&loans[i]) {
			out = append(out, loans[i])
		}
	}
	return out
}

// LoansInCategories returns the loans whose category is one of cats.
func LoansInCategories(loans []models.LoanRecord, cats ...models.RiskCategory) []models.LoanRecord {
	want := make(map[models.RiskCategory]bool, len(cats))
	for _, c := range cats {
		want[c] = true
	}
	out := make([]models.LoanRecord, 0)
	for i := range loans {
		if want[loans[i].RiskCategory] {
			out = append(out, loans[i])
		}
	}
	return out
}

func sortByPrincipalDesc(loans []models.LoanRecord) {
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].PrincipalBalance.GreaterThan(loans[j].PrincipalBalance)
	})
}

func sumPrincipal(loans []models.LoanRecord) decimal.Decimal {
	total := decimal.Zero
	for i := range loans {
		total = total.Add(loans[i].PrincipalBalance)
	}
	return total
}
