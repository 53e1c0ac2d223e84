// Package models defines the data structures for the loan portfolio engine.
package models

import "strings"

// RiskCategory is the ordinal delinquency bucket of a loan, A (current) through E.
type RiskCategory string

const (
	RiskCategoryA RiskCategory = "A"
	RiskCategoryB RiskCategory = "B"
	RiskCategoryC RiskCategory = "C"
	RiskCategoryD RiskCategory = "D"
	RiskCategoryE RiskCategory = "E"
)

// RiskCategories returns every category in ascending order of risk.
func RiskCategories() []RiskCategory {
	return []RiskCategory{
		RiskCategoryA,
		RiskCategoryB,
		RiskCategoryC,
		RiskCategoryD,
		RiskCategoryE,
	}
}

// ClassifyRisk maps days overdue to a risk category.
// Negative values are treated as zero.
func ClassifyRisk(daysOverdue int) RiskCategory {
	switch {
	case daysOverdue <= 30:
		return RiskCategoryA
	case daysOverdue <= 60:
		return RiskCategoryB
	case daysOverdue <= 90:
		return RiskCategoryC
	case daysOverdue <= 180:
		return RiskCategoryD
	default:
		return RiskCategoryE
	}
}

// ParseRiskCategory converts a raw extract value into a category.
func ParseRiskCategory(raw string) (RiskCategory, bool) {
	c := RiskCategory(strings.ToUpper(strings.TrimSpace(raw)))
	if c.IsValid() {
		return c, true
	}
	return "", false
}

// IsValid checks if the category is one of A through E.
func (c RiskCategory) IsValid() bool {
	return c.Rank() >= 0
}

// Rank returns the ordinal position of the category (A=0 ... E=4), or -1 when unknown.
func (c RiskCategory) Rank() int {
	for i, valid := range RiskCategories() {
		if c == valid {
			return i
		}
	}
	return -1
}

// IsDelinquent reports whether the category counts toward the delinquency rollup (B through E).
func (c RiskCategory) IsDelinquent() bool {
	return c.Rank() > 0
}

// IsHighRisk reports whether the category is C or worse.
func (c RiskCategory) IsHighRisk() bool {
	return c.Rank() >= 2
}

// IsCritical reports whether the category is D or E.
func (c RiskCategory) IsCritical() bool {
	return c.Rank() >= 3
}
