package aging

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"loan-portfolio-engine/internal/models"
)

// AlertLevel ranks an alert's urgency.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
	AlertInfo     AlertLevel = "info"
)

// Alert is one automatic portfolio warning.
type Alert struct {
	Level     AlertLevel      `json:"level"`
	Kind      string          `json:"kind"`
	Title     string          `json:"title"`
	Detail    string          `json:"detail"`
	Count     int             `json:"count"`
	Principal decimal.Decimal `json:"principal"`
}

// BuildAlerts derives the automatic alerts for the portfolio. A healthy
// portfolio yields an empty slice.
func BuildAlerts(loans []models.LoanRecord, actions []models.CollectionAction, today time.Time, thresholdDays int) []Alert {
	alerts := make([]Alert, 0, 3)

	critical := make([]models.LoanRecord, 0)
	for i := range loans {
		if loans[i].RiskCategory.IsCritical() {
			critical = append(critical, loans[i])
		}
	}
	if len(critical) > 0 {
		principal := sumPrincipal(critical)
		alerts = append(alerts, Alert{
			Level:     AlertCritical,
			Kind:      "critical_categories",
			Title:     fmt.Sprintf("%d loans in category D or E", len(critical)),
			Detail:    fmt.Sprintf("Principal at risk: %s", principal.StringFixed(0)),
			Count:     len(critical),
			Principal: principal,
		})
	}

	stale := DetectStale(loans, actions, today, thresholdDays)
	if len(stale.Loans) > 0 {
		alerts = append(alerts, Alert{
			Level:     AlertWarning,
			Kind:      "stale_follow_up",
			Title:     fmt.Sprintf("%d loans without collection contact in more than %d days", len(stale.Loans), stale.ThresholdDays),
			Detail:    fmt.Sprintf("%s overdue without recent contact", stale.Principal.StringFixed(0)),
			Count:     len(stale.Loans),
			Principal: stale.Principal,
		})
	}

	rollover := ProjectRollover(loans, today)
	if len(rollover.Loans) > 0 {
		alerts = append(alerts, Alert{
			Level:     AlertInfo,
			Kind:      "month_end_rollover",
			Title:     fmt.Sprintf("%d loans will change category at month end", len(rollover.Loans)),
			Detail:    fmt.Sprintf("%d days left until month end", rollover.DaysRemaining),
			Count:     len(rollover.Loans),
			Principal: rollover.TotalPrincipal,
		})
	}

	return alerts
}
