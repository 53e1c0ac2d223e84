package ses

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-portfolio-engine/internal/models"
	"loan-portfolio-engine/internal/services/aging"
)

func staleLoan(id, name string, principal int64, since *int) aging.StaleLoan {
	return aging.StaleLoan{
		LoanRecord: models.LoanRecord{
			LoanID:           id,
			BorrowerName:     name,
			DaysOverdue:      45,
			RiskCategory:     models.RiskCategoryB,
			PrincipalBalance: decimal.NewFromInt(principal),
		},
		DaysSinceAction: since,
	}
}

func TestBuildStaleDigestParams(t *testing.T) {
	ten := 10
	stale := aging.StaleReport{
		ThresholdDays: 7,
		Loans: []aging.StaleLoan{
			staleLoan("1", "Ana", 100, nil),
			staleLoan("2", "Luis", 900, &ten),
			staleLoan("3", "Marta", 500, nil),
		},
		Principal: decimal.NewFromInt(1500),
	}
	due := aging.DueTodayResult{Day: 15, Loans: make([]models.LoanRecord, 2), ExpectedCollections: decimal.NewFromInt(700)}
	alerts := []aging.Alert{{Title: "1 loans in category D or E"}}
	today := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

	params := BuildStaleDigestParams(stale, due, alerts, today, 2)

	assert.Equal(t, "2024-03-15", params.Date)
	assert.Equal(t, 3, params.StaleCount)
	assert.Equal(t, "1500", params.StalePrincipal)
	assert.Equal(t, 2, params.DueTodayCount)
	assert.Equal(t, "700", params.ExpectedCollections)
	assert.Equal(t, 1, params.Omitted)
	require.Len(t, params.Loans, 2)
	assert.Equal(t, "2", params.Loans[0].LoanID)
	assert.Equal(t, "10 days", params.Loans[0].DaysSinceAction)
	assert.Equal(t, "3", params.Loans[1].LoanID)
	assert.Equal(t, "never", params.Loans[1].DaysSinceAction)
	assert.Equal(t, []string{"1 loans in category D or E"}, params.Alerts)

	// the source report keeps its order
	assert.Equal(t, "1", stale.Loans[0].LoanID)
}

func TestRenderStaleDigest(t *testing.T) {
	params := StaleDigestParams{
		Date:           "2024-03-15",
		ThresholdDays:  7,
		StaleCount:     1,
		StalePrincipal: "900",
		Loans: []DigestLoan{
			{LoanID: "2", BorrowerName: "Luis <Gómez>", RiskCategory: "B", DaysOverdue: 45, Principal: "900", DaysSinceAction: "10 days"},
		},
		Alerts: []string{"1 loans without collection contact in more than 7 days"},
	}

	html, err := RenderStaleDigestHTML(params)
	require.NoError(t, err)
	assert.Contains(t, html, "Collections digest 2024-03-15")
	assert.Contains(t, html, "Luis &lt;Gómez&gt;")
	assert.NotContains(t, html, "and 0 more")

	text := RenderStaleDigestText(params)
	assert.Contains(t, text, "1. 2 Luis <Gómez> [B] 45 days overdue, principal 900, last contact 10 days")
	assert.Contains(t, text, "! 1 loans without collection contact")

	assert.Equal(t, "Collections digest 2024-03-15: 1 loans without follow-up", StaleDigestSubject(params))
}
