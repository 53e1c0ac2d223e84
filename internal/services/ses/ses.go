// Package ses provides email notification services via AWS SES
package ses

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	appConfig "loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/services/aging"
	"loan-portfolio-engine/internal/utils"
)

// Service handles SES email operations
type Service struct {
	client    *ses.Client
	fromEmail string
	logger    *zap.Logger
}

// EmailParams represents parameters for sending an email
type EmailParams struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  string
}

// DigestLoan is one row of the stale follow-up digest.
type DigestLoan struct {
	LoanID          string
	BorrowerName    string
	RiskCategory    string
	DaysOverdue     int
	Principal       string
	DaysSinceAction string
}

// StaleDigestParams contains data for the daily collections digest
type StaleDigestParams struct {
	Date                string
	ThresholdDays       int
	StaleCount          int
	StalePrincipal      string
	Loans               []DigestLoan
	Omitted             int
	DueTodayCount       int
	ExpectedCollections string
	Alerts              []string
	DashboardURL        string
}

// SendEmailResult contains the result of sending an email
type SendEmailResult struct {
	MessageID string
	SentAt    time.Time
}

// NewService creates a new SES service
func NewService(ctx context.Context, appCfg *appConfig.Config) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(appCfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Service{
		client:    ses.NewFromConfig(cfg),
		fromEmail: appCfg.SESSenderEmail,
		logger:    utils.GetLogger(),
	}, nil
}

// SendEmail sends a basic email
func (s *Service) SendEmail(ctx context.Context, params EmailParams) (*SendEmailResult, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromEmail),
		Destination: &types.Destination{
			ToAddresses: params.To,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(params.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}

	if params.HTMLBody != "" {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(params.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}

	if params.TextBody != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(params.TextBody),
			Charset: aws.String("UTF-8"),
		}
	}

	if params.ReplyTo != "" {
		input.ReplyToAddresses = []string{params.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("Failed to send email",
			zap.Strings("to", params.To),
			zap.String("subject", params.Subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Info("Email sent successfully",
		zap.Strings("to", params.To),
		zap.String("subject", params.Subject),
		zap.String("messageId", messageID),
	)

	return &SendEmailResult{
		MessageID: messageID,
		SentAt:    time.Now(),
	}, nil
}

// SendStaleDigest emails the collections digest to the team.
func (s *Service) SendStaleDigest(ctx context.Context, recipients []string, params StaleDigestParams) (*SendEmailResult, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no digest recipients configured")
	}

	htmlBody, err := RenderStaleDigestHTML(params)
	if err != nil {
		return nil, fmt.Errorf("failed to render email template: %w", err)
	}

	return s.SendEmail(ctx, EmailParams{
		To:       recipients,
		Subject:  StaleDigestSubject(params),
		HTMLBody: htmlBody,
		TextBody: RenderStaleDigestText(params),
	})
}

// BuildStaleDigestParams condenses the read models into digest rows, keeping
// at most limit loans (largest principal first).
func BuildStaleDigestParams(stale aging.StaleReport, due aging.DueTodayResult, alerts []aging.Alert, today time.Time, limit int) StaleDigestParams {
	params := StaleDigestParams{
		Date:                today.Format(utils.DateLayout),
		ThresholdDays:       stale.ThresholdDays,
		StaleCount:          len(stale.Loans),
		StalePrincipal:      stale.Principal.StringFixed(0),
		DueTodayCount:       len(due.Loans),
		ExpectedCollections: due.ExpectedCollections.StringFixed(0),
	}

	loans := make([]aging.StaleLoan, len(stale.Loans))
	copy(loans, stale.Loans)
	sortStaleByPrincipal(loans)
	if limit > 0 && len(loans) > limit {
		params.Omitted = len(loans) - limit
		loans = loans[:limit]
	}

	for _, l := range loans {
		since := "never"
		if l.DaysSinceAction != nil {
			since = fmt.Sprintf("%d days", *l.DaysSinceAction)
		}
		params.Loans = append(params.Loans, DigestLoan{
			LoanID:          l.LoanID,
			BorrowerName:    l.BorrowerName,
			RiskCategory:    string(l.RiskCategory),
			DaysOverdue:     l.DaysOverdue,
			Principal:       l.PrincipalBalance.StringFixed(0),
			DaysSinceAction: since,
		})
	}

	for _, a := range alerts {
		params.Alerts = append(params.Alerts, a.Title)
	}

	return params
}

func sortStaleByPrincipal(loans []aging.StaleLoan) {
	sort.SliceStable(loans, func(i, j int) bool {
		return loans[i].PrincipalBalance.GreaterThan(loans[j].PrincipalBalance)
	})
}

// StaleDigestSubject returns the digest subject line.
func StaleDigestSubject(params StaleDigestParams) string {
	return fmt.Sprintf("Collections digest %s: %d loans without follow-up", params.Date, params.StaleCount)
}

var digestTemplate = template.Must(template.New("stale_digest").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; line-height: 1.5; color: #333; max-width: 720px; margin: 0 auto; padding: 20px; }
        .header { background: #1e3a5f; color: white; padding: 24px; border-radius: 10px 10px 0 0; }
        .header h1 { margin: 0; font-size: 22px; }
        .content { background: #f9f9f9; padding: 24px; border-radius: 0 0 10px 10px; }
        .alert { border-left: 4px solid #f59e0b; background: white; padding: 8px 12px; margin: 6px 0; }
        table { width: 100%; border-collapse: collapse; background: white; }
        th, td { padding: 6px 8px; border-bottom: 1px solid #eee; text-align: left; font-size: 13px; }
        th { background: #f1f5f9; }
        .num { text-align: right; }
        .footer { text-align: center; margin-top: 24px; color: #999; font-size: 12px; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Collections digest {{.Date}}</h1>
        <p>{{.StaleCount}} overdue loans without contact in more than {{.ThresholdDays}} days ({{.StalePrincipal}} principal)</p>
    </div>
    <div class="content">
        {{range .Alerts}}<div class="alert">{{.}}</div>{{end}}
        <p>Due today: {{.DueTodayCount}} installments, {{.ExpectedCollections}} expected.</p>
        {{if .Loans}}
        <table>
            <tr><th>Loan</th><th>Borrower</th><th>Cat.</th><th class="num">Days overdue</th><th class="num">Principal</th><th>Last contact</th></tr>
            {{range .Loans}}
            <tr><td>{{.LoanID}}</td><td>{{.BorrowerName}}</td><td>{{.RiskCategory}}</td><td class="num">{{.DaysOverdue}}</td><td class="num">{{.Principal}}</td><td>{{.DaysSinceAction}}</td></tr>
            {{end}}
        </table>
        {{if .Omitted}}<p>... and {{.Omitted}} more.</p>{{end}}
        {{end}}
        {{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Open the portfolio</a></p>{{end}}
    </div>
    <div class="footer">
        <p>Sent by Loan Portfolio Engine</p>
    </div>
</body>
</html>`))

// RenderStaleDigestHTML renders the HTML digest
func RenderStaleDigestHTML(params StaleDigestParams) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderStaleDigestText renders plain text version
func RenderStaleDigestText(params StaleDigestParams) string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Collections digest %s\n\n", params.Date))
	buf.WriteString(fmt.Sprintf("%d overdue loans without contact in more than %d days (%s principal).\n",
		params.StaleCount, params.ThresholdDays, params.StalePrincipal))
	buf.WriteString(fmt.Sprintf("Due today: %d installments, %s expected.\n\n", params.DueTodayCount, params.ExpectedCollections))

	for _, a := range params.Alerts {
		buf.WriteString(fmt.Sprintf("! %s\n", a))
	}
	if len(params.Alerts) > 0 {
		buf.WriteString("\n")
	}

	for i, l := range params.Loans {
		buf.WriteString(fmt.Sprintf("%d. %s %s [%s] %d days overdue, principal %s, last contact %s\n",
			i+1, l.LoanID, l.BorrowerName, l.RiskCategory, l.DaysOverdue, l.Principal, l.DaysSinceAction))
	}
	if params.Omitted > 0 {
		buf.WriteString(fmt.Sprintf("... and %d more\n", params.Omitted))
	}

	if params.DashboardURL != "" {
		buf.WriteString(fmt.Sprintf("\nOpen the portfolio: %s\n", params.DashboardURL))
	}

	return buf.String()
}
