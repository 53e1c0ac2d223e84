package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loan-portfolio-engine/internal/services/aging"
	"loan-portfolio-engine/internal/services/ses"
	"loan-portfolio-engine/internal/utils"
)

// DefaultDigestLimit caps the loans listed in one digest.
const DefaultDigestLimit = 25

// DigestSource supplies the read models the digest is built from.
type DigestSource interface {
	Today() time.Time
	Stale() aging.StaleReport
	DueToday() aging.DueTodayResult
	Alerts() []aging.Alert
}

// Mailer delivers the rendered digest.
type Mailer interface {
	SendStaleDigest(ctx context.Context, recipients []string, params ses.StaleDigestParams) (*ses.SendEmailResult, error)
}

// DigestJob emails the collections team the loans lacking recent follow-up.
type DigestJob struct {
	Source       DigestSource
	Mailer       Mailer
	Recipients   []string
	Limit        int
	DashboardURL string

	logger *zap.Logger
}

// NewDigestJob creates a digest job with the default row limit.
func NewDigestJob(source DigestSource, mailer Mailer, recipients []string) *DigestJob {
	return &DigestJob{
		Source:     source,
		Mailer:     mailer,
		Recipients: recipients,
		Limit:      DefaultDigestLimit,
		logger:     utils.GetLogger(),
	}
}

// Run builds and sends one digest. It reports false when there was nothing to send.
func (j *DigestJob) Run(ctx context.Context) (bool, error) {
	if len(j.Recipients) == 0 {
		return false, fmt.Errorf("no digest recipients configured")
	}

	stale := j.Source.Stale()
	alerts := j.Source.Alerts()
	if len(stale.Loans) == 0 && len(alerts) == 0 {
		j.logger.Info("Skipping collections digest, portfolio is up to date")
		return false, nil
	}

	params := ses.BuildStaleDigestParams(stale, j.Source.DueToday(), alerts, j.Source.Today(), j.Limit)
	params.DashboardURL = j.DashboardURL

	result, err := j.Mailer.SendStaleDigest(ctx, j.Recipients, params)
	if err != nil {
		return false, fmt.Errorf("failed to send collections digest: %w", err)
	}

	j.logger.Info("Sent collections digest",
		zap.Int("stale_loans", params.StaleCount),
		zap.Int("alerts", len(params.Alerts)),
		zap.Int("recipients", len(j.Recipients)),
		zap.String("messageId", result.MessageID),
	)
	return true, nil
}
