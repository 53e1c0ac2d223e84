package handlers

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/utils"
)

// Loader refreshes the working set from the store.
type Loader interface {
	Load(ctx context.Context) error
}

// DigestRunner sends one collections digest.
type DigestRunner interface {
	Run(ctx context.Context) (bool, error)
}

// StaleDigestHandler sends the collections digest on a CloudWatch schedule.
type StaleDigestHandler struct {
	portfolio Loader
	digest    DigestRunner
	logger    *zap.Logger
}

// NewStaleDigestHandler creates a new digest handler.
func NewStaleDigestHandler(portfolio Loader, digest DigestRunner) *StaleDigestHandler {
	return &StaleDigestHandler{
		portfolio: portfolio,
		digest:    digest,
		logger:    utils.GetLogger(),
	}
}

// StaleDigestResult reports whether a digest went out.
type StaleDigestResult struct {
	Sent      bool   `json:"sent"`
	Timestamp string `json:"timestamp"`
}

// Handle reloads the portfolio, since a warm container may hold an old
// snapshot, and sends the digest.
func (h *StaleDigestHandler) Handle(ctx context.Context, event events.CloudWatchEvent) (StaleDigestResult, error) {
	h.logger.Info("Collections digest triggered",
		zap.String("source", event.Source),
		zap.String("id", event.ID),
	)

	if err := h.portfolio.Load(ctx); err != nil {
		return StaleDigestResult{}, err
	}

	sent, err := h.digest.Run(ctx)
	if err != nil {
		return StaleDigestResult{}, err
	}

	return StaleDigestResult{
		Sent:      sent,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}
