// Package handlers exposes the portfolio engine over HTTP and AWS Lambda.
package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appConfig "loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/services/database"
	"loan-portfolio-engine/internal/services/portfolio"
	s3service "loan-portfolio-engine/internal/services/s3"
	"loan-portfolio-engine/internal/services/ses"
	"loan-portfolio-engine/internal/utils"
)

// Dependencies is the wired service graph shared by the server and the lambdas.
type Dependencies struct {
	Config    *appConfig.Config
	DB        *database.DB
	S3        *s3service.Service
	SES       *ses.Service
	Portfolio *portfolio.Service
}

// NewDependencies connects to the database and AWS, then loads the portfolio.
// SES is only set up when the digest is configured.
func NewDependencies(ctx context.Context, cfg *appConfig.Config) (*Dependencies, error) {
	logger := utils.GetLogger()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deps := &Dependencies{Config: cfg, DB: db}

	deps.S3, err = s3service.NewService(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.DigestEnabled() {
		deps.SES, err = ses.NewService(ctx, cfg)
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		logger.Info("Collections digest disabled, SES_SENDER_EMAIL or DIGEST_RECIPIENTS not set")
	}

	deps.Portfolio = portfolio.NewService(
		database.NewLoanRepository(db),
		database.NewCollectionActionRepository(db),
		portfolio.WithLocation(loc),
		portfolio.WithStaleThreshold(cfg.StaleThresholdDays),
		portfolio.WithArchiver(deps.S3),
	)

	if err := deps.Portfolio.Load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Portfolio engine ready",
		zap.String("stage", cfg.Stage),
		zap.String("timezone", cfg.Timezone),
		zap.String("bucket", cfg.S3Bucket),
	)

	return deps, nil
}

// Close releases the database pool.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
