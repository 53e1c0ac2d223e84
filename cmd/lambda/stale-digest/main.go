// Stale Digest Lambda entry point, triggered by a CloudWatch schedule
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/handlers"
	"loan-portfolio-engine/internal/services/scheduler"
	"loan-portfolio-engine/internal/utils"
)

func main() {
	_ = utils.InitLogger(os.Getenv("LOG_LEVEL"))
	defer utils.Sync()
	logger := utils.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if !cfg.DigestEnabled() {
		logger.Fatal("SES_SENDER_EMAIL and DIGEST_RECIPIENTS are required")
	}

	deps, err := handlers.NewDependencies(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	job := scheduler.NewDigestJob(deps.Portfolio, deps.SES, cfg.DigestRecipients)
	job.DashboardURL = os.Getenv("DASHBOARD_URL")

	handler := handlers.NewStaleDigestHandler(deps.Portfolio, job)

	lambda.Start(handler.Handle)
}
