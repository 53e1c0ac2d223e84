// Health Check Lambda entry point
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/handlers"
	"loan-portfolio-engine/internal/services/database"
	"loan-portfolio-engine/internal/utils"
)

func main() {
	// Initialize logger
	_ = utils.InitLogger(os.Getenv("LOG_LEVEL"))
	defer utils.Sync()

	cfg, err := config.Load()
	if err != nil {
		utils.GetLogger().Fatal("Failed to load config", zap.Error(err))
	}

	// A missing database degrades the check instead of failing the cold start
	var pinger handlers.Pinger
	if db, err := database.New(cfg); err != nil {
		utils.GetLogger().Warn("Database unavailable", zap.Error(err))
	} else {
		defer db.Close()
		pinger = db
	}

	handler := handlers.NewHealthHandler(pinger, cfg.Stage)

	// Start Lambda
	lambda.Start(handler.Handle)
}
