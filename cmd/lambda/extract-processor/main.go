// Extract Processor Lambda entry point, triggered by S3 uploads
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/handlers"
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

	deps, err := handlers.NewDependencies(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	handler := handlers.NewExtractProcessorHandler(deps.S3, deps.Portfolio)

	lambda.Start(handler.Handle)
}
