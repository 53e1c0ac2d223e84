// Package utils provides utility functions for the loan portfolio engine.
package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger instance.
var Logger *zap.Logger

var loggerMu sync.Mutex

// parseLevel maps a LOG_LEVEL value to a zap level, defaulting to info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitLogger initializes the global logger.
func InitLogger(level string) error {
	zapLevel := parseLevel(level)

	// Lambda and deployed stages log JSON; local runs get a readable console
	isLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
	stage := strings.ToLower(os.Getenv("STAGE"))

	var config zap.Config
	if isLambda || stage == "prod" || stage == "production" {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.InitialFields = map[string]interface{}{"service": "loan-portfolio-engine"}

	built, err := config.Build()
	if err != nil {
		return err
	}

	loggerMu.Lock()
	Logger = built
	loggerMu.Unlock()
	return nil
}

// GetLogger returns the global logger, initializing if necessary.
func GetLogger() *zap.Logger {
	loggerMu.Lock()
	current := Logger
	loggerMu.Unlock()

	if current == nil {
		if err := InitLogger("info"); err != nil {
			return zap.NewNop()
		}
		loggerMu.Lock()
		current = Logger
		loggerMu.Unlock()
	}
	return current
}

// Sync flushes any buffered log entries.
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
