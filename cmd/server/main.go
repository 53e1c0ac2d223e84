// Package main runs the portfolio engine as a long-lived HTTP server with the
// collections digest scheduled in-process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/handlers"
	"loan-portfolio-engine/internal/services/scheduler"
	"loan-portfolio-engine/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger first
	if err := utils.InitLogger(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer utils.Sync()
	logger := utils.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := handlers.NewDependencies(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	loc, _ := cfg.Location()
	sched := scheduler.New(loc)
	if deps.SES != nil {
		job := scheduler.NewDigestJob(deps.Portfolio, deps.SES, cfg.DigestRecipients)
		job.DashboardURL = os.Getenv("DASHBOARD_URL")
		err := sched.Register(cfg.DigestSchedule, "stale-digest", func(ctx context.Context) error {
			_, err := job.Run(ctx)
			return err
		})
		if err != nil {
			logger.Fatal("Failed to schedule collections digest", zap.Error(err))
		}
	}
	sched.Start()

	api := handlers.NewAPI(deps.Portfolio, deps.S3, handlers.NewHealthHandler(deps.DB, cfg.Stage))

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           c.Handler(api.Router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Loan Portfolio Engine API server listening",
			zap.String("addr", srv.Addr),
			zap.String("health", fmt.Sprintf("http://localhost:%s/health", cfg.Port)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
