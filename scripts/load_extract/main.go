package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/services/database"
	"loan-portfolio-engine/internal/services/portfolio"
	"loan-portfolio-engine/internal/utils"
)

func main() {
	fmt.Println("=== Loan Portfolio Engine - Load Extract ===")
	fmt.Println()

	if len(os.Args) < 2 {
		fmt.Println("usage: go run ./scripts/load_extract <extract.csv|.txt|.xlsx>")
		os.Exit(2)
	}
	path := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	_ = utils.InitLogger("warn")
	defer utils.Sync()

	loc, _ := cfg.Location()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.New(cfg)
	if err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	fmt.Println("✅ Connected to database")

	svc := portfolio.NewService(
		database.NewLoanRepository(db),
		database.NewCollectionActionRepository(db),
		portfolio.WithLocation(loc),
		portfolio.WithStaleThreshold(cfg.StaleThresholdDays),
	)
	if err := svc.Load(ctx); err != nil {
		fmt.Printf("❌ Failed to load current portfolio: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("📊 Current portfolio: %d loans\n", len(svc.Snapshot().Loans))

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("❌ Failed to read extract: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("📖 Ingesting %s...\n", filepath.Base(path))
	result, err := svc.IngestFile(ctx, filepath.Base(path), data)
	if err != nil {
		fmt.Printf("❌ Ingestion failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Loaded %d loans (%d rows, %d dropped, %d removed) in %dms\n",
		result.Records, result.DataRows, result.DroppedRows, result.Removed, result.ProcessingMs)
	if len(result.MissingFields) > 0 {
		fmt.Printf("⚠️  Columns not found: %v\n", result.MissingFields)
	}
	if stats, err := db.Stats(ctx); err == nil {
		fmt.Printf("📦 Store now holds %d loans and %d collection actions\n", stats.Loans, stats.CollectionActions)
	}

	summary := svc.Summary()
	fmt.Println()
	fmt.Println("   📋 Portfolio summary:")
	fmt.Println("   ─────────────────────────────────────────────────────────")
	fmt.Printf("   Principal:        %s\n", summary.TotalPrincipal.StringFixed(0))
	fmt.Printf("   Delinquent:       %d loans, %s (%s%%)\n", summary.DelinquentCount, summary.DelinquentPrincipal.StringFixed(0), summary.DelinquencyRate)
	for _, b := range summary.CategoryBreakdown {
		fmt.Printf("   Category %s:       %d loans, %s\n", b.Category, b.Count, b.Principal.StringFixed(0))
	}
	fmt.Println("   ─────────────────────────────────────────────────────────")

	for _, a := range svc.Alerts() {
		fmt.Printf("   ! [%s] %s\n", a.Level, a.Title)
	}
}
