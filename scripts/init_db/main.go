package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/services/database"
)

func main() {
	fmt.Println("=== Database Initialization Script ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// First connect to the default 'postgres' database to create ours
	admin := *cfg
	admin.DBName = "postgres"
	fmt.Println("📡 Connecting to PostgreSQL server...")

	adminConn, err := pgx.Connect(ctx, admin.DatabaseURL())
	if err != nil {
		fmt.Printf("❌ Failed to connect to PostgreSQL: %v\n", err)
		os.Exit(1)
	}

	var exists bool
	err = adminConn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", cfg.DBName).Scan(&exists)
	if err != nil {
		fmt.Printf("❌ Failed to check database existence: %v\n", err)
		adminConn.Close(ctx)
		os.Exit(1)
	}

	if !exists {
		fmt.Printf("📦 Creating '%s' database...\n", cfg.DBName)
		if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{cfg.DBName}.Sanitize()); err != nil {
			fmt.Printf("❌ Failed to create database: %v\n", err)
			adminConn.Close(ctx)
			os.Exit(1)
		}
		fmt.Printf("✅ Database '%s' created!\n", cfg.DBName)
	} else {
		fmt.Printf("✅ Database '%s' already exists\n", cfg.DBName)
	}
	adminConn.Close(ctx)

	db, err := database.New(cfg)
	if err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("🚀 Applying schema...")
	if err := db.Migrate(ctx); err != nil {
		fmt.Printf("❌ Failed to apply schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Schema applied")
	fmt.Println()

	fmt.Println("🔍 Verifying database setup...")
	stats, err := db.Stats(ctx)
	if err != nil {
		fmt.Printf("   ⚠️  %v\n", err)
	} else {
		fmt.Printf("   📦 loans: %d rows (%d handled)\n", stats.Loans, stats.HandledLoans)
		fmt.Printf("   📦 collection_actions: %d rows\n", stats.CollectionActions)
	}
	fmt.Println()
	fmt.Println("🎉 Database initialization completed successfully!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Check connectivity: go run ./scripts/check_connection")
	fmt.Println("  2. Load an extract:    go run ./scripts/load_extract cartera.csv")
}
