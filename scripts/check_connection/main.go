package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"loan-portfolio-engine/internal/config"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️  No .env file found, using environment variables")
	}

	fmt.Println("🔍 Testing connections...")
	fmt.Println()

	fmt.Println("1️⃣  Checking Environment Variables:")
	for _, name := range []string{"AWS_REGION", "S3_BUCKET", "DB_HOST", "DB_NAME", "DB_USER", "DB_PASSWORD", "SES_SENDER_EMAIL", "DIGEST_RECIPIENTS", "TIMEZONE"} {
		checkEnvVar(name)
	}
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("   ❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("2️⃣  Testing Database Connection:")
	testDatabaseConnection(cfg.DatabaseURL())
	fmt.Println()

	fmt.Println("✅ Connection tests complete!")
}

func checkEnvVar(name string) {
	value := os.Getenv(name)
	if value == "" {
		fmt.Printf("   ❌ %s: NOT SET\n", name)
		return
	}
	// Mask sensitive values
	masked := value
	if name == "DB_PASSWORD" {
		masked = "********"
	}
	fmt.Printf("   ✅ %s: %s\n", name, masked)
}

func testDatabaseConnection(dbURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		fmt.Printf("   ❌ Database connection failed: %v\n", err)
		return
	}
	defer conn.Close(ctx)

	var result int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		fmt.Printf("   ❌ Database query failed: %v\n", err)
		return
	}
	fmt.Println("   ✅ Database connection successful!")

	var tableCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name IN ('loans', 'collection_actions')
	`).Scan(&tableCount)
	if err == nil {
		fmt.Printf("   📊 Tables found: %d/2 (loans, collection_actions)\n", tableCount)
	}
}
