package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"regional-stats-chatbot/internal/config"
	"regional-stats-chatbot/internal/database"
	"regional-stats-chatbot/internal/logger"
)

// Applies the schema and exits. The services run migrations on boot
// too; this binary exists for deploy pipelines that migrate before
// rolling the workers.
func main() {
	logger.InitLogger(false)

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: load config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: connect:", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		fmt.Fprintln(os.Stderr, "Error: migrate:", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")
}
