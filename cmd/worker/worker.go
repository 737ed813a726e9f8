package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"regional-stats-chatbot/internal/app"
	"regional-stats-chatbot/internal/logger"
	"regional-stats-chatbot/internal/queue"
	"regional-stats-chatbot/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper := services.NewSweeper(a.Jobs)
	if err := sweeper.Start(a.Cfg.StuckSweepCron); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     a.Cfg.RedisURL,
			Password: a.Cfg.RedisPassword,
			DB:       a.Cfg.RedisDB,
		},
		asynq.Config{
			// Ingestion and reconstruction are long-lived batch jobs;
			// a small pool is plenty and keeps Chrome memory bounded.
			Concurrency: 4,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(a.Ingestion, a.Reconstruction)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	logger.Info("worker starting",
		"redis", a.Cfg.RedisURL,
		"queues", "critical(6), default(3), low(1)")
	return server.Run(mux)
}
