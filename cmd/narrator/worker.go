package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/slide-narrator/internal/queue"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute jobs published to the RabbitMQ job queue",
	Long: `Consume job ids from the durable RabbitMQ queue and run each job to a
terminal stage. Jobs interrupted by shutdown are requeued and resume from
their last checkpoint.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "Concurrent jobs (default from config)")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL environment variable or rabbitmq_url config is required")
	}
	if workerCount > 0 {
		cfg.Workers = workerCount
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, withProviders)
	if err != nil {
		return err
	}
	defer a.Close()

	broker, err := queue.Dial(cfg.RabbitMQURL, cfg.Queue, a.logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	fmt.Fprintf(os.Stderr, "Consuming %s with %d workers\n", cfg.Queue, cfg.Workers)
	return broker.Consume(ctx, a.orch, cfg.Workers)
}
