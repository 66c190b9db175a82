package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/slide-narrator/internal/pipeline"
	"github.com/jonathan/slide-narrator/internal/queue"
	"github.com/jonathan/slide-narrator/internal/server"
)

var (
	serveAddr    string
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes endpoints for submitting, resuming and
watching jobs.

When a RabbitMQ URL is configured, submitted jobs are published to the queue
and executed by 'narrator worker'. Otherwise they run on an in-process
worker pool.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config, :8080)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "In-process workers when no queue is configured")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}
	if serveWorkers > 0 {
		cfg.Workers = serveWorkers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, withProviders)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RabbitMQURL != "" {
		broker, err := queue.Dial(cfg.RabbitMQURL, cfg.Queue, a.logger)
		if err != nil {
			return err
		}
		defer broker.Close()
		a.orch.SetDispatcher(broker)
	} else {
		pool := pipeline.NewPool(a.orch, cfg.Workers, cfg.QueueSize, a.logger)
		a.orch.SetDispatcher(pool)
		g.Go(func() error { return pool.Start(gctx) })
		defer pool.Close()
	}

	srv, err := server.New(server.Config{
		Addr:         cfg.ListenAddr,
		Orchestrator: a.orch,
		Jobs:         a.db.Jobs(),
		Pinger:       a.db,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Listening on %s\n", cfg.ListenAddr)
	g.Go(func() error { return srv.Start(gctx) })
	return g.Wait()
}
