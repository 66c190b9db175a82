package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
	"github.com/jonathan/slide-narrator/internal/queue"
)

// submitJob creates a job and either publishes it to the queue or runs it
// to completion on this process. Ctrl-C leaves the job resumable.
func submitJob(kind jobs.Kind, subjectID int64, payload pipeline.Payload, enqueue bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, withProviders)
	if err != nil {
		return err
	}
	defer a.Close()

	if enqueue {
		if cfg.RabbitMQURL == "" {
			return fmt.Errorf("--enqueue requires RABBITMQ_URL or rabbitmq_url config")
		}
		broker, err := queue.Dial(cfg.RabbitMQURL, cfg.Queue, a.logger)
		if err != nil {
			return err
		}
		defer broker.Close()
		a.orch.SetDispatcher(broker)
	}

	jobID, err := a.orch.Submit(ctx, kind, subjectID, payload)
	if err != nil {
		var running *jobs.AlreadyRunningError
		if errors.As(err, &running) {
			return fmt.Errorf("%w (resume it with 'narrator resume %s')", err, running.ExistingID)
		}
		return err
	}
	fmt.Printf("Job %s submitted\n", jobID)
	if enqueue {
		return nil
	}
	return runInline(ctx, a, jobID)
}

// runInline executes a job on the calling goroutine and prints where it ended
func runInline(ctx context.Context, a *app, jobID uuid.UUID) error {
	runErr := a.orch.Run(ctx, jobID)

	if st, err := a.orch.Status(context.Background(), jobID); err == nil {
		a.printer.PrintStatus(st)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("interrupted, resume with 'narrator resume %s'", jobID)
		}
		return runErr
	}
	return nil
}
