// Package queue dispatches job ids over RabbitMQ so any worker process can
// run them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/slide-narrator/internal/pipeline"
)

// DefaultQueue is the durable queue job ids are published to
const DefaultQueue = "narrator_jobs"

// channel is the subset of *amqp.Channel used here
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Broker holds one connection and channel to RabbitMQ
type Broker struct {
	conn   *amqp.Connection
	ch     channel
	queue  string
	logger *log.Logger

	mu sync.Mutex
}

// Dial connects to url and declares the durable job queue
func Dial(url, queue string, logger *log.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	b, err := newBroker(ch, queue, logger)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

func newBroker(ch channel, queue string, logger *log.Logger) (*Broker, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = log.Default()
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &Broker{ch: ch, queue: queue, logger: logger}, nil
}

// Dispatch publishes jobID as a persistent message
func (b *Broker) Dispatch(ctx context.Context, jobID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ch.Publish("", b.queue, false, false, encode(jobID)); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}
	return nil
}

// Consume runs delivered jobs on workers goroutines until ctx is done or the
// channel closes. A delivery is acknowledged once its run returns; runs
// interrupted by shutdown are requeued.
func (b *Broker) Consume(ctx context.Context, runner pipeline.Runner, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	if err := b.ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", b.queue, err)
	}
	b.logger.Printf("[queue] consuming %s with %d workers", b.queue, workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i + 1
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					b.handle(gctx, worker, runner, d)
				}
			}
		})
	}
	return g.Wait()
}

func (b *Broker) handle(ctx context.Context, worker int, runner pipeline.Runner, d amqp.Delivery) {
	jobID, err := decode(d)
	if err != nil {
		b.logger.Printf("[queue] worker %d dropping message: %v", worker, err)
		_ = d.Reject(false)
		return
	}

	err = runner.Run(ctx, jobID)
	switch {
	case err == nil:
		b.logger.Printf("[queue] worker %d finished job %s", worker, jobID)
	case ctx.Err() != nil:
		b.logger.Printf("[queue] worker %d interrupted job %s, requeueing", worker, jobID)
		_ = d.Nack(false, true)
		return
	case errors.Is(err, pipeline.ErrJobBusy):
		b.logger.Printf("[queue] worker %d skipped job %s: already running", worker, jobID)
	default:
		// The failure is on the job record; redelivery would repeat it
		b.logger.Printf("[queue] worker %d job %s: %v", worker, jobID, err)
	}
	if err := d.Ack(false); err != nil {
		b.logger.Printf("[queue] failed to ack job %s: %v", jobID, err)
	}
}

// Close closes the channel and connection
func (b *Broker) Close() error {
	var errs []error
	if b.ch != nil {
		errs = append(errs, b.ch.Close())
	}
	if b.conn != nil {
		errs = append(errs, b.conn.Close())
	}
	return errors.Join(errs...)
}

func encode(jobID uuid.UUID) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    jobID.String(),
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(jobID.String()),
	}
}

func decode(d amqp.Delivery) (uuid.UUID, error) {
	id, err := uuid.ParseBytes(d.Body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", d.Body, err)
	}
	return id, nil
}
