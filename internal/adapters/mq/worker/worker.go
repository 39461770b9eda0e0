// Package worker drains the broadcast queue: each job re-aggregates one
// score group and publishes the result to the live channel.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TinchoF/gym-score-be/internal/adapters/live"
	"github.com/TinchoF/gym-score-be/internal/adapters/mq/queue"
	"github.com/TinchoF/gym-score-be/internal/domain/aggregate"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Aggregator recomputes one score group for a caller.
type Aggregator interface {
	Aggregate(ctx context.Context, caller model.Caller, key model.GroupKey) (aggregate.View, error)
}

// Queue is the consuming side of the broadcast queue.
type Queue interface {
	Dequeue(ctx context.Context, shard int) <-chan queue.Job
	Shards() int
}

// Worker owns one queue shard.
type Worker struct {
	shard      int
	queue      Queue
	aggregator Aggregator
	publisher  live.Publisher
	tracer     trace.Tracer
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewWorker creates a worker for shard.
func NewWorker(shard int, q Queue, aggregator Aggregator, publisher live.Publisher, opts ...Option) *Worker {
	w := &Worker{
		shard:      shard,
		queue:      q,
		aggregator: aggregator,
		publisher:  publisher,
		tracer:     otel.Tracer("github.com/TinchoF/gym-score-be/worker"),
		name:       "worker-" + strconv.Itoa(shard),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run processes jobs until ctx is cancelled, Shutdown is called or the
// shard channel closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx, w.shard)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.logger.Error(ctx, "broadcast failed",
					logger.String("group", job.Group.ID()),
					logger.String("institution", job.InstitutionID),
					logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker without draining.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	ctx, span := w.tracer.Start(ctx, "worker.broadcast", trace.WithAttributes(
		attribute.String("group", job.Group.ID()),
		attribute.Bool("deleted", job.Deleted),
		attribute.Int("shard", w.shard),
	))
	defer span.End()

	view, err := w.aggregator.Aggregate(ctx, model.Staff(job.InstitutionID), job.Group)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate")
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "aggregate_error")
		return fmt.Errorf("aggregate %s: %w", job.Group.ID(), err)
	}

	ev := live.Event{
		Type:          live.EventScoreUpdated,
		InstitutionID: job.InstitutionID,
		Deleted:       job.Deleted,
		View:          view,
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish")
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "publish_error")
		return fmt.Errorf("publish %s: %w", job.Group.ID(), err)
	}
	return nil
}

// Pool runs one worker per queue shard.
type Pool struct {
	workers []*Worker
	queue   Queue
	wg      sync.WaitGroup
	once    sync.Once

	logger logger.Logger
}

// NewPool creates a worker for every shard of q.
func NewPool(q Queue, aggregator Aggregator, publisher live.Publisher, opts ...Option) *Pool {
	p := &Pool{
		workers: make([]*Worker, q.Shards()),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(i, q, aggregator, publisher, opts...)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	metrics.UpdateWorkerActiveCount(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	metrics.UpdateWorkerActiveCount(len(p.workers))
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown closes the queue and waits for workers to drain what was already
// queued, bounded by ctx and poolShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}

		ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		drained := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			metrics.UpdateWorkerActiveCount(0)
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker pool shutdown timed out")
			err = fmt.Errorf("worker pool shutdown: %w", ctx.Err())
		}
	})
	return err
}
