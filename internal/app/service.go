// Package service provides the scoring core used by the HTTP API: it stores
// judge marks, recomputes score groups and schedules live broadcasts.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/TinchoF/gym-score-be/internal/adapters/live"
	"github.com/TinchoF/gym-score-be/internal/adapters/mq/queue"
	"github.com/TinchoF/gym-score-be/internal/adapters/mq/worker"
	"github.com/TinchoF/gym-score-be/internal/adapters/repository"
	"github.com/TinchoF/gym-score-be/internal/domain/aggregate"
	"github.com/TinchoF/gym-score-be/internal/domain/dedupe"
	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const (
	defaultQueueSize  = 10000
	defaultWorkers    = 8
	defaultDedupeSize = 50000
)

// Submission outcomes, also used as metric labels.
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeDeleted  = "deleted"
	OutcomeReplayed = "replayed"
)

// SubmitResult is the response to a submission: what happened and the
// group as it looks right after the write, shaped for the caller.
type SubmitResult struct {
	Outcome string         `json:"outcome"`
	Deleted bool           `json:"deleted"`
	View    aggregate.View `json:"view"`
}

// Service implements the API dependencies for the scoring core.
type Service struct {
	mu sync.RWMutex

	store     repository.Store
	ownsStore bool
	registry  *levels.Registry
	publisher live.Publisher
	deduper   dedupe.Deduper
	queue     *queue.ShardedQueue
	pool      *worker.Pool

	queueSize  int
	workers    int
	dedupeSize int

	started bool
	tracer  trace.Tracer
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the mark store. Without it Start creates an in-memory
// store that the service owns and closes.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithRegistry sets the process-wide level registry.
func WithRegistry(r *levels.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithPublisher sets where recomputed groups are broadcast.
func WithPublisher(p live.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithQueueSize sets the capacity of the broadcast queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of broadcast workers, one per queue shard.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workers = count
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Call Start before use.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:  defaultQueueSize,
		workers:    defaultWorkers,
		dedupeSize: defaultDedupeSize,
		tracer:     otel.Tracer("github.com/TinchoF/gym-score-be/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the missing components and launches the broadcast workers.
// The workers stop when ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore(ctx)
		s.ownsStore = true
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.registry == nil {
		s.registry = levels.NewRegistry()
	}
	if s.publisher == nil {
		s.publisher = live.Fanout{}
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewShardedQueue(queue.WithCapacity(s.queueSize), queue.WithShards(s.workers))
	s.pool = worker.NewPool(s.queue, broadcaster{s}, s.publisher)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "scoring service started",
		logger.Int("workers", s.workers),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains the broadcast queue and releases owned resources.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	pool, store, owns := s.pool, s.store, s.ownsStore
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping scoring service...")
	err := pool.Shutdown(ctx)
	if owns {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.logger.Info(ctx, "scoring service stopped")
	return err
}

// broadcaster lets the workers recompute groups while the service is
// stopping.
type broadcaster struct{ s *Service }

func (b broadcaster) Aggregate(ctx context.Context, caller model.Caller, key model.GroupKey) (aggregate.View, error) {
	return b.s.aggregate(ctx, caller, key)
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func checkCaller(c model.Caller) error {
	if c.InstitutionID == "" {
		return fmt.Errorf("%w: missing institution", ErrInvalidCaller)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidCaller, c.Role)
	}
	return nil
}

// Submit writes one judge mark, or retracts it, and returns the group
// recomputed right after the write. Broadcasting happens asynchronously.
//
// A non-empty idempotencyKey makes retries safe: a key already applied for
// this caller returns the current group without writing again.
func (s *Service) Submit(ctx context.Context, caller model.Caller, sub model.Submission, idempotencyKey string) (SubmitResult, error) {
	if err := s.ready(); err != nil {
		return SubmitResult{}, err
	}
	ctx, span := s.tracer.Start(ctx, "service.Submit")
	defer span.End()

	res, err := s.submit(ctx, caller, sub, idempotencyKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit")
		return SubmitResult{}, err
	}
	span.SetAttributes(attribute.String("outcome", res.Outcome), attribute.String("group", res.View.ID))
	return res, nil
}

func (s *Service) submit(ctx context.Context, caller model.Caller, sub model.Submission, idempotencyKey string) (SubmitResult, error) {
	if err := checkCaller(caller); err != nil {
		return SubmitResult{}, err
	}
	if err := sub.Validate(); err != nil {
		metrics.RecordSubmission("invalid")
		return SubmitResult{}, err
	}
	if caller.Role == model.RoleJudge && caller.ID != sub.JudgeID {
		metrics.RecordSubmission("forbidden")
		return SubmitResult{}, fmt.Errorf("%w: judge %s cannot submit for %s", ErrForbidden, caller.ID, sub.JudgeID)
	}
	sub.InstitutionID = caller.InstitutionID
	key := sub.Key().Group()

	dedupeKey := ""
	if idempotencyKey != "" {
		dedupeKey = caller.InstitutionID + "|" + caller.ID + "|" + idempotencyKey
		if s.deduper.SeenAndRecord(ctx, dedupeKey) {
			s.logger.Debug(ctx, "replayed submission", logger.String("idempotencyKey", idempotencyKey))
			view, err := s.aggregate(ctx, caller, key)
			if err != nil {
				return SubmitResult{}, err
			}
			metrics.RecordSubmission(OutcomeReplayed)
			return SubmitResult{Outcome: OutcomeReplayed, View: view}, nil
		}
	}
	fail := func(err error) (SubmitResult, error) {
		if dedupeKey != "" {
			s.deduper.Unrecord(ctx, dedupeKey)
		}
		metrics.RecordSubmission("error")
		metrics.RecordErrorByComponent("service", "store")
		return SubmitResult{}, err
	}

	if !sub.IsRetraction() && sub.ScoringMethod == "" {
		overrides, err := s.store.LevelOverrides(ctx, caller.InstitutionID)
		if err != nil {
			s.logger.Error(ctx, "load level overrides failed", logger.Error(err))
			return fail(fmt.Errorf("load level overrides: %w", err))
		}
		cfg, found := s.registry.Lookup(sub.Level, overrides)
		if !found && sub.Level != "" {
			metrics.RecordLevelFallback()
			s.logger.Warn(ctx, "unknown level, using fallback scoring method",
				logger.String("level", sub.Level),
				logger.String("method", cfg.Method.String()),
				logger.String("institution", caller.InstitutionID))
		}
		sub.ResolvedMethod = cfg.Method
	}

	out, err := s.store.Submit(ctx, sub)
	if err != nil {
		s.logger.Error(ctx, "store submit failed",
			logger.String("group", key.ID()),
			logger.String("judge", sub.JudgeID),
			logger.Error(err))
		return fail(fmt.Errorf("store submit: %w", err))
	}

	outcome := OutcomeCreated
	switch {
	case out.Deleted:
		outcome = OutcomeDeleted
	case out.Existed:
		outcome = OutcomeUpdated
	}
	metrics.RecordSubmission(outcome)

	// The write is committed; the worker re-reads the group, so the
	// broadcast does not depend on the caller's view below.
	job := queue.Job{InstitutionID: caller.InstitutionID, Group: key, Deleted: out.Deleted}
	if !s.queue.Enqueue(ctx, job) {
		metrics.RecordBroadcastDropped("queue_full")
		s.logger.Warn(ctx, "broadcast queue saturated, update not broadcast",
			logger.String("group", key.ID()),
			logger.Int("queueLength", s.queue.Len(ctx)))
	}

	view, err := s.aggregate(ctx, caller, key)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Outcome: outcome, Deleted: out.Deleted, View: view}, nil
}

// Aggregate returns the current view of one score group for caller. A group
// without marks is returned with no judges and Scored false.
func (s *Service) Aggregate(ctx context.Context, caller model.Caller, key model.GroupKey) (aggregate.View, error) {
	if err := s.ready(); err != nil {
		return aggregate.View{}, err
	}
	if err := checkCaller(caller); err != nil {
		return aggregate.View{}, err
	}
	ctx, span := s.tracer.Start(ctx, "service.Aggregate", trace.WithAttributes(attribute.String("group", key.ID())))
	defer span.End()

	view, err := s.aggregate(ctx, caller, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate")
	}
	return view, err
}

func (s *Service) aggregate(ctx context.Context, caller model.Caller, key model.GroupKey) (aggregate.View, error) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregationLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	var (
		marks     []model.JudgeMark
		judges    []model.Judge
		overrides []levels.Config
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		marks, err = s.store.GroupMarks(gctx, caller.InstitutionID, key)
		return err
	})
	g.Go(func() (err error) {
		judges, err = s.store.Judges(gctx, caller.InstitutionID)
		return err
	})
	g.Go(func() (err error) {
		overrides, err = s.store.LevelOverrides(gctx, caller.InstitutionID)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error(ctx, "aggregate read failed", logger.String("group", key.ID()), logger.Error(err))
		metrics.RecordErrorByComponent("service", "store")
		return aggregate.View{}, fmt.Errorf("aggregate %s: %w", key.ID(), err)
	}

	group, err := s.build(ctx, caller.InstitutionID, key, marks, judges, overrides)
	if err != nil {
		return aggregate.View{}, err
	}
	return group.For(caller), nil
}

func (s *Service) build(ctx context.Context, institutionID string, key model.GroupKey, marks []model.JudgeMark, judges []model.Judge, overrides []levels.Config) (aggregate.Group, error) {
	resolve := func(level string) levels.Config { return s.registry.Resolve(level, overrides) }
	group, err := aggregate.Build(key, institutionID, marks, resolve, judges)
	if err != nil {
		s.logger.Error(ctx, "aggregate build failed",
			logger.String("group", key.ID()),
			logger.String("institution", institutionID),
			logger.Error(err))
		metrics.RecordErrorByComponent("service", "aggregate")
		return aggregate.Group{}, fmt.Errorf("aggregate %s: %w", key.ID(), err)
	}
	return group, nil
}

// List returns every score group with at least one mark matching filter,
// in the order their first mark was created. The filter's tenant is taken
// from caller.
func (s *Service) List(ctx context.Context, caller model.Caller, filter model.MarkFilter) ([]aggregate.View, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "service.List")
	defer span.End()

	filter.InstitutionID = caller.InstitutionID

	var (
		marks     []model.JudgeMark
		judges    []model.Judge
		overrides []levels.Config
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		marks, err = s.store.ListMarks(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		judges, err = s.store.Judges(gctx, caller.InstitutionID)
		return err
	})
	g.Go(func() (err error) {
		overrides, err = s.store.LevelOverrides(gctx, caller.InstitutionID)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		s.logger.Error(ctx, "list read failed", logger.Error(err))
		metrics.RecordErrorByComponent("service", "store")
		return nil, fmt.Errorf("list: %w", err)
	}

	var order []model.GroupKey
	byGroup := make(map[model.GroupKey][]model.JudgeMark)
	for _, m := range marks {
		k := m.Group()
		if _, ok := byGroup[k]; !ok {
			order = append(order, k)
		}
		byGroup[k] = append(byGroup[k], m)
	}

	views := make([]aggregate.View, 0, len(order))
	for _, k := range order {
		group, err := s.build(ctx, caller.InstitutionID, k, byGroup[k], judges, overrides)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		views = append(views, group.For(caller))
	}
	span.SetAttributes(attribute.Int("groups", len(views)))
	return views, nil
}

// LevelTable returns the effective level table for the caller's tenant.
func (s *Service) LevelTable(ctx context.Context, caller model.Caller) ([]levels.Config, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	overrides, err := s.store.LevelOverrides(ctx, caller.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("level table: %w", err)
	}
	return s.registry.Table(overrides), nil
}

// PutLevelOverride sets a tenant level configuration. Staff only. Marks
// already stored keep the method they were created with.
func (s *Service) PutLevelOverride(ctx context.Context, caller model.Caller, cfg levels.Config) error {
	if err := s.staffOnly(caller); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.store.PutLevelOverride(ctx, caller.InstitutionID, cfg); err != nil {
		return fmt.Errorf("put level override: %w", err)
	}
	s.logger.Info(ctx, "level override set",
		logger.String("institution", caller.InstitutionID),
		logger.String("level", cfg.Level),
		logger.String("method", cfg.Method.String()))
	return nil
}

// PutJudgeAssignments replaces a judge's apparatus assignments. Staff only.
func (s *Service) PutJudgeAssignments(ctx context.Context, caller model.Caller, judgeID string, assignments []model.ApparatusAssignment) error {
	if err := s.staffOnly(caller); err != nil {
		return err
	}
	if judgeID == "" {
		return fmt.Errorf("%w: missing judge id", model.ErrInvalidAssignment)
	}
	if err := model.ValidateAssignments(assignments); err != nil {
		return err
	}
	judge := model.Judge{ID: judgeID, InstitutionID: caller.InstitutionID, Assignments: assignments}
	if err := s.store.PutJudge(ctx, judge); err != nil {
		return fmt.Errorf("put judge: %w", err)
	}
	return nil
}

func (s *Service) staffOnly(caller model.Caller) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := checkCaller(caller); err != nil {
		return err
	}
	if !caller.IsStaff() {
		return fmt.Errorf("%w: staff role required", ErrForbidden)
	}
	return nil
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":    s.started,
		"workers":    s.workers,
		"queueSize":  s.queueSize,
		"dedupeSize": s.dedupeSize,
	}
	if s.started {
		queueLen := s.queue.Len(ctx)
		marks := s.store.Count(ctx)
		stats["queueLength"] = queueLen
		stats["marksTotal"] = marks
		stats["idempotencyKeys"] = s.deduper.Size()
		metrics.UpdateRepositoryRecordsTotal(marks)
	}
	return stats
}
