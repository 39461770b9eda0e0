package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

// MemoryStore is a mutex-guarded in-process Store. Each Submit runs under
// the write lock, which makes the upsert atomic per key.
type MemoryStore struct {
	mu        sync.RWMutex
	marks     map[model.MarkKey]model.JudgeMark
	judges    map[string]map[string]model.Judge
	overrides map[string]map[string]levels.Config
	clock     *stampClock
	opts      options
	stop      context.CancelFunc
	closed    bool
}

// NewMemoryStore creates an empty in-memory store. The metrics updater
// stops when ctx is cancelled or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &MemoryStore{
		marks:     make(map[model.MarkKey]model.JudgeMark),
		judges:    make(map[string]map[string]model.Judge),
		overrides: make(map[string]map[string]levels.Config),
		clock:     newStampClock(o.now),
		opts:      o,
		stop:      cancel,
	}
	go s.startMetricsUpdater(ctx)
	return s
}

// Submit implements Store.
func (s *MemoryStore) Submit(ctx context.Context, sub model.Submission) (Outcome, error) {
	if sub.InstitutionID == "" {
		return Outcome{}, ErrMissingTenant
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	key := sub.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Outcome{}, ErrClosed
	}

	existing, existed := s.marks[key]
	if sub.IsRetraction() {
		delete(s.marks, key)
		return Outcome{Deleted: true, Existed: existed}, nil
	}

	now := s.clock.next()
	var m model.JudgeMark
	if existed {
		m = merge(existing, sub)
	} else {
		m = newMark(sub)
		m.ID = uuid.NewString()
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.marks[key] = m
	return Outcome{Mark: m, Existed: existed}, nil
}

// newMark builds the first version of a mark from a submission.
func newMark(sub model.Submission) model.JudgeMark {
	method := sub.ScoringMethod
	if method == "" {
		method = sub.ResolvedMethod
	}
	return model.JudgeMark{
		InstitutionID:    sub.InstitutionID,
		JudgeID:          sub.JudgeID,
		GymnastID:        sub.GymnastID,
		Apparatus:        sub.Apparatus,
		TournamentID:     sub.TournamentID,
		Shift:            sub.Shift,
		JudgeType:        sub.JudgeType,
		Deductions:       copyFloat(sub.Deductions),
		StartValue:       copyFloat(sub.StartValue),
		DifficultyBonus:  copyFloat(sub.DifficultyBonus),
		DScore:           copyFloat(sub.DScore),
		NeutralDeduction: copyFloat(sub.NeutralDeduction),
		ScoringMethod:    method,
		Level:            sub.Level,
	}
}

// merge applies the present fields of sub over m. The method snapshot only
// changes when the submission names one explicitly.
func merge(m model.JudgeMark, sub model.Submission) model.JudgeMark {
	if sub.Shift != "" {
		m.Shift = sub.Shift
	}
	if sub.JudgeType != "" {
		m.JudgeType = sub.JudgeType
	}
	if sub.Deductions != nil {
		m.Deductions = copyFloat(sub.Deductions)
	}
	if sub.StartValue != nil {
		m.StartValue = copyFloat(sub.StartValue)
	}
	if sub.DifficultyBonus != nil {
		m.DifficultyBonus = copyFloat(sub.DifficultyBonus)
	}
	if sub.DScore != nil {
		m.DScore = copyFloat(sub.DScore)
	}
	if sub.NeutralDeduction != nil {
		m.NeutralDeduction = copyFloat(sub.NeutralDeduction)
	}
	if sub.ScoringMethod != "" {
		m.ScoringMethod = sub.ScoringMethod
	}
	if sub.Level != "" {
		m.Level = sub.Level
	}
	return m
}

// GroupMarks implements Store.
func (s *MemoryStore) GroupMarks(ctx context.Context, institutionID string, key model.GroupKey) ([]model.JudgeMark, error) {
	return s.ListMarks(ctx, model.MarkFilter{
		InstitutionID: institutionID,
		TournamentID:  key.TournamentID,
		GymnastID:     key.GymnastID,
		Apparatus:     key.Apparatus,
	})
}

// ListMarks implements Store. Results are ordered by creation time.
func (s *MemoryStore) ListMarks(_ context.Context, filter model.MarkFilter) ([]model.JudgeMark, error) {
	if filter.InstitutionID == "" {
		return nil, ErrMissingTenant
	}
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	s.mu.RLock()
	out := make([]model.JudgeMark, 0)
	for _, m := range s.marks {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Judges implements Store.
func (s *MemoryStore) Judges(_ context.Context, institutionID string) ([]model.Judge, error) {
	if institutionID == "" {
		return nil, ErrMissingTenant
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Judge, 0, len(s.judges[institutionID]))
	for _, j := range s.judges[institutionID] {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// PutJudge implements Store.
func (s *MemoryStore) PutJudge(_ context.Context, judge model.Judge) error {
	if judge.InstitutionID == "" {
		return ErrMissingTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.judges[judge.InstitutionID] == nil {
		s.judges[judge.InstitutionID] = make(map[string]model.Judge)
	}
	judge.Assignments = append([]model.ApparatusAssignment(nil), judge.Assignments...)
	s.judges[judge.InstitutionID][judge.ID] = judge
	return nil
}

// LevelOverrides implements Store.
func (s *MemoryStore) LevelOverrides(_ context.Context, institutionID string) ([]levels.Config, error) {
	if institutionID == "" {
		return nil, ErrMissingTenant
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]levels.Config, 0, len(s.overrides[institutionID]))
	for _, c := range s.overrides[institutionID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// PutLevelOverride implements Store.
func (s *MemoryStore) PutLevelOverride(_ context.Context, institutionID string, cfg levels.Config) error {
	if institutionID == "" {
		return ErrMissingTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[institutionID] == nil {
		s.overrides[institutionID] = make(map[string]levels.Config)
	}
	s.overrides[institutionID][cfg.Level] = cfg
	return nil
}

// Count implements Store.
func (s *MemoryStore) Count(context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.marks)
}

// Close stops the metrics updater. Further writes fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(s.opts.metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateRepositoryRecordsTotal(s.Count(ctx))
		}
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
