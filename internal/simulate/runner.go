package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	service "github.com/TinchoF/gym-score-be/internal/app"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/logger"
)

const scoreTolerance = 5e-4

// Run executes the plan for cfg against a running service and verifies
// every group. It returns ErrMismatch when a published value disagrees with
// the local consensus; the stats are filled in either way.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get().Named("simulate")
	start := time.Now()

	c := newClient(cfg)
	if err := c.health(ctx); err != nil {
		return nil, err
	}

	plan := NewPlan(cfg)
	stats := &Stats{Groups: len(plan.Groups)}
	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("institution", cfg.Institution),
		logger.Int("groups", len(plan.Groups)),
		logger.Int("judges", cfg.Judges),
		logger.Int("steps", len(plan.Initial)+len(plan.Followups)))

	var w *watcher
	if cfg.Live {
		var err error
		if w, err = watch(ctx, cfg); err != nil {
			return nil, err
		}
	}

	r := &runner{cfg: cfg, client: c, stats: stats, log: log, limiters: judgeLimiters(cfg)}
	if err := r.execute(ctx, plan.Initial); err != nil {
		return stats, err
	}
	if err := r.execute(ctx, plan.Followups); err != nil {
		return stats, err
	}

	if w != nil {
		if err := sleep(ctx, cfg.LiveSettle); err != nil {
			return stats, err
		}
		stats.LiveEvents, stats.LiveDeleted = w.close()
	}

	err := r.verify(ctx, plan)
	stats.Duration = time.Since(start)
	log.Info(ctx, "simulation finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("created", stats.Created),
		logger.Int("updated", stats.Updated),
		logger.Int("retracted", stats.Retracted),
		logger.Int("replayed", stats.Replayed),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed),
		logger.Int("verified", stats.Verified),
		logger.Int("mismatches", stats.Mismatches),
		logger.Int("liveEvents", stats.LiveEvents),
		logger.Duration("duration", stats.Duration))
	return stats, err
}

var wantOutcome = map[string]string{
	KindSubmit:    service.OutcomeCreated,
	KindUpdate:    service.OutcomeUpdated,
	KindRetract:   service.OutcomeDeleted,
	KindDuplicate: service.OutcomeReplayed,
}

type runner struct {
	cfg      Config
	client   *client
	log      logger.Logger
	limiters map[string]*rate.Limiter

	mu    sync.Mutex
	stats *Stats
}

// judgeLimiters is built once and only read afterwards.
func judgeLimiters(cfg Config) map[string]*rate.Limiter {
	burst := max(1, int(cfg.JudgeRate))
	out := make(map[string]*rate.Limiter, cfg.Judges)
	for j := 1; j <= cfg.Judges; j++ {
		out[JudgeID(j)] = rate.NewLimiter(rate.Limit(cfg.JudgeRate), burst)
	}
	return out
}

// execute runs steps on a bounded pool. Rejected submissions are counted,
// not returned; only cancellation stops the pool.
func (r *runner) execute(ctx context.Context, steps []Step) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, step := range steps {
		g.Go(func() error {
			if err := r.limiters[step.Judge].Wait(gctx); err != nil {
				return err
			}
			res, throttled, err := r.client.submit(gctx, step)
			r.record(gctx, step, res, throttled, err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *runner) record(ctx context.Context, step Step, res submitResponse, throttled int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Submitted++
	r.stats.Throttled += throttled
	if err != nil {
		r.stats.Failed++
		r.log.Warn(ctx, "submission failed",
			logger.String("kind", step.Kind),
			logger.String("judge", step.Judge),
			logger.String("group", step.Submission.Key().Group().ID()),
			logger.Error(err))
		return
	}
	switch res.Outcome {
	case service.OutcomeCreated:
		r.stats.Created++
	case service.OutcomeUpdated:
		r.stats.Updated++
	case service.OutcomeDeleted:
		r.stats.Retracted++
	case service.OutcomeReplayed:
		r.stats.Replayed++
	}
	want := wantOutcome[step.Kind]
	if res.Outcome != want {
		r.stats.Mismatches++
		r.log.Warn(ctx, "unexpected submit outcome",
			logger.String("kind", step.Kind),
			logger.String("want", want),
			logger.String("got", res.Outcome))
	}
}

// verify reads every group as staff and as the last judge of the panel.
func (r *runner) verify(ctx context.Context, plan Plan) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, key := range plan.Groups {
		g.Go(func() error {
			problems, err := r.verifyGroup(gctx, plan, key)
			if err != nil {
				return err
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			if len(problems) == 0 {
				r.stats.Verified++
				return nil
			}
			r.stats.Mismatches++
			for _, p := range problems {
				r.log.Warn(gctx, "group mismatch", logger.String("group", key.ID()), logger.String("problem", p))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if r.stats.Mismatches > 0 {
		return fmt.Errorf("%w: %d mismatches over %d groups", ErrMismatch, r.stats.Mismatches, len(plan.Groups))
	}
	return nil
}

func (r *runner) verifyGroup(ctx context.Context, plan Plan, key model.GroupKey) ([]string, error) {
	var problems []string
	marks := plan.Final[key]

	staff, err := r.client.group(ctx, key, observerID, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if want := plan.Expected(r.cfg, key); want == nil {
		if staff.Scored || staff.FinalScore != nil {
			problems = append(problems, "expected an unscored group")
		}
	} else if staff.FinalScore == nil || math.Abs(*staff.FinalScore-*want) > scoreTolerance {
		problems = append(problems, fmt.Sprintf("finalScore %v, want %.3f", deref(staff.FinalScore), *want))
	}
	if len(staff.SubmittedJudgeIDs) != len(marks) || len(staff.JudgeMarks) != len(marks) {
		problems = append(problems, fmt.Sprintf("%d judges listed, want %d", len(staff.SubmittedJudgeIDs), len(marks)))
	}

	judge := JudgeID(r.cfg.Judges)
	own, err := r.client.group(ctx, key, judge, model.RoleJudge)
	if err != nil {
		return nil, err
	}
	if len(own.JudgeMarks) != 0 {
		problems = append(problems, "judge view exposes the panel's marks")
	}
	if d, ok := marks[judge]; ok {
		if own.MyScore == nil || math.Abs(*own.MyScore-d) > scoreTolerance {
			problems = append(problems, fmt.Sprintf("myScore %v, want %.3f", deref(own.MyScore), d))
		}
	} else if own.MyScore != nil {
		problems = append(problems, "myScore set for a retracted mark")
	}
	return problems, nil
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
