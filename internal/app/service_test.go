package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/TinchoF/gym-score-be/internal/adapters/live"
	"github.com/TinchoF/gym-score-be/internal/adapters/repository"
	service "github.com/TinchoF/gym-score-be/internal/app"
	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/internal/domain/scoring"
	"github.com/TinchoF/gym-score-be/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func f(v float64) *float64 { return &v }

var (
	admin = model.Caller{InstitutionID: "club-a", ID: "admin-1", Role: model.RoleAdmin}
	j1    = model.Caller{InstitutionID: "club-a", ID: "j1", Role: model.RoleJudge}
	j2    = model.Caller{InstitutionID: "club-a", ID: "j2", Role: model.RoleJudge}
	group = model.GroupKey{TournamentID: "t1", GymnastID: "g1", Apparatus: "beam"}
)

func mark(judge string, deductions *float64) model.Submission {
	return model.Submission{
		GymnastID:    group.GymnastID,
		JudgeID:      judge,
		Apparatus:    group.Apparatus,
		TournamentID: group.TournamentID,
		Deductions:   deductions,
		Level:        "USAG 6",
	}
}

type recorder struct {
	mu     sync.Mutex
	events []live.Event
}

func (r *recorder) Publish(_ context.Context, ev live.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []live.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.Event(nil), r.events...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func started(opts ...service.Option) (*service.Service, *recorder) {
	pub := &recorder{}
	svc := service.New(append([]service.Option{
		service.WithPublisher(pub),
		service.WithWorkerCount(2),
		service.WithQueueSize(64),
	}, opts...)...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc, pub
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then operations fail with ErrNotStarted", func() {
			_, err := svc.Submit(context.Background(), admin, mark("j1", f(1)), "")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Aggregate(context.Background(), admin, group)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.Stats(context.Background())["started"], ShouldBeFalse)
		})

		Convey("When started and stopped", func() {
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Stats(ctx)["started"], ShouldBeTrue)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then it reports stopped and Stop is idempotent", func() {
				So(svc.Stats(ctx)["started"], ShouldBeFalse)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, pub := started()
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When two judges submit deductions", func() {
			first, err := svc.Submit(ctx, j1, mark("j1", f(1.5)), "")
			So(err, ShouldBeNil)
			second, err := svc.Submit(ctx, j2, mark("j2", f(1.7)), "")
			So(err, ShouldBeNil)

			Convey("Then each response carries the recomputed group", func() {
				So(first.Outcome, ShouldEqual, service.OutcomeCreated)
				So(first.View.Scored, ShouldBeTrue)
				So(*first.View.FinalScore, ShouldEqual, 8.0)

				So(second.View.ScoringMethod, ShouldEqual, scoring.MethodStartValue)
				So(*second.View.FinalDeduction, ShouldEqual, 1.6)
				So(*second.View.FinalScore, ShouldEqual, 7.9)
				So(second.View.SubmittedJudgeIDs, ShouldResemble, []string{"j1", "j2"})
			})

			Convey("Then a judge's response only shows their own mark", func() {
				So(second.View.JudgeMarks, ShouldBeEmpty)
				So(second.View.OwnMarks, ShouldNotBeNil)
				So(*second.View.MyScore, ShouldEqual, 1.7)
			})

			Convey("Then staff see every mark", func() {
				view, err := svc.Aggregate(ctx, admin, group)
				So(err, ShouldBeNil)
				So(view.OwnMarks, ShouldBeNil)
				So(len(view.JudgeMarks), ShouldEqual, 2)
			})

			Convey("Then both writes are broadcast as staff views", func() {
				So(eventually(func() bool { return len(pub.snapshot()) == 2 }), ShouldBeTrue)
				for _, ev := range pub.snapshot() {
					So(ev.Type, ShouldEqual, live.EventScoreUpdated)
					So(ev.InstitutionID, ShouldEqual, "club-a")
					So(len(ev.View.JudgeMarks), ShouldBeGreaterThan, 0)
				}
			})

			Convey("Then a resubmission updates the mark in place", func() {
				res, err := svc.Submit(ctx, j1, mark("j1", f(1.9)), "")
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeUpdated)
				So(*res.View.FinalDeduction, ShouldEqual, 1.8)
				So(svc.Stats(ctx)["marksTotal"], ShouldEqual, 2)
			})

			Convey("Then a retraction removes the mark and is broadcast as deleted", func() {
				res, err := svc.Submit(ctx, j2, mark("j2", nil), "")
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeDeleted)
				So(res.Deleted, ShouldBeTrue)
				So(res.View.SubmittedJudgeIDs, ShouldResemble, []string{"j1"})
				So(res.View.MyScore, ShouldBeNil)

				So(eventually(func() bool {
					for _, ev := range pub.snapshot() {
						if ev.Deleted {
							return true
						}
					}
					return false
				}), ShouldBeTrue)
			})
		})

		Convey("When the last mark is retracted", func() {
			_, err := svc.Submit(ctx, j1, mark("j1", f(1.0)), "")
			So(err, ShouldBeNil)
			res, err := svc.Submit(ctx, j1, mark("j1", nil), "")
			So(err, ShouldBeNil)

			Convey("Then the group reads as not scored yet", func() {
				So(res.View.Empty(), ShouldBeTrue)
				So(res.View.Scored, ShouldBeFalse)
				So(res.View.FinalScore, ShouldBeNil)
			})
		})

		Convey("When a judge submits for another judge", func() {
			_, err := svc.Submit(ctx, j2, mark("j1", f(1.0)), "")

			Convey("Then it is forbidden", func() {
				So(errors.Is(err, service.ErrForbidden), ShouldBeTrue)
			})
		})

		Convey("When the submission is malformed", func() {
			sub := mark("j1", f(1.0))
			sub.GymnastID = ""
			_, err := svc.Submit(ctx, j1, sub, "")

			Convey("Then it is rejected as invalid", func() {
				So(errors.Is(err, model.ErrInvalidSubmission), ShouldBeTrue)
			})
		})

		Convey("When the caller has no institution", func() {
			_, err := svc.Submit(ctx, model.Caller{ID: "j1", Role: model.RoleJudge}, mark("j1", f(1.0)), "")

			Convey("Then the caller is rejected", func() {
				So(errors.Is(err, service.ErrInvalidCaller), ShouldBeTrue)
			})
		})

		Convey("When the level is not configured", func() {
			sub := mark("j1", f(2.0))
			sub.Level = "Unknown Level"
			res, err := svc.Submit(ctx, j1, sub, "")

			Convey("Then the fallback method scores the group", func() {
				So(err, ShouldBeNil)
				So(res.View.ScoringMethod, ShouldEqual, scoring.MethodDeductions)
				So(*res.View.FinalScore, ShouldEqual, 8.0)
			})
		})

		Convey("When a submission names its method explicitly", func() {
			sub := mark("j1", f(1.0))
			sub.ScoringMethod = scoring.MethodFIGCode
			sub.DScore = f(5.2)
			res, err := svc.Submit(ctx, j1, sub, "")

			Convey("Then that method is used regardless of level", func() {
				So(err, ShouldBeNil)
				So(res.View.ScoringMethod, ShouldEqual, scoring.MethodFIGCode)
				So(*res.View.FinalScore, ShouldEqual, 14.2)
			})
		})
	})
}

func TestService_Idempotency(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, pub := started()
		defer func() { _ = svc.Stop(ctx) }()

		first, err := svc.Submit(ctx, j1, mark("j1", f(1.5)), "key-1")
		So(err, ShouldBeNil)
		So(eventually(func() bool { return len(pub.snapshot()) == 1 }), ShouldBeTrue)

		Convey("When the same key is replayed with different values", func() {
			replay, err := svc.Submit(ctx, j1, mark("j1", f(3.0)), "key-1")

			Convey("Then nothing is written or broadcast", func() {
				So(err, ShouldBeNil)
				So(replay.Outcome, ShouldEqual, service.OutcomeReplayed)
				So(*replay.View.FinalScore, ShouldEqual, *first.View.FinalScore)
				time.Sleep(50 * time.Millisecond)
				So(len(pub.snapshot()), ShouldEqual, 1)
			})
		})

		Convey("When another caller uses the same key", func() {
			res, err := svc.Submit(ctx, j2, mark("j2", f(1.7)), "key-1")

			Convey("Then it is applied", func() {
				So(err, ShouldBeNil)
				So(res.Outcome, ShouldEqual, service.OutcomeCreated)
			})
		})
	})
}

type readFailureKey struct{}

var errRosterUnavailable = errors.New("roster unavailable")

// flakyStore fails roster reads made under a context marked with
// readFailureKey. Writes and worker reads go through.
type flakyStore struct {
	repository.Store
}

func (s flakyStore) Judges(ctx context.Context, institutionID string) ([]model.Judge, error) {
	if ctx.Value(readFailureKey{}) != nil {
		return nil, errRosterUnavailable
	}
	return s.Store.Judges(ctx, institutionID)
}

func TestService_SubmitBroadcastsAfterReadFailure(t *testing.T) {
	Convey("Given a store whose reads fail after a committed write", t, func() {
		store := flakyStore{Store: repository.NewMemoryStore(context.Background())}
		svc, pub := started(service.WithStore(store))
		defer func() { _ = svc.Stop(context.Background()) }()

		ctx := context.WithValue(context.Background(), readFailureKey{}, true)
		_, err := svc.Submit(ctx, j1, mark("j1", f(1.5)), "")

		Convey("Then the caller sees the read error", func() {
			So(errors.Is(err, errRosterUnavailable), ShouldBeTrue)
		})

		Convey("Then the stored mark is still broadcast", func() {
			So(store.Count(context.Background()), ShouldEqual, 1)
			So(eventually(func() bool { return len(pub.snapshot()) == 1 }), ShouldBeTrue)
			ev := pub.snapshot()[0]
			So(ev.InstitutionID, ShouldEqual, j1.InstitutionID)
			So(ev.View.SubmittedJudgeIDs, ShouldResemble, []string{"j1"})
		})
	})
}

func TestService_List(t *testing.T) {
	Convey("Given marks across two apparatus and two tenants", t, func() {
		ctx := context.Background()
		svc, _ := started()
		defer func() { _ = svc.Stop(ctx) }()

		_, err := svc.Submit(ctx, admin, mark("j1", f(1.0)), "")
		So(err, ShouldBeNil)
		vault := mark("j1", f(0.5))
		vault.Apparatus = "vault"
		_, err = svc.Submit(ctx, admin, vault, "")
		So(err, ShouldBeNil)
		other := model.Caller{InstitutionID: "club-b", ID: "admin-b", Role: model.RoleAdmin}
		_, err = svc.Submit(ctx, other, mark("j9", f(2.0)), "")
		So(err, ShouldBeNil)

		Convey("When listing the whole tournament", func() {
			views, err := svc.List(ctx, admin, model.MarkFilter{TournamentID: "t1"})

			Convey("Then only the caller's groups are returned, in creation order", func() {
				So(err, ShouldBeNil)
				So(len(views), ShouldEqual, 2)
				So(views[0].ID, ShouldEqual, "t1/g1/beam")
				So(views[1].ID, ShouldEqual, "t1/g1/vault")
			})
		})

		Convey("When filtering by apparatus", func() {
			views, err := svc.List(ctx, admin, model.MarkFilter{TournamentID: "t1", Apparatus: "vault"})

			Convey("Then one group is returned", func() {
				So(err, ShouldBeNil)
				So(len(views), ShouldEqual, 1)
				So(*views[0].FinalScore, ShouldEqual, 9.0)
			})
		})
	})
}

func TestService_Configuration(t *testing.T) {
	Convey("Given a started service with an extra process-wide level", t, func() {
		ctx := context.Background()
		registry := levels.NewRegistry(levels.WithLevels(levels.Config{
			Level: "Club", Method: scoring.MethodDeductions, BaseStartValue: f(10),
		}))
		svc, _ := started(service.WithRegistry(registry))
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When a judge tries to change a level", func() {
			err := svc.PutLevelOverride(ctx, j1, levels.Config{Level: "Club", Method: scoring.MethodStartValue})

			Convey("Then it is forbidden", func() {
				So(errors.Is(err, service.ErrForbidden), ShouldBeTrue)
			})
		})

		Convey("When staff override a level for their tenant", func() {
			err := svc.PutLevelOverride(ctx, admin, levels.Config{Level: "Club", Method: scoring.MethodStartValue, BaseStartValue: f(9.0)})
			So(err, ShouldBeNil)

			Convey("Then new groups use the override", func() {
				sub := mark("j1", f(1.0))
				sub.Level = "Club"
				res, err := svc.Submit(ctx, admin, sub, "")
				So(err, ShouldBeNil)
				So(res.View.ScoringMethod, ShouldEqual, scoring.MethodStartValue)
				So(*res.View.FinalScore, ShouldEqual, 8.0)
			})

			Convey("Then the tenant's table shows it", func() {
				table, err := svc.LevelTable(ctx, admin)
				So(err, ShouldBeNil)
				found := false
				for _, c := range table {
					if c.Level == "Club" {
						found = true
						So(c.Method, ShouldEqual, scoring.MethodStartValue)
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When an override is invalid", func() {
			err := svc.PutLevelOverride(ctx, admin, levels.Config{Level: "Club", Method: "bogus"})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, levels.ErrInvalidLevel), ShouldBeTrue)
			})
		})

		Convey("When judges are assigned to the apparatus", func() {
			for _, id := range []string{"j1", "j2", "j3"} {
				err := svc.PutJudgeAssignments(ctx, admin, id, []model.ApparatusAssignment{
					{TournamentID: "t1", Shift: "morning", Apparatus: []string{"beam"}},
				})
				So(err, ShouldBeNil)
			}
			sub := mark("j1", f(1.0))
			sub.Shift = "morning"
			res, err := svc.Submit(ctx, j1, sub, "")
			So(err, ShouldBeNil)

			Convey("Then the group expects that many judges", func() {
				So(res.View.ExpectedJudgesCount, ShouldEqual, 3)
			})
		})

		Convey("When assignments are malformed", func() {
			err := svc.PutJudgeAssignments(ctx, admin, "j1", []model.ApparatusAssignment{{TournamentID: "t1"}})

			Convey("Then they are rejected", func() {
				So(errors.Is(err, model.ErrInvalidAssignment), ShouldBeTrue)
			})
		})
	})
}
