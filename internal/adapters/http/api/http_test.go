package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/TinchoF/gym-score-be/internal/adapters/http/api"
	service "github.com/TinchoF/gym-score-be/internal/app"
	"github.com/TinchoF/gym-score-be/internal/domain/aggregate"
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

type mockDeps struct {
	mu sync.Mutex

	submitResult service.SubmitResult
	submitErr    error
	lastCaller   model.Caller
	lastSub      model.Submission
	lastKey      string
	lastFilter   model.MarkFilter
	lastGroup    model.GroupKey
	lastJudge    string
	lastAssign   []model.ApparatusAssignment
	lastLevel    levels.Config
	listErr      error
	putLevelErr  error
	assignErr    error
	aggregateErr error
}

func (m *mockDeps) Submit(_ context.Context, caller model.Caller, sub model.Submission, key string) (service.SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCaller, m.lastSub, m.lastKey = caller, sub, key
	return m.submitResult, m.submitErr
}

func (m *mockDeps) Aggregate(_ context.Context, caller model.Caller, key model.GroupKey) (aggregate.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCaller, m.lastGroup = caller, key
	if m.aggregateErr != nil {
		return aggregate.View{}, m.aggregateErr
	}
	g, err := aggregate.Build(key, caller.InstitutionID, nil, levels.Fallback, nil)
	if err != nil {
		return aggregate.View{}, err
	}
	return g.For(caller), nil
}

func (m *mockDeps) List(_ context.Context, caller model.Caller, filter model.MarkFilter) ([]aggregate.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCaller, m.lastFilter = caller, filter
	return []aggregate.View{}, m.listErr
}

func (m *mockDeps) LevelTable(context.Context, model.Caller) ([]levels.Config, error) {
	return levels.Defaults(), nil
}

func (m *mockDeps) PutLevelOverride(_ context.Context, _ model.Caller, cfg levels.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLevel = cfg
	return m.putLevelErr
}

func (m *mockDeps) PutJudgeAssignments(_ context.Context, _ model.Caller, judgeID string, a []model.ApparatusAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastJudge, m.lastAssign = judgeID, a
	return m.assignErr
}

func (m *mockDeps) Stats(context.Context) map[string]any {
	return map[string]any{"started": true, "workers": 8}
}

type mockLive struct {
	mu     sync.Mutex
	caller model.Caller
}

func (l *mockLive) Serve(w http.ResponseWriter, _ *http.Request, caller model.Caller) error {
	l.mu.Lock()
	l.caller = caller
	l.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func do(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func callerHeaders(role model.Role, id string) map[string]string {
	return map[string]string{
		"X-Institution-ID": "club-a",
		"X-Caller-ID":      id,
		"X-Caller-Role":    string(role),
	}
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(rec.Body.Bytes(), &out), ShouldBeNil)
	return out
}

const markBody = `{"gymnastId":"g1","judgeId":"j1","apparatus":"beam","tournamentId":"t1","deductions":1.5}`

func TestCallerContext(t *testing.T) {
	Convey("Given an API server", t, func() {
		h := api.NewServer(&mockDeps{}).Handler()

		Convey("Requests without caller headers are rejected", func() {
			rec := do(h, http.MethodGet, "/api/scores", "", nil)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
			So(decode(rec)["code"], ShouldEqual, "unauthenticated")
		})

		Convey("An unknown role is rejected", func() {
			rec := do(h, http.MethodGet, "/api/scores", "", callerHeaders("coach", "c1"))
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("Query parameters do not authenticate REST routes", func() {
			rec := do(h, http.MethodGet, "/api/scores?institution=club-a&caller=a1&role=admin", "", nil)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestSubmitHandler(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDeps{}
		h := api.NewServer(deps).Handler()
		judge := callerHeaders(model.RoleJudge, "j1")

		Convey("A new mark answers 201 and forwards caller and idempotency key", func() {
			deps.submitResult = service.SubmitResult{Outcome: service.OutcomeCreated}
			headers := judge
			headers["Idempotency-Key"] = "k-1"
			rec := do(h, http.MethodPost, "/api/scores", markBody, headers)

			So(rec.Code, ShouldEqual, http.StatusCreated)
			So(decode(rec)["outcome"], ShouldEqual, service.OutcomeCreated)
			So(deps.lastCaller, ShouldResemble, model.Caller{InstitutionID: "club-a", ID: "j1", Role: model.RoleJudge})
			So(deps.lastKey, ShouldEqual, "k-1")
			So(*deps.lastSub.Deductions, ShouldEqual, 1.5)
		})

		Convey("Updates and retractions answer 200", func() {
			deps.submitResult = service.SubmitResult{Outcome: service.OutcomeDeleted, Deleted: true}
			rec := do(h, http.MethodPost, "/api/scores", `{"gymnastId":"g1","judgeId":"j1","apparatus":"beam","tournamentId":"t1"}`, judge)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["deleted"], ShouldBeTrue)
		})

		Convey("Malformed JSON answers 400", func() {
			rec := do(h, http.MethodPost, "/api/scores", `{"gymnastId":`, judge)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(rec)["code"], ShouldEqual, "invalid_request")
		})

		Convey("Service errors map to status codes", func() {
			cases := []struct {
				err  error
				code int
			}{
				{model.ErrInvalidSubmission, http.StatusBadRequest},
				{service.ErrForbidden, http.StatusForbidden},
				{service.ErrInvalidCaller, http.StatusUnauthorized},
				{service.ErrNotStarted, http.StatusServiceUnavailable},
				{errors.New("disk on fire"), http.StatusInternalServerError},
			}
			for _, c := range cases {
				deps.submitErr = c.err
				rec := do(h, http.MethodPost, "/api/scores", markBody, judge)
				So(rec.Code, ShouldEqual, c.code)
			}
		})

		Convey("Internal errors do not leak detail", func() {
			deps.submitErr = errors.New("disk on fire")
			rec := do(h, http.MethodPost, "/api/scores", markBody, judge)
			So(rec.Body.String(), ShouldNotContainSubstring, "disk on fire")
		})
	})
}

func TestSubmitRateLimit(t *testing.T) {
	Convey("Given a server limited to a burst of 2", t, func() {
		deps := &mockDeps{submitResult: service.SubmitResult{Outcome: service.OutcomeUpdated}}
		h := api.NewServer(deps, api.WithSubmitRate(0.001, 2)).Handler()

		Convey("The third submission from one caller is throttled", func() {
			for range 2 {
				So(do(h, http.MethodPost, "/api/scores", markBody, callerHeaders(model.RoleJudge, "j1")).Code, ShouldEqual, http.StatusOK)
			}
			rec := do(h, http.MethodPost, "/api/scores", markBody, callerHeaders(model.RoleJudge, "j1"))
			So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			So(rec.Header().Get("Retry-After"), ShouldEqual, "1")

			Convey("while another caller still gets through", func() {
				rec := do(h, http.MethodPost, "/api/scores", markBody, callerHeaders(model.RoleJudge, "j2"))
				So(rec.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("Reads are never throttled", func() {
			for range 5 {
				So(do(h, http.MethodGet, "/api/scores", "", callerHeaders(model.RoleJudge, "j1")).Code, ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestReadHandlers(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDeps{}
		h := api.NewServer(deps).Handler()
		admin := callerHeaders(model.RoleAdmin, "a1")

		Convey("List forwards the query filter", func() {
			rec := do(h, http.MethodGet, "/api/scores?tournament=t1&apparatus=beam&shift=am", "", admin)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["groups"], ShouldResemble, []any{})
			So(deps.lastFilter, ShouldResemble, model.MarkFilter{TournamentID: "t1", Apparatus: "beam", Shift: "am"})
		})

		Convey("An unscored group answers 200 with scored=false", func() {
			rec := do(h, http.MethodGet, "/api/scores/t1/g1/beam", "", admin)
			So(rec.Code, ShouldEqual, http.StatusOK)
			body := decode(rec)
			So(body["scored"], ShouldBeFalse)
			So(body["groupId"], ShouldEqual, "t1/g1/beam")
			So(deps.lastGroup, ShouldResemble, model.GroupKey{TournamentID: "t1", GymnastID: "g1", Apparatus: "beam"})
		})

		Convey("Aggregate failures answer 500", func() {
			deps.aggregateErr = errors.New("boom")
			rec := do(h, http.MethodGet, "/api/scores/t1/g1/beam", "", admin)
			So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestConfigurationHandlers(t *testing.T) {
	Convey("Given an API server", t, func() {
		deps := &mockDeps{}
		h := api.NewServer(deps).Handler()
		admin := callerHeaders(model.RoleAdmin, "a1")

		Convey("GET levels returns the table", func() {
			rec := do(h, http.MethodGet, "/api/config/levels", "", admin)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["levels"], ShouldHaveLength, len(levels.Defaults()))
		})

		Convey("PUT levels forwards the override", func() {
			rec := do(h, http.MethodPut, "/api/config/levels", `{"level":"Club","scoringMethod":"start_value","baseStartValue":9}`, admin)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.lastLevel.Level, ShouldEqual, "Club")
			So(deps.lastLevel.Method, ShouldEqual, scoring.MethodStartValue)
			So(*deps.lastLevel.BaseStartValue, ShouldEqual, 9.0)
		})

		Convey("An invalid override answers 400", func() {
			deps.putLevelErr = levels.ErrInvalidLevel
			rec := do(h, http.MethodPut, "/api/config/levels", `{"level":"Club"}`, admin)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A judge may not change the table", func() {
			deps.putLevelErr = service.ErrForbidden
			rec := do(h, http.MethodPut, "/api/config/levels", `{"level":"Club","scoringMethod":"deductions"}`, callerHeaders(model.RoleJudge, "j1"))
			So(rec.Code, ShouldEqual, http.StatusForbidden)
		})

		Convey("PUT assignments stores the judge roster entry", func() {
			body := `{"assignments":[{"tournamentId":"t1","apparatus":["beam","floor"]}]}`
			rec := do(h, http.MethodPut, "/api/judges/j1/assignments", body, admin)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.lastJudge, ShouldEqual, "j1")
			So(deps.lastAssign, ShouldHaveLength, 1)
			out := decode(rec)
			So(out["id"], ShouldEqual, "j1")
			So(out["institutionId"], ShouldEqual, "club-a")
		})

		Convey("PUT assignments without a list answers 400", func() {
			rec := do(h, http.MethodPut, "/api/judges/j1/assignments", `{}`, admin)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.lastJudge, ShouldBeEmpty)
		})

		Convey("Malformed assignments answer 400", func() {
			deps.assignErr = model.ErrInvalidAssignment
			rec := do(h, http.MethodPut, "/api/judges/j1/assignments", `{"assignments":[{"apparatus":[]}]}`, admin)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given an API server", t, func() {
		h := api.NewServer(&mockDeps{}).Handler()

		Convey("healthz needs no caller", func() {
			rec := do(h, http.MethodGet, "/healthz", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["status"], ShouldEqual, "ok")
		})

		Convey("stats exposes service counters", func() {
			rec := do(h, http.MethodGet, "/stats", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["started"], ShouldBeTrue)
		})

		Convey("metrics exposes recorded HTTP metrics", func() {
			do(h, http.MethodGet, "/healthz", "", nil)
			rec := do(h, http.MethodGet, "/metrics", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_request_duration_milliseconds")
		})

		Convey("the OpenAPI document is served", func() {
			rec := do(h, http.MethodGet, "/openapi.yaml", "", nil)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "/api/scores")
		})

		Convey("the live route is absent without a hub", func() {
			rec := do(h, http.MethodGet, "/ws/live", "", callerHeaders(model.RoleAdmin, "a1"))
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestCORS(t *testing.T) {
	Convey("Given a server restricted to one origin", t, func() {
		h := api.NewServer(&mockDeps{}, api.WithCORSOrigins([]string{"https://panel.example"})).Handler()

		Convey("A preflight from that origin is allowed with caller headers", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/scores", nil)
			req.Header.Set("Origin", "https://panel.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "X-Caller-ID")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://panel.example")
		})

		Convey("Other origins get no CORS headers", func() {
			headers := callerHeaders(model.RoleAdmin, "a1")
			headers["Origin"] = "https://evil.example"
			rec := do(h, http.MethodGet, "/api/scores", "", headers)
			So(rec.Header().Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
		})
	})
}

func TestLiveRoute(t *testing.T) {
	Convey("Given a server with a live hub", t, func() {
		live := &mockLive{}
		h := api.NewServer(&mockDeps{}, api.WithLive(live)).Handler()

		Convey("The caller may come from query parameters", func() {
			rec := do(h, http.MethodGet, "/ws/live?institution=club-a&caller=j1&role=judge", "", nil)
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(live.caller, ShouldResemble, model.Caller{InstitutionID: "club-a", ID: "j1", Role: model.RoleJudge})
		})

		Convey("Headers take precedence over query parameters", func() {
			rec := do(h, http.MethodGet, "/ws/live?institution=club-b&caller=x&role=judge", "", callerHeaders(model.RoleAdmin, "a1"))
			So(rec.Code, ShouldEqual, http.StatusNoContent)
			So(live.caller.InstitutionID, ShouldEqual, "club-a")
		})

		Convey("A missing caller is rejected before upgrade", func() {
			rec := do(h, http.MethodGet, "/ws/live", "", nil)
			So(rec.Code, ShouldEqual, http.StatusUnauthorized)
		})
	})
}
