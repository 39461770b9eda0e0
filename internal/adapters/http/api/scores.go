package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/TinchoF/gym-score-be/internal/app"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
)

const headerIdempotencyKey = "Idempotency-Key"

// handleSubmit handles POST /api/scores. A body without deductions, dScore,
// difficultyBonus and neutralDeduction retracts the judge's mark.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.deps.Submit(r.Context(), CallerFrom(r.Context()), sub, r.Header.Get(headerIdempotencyKey))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == service.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// handleList handles GET /api/scores?tournament=&apparatus=&gymnast=&shift=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MarkFilter{
		TournamentID: q.Get("tournament"),
		GymnastID:    q.Get("gymnast"),
		Apparatus:    q.Get("apparatus"),
		Shift:        q.Get("shift"),
	}
	views, err := s.deps.List(r.Context(), CallerFrom(r.Context()), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": views})
}

// handleGetGroup returns one group. A group with no marks is a valid
// "not scored yet" answer, not a 404.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	key := model.GroupKey{
		TournamentID: chi.URLParam(r, "tournament"),
		GymnastID:    chi.URLParam(r, "gymnast"),
		Apparatus:    chi.URLParam(r, "apparatus"),
	}
	view, err := s.deps.Aggregate(r.Context(), CallerFrom(r.Context()), key)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
