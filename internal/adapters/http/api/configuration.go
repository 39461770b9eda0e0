package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
)

func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	table, err := s.deps.LevelTable(r.Context(), CallerFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": table})
}

// handlePutLevel installs a tenant override and answers with the new table.
func (s *Server) handlePutLevel(w http.ResponseWriter, r *http.Request) {
	var cfg levels.Config
	if err := decodeJSON(w, r, &cfg); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	caller := CallerFrom(r.Context())
	if err := s.deps.PutLevelOverride(r.Context(), caller, cfg); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.handleGetLevels(w, r)
}

type assignmentsRequest struct {
	Assignments []model.ApparatusAssignment `json:"assignments"`
}

func (s *Server) handlePutAssignments(w http.ResponseWriter, r *http.Request) {
	var req assignmentsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.Assignments == nil {
		s.writeServiceError(w, r, fmt.Errorf("%w: assignments is required", ErrBadRequest))
		return
	}
	judgeID := chi.URLParam(r, "judge")
	if err := s.deps.PutJudgeAssignments(r.Context(), CallerFrom(r.Context()), judgeID, req.Assignments); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Judge{ID: judgeID, InstitutionID: CallerFrom(r.Context()).InstitutionID, Assignments: req.Assignments})
}
