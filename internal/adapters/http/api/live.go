package api

import (
	"net/http"

	"github.com/TinchoF/gym-score-be/pkg/logger"
)

// handleLive upgrades to the live score channel. On upgrade failure the
// upgrader has already answered the request.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if err := s.live.Serve(w, r, CallerFrom(r.Context())); err != nil {
		s.logger.Warn(r.Context(), "live upgrade failed", logger.Error(err))
	}
}
