package api

import (
	"net/http"

	"github.com/okian/baseline/internal/domain/catalog"
)

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleTests handles GET /tests with an optional ?idiom= filter.
func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	idiom := r.URL.Query().Get("idiom")
	switch catalog.Idiom(idiom) {
	case "":
		writeJSON(w, http.StatusOK, s.deps.Tests())
	case catalog.IdiomPhone, catalog.IdiomPad:
		writeJSON(w, http.StatusOK, s.deps.TestsFor(catalog.Idiom(idiom)))
	default:
		s.fail(w, r, badRequest("unknown idiom %q", idiom))
	}
}

type activityResponse struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, activityResponse{Paused: s.deps.IsBackgroundActivityPaused()})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.deps.PauseBackgroundActivity()
	writeJSON(w, http.StatusOK, activityResponse{Paused: s.deps.IsBackgroundActivityPaused()})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.deps.ResumeBackgroundActivity()
	writeJSON(w, http.StatusOK, activityResponse{Paused: s.deps.IsBackgroundActivityPaused()})
}
