package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
)

type createResultRequest struct {
	User      string          `json:"user"`
	Metric    string          `json:"metric"`
	Scores    []float64       `json:"scores"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type createResultResponse struct {
	ResultID result.ID `json:"result_id"`
}

type scoreResponse struct {
	ResultID result.ID `json:"result_id"`
	Category string    `json:"category"`
	scoring.Outcome
}

type scoresResponse struct {
	ResultID result.ID                  `json:"result_id"`
	Scores   map[string]scoring.Outcome `json:"scores"`
}

// handleCreateResult handles POST /results.
func (s *Server) handleCreateResult(w http.ResponseWriter, r *http.Request) {
	var req createResultRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			s.fail(w, r, badRequest("invalid timestamp; must be RFC3339"))
			return
		}
		ts = parsed
	}

	id, err := s.deps.CreateResult(r.Context(), req.User, result.Telemetry{
		Metric:    req.Metric,
		Scores:    req.Scores,
		Raw:       req.Raw,
		SessionID: req.SessionID,
	}, ts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/results/"+id.String())
	writeJSON(w, http.StatusCreated, createResultResponse{ResultID: id})
}

func (s *Server) resultID(w http.ResponseWriter, r *http.Request) (result.ID, bool) {
	id, err := result.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return result.ID{}, false
	}
	return id, true
}

// handleGetResult handles GET /results/{id}.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resultID(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Result(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAllScores handles GET /results/{id}/scores.
func (s *Server) handleAllScores(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resultID(w, r)
	if !ok {
		return
	}
	out, err := s.deps.ScoresForAllCategories(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoresResponse{ResultID: id, Scores: out})
}

// handleScore handles GET /results/{id}/scores/{category}. The ?band=
// parameter scores against an explicit band instead of the user's own.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resultID(w, r)
	if !ok {
		return
	}
	category := chi.URLParam(r, "category")

	var (
		out scoring.Outcome
		err error
	)
	if band := r.URL.Query().Get("band"); band != "" {
		out, err = s.deps.ScoreForPopulation(r.Context(), id, band, category)
	} else {
		out, err = s.deps.ScoreForPopulationCategory(r.Context(), id, category)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{ResultID: id, Category: category, Outcome: out})
}
