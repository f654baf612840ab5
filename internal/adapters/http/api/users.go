package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
)

type createUserRequest struct {
	Name string `json:"name"`
}

type userResponse struct {
	Name       string             `json:"name"`
	Properties profile.Properties `json:"properties"`
}

// handleCreateUser handles POST /users.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.deps.NewUser(r.Context(), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{Name: u.Name, Properties: profile.Properties{}})
}

// handleGetUser handles GET /users/{name}.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	props, err := s.deps.UserProperties(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Name: name, Properties: props})
}

// handleSetProperty handles PUT /users/{name}/properties/{key}. The body is
// any JSON value; null clears the property.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.SetUserProperty(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "key"), raw); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resultIDsResponse struct {
	User    string      `json:"user"`
	Results []result.ID `json:"results"`
}

// handleUserResults handles GET /users/{name}/results.
func (s *Server) handleUserResults(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	ids, err := s.deps.AllResultIDs(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []result.ID{}
	}
	writeJSON(w, http.StatusOK, resultIDsResponse{User: name, Results: ids})
}
