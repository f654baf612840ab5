// Package remote talks to the study server: install authorization, result
// upload and distribution updates.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/result"
)

// Errors returned by clients.
var (
	// ErrUnavailable means the request may succeed if retried later.
	ErrUnavailable = errors.New("remote unavailable")
	// ErrRejected means the server refused the request.
	ErrRejected = errors.New("remote rejected request")
	// ErrUnknownServer is returned by ForName.
	ErrUnknownServer = errors.New("unknown server")
)

// ServerInfo addresses one deployment of the study server.
type ServerInfo struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// Default returns the production server.
func Default() ServerInfo {
	return ServerInfo{Name: "default", BaseURL: "https://sync.baseline.okian.dev"}
}

// Staging returns the staging server.
func Staging() ServerInfo {
	return ServerInfo{Name: "staging", BaseURL: "https://staging.sync.baseline.okian.dev"}
}

// ForName resolves a configured server name. A non-empty baseURL overrides
// the built-in address.
func ForName(name, baseURL string) (ServerInfo, error) {
	var info ServerInfo
	switch name {
	case "", "default":
		info = Default()
	case "staging":
		info = Staging()
	default:
		return ServerInfo{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	if baseURL != "" {
		info.BaseURL = baseURL
	}
	return info, nil
}

// Ack is the server's response to an upload. Scores holds recomputed
// scores when the server produced them.
type Ack struct {
	Scores []float64 `json:"scores,omitempty"`
}

// Updates is one page of server-side changes after a cursor.
type Updates struct {
	Cursor  string
	Samples []population.Samples
	Scores  map[result.ID][]float64
}

// Client is the study server API.
type Client interface {
	// Authorize registers this installation and returns its identifier.
	Authorize(ctx context.Context, studyID string) (string, error)
	// Upload sends one result.
	Upload(ctx context.Context, studyID string, r result.Result) (Ack, error)
	// FetchUpdates returns changes after cursor. An empty cursor starts
	// from the beginning.
	FetchUpdates(ctx context.Context, studyID, cursor string) (Updates, error)
}
