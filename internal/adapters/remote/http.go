package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/pkg/logger"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 4 << 10
	contentTypeJSON = "application/json"
)

// HTTPClient implements Client with JSON over HTTP.
type HTTPClient struct {
	server ServerInfo
	client *http.Client
	logger logger.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTPClient creates a client for server.
func NewHTTPClient(server ServerInfo, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		server: server,
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Server returns the address the client talks to.
func (h *HTTPClient) Server() ServerInfo { return h.server }

type authorizeResponse struct {
	InstallID string `json:"install_id"`
}

type uploadRequest struct {
	ID        result.ID       `json:"id"`
	User      string          `json:"user"`
	Metric    string          `json:"metric"`
	Scores    []float64       `json:"scores"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type wireSamples struct {
	Metric   string    `json:"metric"`
	Category string    `json:"category"`
	Band     string    `json:"band"`
	Values   []float64 `json:"values"`
}

type updatesResponse struct {
	Cursor  string               `json:"cursor"`
	Samples []wireSamples        `json:"samples"`
	Scores  map[string][]float64 `json:"scores"`
}

// Authorize registers this installation.
func (h *HTTPClient) Authorize(ctx context.Context, studyID string) (string, error) {
	var resp authorizeResponse
	if err := h.do(ctx, http.MethodPost, h.studyPath(studyID, "installs"), nil, &resp); err != nil {
		return "", err
	}
	if resp.InstallID == "" {
		return "", fmt.Errorf("%w: empty install id", ErrRejected)
	}
	return resp.InstallID, nil
}

// Upload sends one result.
func (h *HTTPClient) Upload(ctx context.Context, studyID string, r result.Result) (Ack, error) {
	body := uploadRequest{
		ID:        r.ID,
		User:      r.User,
		Metric:    r.Telemetry.Metric,
		Scores:    r.Telemetry.Scores,
		Raw:       r.Telemetry.Raw,
		SessionID: r.Telemetry.SessionID,
		Timestamp: r.Timestamp,
	}
	var ack Ack
	if err := h.do(ctx, http.MethodPost, h.studyPath(studyID, "results"), body, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// FetchUpdates returns changes after cursor.
func (h *HTTPClient) FetchUpdates(ctx context.Context, studyID, cursor string) (Updates, error) {
	path := h.studyPath(studyID, "updates")
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var resp updatesResponse
	if err := h.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Updates{}, err
	}

	out := Updates{Cursor: resp.Cursor}
	for _, s := range resp.Samples {
		out.Samples = append(out.Samples, population.Samples{
			Key:    population.Key{Metric: s.Metric, Category: s.Category, Band: s.Band},
			Values: s.Values,
		})
	}
	if len(resp.Scores) > 0 {
		out.Scores = make(map[result.ID][]float64, len(resp.Scores))
		for raw, scores := range resp.Scores {
			id, err := result.ParseID(raw)
			if err != nil {
				h.logger.Warn(ctx, "skipping scores for malformed result id", logger.String("result_id", raw))
				continue
			}
			out.Scores[id] = scores
		}
	}
	return out, nil
}

func (h *HTTPClient) studyPath(studyID, resource string) string {
	return "/v1/studies/" + url.PathEscape(studyID) + "/" + resource
}

func (h *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.server.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if in != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRejected, method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("%w: decode %s %s: %v", ErrUnavailable, method, path, err)
	}
	return nil
}
