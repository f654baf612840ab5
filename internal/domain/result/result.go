// Package result contains the test result model shared by the repository,
// the sync pipeline and the study context.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/baseline/internal/domain/scoring"
)

// ErrInvalidID marks a string that is not a result identifier.
var ErrInvalidID = errors.New("invalid result id")

// ID is the opaque identifier minted when a test session completes.
// It is a value type; two IDs are equal when their bytes are equal.
type ID struct {
	u uuid.UUID
}

// NewID mints a fresh random identifier.
func NewID() ID {
	return ID{u: uuid.New()}
}

// ParseID parses the canonical string form.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{u: u}, nil
}

// IsZero reports whether id was never assigned.
func (id ID) IsZero() bool { return id.u == uuid.Nil }

// String returns the canonical string form.
func (id ID) String() string { return id.u.String() }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.u.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Telemetry is the raw output of a completed test session.
// Scores follows the [score] or [score, worstScore, bestScore] convention.
type Telemetry struct {
	Metric    string          `json:"metric"`
	Scores    []float64       `json:"scores"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Validate fails fast on telemetry that could never be scored.
func (t Telemetry) Validate() error {
	if strings.TrimSpace(t.Metric) == "" {
		return fmt.Errorf("%w: telemetry metric is empty", scoring.ErrInvalidArgument)
	}
	if err := scoring.ValidateScores(t.Scores); err != nil {
		return err
	}
	if len(t.Raw) > 0 && !json.Valid(t.Raw) {
		return fmt.Errorf("%w: raw telemetry is not valid JSON", scoring.ErrInvalidArgument)
	}
	return nil
}

// ValidateTimestamp rejects completion times that cannot be stored or sent
// as RFC 3339 text: years before 0000 or after 9999.
func ValidateTimestamp(ts time.Time) error {
	if y := ts.Year(); y < 0 || y > 9999 {
		return fmt.Errorf("%w: timestamp year %d out of range", scoring.ErrInvalidArgument, y)
	}
	return nil
}

// Result associates telemetry with its user and completion time.
// Percentiles are derived on demand and not stored here, except for scores
// the server recomputed, which replace the local scores array.
type Result struct {
	ID           ID        `json:"id"`
	User         string    `json:"user"`
	Timestamp    time.Time `json:"timestamp"`
	Telemetry    Telemetry `json:"telemetry"`
	ServerScores []float64 `json:"server_scores,omitempty"`
	Synced       bool      `json:"synced"`
}

// EffectiveScores returns the scores used for ranking: the server's
// recomputation when present, else the telemetry's own.
func (r Result) EffectiveScores() []float64 {
	if len(r.ServerScores) > 0 {
		return r.ServerScores
	}
	return r.Telemetry.Scores
}
