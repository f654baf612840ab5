// Package repository persists results, user profiles, cached scores and the
// result update outbox.
package repository

import (
	"context"
	"time"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
)

// Update is one committed outbox row: the cached score data of ResultID
// changed. Seq is strictly increasing in commit order.
type Update struct {
	Seq       int64
	ResultID  result.ID
	Cause     string
	CreatedAt time.Time
}

// Stats summarizes stored data.
type Stats struct {
	Users          int   `json:"users"`
	Results        int   `json:"results"`
	Unsynced       int   `json:"unsynced"`
	LastUpdateSeq  int64 `json:"last_update_seq"`
	DeliveredSeq   int64 `json:"delivered_seq"`
	PendingUpdates int64 `json:"pending_updates"`
}

// Store provides durable access to results and their derived data.
type Store interface {
	profile.Backend

	// CreateResult persists telemetry under a fresh identifier.
	CreateResult(ctx context.Context, user string, t result.Telemetry, ts time.Time) (result.ID, error)
	// Lookup returns ErrNotFound for unknown identifiers.
	Lookup(ctx context.Context, id result.ID) (result.Result, error)
	// AllResultIDs lists a user's results in creation order.
	AllResultIDs(ctx context.Context, user string) ([]result.ID, error)
	// ResultIDsForMetric lists results of one metric in creation order.
	ResultIDsForMetric(ctx context.Context, metric string) ([]result.ID, error)

	// Unsynced lists up to limit results not yet acknowledged by the server.
	Unsynced(ctx context.Context, limit int) ([]result.ID, error)
	// MarkSynced records a server acknowledgement without new scores.
	MarkSynced(ctx context.Context, id result.ID) error
	// ApplyServerScores records server recomputed scores together with the
	// cached outcomes derived from them, in one transaction.
	ApplyServerScores(ctx context.Context, id result.ID, scores []float64, outcomes map[string]scoring.Outcome) (bool, error)

	// CachedScores returns the last computed outcome per category.
	CachedScores(ctx context.Context, id result.ID) (map[string]scoring.Outcome, error)
	// ReplaceCachedScores upserts outcomes; when publish is set and any
	// outcome changed an outbox row is written in the same transaction.
	ReplaceCachedScores(ctx context.Context, id result.ID, outcomes map[string]scoring.Outcome, publish bool, cause string) (bool, error)

	// UpdatesAfter returns outbox rows with Seq > after in Seq order.
	UpdatesAfter(ctx context.Context, after int64, limit int) ([]Update, error)
	DeliveredCursor(ctx context.Context) (int64, error)
	SetDeliveredCursor(ctx context.Context, seq int64) error

	// RecordSamples stores a page of pushed reference samples and advances
	// the remote cursor in one transaction; a page is recorded at most once.
	RecordSamples(ctx context.Context, page string, batch []population.Samples, next string) (bool, error)
	// ReferenceSamples returns every recorded sample batch in arrival order.
	ReferenceSamples(ctx context.Context) ([]population.Samples, error)
	PendingRecompute(ctx context.Context) ([]string, error)
	ClearRecompute(ctx context.Context, metric string) error

	// InstallID returns the identifier issued by the server, if any.
	InstallID(ctx context.Context) (string, bool, error)
	SetInstallID(ctx context.Context, id string) error

	Meta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
