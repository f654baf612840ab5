package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
	"github.com/okian/baseline/pkg/metrics"
)

// Outbox causes.
const (
	CauseUpload       = "upload"
	CauseDistribution = "distribution"
)

// CachedScores implements Store.
func (s *SQLiteStore) CachedScores(ctx context.Context, id result.ID) (map[string]scoring.Outcome, error) {
	defer s.observe("cached_scores", time.Now())
	out, err := cachedScores(ctx, s.db, id)
	if err != nil {
		return nil, fmt.Errorf("cached scores of %s: %w", id, err)
	}
	return out, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func cachedScores(ctx context.Context, q queryer, id result.ID) (map[string]scoring.Outcome, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT category, reason, band, percentile, has_error, worst, best
		 FROM cached_scores WHERE result_id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]scoring.Outcome)
	for rows.Next() {
		var (
			category, reason, band  string
			percentile, worst, best sql.NullFloat64
			hasError                int
		)
		if err := rows.Scan(&category, &reason, &band, &percentile, &hasError, &worst, &best); err != nil {
			return nil, err
		}
		o := scoring.Outcome{Reason: scoring.Reason(reason), Band: band}
		if percentile.Valid {
			ps := scoring.PercentileScore{Percentile: percentile.Float64}
			if hasError != 0 {
				ps.HasErrorScores = true
				ps.WorstPercentile = worst.Float64
				ps.BestPercentile = best.Float64
			}
			o.Score = &ps
		}
		out[category] = o
	}
	return out, rows.Err()
}

func sameOutcome(a, b scoring.Outcome) bool {
	if a.Reason != b.Reason || a.Band != b.Band || (a.Score == nil) != (b.Score == nil) {
		return false
	}
	return a.Score == nil || *a.Score == *b.Score
}

// upsertOutcomes writes outcomes and reports whether any differed from the
// cached row.
func upsertOutcomes(ctx context.Context, tx *sql.Tx, id result.ID, outcomes map[string]scoring.Outcome) (bool, error) {
	current, err := cachedScores(ctx, tx, id)
	if err != nil {
		return false, err
	}
	changed := false
	for category, o := range outcomes {
		if prev, ok := current[category]; ok && sameOutcome(prev, o) {
			continue
		}
		changed = true

		var percentile, worst, best sql.NullFloat64
		hasError := 0
		if o.Score != nil {
			percentile = sql.NullFloat64{Float64: o.Score.Percentile, Valid: true}
			if o.Score.HasErrorScores {
				hasError = 1
				worst = sql.NullFloat64{Float64: o.Score.WorstPercentile, Valid: true}
				best = sql.NullFloat64{Float64: o.Score.BestPercentile, Valid: true}
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cached_scores (result_id, category, reason, band, percentile, has_error, worst, best)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(result_id, category) DO UPDATE SET
			   reason = excluded.reason, band = excluded.band, percentile = excluded.percentile,
			   has_error = excluded.has_error, worst = excluded.worst, best = excluded.best`,
			id.String(), category, string(o.Reason), o.Band, percentile, hasError, worst, best)
		if err != nil {
			return false, err
		}
	}
	return changed, nil
}

func (s *SQLiteStore) appendUpdate(ctx context.Context, tx *sql.Tx, id result.ID, cause string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO result_updates (result_id, cause, created_at) VALUES (?, ?, ?)`,
		id.String(), cause, s.now().UnixNano())
	return err
}

func resultExists(ctx context.Context, tx *sql.Tx, id result.ID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM results WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// ReplaceCachedScores implements Store.
func (s *SQLiteStore) ReplaceCachedScores(ctx context.Context, id result.ID, outcomes map[string]scoring.Outcome, publish bool, cause string) (bool, error) {
	defer s.observe("replace_cached_scores", time.Now())
	if len(outcomes) == 0 {
		return false, nil
	}

	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := resultExists(ctx, tx, id); err != nil {
			return err
		}
		var err error
		if changed, err = upsertOutcomes(ctx, tx, id, outcomes); err != nil {
			return fmt.Errorf("upsert cached scores: %w", err)
		}
		if changed && publish {
			return s.appendUpdate(ctx, tx, id, cause)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed && publish {
		metrics.RecordUpdatePublished()
	}
	return changed, nil
}

// ApplyServerScores implements Store. The result is marked synced; an outbox
// row is written when the server scores or any cached outcome changed.
func (s *SQLiteStore) ApplyServerScores(ctx context.Context, id result.ID, scores []float64, outcomes map[string]scoring.Outcome) (bool, error) {
	defer s.observe("apply_server_scores", time.Now())

	encoded, err := encodeScores(scores)
	if err != nil {
		return false, fmt.Errorf("encode server scores: %w", err)
	}

	var changed bool
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx, `SELECT server_scores_json FROM results WHERE id = ?`, id.String()).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		prevScores, err := decodeScores(prev)
		if err != nil {
			return fmt.Errorf("decode server scores: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE results SET server_scores_json = ?, synced = 1 WHERE id = ?`, encoded, id.String()); err != nil {
			return err
		}
		changed = !slices.Equal(prevScores, scores)

		cacheChanged, err := upsertOutcomes(ctx, tx, id, outcomes)
		if err != nil {
			return fmt.Errorf("upsert cached scores: %w", err)
		}
		changed = changed || cacheChanged
		if changed {
			return s.appendUpdate(ctx, tx, id, CauseUpload)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		metrics.RecordUpdatePublished()
	}
	return changed, nil
}

// UpdatesAfter implements Store.
func (s *SQLiteStore) UpdatesAfter(ctx context.Context, after int64, limit int) ([]Update, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, result_id, cause, created_at FROM result_updates
		 WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Update
	for rows.Next() {
		var (
			u       Update
			raw     string
			created int64
		)
		if err := rows.Scan(&u.Seq, &raw, &u.Cause, &created); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		if u.ResultID, err = result.ParseID(raw); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeliveredCursor implements Store.
func (s *SQLiteStore) DeliveredCursor(ctx context.Context) (int64, error) {
	v, ok, err := s.Meta(ctx, metaDeliveredSeq)
	if err != nil || !ok {
		return 0, err
	}
	var seq int64
	if _, err := fmt.Sscan(v, &seq); err != nil {
		return 0, fmt.Errorf("parse delivered cursor %q: %w", v, err)
	}
	return seq, nil
}

// SetDeliveredCursor implements Store.
func (s *SQLiteStore) SetDeliveredCursor(ctx context.Context, seq int64) error {
	return s.SetMeta(ctx, metaDeliveredSeq, fmt.Sprint(seq))
}
