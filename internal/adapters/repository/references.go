package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/pkg/logger"
)

// MetaRemoteCursor is the meta key of the last applied server update cursor.
const MetaRemoteCursor = "remote_cursor"

// RecordSamples stores one page of server pushed samples, keyed by the cursor
// it was fetched with, and advances the remote cursor to next in the same
// transaction. The metrics of the page are marked for recomputation until
// ClearRecompute. A page recorded before is not stored again and applied
// reports false.
func (s *SQLiteStore) RecordSamples(ctx context.Context, page string, batch []population.Samples, next string) (bool, error) {
	defer s.observe("record_samples", time.Now())

	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_pages (cursor, applied_at) VALUES (?, ?) ON CONFLICT(cursor) DO NOTHING`,
			page, s.now().UnixNano())
		if err != nil {
			return fmt.Errorf("record page %q: %w", page, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			applied = true
			for _, b := range batch {
				if len(b.Values) == 0 {
					continue
				}
				values, err := json.Marshal(b.Values)
				if err != nil {
					return fmt.Errorf("encode samples: %w", err)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO reference_samples (page, metric, category, band, values_json) VALUES (?, ?, ?, ?, ?)`,
					page, b.Metric, b.Category, b.Band, string(values)); err != nil {
					return fmt.Errorf("insert samples: %w", err)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO pending_recompute (metric) VALUES (?) ON CONFLICT(metric) DO NOTHING`,
					b.Metric); err != nil {
					return fmt.Errorf("mark recompute: %w", err)
				}
			}
		}
		if next == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, MetaRemoteCursor, next)
		return err
	})
	if err != nil {
		return false, err
	}
	if !applied {
		s.logger.Debug(ctx, "sample page already recorded", logger.String("page", page))
	}
	return applied, nil
}

// ReferenceSamples returns every recorded sample batch in arrival order.
func (s *SQLiteStore) ReferenceSamples(ctx context.Context) ([]population.Samples, error) {
	defer s.observe("reference_samples", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, category, band, values_json FROM reference_samples ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []population.Samples
	for rows.Next() {
		var (
			b      population.Samples
			values string
		)
		if err := rows.Scan(&b.Metric, &b.Category, &b.Band, &values); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(values), &b.Values); err != nil {
			return nil, fmt.Errorf("decode samples of %s/%s/%s: %w", b.Metric, b.Category, b.Band, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PendingRecompute lists metrics whose cached scores predate recorded samples.
func (s *SQLiteStore) PendingRecompute(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric FROM pending_recompute ORDER BY metric`)
	if err != nil {
		return nil, fmt.Errorf("select pending recompute: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearRecompute drops the recompute mark of metric.
func (s *SQLiteStore) ClearRecompute(ctx context.Context, metric string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_recompute WHERE metric = ?`, metric); err != nil {
		return fmt.Errorf("clear recompute of %s: %w", metric, err)
	}
	return nil
}
