package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // driver: sqlite

	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

const (
	metaDeliveredSeq = "delivered_seq"
	metaInstallID    = "app_install_id"
)

// SQLiteStore implements Store on an embedded SQLite database.
//
// The pool is limited to one connection so writers are serialized and
// outbox sequence numbers follow commit order.
type SQLiteStore struct {
	db          *sql.DB
	logger      logger.Logger
	now         func() time.Time
	busyTimeout time.Duration
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		logger:      logger.Discard(),
		now:         time.Now,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	s.db = db
	s.logger.Info(ctx, "result repository opened", logger.String("path", path))
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// withTx runs fn inside a transaction, committing when fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func encodeScores(scores []float64) (string, error) {
	if len(scores) == 0 {
		return "", nil
	}
	b, err := json.Marshal(scores)
	return string(b), err
}

func decodeScores(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var out []float64
	err := json.Unmarshal([]byte(s), &out)
	return out, err
}

// CreateResult implements Store.
func (s *SQLiteStore) CreateResult(ctx context.Context, user string, t result.Telemetry, ts time.Time) (result.ID, error) {
	defer s.observe("create_result", time.Now())

	if strings.TrimSpace(user) == "" {
		return result.ID{}, ErrInvalidUser
	}
	if err := t.Validate(); err != nil {
		return result.ID{}, err
	}
	if err := result.ValidateTimestamp(ts); err != nil {
		return result.ID{}, err
	}
	scores, err := encodeScores(t.Scores)
	if err != nil {
		return result.ID{}, fmt.Errorf("encode scores: %w", err)
	}

	id := result.NewID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (id, user_name, metric, scores_json, raw_json, session_id, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(), user, t.Metric, scores, string(t.Raw), t.SessionID, ts.Format(time.RFC3339Nano))
	if err != nil {
		metrics.RecordErrorByComponent("repository", "create_result")
		return result.ID{}, fmt.Errorf("insert result: %w", err)
	}
	metrics.RecordResultCreated()
	return id, nil
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(ctx context.Context, id result.ID) (result.Result, error) {
	defer s.observe("lookup", time.Now())

	var (
		r                   result.Result
		scores, raw, server string
		ts                  string
		synced              int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_name, metric, scores_json, raw_json, session_id, ts, server_scores_json, synced
		 FROM results WHERE id = ?`, id.String()).
		Scan(&r.User, &r.Telemetry.Metric, &scores, &raw, &r.Telemetry.SessionID, &ts, &server, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return result.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return result.Result{}, fmt.Errorf("select result: %w", err)
	}

	r.ID = id
	if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return result.Result{}, fmt.Errorf("decode timestamp: %w", err)
	}
	r.Synced = synced != 0
	if raw != "" {
		r.Telemetry.Raw = json.RawMessage(raw)
	}
	if r.Telemetry.Scores, err = decodeScores(scores); err != nil {
		return result.Result{}, fmt.Errorf("decode scores: %w", err)
	}
	if r.ServerScores, err = decodeScores(server); err != nil {
		return result.Result{}, fmt.Errorf("decode server scores: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]result.ID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []result.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := result.ParseID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllResultIDs implements Store.
func (s *SQLiteStore) AllResultIDs(ctx context.Context, user string) ([]result.ID, error) {
	defer s.observe("all_result_ids", time.Now())
	ids, err := s.queryIDs(ctx, `SELECT id FROM results WHERE user_name = ? ORDER BY seq`, user)
	if err != nil {
		return nil, fmt.Errorf("list results of %s: %w", user, err)
	}
	return ids, nil
}

// ResultIDsForMetric implements Store.
func (s *SQLiteStore) ResultIDsForMetric(ctx context.Context, metric string) ([]result.ID, error) {
	ids, err := s.queryIDs(ctx, `SELECT id FROM results WHERE metric = ? ORDER BY seq`, metric)
	if err != nil {
		return nil, fmt.Errorf("list results of metric %s: %w", metric, err)
	}
	return ids, nil
}

// Unsynced implements Store.
func (s *SQLiteStore) Unsynced(ctx context.Context, limit int) ([]result.ID, error) {
	if limit <= 0 {
		limit = -1
	}
	ids, err := s.queryIDs(ctx, `SELECT id FROM results WHERE synced = 0 ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced results: %w", err)
	}
	return ids, nil
}

// MarkSynced implements Store.
func (s *SQLiteStore) MarkSynced(ctx context.Context, id result.ID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE results SET synced = 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Meta implements Store.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, true, nil
}

// SetMeta implements Store.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// InstallID returns the app install id assigned by the server, if any.
func (s *SQLiteStore) InstallID(ctx context.Context) (string, bool, error) {
	return s.Meta(ctx, metaInstallID)
}

// SetInstallID stores the app install id.
func (s *SQLiteStore) SetInstallID(ctx context.Context, id string) error {
	return s.SetMeta(ctx, metaInstallID, id)
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM users),
		  (SELECT COUNT(*) FROM results),
		  (SELECT COUNT(*) FROM results WHERE synced = 0),
		  (SELECT COALESCE(MAX(seq), 0) FROM result_updates)`).
		Scan(&st.Users, &st.Results, &st.Unsynced, &st.LastUpdateSeq)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if st.DeliveredSeq, err = s.DeliveredCursor(ctx); err != nil {
		return Stats{}, err
	}
	st.PendingUpdates = st.LastUpdateSeq - st.DeliveredSeq
	metrics.UpdateUnsyncedResults(st.Unsynced)
	return st, nil
}
