package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/baseline/internal/domain/population"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "baseline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func telemetry(scores ...float64) result.Telemetry {
	return result.Telemetry{Metric: "flanker", Scores: scores, Raw: json.RawMessage(`{"trials":40}`), SessionID: "s-1"}
}

func TestSQLiteStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ts := time.Date(2024, 3, 9, 14, 30, 5, 123456789, time.UTC)
	tm := telemetry(5.5, 4, 7)
	id, err := s.CreateResult(ctx, "alice", tm, ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != id || got.User != "alice" {
		t.Errorf("unexpected identity: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp mismatch: got %v want %v", got.Timestamp, ts)
	}
	if got.Telemetry.Metric != tm.Metric || got.Telemetry.SessionID != tm.SessionID || string(got.Telemetry.Raw) != string(tm.Raw) {
		t.Errorf("telemetry mismatch: %+v", got.Telemetry)
	}
	if len(got.Telemetry.Scores) != 3 || got.Telemetry.Scores[0] != 5.5 || got.Telemetry.Scores[2] != 7 {
		t.Errorf("scores mismatch: %v", got.Telemetry.Scores)
	}
	if got.Synced || got.ServerScores != nil {
		t.Errorf("new result should be unsynced without server scores: %+v", got)
	}

	if _, err := s.Lookup(ctx, result.NewID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_CreateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.CreateResult(ctx, "", telemetry(1), time.Now()); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := s.CreateResult(ctx, "alice", telemetry(1, 2), time.Now()); !errors.Is(err, scoring.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	for _, ts := range []time.Time{
		time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(-2000, 0, 0),
		time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC).AddDate(1, 0, 0),
	} {
		if _, err := s.CreateResult(ctx, "alice", telemetry(1), ts); !errors.Is(err, scoring.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for %v, got %v", ts, err)
		}
	}
	if st, _ := s.Stats(ctx); st.Results != 0 {
		t.Errorf("nothing should be persisted, got %d results", st.Results)
	}
}

func TestSQLiteStore_TimestampRange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	plus9 := time.FixedZone("KST", 9*60*60)
	for _, ts := range []time.Time{
		time.Date(1500, 6, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2400, 1, 2, 3, 4, 5, 6, time.UTC),
		time.Date(2024, 3, 9, 23, 30, 0, 0, plus9),
	} {
		id, err := s.CreateResult(ctx, "alice", telemetry(1), ts)
		if err != nil {
			t.Fatalf("create at %v: %v", ts, err)
		}
		got, err := s.Lookup(ctx, id)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if !got.Timestamp.Equal(ts) {
			t.Errorf("timestamp mismatch: got %v want %v", got.Timestamp, ts)
		}
		_, want := ts.Zone()
		if _, off := got.Timestamp.Zone(); off != want {
			t.Errorf("offset lost: got %v want %v", got.Timestamp, ts)
		}
	}
}

func TestSQLiteStore_RecordSamples(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	page := []population.Samples{
		{Key: population.Key{Metric: "flanker", Category: "overall", Band: "everyone"}, Values: []float64{20, 30}},
		{Key: population.Key{Metric: "stroop", Category: "gender", Band: "male"}, Values: []float64{4}},
		{Key: population.Key{Metric: "flanker", Category: "gender", Band: "female"}},
	}
	applied, err := s.RecordSamples(ctx, "0", page, "1")
	if err != nil || !applied {
		t.Fatalf("first record: applied=%v err=%v", applied, err)
	}
	applied, err = s.RecordSamples(ctx, "0", page, "1")
	if err != nil || applied {
		t.Fatalf("repeated page must not be recorded again: applied=%v err=%v", applied, err)
	}

	got, err := s.ReferenceSamples(ctx)
	if err != nil {
		t.Fatalf("reference samples: %v", err)
	}
	if len(got) != 2 || got[0].Band != "everyone" || len(got[0].Values) != 2 || got[1].Metric != "stroop" {
		t.Errorf("unexpected samples: %+v", got)
	}
	if cursor, ok, _ := s.Meta(ctx, MetaRemoteCursor); !ok || cursor != "1" {
		t.Errorf("cursor not advanced: %q %v", cursor, ok)
	}

	pending, err := s.PendingRecompute(ctx)
	if err != nil || len(pending) != 2 || pending[0] != "flanker" || pending[1] != "stroop" {
		t.Fatalf("unexpected pending recompute: %v %v", pending, err)
	}
	if err := s.ClearRecompute(ctx, "flanker"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if pending, _ := s.PendingRecompute(ctx); len(pending) != 1 || pending[0] != "stroop" {
		t.Errorf("unexpected pending recompute after clear: %v", pending)
	}

	applied, err = s.RecordSamples(ctx, "1", page[:1], "")
	if err != nil || !applied {
		t.Fatalf("second page: applied=%v err=%v", applied, err)
	}
	if cursor, _, _ := s.Meta(ctx, MetaRemoteCursor); cursor != "1" {
		t.Errorf("an empty next cursor must leave the cursor, got %q", cursor)
	}
	if got, _ := s.ReferenceSamples(ctx); len(got) != 3 {
		t.Errorf("expected 3 batches, got %d", len(got))
	}
}

func TestSQLiteStore_OrderingAndSync(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var ids []result.ID
	for i := 0; i < 5; i++ {
		id, err := s.CreateResult(ctx, "alice", telemetry(float64(i)), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	other := result.Telemetry{Metric: "stroop", Scores: []float64{1}}
	bobID, err := s.CreateResult(ctx, "bob", other, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.AllResultIDs(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ids) {
		t.Fatalf("expected %d ids, got %d", len(ids), len(got))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], got[i])
		}
	}

	byMetric, _ := s.ResultIDsForMetric(ctx, "stroop")
	if len(byMetric) != 1 || byMetric[0] != bobID {
		t.Errorf("unexpected metric listing: %v", byMetric)
	}

	unsynced, _ := s.Unsynced(ctx, 2)
	if len(unsynced) != 2 || unsynced[0] != ids[0] {
		t.Errorf("unexpected unsynced page: %v", unsynced)
	}
	if err := s.MarkSynced(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSynced(ctx, result.NewID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	all, _ := s.Unsynced(ctx, 0)
	if len(all) != 5 {
		t.Errorf("expected 5 unsynced, got %d", len(all))
	}
}

func TestSQLiteStore_CachedScoresAndOutbox(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, _ := s.CreateResult(ctx, "alice", telemetry(5), time.Now())

	ok := scoring.Outcome{Reason: scoring.ReasonOK, Band: "everyone", Score: &scoring.PercentileScore{Percentile: 45}}
	unmatched := scoring.Outcome{Reason: scoring.ReasonUnmatched}

	// Reads populate the cache without publishing.
	changed, err := s.ReplaceCachedScores(ctx, id, map[string]scoring.Outcome{"overall": ok, "gender": unmatched}, false, "")
	if err != nil || !changed {
		t.Fatalf("expected first write to change cache, changed=%v err=%v", changed, err)
	}
	if ups, _ := s.UpdatesAfter(ctx, 0, 0); len(ups) != 0 {
		t.Fatalf("unpublished writes must not reach the outbox: %v", ups)
	}

	cached, err := s.CachedScores(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got := cached["overall"]; got.Score == nil || got.Score.Percentile != 45 || got.Band != "everyone" {
		t.Errorf("unexpected cached overall: %+v", got)
	}
	if got := cached["gender"]; got.Score != nil || got.Reason != scoring.ReasonUnmatched {
		t.Errorf("unexpected cached gender: %+v", got)
	}

	// Same outcome: no change, no row.
	changed, _ = s.ReplaceCachedScores(ctx, id, map[string]scoring.Outcome{"overall": ok}, true, CauseDistribution)
	if changed {
		t.Error("identical outcome must not count as a change")
	}

	// A real change publishes exactly one row even for several categories.
	moved := scoring.Outcome{Reason: scoring.ReasonOK, Band: "everyone", Score: &scoring.PercentileScore{Percentile: 40, HasErrorScores: true, WorstPercentile: 30, BestPercentile: 50}}
	changed, err = s.ReplaceCachedScores(ctx, id, map[string]scoring.Outcome{"overall": moved, "gender": ok}, true, CauseDistribution)
	if err != nil || !changed {
		t.Fatalf("expected change, changed=%v err=%v", changed, err)
	}
	ups, _ := s.UpdatesAfter(ctx, 0, 0)
	if len(ups) != 1 || ups[0].ResultID != id || ups[0].Cause != CauseDistribution {
		t.Fatalf("expected one outbox row for %s, got %+v", id, ups)
	}

	cached, _ = s.CachedScores(ctx, id)
	if got := cached["overall"]; got.Score == nil || *got.Score != *moved.Score {
		t.Errorf("error band not persisted: %+v", got)
	}

	if _, err := s.ReplaceCachedScores(ctx, result.NewID(), map[string]scoring.Outcome{"overall": ok}, true, CauseDistribution); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ApplyServerScores(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, _ := s.CreateResult(ctx, "alice", telemetry(5), time.Now())

	changed, err := s.ApplyServerScores(ctx, id, []float64{6}, nil)
	if err != nil || !changed {
		t.Fatalf("expected change, changed=%v err=%v", changed, err)
	}
	got, _ := s.Lookup(ctx, id)
	if !got.Synced || len(got.ServerScores) != 1 || got.EffectiveScores()[0] != 6 {
		t.Errorf("server scores not applied: %+v", got)
	}

	changed, _ = s.ApplyServerScores(ctx, id, []float64{6}, nil)
	if changed {
		t.Error("re-applying the same scores must not publish")
	}
	ups, _ := s.UpdatesAfter(ctx, 0, 10)
	if len(ups) != 1 || ups[0].Cause != CauseUpload {
		t.Errorf("expected one upload update, got %+v", ups)
	}

	if _, err := s.ApplyServerScores(ctx, result.NewID(), []float64{1}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_CursorMetaAndStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if seq, err := s.DeliveredCursor(ctx); err != nil || seq != 0 {
		t.Fatalf("expected zero cursor, got %d %v", seq, err)
	}
	if err := s.SetDeliveredCursor(ctx, 42); err != nil {
		t.Fatal(err)
	}
	if seq, _ := s.DeliveredCursor(ctx); seq != 42 {
		t.Errorf("expected 42, got %d", seq)
	}

	if _, ok, _ := s.InstallID(ctx); ok {
		t.Error("install id should be unset")
	}
	_ = s.SetInstallID(ctx, "install-1")
	_ = s.SetInstallID(ctx, "install-2")
	if v, ok, _ := s.InstallID(ctx); !ok || v != "install-2" {
		t.Errorf("unexpected install id %q", v)
	}

	_ = s.CreateUser(ctx, "alice")
	_, _ = s.CreateResult(ctx, "alice", telemetry(1), time.Now())
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Users != 1 || st.Results != 1 || st.Unsynced != 1 || st.DeliveredSeq != 42 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSQLiteStore_ProfileBackend(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.CreateUser(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, "alice"); !errors.Is(err, profile.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
	_ = s.CreateUser(ctx, "bob")

	langs, _ := profile.ValueOf([]string{"en", "de"})
	if err := s.SaveProperty(ctx, "alice", "gender", profile.String("female")); err != nil {
		t.Fatal(err)
	}
	_ = s.SaveProperty(ctx, "alice", "languages", langs)
	_ = s.SaveProperty(ctx, "alice", "gender", profile.String("male"))
	_ = s.SaveProperty(ctx, "bob", "tmp", profile.Bool(true))
	_ = s.SaveProperty(ctx, "bob", "tmp", profile.Null())

	users, err := s.LoadUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if v, ok := users["alice"].Get("gender"); !ok || !v.Equal(profile.String("male")) {
		t.Errorf("unexpected gender %+v", v)
	}
	if v, ok := users["alice"].Get("languages"); !ok || !v.Equal(langs) {
		t.Errorf("unexpected languages %+v", v)
	}
	if len(users["bob"]) != 0 {
		t.Errorf("null should clear bob's property: %+v", users["bob"])
	}

	// Properties of unknown users violate the foreign key.
	if err := s.SaveProperty(ctx, "carol", "k", profile.Bool(true)); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "baseline.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	id, _ := s.CreateResult(ctx, "alice", telemetry(3), time.Now())
	_ = s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	if _, err := s.Lookup(ctx, id); err != nil {
		t.Errorf("result lost across reopen: %v", err)
	}
}

func TestSQLiteStore_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := s.CreateResult(ctx, "alice", telemetry(float64(i)), time.Now()); err != nil {
					t.Errorf("create: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	ids, _ := s.AllResultIDs(ctx, "alice")
	seen := make(map[result.ID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(ids) != 100 {
		t.Errorf("expected 100 results, got %d", len(ids))
	}
}
