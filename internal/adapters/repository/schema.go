package repository

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS users (
  name TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_properties (
  user_name TEXT NOT NULL REFERENCES users(name) ON DELETE CASCADE,
  key TEXT NOT NULL,
  value_json TEXT NOT NULL,
  PRIMARY KEY (user_name, key)
);

CREATE TABLE IF NOT EXISTS results (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,     -- creation order
  id TEXT NOT NULL UNIQUE,
  user_name TEXT NOT NULL,
  metric TEXT NOT NULL,
  scores_json TEXT NOT NULL,
  raw_json TEXT NOT NULL DEFAULT '',
  session_id TEXT NOT NULL DEFAULT '',
  ts TEXT NOT NULL,                          -- RFC 3339 with offset
  server_scores_json TEXT NOT NULL DEFAULT '',
  synced INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS results_user ON results(user_name, seq);
CREATE INDEX IF NOT EXISTS results_metric ON results(metric, seq);
CREATE INDEX IF NOT EXISTS results_unsynced ON results(synced, seq);

CREATE TABLE IF NOT EXISTS cached_scores (
  result_id TEXT NOT NULL REFERENCES results(id) ON DELETE CASCADE,
  category TEXT NOT NULL,
  reason TEXT NOT NULL,
  band TEXT NOT NULL DEFAULT '',
  percentile REAL,
  has_error INTEGER NOT NULL DEFAULT 0,
  worst REAL,
  best REAL,
  PRIMARY KEY (result_id, category)
);

CREATE TABLE IF NOT EXISTS result_updates (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  result_id TEXT NOT NULL,
  cause TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

-- reference samples pushed by the server, replayed on open
CREATE TABLE IF NOT EXISTS reference_samples (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  page TEXT NOT NULL REFERENCES applied_pages(cursor),
  metric TEXT NOT NULL,
  category TEXT NOT NULL,
  band TEXT NOT NULL,
  values_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS applied_pages (
  cursor TEXT PRIMARY KEY,
  applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_recompute (
  metric TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`
