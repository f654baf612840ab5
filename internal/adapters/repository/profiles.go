package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/okian/baseline/internal/domain/profile"
)

// CreateUser implements profile.Backend.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, created_at) VALUES (?, ?)`, name, s.now().UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %s", profile.ErrUserExists, name)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// SaveProperty implements profile.Backend. A null value deletes the key.
func (s *SQLiteStore) SaveProperty(ctx context.Context, name, key string, value profile.Value) error {
	if value.IsNull() {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM user_properties WHERE user_name = ? AND key = ?`, name, key)
		if err != nil {
			return fmt.Errorf("delete property: %w", err)
		}
		return nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode property: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_properties (user_name, key, value_json) VALUES (?, ?, ?)
		 ON CONFLICT(user_name, key) DO UPDATE SET value_json = excluded.value_json`,
		name, key, string(b))
	if err != nil {
		return fmt.Errorf("upsert property: %w", err)
	}
	return nil
}

// LoadUsers implements profile.Backend.
func (s *SQLiteStore) LoadUsers(ctx context.Context) (map[string]profile.Properties, error) {
	users := make(map[string]profile.Properties)

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM users`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[name] = profile.Properties{}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("load users: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT user_name, key, value_json FROM user_properties`)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name, key, raw string
		if err := rows.Scan(&name, &key, &raw); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		var v profile.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode property %s.%s: %w", name, key, err)
		}
		if props, ok := users[name]; ok {
			props[key] = v
		}
	}
	return users, rows.Err()
}
