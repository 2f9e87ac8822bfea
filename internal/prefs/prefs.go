// Package prefs persists small device-local settings in a sqlite file.
package prefs

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Keys read at startup and written on change.
const (
	KeyPhone     = "phone"
	KeyCountry   = "country"
	KeyTheme     = "theme"
	KeyLanguage  = "language"
	KeyOnboarded = "onboarding_completed"
)

// Store is a key-value table.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the prefs database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	// sqlite serializes writers; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS prefs (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate prefs: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value of key. The boolean is false when it was never set.
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.Get(&value, `SELECT value FROM prefs WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts key.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	return err
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM prefs WHERE key = ?`, key)
	return err
}

// All returns every stored pair.
func (s *Store) All() (map[string]string, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}
	if err := s.db.Select(&rows, `SELECT key, value FROM prefs ORDER BY key`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Onboarded reports whether onboarding was completed on this device.
func (s *Store) Onboarded() (bool, error) {
	v, ok, err := s.Get(KeyOnboarded)
	if err != nil || !ok {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (s *Store) SetOnboarded(done bool) error {
	return s.Set(KeyOnboarded, strconv.FormatBool(done))
}
