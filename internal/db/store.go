// Package db persists assessments, their runs, findings and events. The same
// SQL runs against Postgres (pgx) and SQLite (modernc); a backend supplies
// placeholders, row locking and constraint classification.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/vibecheck/internal/logging"
)

type Store struct {
	b backend
}

// Open connects to url. "sqlite://<path>" selects the embedded backend;
// anything else is handed to pgxpool.
func Open(ctx context.Context, url string) (*Store, error) {
	if path, ok := strings.CutPrefix(url, "sqlite://"); ok {
		if path == "" {
			return nil, fmt.Errorf("sqlite url %q has no path", url)
		}
		b, err := openSQLite(path)
		if err != nil {
			return nil, err
		}
		return &Store{b: b}, nil
	}
	b, err := openPostgres(ctx, url, logging.New("db"))
	if err != nil {
		return nil, err
	}
	return &Store{b: b}, nil
}

func (s *Store) Close() { s.b.close() }

func (s *Store) Ping(ctx context.Context) error { return s.b.ping(ctx) }

func (s *Store) EnsureSchema(ctx context.Context) error { return s.b.ensureSchema(ctx) }

// NewID returns prefix_ followed by 32 hex characters.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func now() time.Time { return time.Now().UTC() }

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nullableJSON encodes v, mapping nil pointers and empty maps to SQL NULL.
func nullableJSON(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	}
	s, err := toJSON(v)
	if err != nil {
		return nil, err
	}
	if s == "null" {
		return nil, nil
	}
	return s, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) classify(err error) error {
	if err != nil && s.b.isCheck(err) {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}
