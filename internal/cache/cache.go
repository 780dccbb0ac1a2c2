// Package cache stores the last generated portfolio analysis per user.
package cache

import (
	"context"
	"database/sql"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"portfolio_link/internal/database"
)

// AnalysisCache is a keyed store of analysis text by user ID.
type AnalysisCache interface {
	Get(ctx context.Context, userID string) (string, bool, error)
	Put(ctx context.Context, userID, text string) error
}

// SQLite persists analysis text in the analysis_cache table.
type SQLite struct {
	db *database.DB
}

// NewSQLite creates a SQLite-backed cache.
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

// Get returns the stored text for a user.
func (s *SQLite) Get(ctx context.Context, userID string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM analysis_cache WHERE user_id = ?`, userID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// Put stores text for a user, replacing any previous value.
func (s *SQLite) Put(ctx context.Context, userID, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_cache (user_id, content, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at
	`, userID, text, time.Now())
	return err
}

// Memory keeps analysis text in process with expiry.
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates an in-memory cache whose entries expire after ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{items: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached text for a user.
func (m *Memory) Get(_ context.Context, userID string) (string, bool, error) {
	v, ok := m.items.Get(userID)
	if !ok {
		return "", false, nil
	}
	text, ok := v.(string)
	return text, ok, nil
}

// Put caches text for a user.
func (m *Memory) Put(_ context.Context, userID, text string) error {
	m.items.Set(userID, text, gocache.DefaultExpiration)
	return nil
}

// Layered reads through a fast cache in front of a durable one and writes to both.
type Layered struct {
	front AnalysisCache
	back  AnalysisCache
}

// NewLayered stacks front over back.
func NewLayered(front, back AnalysisCache) *Layered {
	return &Layered{front: front, back: back}
}

// Get checks front, then back, warming front on a back hit.
func (l *Layered) Get(ctx context.Context, userID string) (string, bool, error) {
	if text, ok, err := l.front.Get(ctx, userID); err == nil && ok {
		return text, true, nil
	}
	text, ok, err := l.back.Get(ctx, userID)
	if err != nil || !ok {
		return "", false, err
	}
	_ = l.front.Put(ctx, userID, text)
	return text, true, nil
}

// Put writes back first so front never holds text the durable store lacks.
func (l *Layered) Put(ctx context.Context, userID, text string) error {
	if err := l.back.Put(ctx, userID, text); err != nil {
		return err
	}
	return l.front.Put(ctx, userID, text)
}
