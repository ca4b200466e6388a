// Package store persists per-session routing state in SQLite.
//
// Two tables: session escalation state (last resolved tier, keyed by the
// conversation's session id) and a classification cache keyed by a hash of
// the classified text. Both are TTL-bounded; a background sweeper evicts
// expired rows.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	// SQLite driver (required for database/sql registration).
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed session store.
type Store struct {
	db          *sql.DB
	sessionTTL  time.Duration
	classifyTTL time.Duration
	stop        chan struct{}
}

// Options bound how long state is kept.
type Options struct {
	SessionTTL      time.Duration
	ClassifyTTL     time.Duration
	CleanupInterval time.Duration
}

// Open opens (creating if needed) the store at the given path and starts
// the cleanup sweeper.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	s := &Store{
		db:          db,
		sessionTTL:  opts.SessionTTL,
		classifyTTL: opts.ClassifyTTL,
		stop:        make(chan struct{}),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go s.sweep(interval)

	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		last_tier  INTEGER NOT NULL,
		updated_at INTEGER NOT NULL -- unix nanos
	);

	CREATE TABLE IF NOT EXISTS classify_cache (
		text_hash  TEXT PRIMARY KEY,
		intent     TEXT NOT NULL,
		created_at INTEGER NOT NULL -- unix nanos
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}
	return nil
}

// LastTier returns the session's last resolved tier, or 1 when the session
// is unknown.
func (s *Store) LastTier(ctx context.Context, session string) (int, error) {
	var tier int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_tier FROM sessions WHERE session_id = ?`, session).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 1, fmt.Errorf("read last tier: %w", err)
	}
	return tier, nil
}

// SetLastTier upserts the session's last resolved tier.
func (s *Store) SetLastTier(ctx context.Context, session string, tier int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, last_tier, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET last_tier = excluded.last_tier, updated_at = excluded.updated_at`,
		session, tier, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("write last tier: %w", err)
	}
	return nil
}

// CachedIntent looks up a previous classification of the same text.
func (s *Store) CachedIntent(ctx context.Context, text string) (string, bool) {
	var intent string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT intent, created_at FROM classify_cache WHERE text_hash = ?`,
		textHash(text)).Scan(&intent, &createdAt)
	if err != nil {
		return "", false
	}
	if s.classifyTTL > 0 && time.Since(time.Unix(0, createdAt)) > s.classifyTTL {
		return "", false
	}
	return intent, true
}

// SetCachedIntent records a classification result.
func (s *Store) SetCachedIntent(ctx context.Context, text, intent string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classify_cache (text_hash, intent, created_at) VALUES (?, ?, ?)
		ON CONFLICT(text_hash) DO UPDATE SET intent = excluded.intent, created_at = excluded.created_at`,
		textHash(text), intent, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("write classify cache: %w", err)
	}
	return nil
}

// Close stops the sweeper and closes the database.
func (s *Store) Close() error {
	close(s.stop)
	return s.db.Close()
}

func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	now := time.Now()
	if s.sessionTTL > 0 {
		cutoff := now.Add(-s.sessionTTL).UnixNano()
		if _, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff); err != nil {
			log.Warn().Err(err).Msg("store: session cleanup failed")
		}
	}
	if s.classifyTTL > 0 {
		cutoff := now.Add(-s.classifyTTL).UnixNano()
		if _, err := s.db.Exec(`DELETE FROM classify_cache WHERE created_at < ?`, cutoff); err != nil {
			log.Warn().Err(err).Msg("store: classify cache cleanup failed")
		}
	}
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
