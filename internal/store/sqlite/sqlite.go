package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/afkbot/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS auth_state (
	profile    TEXT PRIMARY KEY,
	registered BOOLEAN NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.AuthStore for SQLite. One row per profile.
type SQLiteStore struct {
	db      *sql.DB
	profile string
}

// New opens (or creates) the database at dbPath and applies the schema.
// profile keys the record, normally the primary identity.
func New(dbPath, profile string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, profile, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath, profile string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, profile: profile}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the record for the store's profile.
func (s *SQLiteStore) Load(ctx context.Context) (store.AuthRecord, error) {
	query := `
		SELECT registered, updated_at
		FROM auth_state
		WHERE profile = ?
	`
	var (
		rec       store.AuthRecord
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, s.profile).Scan(&rec.Registered, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.AuthRecord{}, nil
		}
		return store.AuthRecord{}, fmt.Errorf("query auth state: %w", err)
	}
	rec.UpdatedAt = &updatedAt
	return rec, nil
}

// Save upserts the record. A stored registered=true is never downgraded.
func (s *SQLiteStore) Save(ctx context.Context, rec store.AuthRecord) error {
	query := `
		INSERT INTO auth_state (profile, registered, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			registered = MAX(auth_state.registered, excluded.registered),
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	if rec.UpdatedAt != nil {
		now = rec.UpdatedAt.UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, s.profile, rec.Registered, now); err != nil {
		return fmt.Errorf("upsert auth state: %w", err)
	}
	return nil
}
