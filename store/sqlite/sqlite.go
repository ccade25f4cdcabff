/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the engine and the progress
  workflow need, on one SQLite database accessed through sqlx.

INTERFACES IMPLEMENTED:
  achievement.DefinitionStore:  Catalog reads
  achievement.DefinitionWriter: Catalog seeding
  achievement.LedgerStore:      Per-user achievement ledger
  progress.Store:               Gameplay counters (and achievement.CounterSource)

ONE-WAY UNLOCK:
  The ledger never clears an unlock. RecordProgress flips unlocked with a
  single UPDATE guarded by "unlocked = 0", so of two concurrent writers
  exactly one sees RowsAffected == 1 and reports the unlock.

KEY TABLES:
  achievements:       Catalog definitions
  user_achievements:  Ledger, UNIQUE (user_id, achievement_id, game_id)
  user_game_progress: Per (user, game) counters
  user_licenses:      License results
  user_cars:          Garage
  track_records:      Best lap per (user, track, car, game)

ENCODING:
  Decimals are stored as TEXT (decimal.Decimal implements Scanner/Valuer).
  Times are stored as fixed-width UTC TEXT so ORDER BY sorts chronologically.

MIGRATION:
  Schema is versioned under migrations/ and applied on New() with
  golang-migrate from the embedded files.

USAGE:
  store, err := sqlite.New("./data/achievements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - achievement/store.go: Interface definitions
  - store/memory:         In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is fixed width so stored timestamps sort lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB

	// mu serializes read-modify-write sequences. SQLite allows one writer.
	mu sync.Mutex

	now func() time.Time
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := NewWithDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an open handle without running migrations.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	// m.Close would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

var (
	_ achievement.DefinitionStore  = (*Store)(nil)
	_ achievement.DefinitionWriter = (*Store)(nil)
	_ achievement.LedgerStore      = (*Store)(nil)
	_ progress.Store               = (*Store)(nil)
)
