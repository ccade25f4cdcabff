/*
store.go - Persistence and counter interfaces

PURPOSE:
  Defines the boundary between the unlock engine and everything it reads
  or writes. The engine never sees how rows are stored; store/memory,
  store/sqlite and store/redis implement these interfaces.

KEY INTERFACES:
  DefinitionStore:  Read-only achievement definitions (the rule store)
  LedgerStore:      Per (user, achievement, game) progress rows
  *Counters:        Live gameplay counters owned by other subsystems

LEDGER WRITE CONTRACT:
  EnsureEntry():     insert-or-no-op. Two concurrent calls for the same key
                     produce exactly one row. Enforced by the store, never by
                     application locks.
  RecordProgress():  one atomic write. Progress is always overwritten. When
                     thresholdMet is true and the row is not yet unlocked,
                     the same write sets unlocked and unlocked_at. A row that
                     is already unlocked keeps its unlocked_at.
  NO Delete() exists. Ledger rows are never removed.

SEE ALSO:
  - evaluator.go: the only writer of the ledger
  - aggregator.go: the only reader of the counters
*/
package achievement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE STORE
// =============================================================================

// DefinitionStore lists achievement definitions.
type DefinitionStore interface {
	// ListDefinitions returns every definition ordered by ascending points, then ID.
	ListDefinitions(ctx context.Context) ([]Definition, error)
}

// DefinitionWriter seeds definitions at setup time. Existing rows are never modified.
type DefinitionWriter interface {
	SeedDefinitions(ctx context.Context, defs []Definition) (inserted int, err error)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// ProgressWrite is a single ledger row update.
type ProgressWrite struct {
	Key          EntryKey
	Progress     decimal.Decimal
	ThresholdMet bool
	At           time.Time
}

// LedgerStore persists ledger entries.
type LedgerStore interface {
	// EntriesForGame returns the user's entries for one game.
	EntriesForGame(ctx context.Context, userID UserID, gameID GameID) ([]LedgerEntry, error)

	// EntriesForUser returns the user's entries across all games.
	EntriesForUser(ctx context.Context, userID UserID) ([]LedgerEntry, error)

	// EnsureEntry creates the entry with progress 0 if it does not exist.
	EnsureEntry(ctx context.Context, key EntryKey) error

	// RecordProgress applies w atomically and returns the resulting entry.
	// unlockedNow is true only when this write moved the entry to unlocked.
	RecordProgress(ctx context.Context, w ProgressWrite) (entry LedgerEntry, unlockedNow bool, err error)
}

// =============================================================================
// COUNTERS - owned by other subsystems, read-only here
// =============================================================================

// GameCounters are the progress tracker's counters for one (user, game).
type GameCounters struct {
	RacesWon             int64
	CompletionPercentage decimal.Decimal
}

// LicenseCounts are the license tracker's counters for one (user, game).
type LicenseCounts struct {
	Obtained int64
	Gold     int64
}

type ProgressCounters interface {
	GameCounters(ctx context.Context, userID UserID, gameID GameID) (GameCounters, error)
}

type LicenseCounters interface {
	LicenseCounts(ctx context.Context, userID UserID, gameID GameID) (LicenseCounts, error)
}

type CarCounters interface {
	CarsCollected(ctx context.Context, userID UserID, gameID GameID) (int64, error)
}

type TrackCounters interface {
	TracksMastered(ctx context.Context, userID UserID, gameID GameID) (int64, error)
}

// CounterSource bundles all four counter readers, as implemented by a single store.
type CounterSource interface {
	ProgressCounters
	LicenseCounters
	CarCounters
	TrackCounters
}
