/*
errors.go - Error types for the achievement engine

ERROR CATEGORIES:
  1. Storage errors - reads or writes against definitions, ledger or counters
  2. Evaluation errors - a run stopped part way through (fail-partial)
  3. Lookup errors - progress recorded against a ledger entry that was never created

USAGE:
  unlocked, err := engine.CheckAndUnlock(ctx, user, game, snap)
  if errors.Is(err, achievement.ErrStorage) {
      // treat as "nothing unlocked this run"
  }
*/
package achievement

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStorage is returned when a definition, ledger or counter read/write fails.
	ErrStorage = errors.New("achievement storage failure")

	// ErrEntryNotFound is returned when progress is recorded for a ledger entry that was never created.
	ErrEntryNotFound = errors.New("ledger entry not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// storageErr wraps err unless it already carries ErrStorage.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StorageError{Op: op, Err: err}
}

// EvaluationError reports a run that stopped before every candidate was evaluated.
// Committed holds the entries unlocked before the failure; they stay unlocked.
type EvaluationError struct {
	UserID        UserID
	GameID        GameID
	AchievementID AchievementID
	Committed     []LedgerEntry
	Err           error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate achievements for user %d game %d: stopped at achievement %d after %d unlocks: %v",
		e.UserID, e.GameID, e.AchievementID, len(e.Committed), e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsStorage returns true if the error came from the storage layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsNotFound returns true if the error indicates a missing ledger entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}
