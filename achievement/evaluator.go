/*
evaluator.go - The unlock algorithm

PURPOSE:
  Given a user's current StatSnapshot for one game, update that user's
  ledger entries and report which achievements were unlocked by this run.

ALGORITHM:
  1. Candidates = definitions whose entry for (user, game) is missing or
     not yet unlocked. Unlocked entries are skipped entirely.
  2. progress = Progress(def.RequirementType, snapshot)
  3. EnsureEntry(user, def, game)             (insert-or-no-op)
  4. RecordProgress(progress, progress >= threshold)   (one atomic write)
  5. Collect entries whose write flipped unlocked, in definition order.

FAILURE MODEL (fail-partial):
  Each definition is evaluated and written independently. The first
  storage error stops the run. Rows written before the failure stand,
  including unlocks. The caller receives no unlock list, only an
  *EvaluationError describing what was committed.

ORDER:
  Evaluation order has no effect on final ledger state. It only fixes the
  order of the returned list: ascending points, then ID.
*/
package achievement

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Evaluator is the only writer of the ledger.
type Evaluator struct {
	Definitions DefinitionStore
	Ledger      LedgerStore
	Now         func() time.Time
	Log         *zap.Logger
}

// NewEvaluator creates an evaluator using wall-clock time and a no-op logger.
func NewEvaluator(defs DefinitionStore, ledger LedgerStore) *Evaluator {
	return &Evaluator{
		Definitions: defs,
		Ledger:      ledger,
		Now:         func() time.Time { return time.Now().UTC() },
		Log:         zap.NewNop(),
	}
}

// Evaluate updates the user's ledger for gameID from snap and returns the
// entries unlocked by this call.
func (e *Evaluator) Evaluate(ctx context.Context, userID UserID, gameID GameID, snap StatSnapshot) ([]LedgerEntry, error) {
	candidates, err := e.candidates(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	var unlocked []LedgerEntry
	for _, def := range candidates {
		key := EntryKey{UserID: userID, AchievementID: def.ID, GameID: gameID}

		if err := e.evaluateOne(ctx, key, def, snap, &unlocked); err != nil {
			e.Log.Error("achievement evaluation stopped",
				zap.Int64("user_id", int64(userID)),
				zap.Int64("game_id", int64(gameID)),
				zap.Int64("achievement_id", int64(def.ID)),
				zap.Int("committed_unlocks", len(unlocked)),
				zap.Error(err))
			return nil, &EvaluationError{
				UserID:        userID,
				GameID:        gameID,
				AchievementID: def.ID,
				Committed:     unlocked,
				Err:           err,
			}
		}
	}
	return unlocked, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, key EntryKey, def Definition, snap StatSnapshot, unlocked *[]LedgerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	progress := Progress(def.RequirementType, snap)

	if err := e.Ledger.EnsureEntry(ctx, key); err != nil {
		return storageErr("ensure ledger entry", err)
	}

	entry, unlockedNow, err := e.Ledger.RecordProgress(ctx, ProgressWrite{
		Key:          key,
		Progress:     progress,
		ThresholdMet: def.ThresholdMet(progress),
		At:           e.Now(),
	})
	if err != nil {
		return storageErr("record ledger progress", err)
	}

	if unlockedNow {
		e.Log.Info("achievement unlocked",
			zap.Int64("user_id", int64(key.UserID)),
			zap.Int64("game_id", int64(key.GameID)),
			zap.Int64("achievement_id", int64(def.ID)),
			zap.String("achievement", def.Name),
			zap.Int64("points", def.Points),
			zap.String("progress", entry.Progress.String()))
		*unlocked = append(*unlocked, entry)
	}
	return nil
}

// candidates returns definitions without an unlocked entry for (user, game),
// sorted by ascending points, then ID.
func (e *Evaluator) candidates(ctx context.Context, userID UserID, gameID GameID) ([]Definition, error) {
	defs, err := e.Definitions.ListDefinitions(ctx)
	if err != nil {
		return nil, storageErr("list achievement definitions", err)
	}

	entries, err := e.Ledger.EntriesForGame(ctx, userID, gameID)
	if err != nil {
		return nil, storageErr("load ledger entries", err)
	}

	done := make(map[AchievementID]bool, len(entries))
	for _, entry := range entries {
		if entry.Unlocked {
			done[entry.AchievementID] = true
		}
	}

	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if !done[def.ID] {
			out = append(out, def)
		}
	}
	SortDefinitions(out)
	return out, nil
}

// SortDefinitions orders definitions canonically: ascending points, then ID.
func SortDefinitions(defs []Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Points != defs[j].Points {
			return defs[i].Points < defs[j].Points
		}
		return defs[i].ID < defs[j].ID
	})
}
