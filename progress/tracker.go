/*
tracker.go - Gameplay event workflow

REQUEST FLOW (every gameplay event):
  1. Validate the event
  2. Persist the counter change (progress, license, car, lap)
  3. Ask the engine to recompute the snapshot and evaluate achievements
  4. Join newly unlocked entries with their definitions
  5. Push them to the player's realtime subscribers
  6. Return the stored value plus the unlocked achievements

EVALUATION FAILURES:
  The counter write in step 2 has already succeeded. If step 3 fails the
  event is still reported as recorded, with no unlocked achievements, and
  the failure is logged. Unlocks committed before the failure stay in the
  ledger and surface on the next successful evaluation's listing.
*/
package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
)

// Unlocker evaluates achievements after a counter change.
type Unlocker interface {
	Refresh(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) ([]achievement.LedgerEntry, error)
	Describe(ctx context.Context, entries []achievement.LedgerEntry) ([]achievement.UserAchievement, error)
}

// Notifier receives newly unlocked achievements.
type Notifier interface {
	NotifyUnlocked(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, unlocked []achievement.UserAchievement)
}

// Tracker records gameplay events and triggers achievement evaluation.
type Tracker struct {
	Store    Store
	Unlocker Unlocker
	Notifier Notifier
	Log      *zap.Logger
}

// NewTracker creates a tracker. notifier and log may be nil.
func NewTracker(store Store, unlocker Unlocker, notifier Notifier, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{Store: store, Unlocker: unlocker, Notifier: notifier, Log: log}
}

// =============================================================================
// GAMEPLAY EVENTS
// =============================================================================

// StartGame begins tracking a game. No evaluation runs: every counter is zero.
func (t *Tracker) StartGame(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (GameProgress, error) {
	return t.Store.StartGame(ctx, userID, gameID)
}

// UpdateProgress overwrites progress counters and evaluates achievements.
func (t *Tracker) UpdateProgress(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, upd ProgressUpdate) (GameProgress, []achievement.UserAchievement, error) {
	if err := validateUpdate(upd); err != nil {
		return GameProgress{}, nil, err
	}
	p, err := t.Store.UpdateProgress(ctx, userID, gameID, upd)
	if err != nil {
		return GameProgress{}, nil, err
	}
	return p, t.evaluate(ctx, userID, gameID, "progress_update"), nil
}

// RecordRace increments race counters and evaluates achievements.
func (t *Tracker) RecordRace(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, race RaceResult) (GameProgress, []achievement.UserAchievement, error) {
	if race.HoursPlayed.IsNegative() || race.CreditsEarned < 0 {
		return GameProgress{}, nil, fmt.Errorf("%w: hours and credits must not be negative", ErrInvalidInput)
	}
	p, err := t.Store.RecordRace(ctx, userID, gameID, race)
	if err != nil {
		return GameProgress{}, nil, err
	}
	return p, t.evaluate(ctx, userID, gameID, "race"), nil
}

// RecordLicense stores a license result and evaluates achievements.
func (t *Tracker) RecordLicense(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, res LicenseResult) (UserLicense, []achievement.UserAchievement, error) {
	if !res.Status.Valid() {
		return UserLicense{}, nil, fmt.Errorf("%w: unknown license status %q", ErrInvalidInput, res.Status)
	}
	if res.TestsCompleted < 0 || res.TotalTests < 0 || (res.TotalTests > 0 && res.TestsCompleted > res.TotalTests) {
		return UserLicense{}, nil, fmt.Errorf("%w: tests completed must be between 0 and total tests", ErrInvalidInput)
	}
	l, err := t.Store.SaveLicense(ctx, userID, gameID, res)
	if err != nil {
		return UserLicense{}, nil, err
	}
	return l, t.evaluate(ctx, userID, gameID, "license"), nil
}

// AddCar adds a car to the garage and evaluates achievements.
func (t *Tracker) AddCar(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, carID int64) (bool, []achievement.UserAchievement, error) {
	added, err := t.Store.AddCar(ctx, userID, gameID, carID)
	if err != nil {
		return false, nil, err
	}
	return added, t.evaluate(ctx, userID, gameID, "car"), nil
}

// RecordLap stores a lap if it is a new best and evaluates achievements.
func (t *Tracker) RecordLap(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, lap LapRecord) (TrackRecord, []achievement.UserAchievement, error) {
	if !lap.LapTime.IsPositive() {
		return TrackRecord{}, nil, fmt.Errorf("%w: lap time must be positive", ErrInvalidInput)
	}
	rec, err := t.Store.RecordLap(ctx, userID, gameID, lap)
	if err != nil {
		return TrackRecord{}, nil, err
	}
	return rec, t.evaluate(ctx, userID, gameID, "track_record"), nil
}

// =============================================================================
// READS
// =============================================================================

// GetProgress returns nil when the game was never started.
func (t *Tracker) GetProgress(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (*GameProgress, error) {
	return t.Store.GetProgress(ctx, userID, gameID)
}

func (t *Tracker) ListProgress(ctx context.Context, userID achievement.UserID) ([]GameProgress, error) {
	return t.Store.ListProgress(ctx, userID)
}

func (t *Tracker) OverallStats(ctx context.Context, userID achievement.UserID) (OverallStats, error) {
	return t.Store.OverallStats(ctx, userID)
}

// =============================================================================
// EVALUATION
// =============================================================================

// evaluate runs the engine and returns the unlocked achievements, or nil if
// evaluation failed.
func (t *Tracker) evaluate(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, trigger string) []achievement.UserAchievement {
	log := t.Log.With(
		zap.Int64("user_id", int64(userID)),
		zap.Int64("game_id", int64(gameID)),
		zap.String("trigger", trigger))

	entries, err := t.Unlocker.Refresh(ctx, userID, gameID)
	if err != nil {
		log.Error("achievement evaluation failed", zap.Error(err))
		return nil
	}
	if len(entries) == 0 {
		return nil
	}

	unlocked, err := t.Unlocker.Describe(ctx, entries)
	if err != nil {
		log.Warn("describe unlocked achievements", zap.Error(err))
		unlocked = make([]achievement.UserAchievement, len(entries))
		for i, e := range entries {
			unlocked[i] = achievement.UserAchievement{Entry: e, Definition: achievement.Definition{ID: e.AchievementID}}
		}
	}

	log.Info("achievements unlocked", zap.Int("count", len(unlocked)))
	if t.Notifier != nil {
		t.Notifier.NotifyUnlocked(ctx, userID, gameID, unlocked)
	}
	return unlocked
}

func validateUpdate(upd ProgressUpdate) error {
	if c := upd.CompletionPercentage; c != nil && (c.IsNegative() || c.GreaterThan(decimal100)) {
		return fmt.Errorf("%w: completion percentage must be between 0 and 100", ErrInvalidInput)
	}
	if h := upd.HoursPlayed; h != nil && h.IsNegative() {
		return fmt.Errorf("%w: hours played must not be negative", ErrInvalidInput)
	}
	for _, v := range []*int64{upd.CreditsEarned, upd.TotalRaces, upd.RacesWon} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: counters must not be negative", ErrInvalidInput)
		}
	}
	if upd.TotalRaces != nil && upd.RacesWon != nil && *upd.RacesWon > *upd.TotalRaces {
		return fmt.Errorf("%w: races won exceeds total races", ErrInvalidInput)
	}
	return nil
}
