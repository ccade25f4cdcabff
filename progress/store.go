package progress

import (
	"context"
	"errors"

	"github.com/gtcompanion/achievement-engine/achievement"
)

var (
	// ErrNotStarted is returned when updating a game the user never started.
	ErrNotStarted = errors.New("game not started")

	// ErrInvalidInput is returned when a gameplay event carries impossible values.
	ErrInvalidInput = errors.New("invalid gameplay input")
)

// Store persists gameplay counters. The same store exposes the read side to
// the achievement engine through achievement.CounterSource.
type Store interface {
	achievement.CounterSource

	// StartGame creates the progress row if absent and returns it.
	StartGame(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (GameProgress, error)

	// GetProgress returns nil when the game was never started.
	GetProgress(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (*GameProgress, error)

	// ListProgress returns every game the user started, most recently played first.
	ListProgress(ctx context.Context, userID achievement.UserID) ([]GameProgress, error)

	// UpdateProgress overwrites the set fields. Returns ErrNotStarted if no row exists.
	UpdateProgress(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, upd ProgressUpdate) (GameProgress, error)

	// RecordRace increments race counters, starting the game if needed.
	RecordRace(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, race RaceResult) (GameProgress, error)

	// SaveLicense upserts the result for (user, license, game).
	SaveLicense(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, res LicenseResult) (UserLicense, error)

	// AddCar adds the car to the garage. added is false if it was already there.
	AddCar(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, carID int64) (added bool, err error)

	// RecordLap stores the lap if it beats the stored best, and returns the best.
	RecordLap(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, lap LapRecord) (TrackRecord, error)

	// OverallStats totals progress, licenses, cars and distinct tracks across every game.
	OverallStats(ctx context.Context, userID achievement.UserID) (OverallStats, error)
}
