/*
Package progress tracks per-game gameplay counters and triggers achievement
evaluation after every update.

PURPOSE:
  This is the progress-update workflow that sits in front of the
  achievement engine. It owns the authoritative counters (races, licenses,
  cars, lap records), persists each gameplay event, then asks the engine
  to re-evaluate the player's achievements for that game.

KEY CONCEPTS IN THIS FILE (types.go):
  - GameProgress:   Per (user, game) totals: races, wins, hours, credits
  - UserLicense:    A license result (bronze/silver/gold)
  - UserCar:        A car in the player's garage
  - TrackRecord:    Best lap for (user, track, car, game)
  - OverallStats:   Totals across every game the user started

SEE ALSO:
  - tracker.go: the workflow
  - store.go:   persistence interface
  - achievement/engine.go: evaluation
*/
package progress

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
)

// =============================================================================
// GAME PROGRESS
// =============================================================================

// GameProgress holds a player's counters for one game.
type GameProgress struct {
	UserID               achievement.UserID
	GameID               achievement.GameID
	CompletionPercentage decimal.Decimal
	HoursPlayed          decimal.Decimal
	CreditsEarned        int64
	TotalRaces           int64
	RacesWon             int64
	StartedAt            time.Time
	LastPlayed           time.Time
}

// WinRate returns races won as a percentage of races entered.
func (p GameProgress) WinRate() decimal.Decimal {
	if p.TotalRaces == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(p.RacesWon).
		Div(decimal.NewFromInt(p.TotalRaces)).
		Mul(decimal100).
		Round(2)
}

var decimal100 = decimal.NewFromInt(100)

// ProgressUpdate overwrites the fields that are set. Nil fields keep their value.
type ProgressUpdate struct {
	CompletionPercentage *decimal.Decimal
	HoursPlayed          *decimal.Decimal
	CreditsEarned        *int64
	TotalRaces           *int64
	RacesWon             *int64
}

// RaceResult is one finished race. Counters are incremented, not overwritten.
type RaceResult struct {
	Won           bool
	HoursPlayed   decimal.Decimal
	CreditsEarned int64
}

// =============================================================================
// LICENSES
// =============================================================================

type LicenseStatus string

const (
	LicenseBronze LicenseStatus = "bronze"
	LicenseSilver LicenseStatus = "silver"
	LicenseGold   LicenseStatus = "gold"
)

func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseBronze, LicenseSilver, LicenseGold:
		return true
	}
	return false
}

// LicenseResult records the outcome of a license attempt.
type LicenseResult struct {
	LicenseID      int64
	Status         LicenseStatus
	TestsCompleted int64
	TotalTests     int64
	BestTime       *decimal.Decimal
}

// UserLicense is a stored license result. One per (user, license, game).
type UserLicense struct {
	UserID         achievement.UserID
	LicenseID      int64
	GameID         achievement.GameID
	Status         LicenseStatus
	TestsCompleted int64
	TotalTests     int64
	BestTime       *decimal.Decimal
	ObtainedAt     time.Time
}

// Completed reports whether every test of the license has been passed.
func (l UserLicense) Completed() bool {
	return l.TotalTests > 0 && l.TestsCompleted >= l.TotalTests
}

// =============================================================================
// CARS
// =============================================================================

// UserCar is a car in the player's garage. One per (user, car, game).
type UserCar struct {
	UserID     achievement.UserID
	CarID      int64
	GameID     achievement.GameID
	Mileage    decimal.Decimal
	TimesUsed  int64
	IsFavorite bool
	AcquiredAt time.Time
}

// =============================================================================
// TRACK RECORDS
// =============================================================================

// LapRecord is a lap submitted by the player.
type LapRecord struct {
	TrackID      int64
	CarID        int64
	LapTime      decimal.Decimal
	Sector1      *decimal.Decimal
	Sector2      *decimal.Decimal
	Sector3      *decimal.Decimal
	Weather      string
	TyreCompound string
	IsAssisted   bool
}

// TrackRecord is the best lap for (user, track, car, game).
type TrackRecord struct {
	UserID     achievement.UserID
	GameID     achievement.GameID
	Lap        LapRecord
	AchievedAt time.Time
}

// =============================================================================
// OVERALL STATS
// =============================================================================

// OverallStats totals a user's progress across every game. License, car
// and track totals include games that were never started.
type OverallStats struct {
	GamesStarted      int64
	TotalRaces        int64
	TotalWins         int64
	TotalHours        decimal.Decimal
	TotalCredits      int64
	AverageCompletion decimal.Decimal

	Licenses       LicenseTotals
	CarsCollected  int64
	TracksMastered int64
}

// LicenseTotals counts license results by status.
type LicenseTotals struct {
	Total  int64
	Gold   int64
	Silver int64
	Bronze int64
}

// Add counts one license with status s.
func (t *LicenseTotals) Add(s LicenseStatus) {
	t.Total++
	switch s {
	case LicenseGold:
		t.Gold++
	case LicenseSilver:
		t.Silver++
	case LicenseBronze:
		t.Bronze++
	}
}
