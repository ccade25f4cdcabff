/*
Package achievement provides the achievement unlock engine.

PURPOSE:
  Every time a player's gameplay counters change (a race is won, a license
  is passed, a car is collected, a lap record is set) the engine recomputes
  progress toward each achievement definition and unlocks the ones whose
  threshold has been crossed. The unlock is a one-way transition: once a
  ledger entry is unlocked it stays unlocked.

KEY CONCEPTS IN THIS FILE (types.go):
  - Definition:    Static achievement rule (requirement type + threshold)
  - LedgerEntry:   Per (user, achievement, game) progress and unlock state
  - StatSnapshot:  Point-in-time bundle of a player's counters for one game
  - Summary:       Totals across all of a user's ledger entries

DESIGN PRINCIPLES:
  1. One-way unlock: unlocked never reverts, unlocked_at is written once
  2. Precision: progress and thresholds use decimal.Decimal so completion
     percentages such as 87.5 compare exactly
  3. Type safety: distinct ID types for users, games and achievements
  4. Read-only inputs: counters arrive through read interfaces only

SEE ALSO:
  - requirement.go: requirement type -> snapshot field table
  - evaluator.go:   the unlock algorithm
  - store.go:       persistence interfaces
*/
package achievement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64

type GameID int64

type AchievementID int64

// EntryKey uniquely identifies a ledger entry.
type EntryKey struct {
	UserID        UserID
	AchievementID AchievementID
	GameID        GameID
}

// =============================================================================
// DEFINITIONS - admin-managed, immutable during gameplay
// =============================================================================

// Rarity is a cosmetic classification. It plays no part in unlock logic.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Valid reports whether r is one of the known rarities.
func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// Definition is a static achievement rule.
type Definition struct {
	ID               AchievementID
	Name             string
	Description      string
	Category         string
	Points           int64
	IconURL          string
	RequirementType  RequirementType
	RequirementValue decimal.Decimal
	Rarity           Rarity
	CreatedAt        time.Time
}

// ThresholdMet reports whether progress satisfies the definition.
// Equality unlocks.
func (d Definition) ThresholdMet(progress decimal.Decimal) bool {
	return progress.GreaterThanOrEqual(d.RequirementValue)
}

// =============================================================================
// LEDGER ENTRY - per (user, achievement, game) state
// =============================================================================

// LedgerEntry holds progress and unlock state for one EntryKey.
//
// States:
//   - NotStarted: no row
//   - InProgress: row exists, Unlocked == false
//   - Unlocked:   Unlocked == true (terminal)
type LedgerEntry struct {
	ID            string
	UserID        UserID
	AchievementID AchievementID
	GameID        GameID
	Progress      decimal.Decimal
	Unlocked      bool
	UnlockedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// =============================================================================
// SNAPSHOT - computed at evaluation time, never stored
// =============================================================================

// StatSnapshot is a read-only bundle of a player's counters for one game.
type StatSnapshot struct {
	RacesWon             int64
	LicensesObtained     int64
	GoldLicenses         int64
	CarsCollected        int64
	TrackRecords         int64
	CompletionPercentage decimal.Decimal
}

// =============================================================================
// READ MODELS
// =============================================================================

// UserAchievement is a ledger entry joined with its definition.
type UserAchievement struct {
	Entry      LedgerEntry
	Definition Definition
}

var hundred = decimal.NewFromInt(100)

// ProgressPercentage returns progress toward the threshold, capped at 100.
func (ua UserAchievement) ProgressPercentage() decimal.Decimal {
	if ua.Entry.Unlocked || !ua.Definition.RequirementValue.IsPositive() {
		return hundred
	}
	if !ua.Entry.Progress.IsPositive() {
		return decimal.Zero
	}
	pct := ua.Entry.Progress.Div(ua.Definition.RequirementValue).Mul(hundred)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct.Round(2)
}

// Summary aggregates a user's ledger entries across all games.
type Summary struct {
	TotalAchievements int64
	UnlockedCount     int64
	TotalPoints       int64
}
