package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
)

// =============================================================================
// DEFINITIONS
// =============================================================================

type definitionRow struct {
	ID               int64           `db:"id"`
	Name             string          `db:"name"`
	Description      string          `db:"description"`
	Category         string          `db:"category"`
	Points           int64           `db:"points"`
	IconURL          sql.NullString  `db:"icon_url"`
	RequirementType  string          `db:"requirement_type"`
	RequirementValue decimal.Decimal `db:"requirement_value"`
	Rarity           string          `db:"rarity"`
	CreatedAt        string          `db:"created_at"`
}

func (r definitionRow) toDefinition() achievement.Definition {
	return achievement.Definition{
		ID:               achievement.AchievementID(r.ID),
		Name:             r.Name,
		Description:      r.Description,
		Category:         r.Category,
		Points:           r.Points,
		IconURL:          r.IconURL.String,
		RequirementType:  achievement.RequirementType(r.RequirementType),
		RequirementValue: r.RequirementValue,
		Rarity:           achievement.Rarity(r.Rarity),
		CreatedAt:        parseTime(r.CreatedAt),
	}
}

// ListDefinitions returns the catalog ordered by points, then ID.
func (s *Store) ListDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	var rows []definitionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, description, category, points, icon_url,
		       requirement_type, requirement_value, rarity, created_at
		FROM achievements
		ORDER BY points ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}

	defs := make([]achievement.Definition, len(rows))
	for i, r := range rows {
		defs[i] = r.toDefinition()
	}
	return defs, nil
}

// SeedDefinitions inserts definitions whose ID is not present yet, in one transaction.
func (s *Store) SeedDefinitions(ctx context.Context, defs []achievement.Definition) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, d := range defs {
			createdAt := d.CreatedAt
			if createdAt.IsZero() {
				createdAt = s.now()
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO achievements
				(id, name, description, category, points, icon_url,
				 requirement_type, requirement_value, rarity, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO NOTHING`,
				int64(d.ID), d.Name, d.Description, d.Category, d.Points, nullString(d.IconURL),
				string(d.RequirementType), d.RequirementValue.String(), string(d.Rarity), formatTime(createdAt),
			)
			if err != nil {
				return fmt.Errorf("failed to seed achievement %d: %w", d.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to seed achievement %d: %w", d.ID, err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// =============================================================================
// LEDGER
// =============================================================================

const ledgerColumns = `id, user_id, achievement_id, game_id, progress, unlocked, unlocked_at, created_at, updated_at`

type ledgerRow struct {
	ID            string          `db:"id"`
	UserID        int64           `db:"user_id"`
	AchievementID int64           `db:"achievement_id"`
	GameID        int64           `db:"game_id"`
	Progress      decimal.Decimal `db:"progress"`
	Unlocked      bool            `db:"unlocked"`
	UnlockedAt    sql.NullString  `db:"unlocked_at"`
	CreatedAt     string          `db:"created_at"`
	UpdatedAt     string          `db:"updated_at"`
}

func (r ledgerRow) toEntry() achievement.LedgerEntry {
	e := achievement.LedgerEntry{
		ID:            r.ID,
		UserID:        achievement.UserID(r.UserID),
		AchievementID: achievement.AchievementID(r.AchievementID),
		GameID:        achievement.GameID(r.GameID),
		Progress:      r.Progress,
		Unlocked:      r.Unlocked,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.UnlockedAt.Valid {
		at := parseTime(r.UnlockedAt.String)
		e.UnlockedAt = &at
	}
	return e
}

func (s *Store) EntriesForGame(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) ([]achievement.LedgerEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+ledgerColumns+` FROM user_achievements
		WHERE user_id = ? AND game_id = ?
		ORDER BY game_id, achievement_id`, int64(userID), int64(gameID))
}

func (s *Store) EntriesForUser(ctx context.Context, userID achievement.UserID) ([]achievement.LedgerEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+ledgerColumns+` FROM user_achievements
		WHERE user_id = ?
		ORDER BY game_id, achievement_id`, int64(userID))
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]achievement.LedgerEntry, error) {
	var rows []ledgerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	entries := make([]achievement.LedgerEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toEntry()
	}
	return entries, nil
}

// EnsureEntry creates the row with zero progress. The UNIQUE key makes a
// concurrent second insert a no-op.
func (s *Store) EnsureEntry(ctx context.Context, key achievement.EntryKey) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_achievements
		(id, user_id, achievement_id, game_id, progress, unlocked, created_at, updated_at)
		VALUES (?, ?, ?, ?, '0', 0, ?, ?)
		ON CONFLICT(user_id, achievement_id, game_id) DO NOTHING`,
		uuid.NewString(), int64(key.UserID), int64(key.AchievementID), int64(key.GameID), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure ledger entry: %w", err)
	}
	return nil
}

// RecordProgress overwrites progress and, when the threshold is met, flips
// the unlock flag with a conditional UPDATE.
func (s *Store) RecordProgress(ctx context.Context, w achievement.ProgressWrite) (achievement.LedgerEntry, bool, error) {
	at := formatTime(w.At)
	args := []any{int64(w.Key.UserID), int64(w.Key.AchievementID), int64(w.Key.GameID)}

	unlockedNow := false
	if w.ThresholdMet {
		res, err := s.db.ExecContext(ctx, `
			UPDATE user_achievements
			SET progress = ?, unlocked = 1, unlocked_at = ?, updated_at = ?
			WHERE user_id = ? AND achievement_id = ? AND game_id = ? AND unlocked = 0`,
			append([]any{w.Progress.String(), at, at}, args...)...,
		)
		if err != nil {
			return achievement.LedgerEntry{}, false, fmt.Errorf("failed to unlock achievement: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return achievement.LedgerEntry{}, false, fmt.Errorf("failed to unlock achievement: %w", err)
		}
		unlockedNow = n == 1
	}

	if !unlockedNow {
		res, err := s.db.ExecContext(ctx, `
			UPDATE user_achievements
			SET progress = ?, updated_at = ?
			WHERE user_id = ? AND achievement_id = ? AND game_id = ?`,
			append([]any{w.Progress.String(), at}, args...)...,
		)
		if err != nil {
			return achievement.LedgerEntry{}, false, fmt.Errorf("failed to record progress: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return achievement.LedgerEntry{}, false, fmt.Errorf("failed to record progress: %w", err)
		}
		if n == 0 {
			return achievement.LedgerEntry{}, false, achievement.ErrEntryNotFound
		}
	}

	var row ledgerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+ledgerColumns+` FROM user_achievements
		WHERE user_id = ? AND achievement_id = ? AND game_id = ?`, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return achievement.LedgerEntry{}, false, achievement.ErrEntryNotFound
	}
	if err != nil {
		return achievement.LedgerEntry{}, false, fmt.Errorf("failed to load ledger entry: %w", err)
	}
	return row.toEntry(), unlockedNow, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
