package achievement

import "context"

// Summarizer totals a user's ledger entries. Read-only.
type Summarizer struct {
	Definitions DefinitionStore
	Ledger      LedgerStore
}

// Summarize scans every ledger entry of the user across all games.
// TotalAchievements counts ledger rows, not definitions: achievements never
// evaluated for the user do not count. Entries whose definition no longer
// exists are counted but contribute no points.
func (s *Summarizer) Summarize(ctx context.Context, userID UserID) (Summary, error) {
	entries, err := s.Ledger.EntriesForUser(ctx, userID)
	if err != nil {
		return Summary{}, storageErr("load ledger entries", err)
	}
	if len(entries) == 0 {
		return Summary{}, nil
	}

	byID, err := indexDefinitions(ctx, s.Definitions)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, entry := range entries {
		sum.TotalAchievements++
		if entry.Unlocked {
			sum.UnlockedCount++
			sum.TotalPoints += byID[entry.AchievementID].Points
		}
	}
	return sum, nil
}
