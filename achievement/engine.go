package achievement

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Engine wires the rule store, ledger, aggregator, evaluator and summarizer
// behind the operations the rest of the system calls.
type Engine struct {
	Definitions DefinitionStore
	Ledger      LedgerStore
	Aggregator  *Aggregator
	Evaluator   *Evaluator
	Summarizer  *Summarizer
}

// NewEngine creates an engine. log may be nil.
func NewEngine(defs DefinitionStore, ledger LedgerStore, counters CounterSource, log *zap.Logger) *Engine {
	if defs == nil || ledger == nil || counters == nil {
		panic("NewEngine requires non-nil definitions, ledger and counters")
	}
	if log == nil {
		log = zap.NewNop()
	}
	ev := NewEvaluator(defs, ledger)
	ev.Log = log.Named("evaluator")
	return &Engine{
		Definitions: defs,
		Ledger:      ledger,
		Aggregator:  NewAggregator(counters),
		Evaluator:   ev,
		Summarizer:  &Summarizer{Definitions: defs, Ledger: ledger},
	}
}

// ListDefinitions returns all definitions in canonical order.
func (e *Engine) ListDefinitions(ctx context.Context) ([]Definition, error) {
	defs, err := e.Definitions.ListDefinitions(ctx)
	if err != nil {
		return nil, storageErr("list achievement definitions", err)
	}
	SortDefinitions(defs)
	return defs, nil
}

// CheckAndUnlock evaluates snap for (userID, gameID) and returns the newly unlocked entries.
func (e *Engine) CheckAndUnlock(ctx context.Context, userID UserID, gameID GameID, snap StatSnapshot) ([]LedgerEntry, error) {
	return e.Evaluator.Evaluate(ctx, userID, gameID, snap)
}

// Refresh computes a fresh snapshot and evaluates it.
func (e *Engine) Refresh(ctx context.Context, userID UserID, gameID GameID) ([]LedgerEntry, error) {
	snap, err := e.Aggregator.ComputeSnapshot(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}
	return e.CheckAndUnlock(ctx, userID, gameID, snap)
}

// Summarize returns the user's achievement totals.
func (e *Engine) Summarize(ctx context.Context, userID UserID) (Summary, error) {
	return e.Summarizer.Summarize(ctx, userID)
}

// Describe joins entries with their definitions, keeping the entries' order.
// Entries whose definition is missing carry only the achievement ID.
func (e *Engine) Describe(ctx context.Context, entries []LedgerEntry) ([]UserAchievement, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	byID, err := indexDefinitions(ctx, e.Definitions)
	if err != nil {
		return nil, err
	}

	out := make([]UserAchievement, len(entries))
	for i, entry := range entries {
		def, ok := byID[entry.AchievementID]
		if !ok {
			// Freshly unlocked entries are reported even if their definition
			// was removed mid-run.
			def = Definition{ID: entry.AchievementID}
		}
		out[i] = UserAchievement{Entry: entry, Definition: def}
	}
	return out, nil
}

// UserAchievements returns the user's ledger entries joined with their
// definitions, unlocked first, then by descending points. A nil gameID
// returns entries for every game.
func (e *Engine) UserAchievements(ctx context.Context, userID UserID, gameID *GameID) ([]UserAchievement, error) {
	var (
		entries []LedgerEntry
		err     error
	)
	if gameID != nil {
		entries, err = e.Ledger.EntriesForGame(ctx, userID, *gameID)
	} else {
		entries, err = e.Ledger.EntriesForUser(ctx, userID)
	}
	if err != nil {
		return nil, storageErr("load ledger entries", err)
	}

	byID, err := indexDefinitions(ctx, e.Definitions)
	if err != nil {
		return nil, err
	}

	out := make([]UserAchievement, 0, len(entries))
	for _, entry := range entries {
		def, ok := byID[entry.AchievementID]
		if !ok {
			// Listings hide entries whose definition no longer exists.
			continue
		}
		out = append(out, UserAchievement{Entry: entry, Definition: def})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Entry.Unlocked != b.Entry.Unlocked {
			return a.Entry.Unlocked
		}
		if a.Definition.Points != b.Definition.Points {
			return a.Definition.Points > b.Definition.Points
		}
		if a.Entry.GameID != b.Entry.GameID {
			return a.Entry.GameID < b.Entry.GameID
		}
		return a.Definition.ID < b.Definition.ID
	})
	return out, nil
}

// indexDefinitions loads every definition keyed by ID.
func indexDefinitions(ctx context.Context, store DefinitionStore) (map[AchievementID]Definition, error) {
	defs, err := store.ListDefinitions(ctx)
	if err != nil {
		return nil, storageErr("list achievement definitions", err)
	}
	byID := make(map[AchievementID]Definition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	return byID, nil
}
