/*
engine_test.go - Behavior tests for the unlock engine

Tests for:
- Threshold crossing and the one-way unlock
- Idempotent re-evaluation and concurrent evaluation
- Fail-partial evaluation and fail-fast snapshot reads
- Summaries and the joined user listing
*/
package achievement_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
	"github.com/gtcompanion/achievement-engine/store/memory"
)

const (
	user achievement.UserID = 7
	game achievement.GameID = 3
)

func def(id achievement.AchievementID, rt achievement.RequirementType, value string, points int64) achievement.Definition {
	return achievement.Definition{
		ID:               id,
		Name:             string(rt) + " " + value,
		Category:         "test",
		Points:           points,
		RequirementType:  rt,
		RequirementValue: decimal.RequireFromString(value),
		Rarity:           achievement.RarityCommon,
	}
}

func newEngine(t *testing.T, defs ...achievement.Definition) (*achievement.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	_, err := store.SeedDefinitions(context.Background(), defs)
	require.NoError(t, err)
	return achievement.NewEngine(store, store, store, zaptest.NewLogger(t)), store
}

func entryFor(t *testing.T, store *memory.Store, u achievement.UserID, g achievement.GameID, id achievement.AchievementID) (achievement.LedgerEntry, bool) {
	t.Helper()
	entries, err := store.EntriesForGame(context.Background(), u, g)
	require.NoError(t, err)
	for _, e := range entries {
		if e.AchievementID == id {
			return e, true
		}
	}
	return achievement.LedgerEntry{}, false
}

// =============================================================================
// THRESHOLDS
// =============================================================================

func TestCheckAndUnlock_CrossingTheThreshold(t *testing.T) {
	// GIVEN: "Win 10 races"
	ctx := context.Background()
	engine, store := newEngine(t, def(1, achievement.RequirementRacesWon, "10", 25))

	// WHEN: The player has won 9
	unlocked, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 9})

	// THEN: Progress is recorded, nothing unlocks
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	entry, ok := entryFor(t, store, user, game, 1)
	require.True(t, ok)
	assert.Equal(t, "9", entry.Progress.String())
	assert.False(t, entry.Unlocked)
	assert.Nil(t, entry.UnlockedAt)

	// WHEN: The tenth win arrives
	unlocked, err = engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 10})

	// THEN: Exactly that entry unlocks
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, achievement.AchievementID(1), unlocked[0].AchievementID)
	assert.Equal(t, "10", unlocked[0].Progress.String())
	assert.True(t, unlocked[0].Unlocked)
	require.NotNil(t, unlocked[0].UnlockedAt)

	// AND: The summary counts the one evaluated row
	summary, err := engine.Summarize(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, achievement.Summary{TotalAchievements: 1, UnlockedCount: 1, TotalPoints: 25}, summary)
}

func TestCheckAndUnlock_DefinitionsAreIndependent(t *testing.T) {
	// GIVEN: One gold license and five cars required
	engine, store := newEngine(t,
		def(1, achievement.RequirementGoldLicenses, "1", 10),
		def(2, achievement.RequirementCarsCollected, "5", 15))

	// WHEN: One gold license and three cars
	unlocked, err := engine.CheckAndUnlock(context.Background(), user, game,
		achievement.StatSnapshot{GoldLicenses: 1, CarsCollected: 3})

	// THEN: Only the license achievement unlocks
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, achievement.AchievementID(1), unlocked[0].AchievementID)

	cars, ok := entryFor(t, store, user, game, 2)
	require.True(t, ok)
	assert.False(t, cars.Unlocked)
	assert.Equal(t, "3", cars.Progress.String())
}

func TestCheckAndUnlock_ExactDecimalThreshold(t *testing.T) {
	engine, _ := newEngine(t, def(1, achievement.RequirementCompletion, "87.5", 50))
	ctx := context.Background()

	unlocked, err := engine.CheckAndUnlock(ctx, user, game,
		achievement.StatSnapshot{CompletionPercentage: decimal.RequireFromString("87.49")})
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	unlocked, err = engine.CheckAndUnlock(ctx, user, game,
		achievement.StatSnapshot{CompletionPercentage: decimal.RequireFromString("87.5")})
	require.NoError(t, err)
	assert.Len(t, unlocked, 1)
}

func TestCheckAndUnlock_ZeroThresholdUnlocksOnFirstEvaluation(t *testing.T) {
	engine, _ := newEngine(t, def(1, achievement.RequirementRacesWon, "0", 5))

	unlocked, err := engine.CheckAndUnlock(context.Background(), user, game, achievement.StatSnapshot{})

	require.NoError(t, err)
	assert.Len(t, unlocked, 1)
}

func TestCheckAndUnlock_UnknownRequirementTypeNeverUnlocks(t *testing.T) {
	engine, store := newEngine(t, def(1, achievement.RequirementType("drift_points"), "1", 5))

	unlocked, err := engine.CheckAndUnlock(context.Background(), user, game, achievement.StatSnapshot{RacesWon: 100})

	require.NoError(t, err)
	assert.Empty(t, unlocked)
	entry, ok := entryFor(t, store, user, game, 1)
	require.True(t, ok)
	assert.True(t, entry.Progress.IsZero())
}

// =============================================================================
// ONE-WAY UNLOCK
// =============================================================================

func TestCheckAndUnlock_UnlockNeverReverts(t *testing.T) {
	// GIVEN: An unlocked achievement
	ctx := context.Background()
	engine, store := newEngine(t, def(1, achievement.RequirementRacesWon, "5", 10))
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	engine.Evaluator.Now = func() time.Time { return fixed }

	_, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 5})
	require.NoError(t, err)

	// WHEN: The counters go backwards and evaluation runs again later
	engine.Evaluator.Now = func() time.Time { return fixed.Add(time.Hour) }
	unlocked, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1})

	// THEN: It stays unlocked with its original timestamp
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	entry, _ := entryFor(t, store, user, game, 1)
	assert.True(t, entry.Unlocked)
	require.NotNil(t, entry.UnlockedAt)
	assert.True(t, entry.UnlockedAt.Equal(fixed))
}

func TestCheckAndUnlock_ProgressIsOverwrittenWhileLocked(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, def(1, achievement.RequirementCarsCollected, "10", 10))

	_, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{CarsCollected: 6})
	require.NoError(t, err)
	_, err = engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{CarsCollected: 4})
	require.NoError(t, err)

	entry, _ := entryFor(t, store, user, game, 1)
	assert.Equal(t, "4", entry.Progress.String())
}

func TestCheckAndUnlock_RepeatedEvaluationIsIdempotent(t *testing.T) {
	// GIVEN: A brand-new (user, game) pair
	ctx := context.Background()
	engine, store := newEngine(t,
		def(1, achievement.RequirementRacesWon, "1", 10),
		def(2, achievement.RequirementRacesWon, "10", 25))
	snap := achievement.StatSnapshot{RacesWon: 3}

	// WHEN: The same snapshot is evaluated twice
	first, err := engine.CheckAndUnlock(ctx, user, game, snap)
	require.NoError(t, err)
	second, err := engine.CheckAndUnlock(ctx, user, game, snap)
	require.NoError(t, err)

	// THEN: One row per definition, and the second run reports nothing
	assert.Len(t, first, 1)
	assert.Empty(t, second)
	entries, err := store.EntriesForGame(ctx, user, game)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCheckAndUnlock_ConcurrentEvaluationsUnlockOnce(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t,
		def(1, achievement.RequirementRacesWon, "1", 10),
		def(2, achievement.RequirementCarsCollected, "2", 15),
		def(3, achievement.RequirementTrackRecords, "50", 40))
	snap := achievement.StatSnapshot{RacesWon: 1, CarsCollected: 2}

	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlocked, err := engine.CheckAndUnlock(ctx, user, game, snap)
			assert.NoError(t, err)
			total.Add(int64(len(unlocked)))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(2), total.Load())
	entries, err := store.EntriesForGame(ctx, user, game)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCheckAndUnlock_ScopedToUserAndGame(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, def(1, achievement.RequirementRacesWon, "1", 10))

	_, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1})
	require.NoError(t, err)

	unlocked, err := engine.CheckAndUnlock(ctx, user, game+1, achievement.StatSnapshot{RacesWon: 1})
	require.NoError(t, err)
	assert.Len(t, unlocked, 1, "same achievement unlocks separately in another game")

	_, ok := entryFor(t, store, user+1, game, 1)
	assert.False(t, ok)
}

func TestCheckAndUnlock_ReturnsInCanonicalOrder(t *testing.T) {
	engine, _ := newEngine(t,
		def(3, achievement.RequirementRacesWon, "1", 50),
		def(1, achievement.RequirementRacesWon, "1", 10),
		def(2, achievement.RequirementRacesWon, "1", 10))

	unlocked, err := engine.CheckAndUnlock(context.Background(), user, game, achievement.StatSnapshot{RacesWon: 1})

	require.NoError(t, err)
	require.Len(t, unlocked, 3)
	assert.Equal(t, achievement.AchievementID(1), unlocked[0].AchievementID)
	assert.Equal(t, achievement.AchievementID(2), unlocked[1].AchievementID)
	assert.Equal(t, achievement.AchievementID(3), unlocked[2].AchievementID)
}

// =============================================================================
// FAILURES
// =============================================================================

// flakyLedger fails RecordProgress for one achievement.
type flakyLedger struct {
	*memory.Store
	failOn achievement.AchievementID
}

func (l *flakyLedger) RecordProgress(ctx context.Context, w achievement.ProgressWrite) (achievement.LedgerEntry, bool, error) {
	if w.Key.AchievementID == l.failOn {
		return achievement.LedgerEntry{}, false, errors.New("database is locked")
	}
	return l.Store.RecordProgress(ctx, w)
}

func TestCheckAndUnlock_FailPartialKeepsEarlierUnlocks(t *testing.T) {
	// GIVEN: Three satisfied definitions and a ledger that fails on the second
	ctx := context.Background()
	store := memory.New()
	_, err := store.SeedDefinitions(ctx, []achievement.Definition{
		def(1, achievement.RequirementRacesWon, "1", 10),
		def(2, achievement.RequirementRacesWon, "1", 20),
		def(3, achievement.RequirementRacesWon, "1", 30),
	})
	require.NoError(t, err)
	engine := achievement.NewEngine(store, &flakyLedger{Store: store, failOn: 2}, store, zaptest.NewLogger(t))

	// WHEN: Evaluating
	unlocked, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1})

	// THEN: No list is returned and the error describes what was committed
	assert.Nil(t, unlocked)
	require.Error(t, err)
	assert.True(t, achievement.IsStorage(err))
	var evalErr *achievement.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, achievement.AchievementID(2), evalErr.AchievementID)
	require.Len(t, evalErr.Committed, 1)
	assert.Equal(t, achievement.AchievementID(1), evalErr.Committed[0].AchievementID)

	// AND: The first unlock persisted, the third was never reached
	first, ok := entryFor(t, store, user, game, 1)
	require.True(t, ok)
	assert.True(t, first.Unlocked)
	_, ok = entryFor(t, store, user, game, 3)
	assert.False(t, ok)
}

// cancelingLedger cancels the evaluation context once the first write lands.
type cancelingLedger struct {
	*memory.Store
	cancel context.CancelFunc
}

func (l *cancelingLedger) RecordProgress(ctx context.Context, w achievement.ProgressWrite) (achievement.LedgerEntry, bool, error) {
	entry, unlocked, err := l.Store.RecordProgress(ctx, w)
	l.cancel()
	return entry, unlocked, err
}

func TestCheckAndUnlock_CancellationStopsBetweenDefinitions(t *testing.T) {
	// GIVEN: Two satisfied definitions and a context canceled after the first write
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memory.New()
	_, err := store.SeedDefinitions(ctx, []achievement.Definition{
		def(1, achievement.RequirementRacesWon, "1", 10),
		def(2, achievement.RequirementRacesWon, "1", 20),
	})
	require.NoError(t, err)
	engine := achievement.NewEngine(store, &cancelingLedger{Store: store, cancel: cancel}, store, zaptest.NewLogger(t))

	// WHEN: Evaluating
	unlocked, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1})

	// THEN: The run stops with the cancellation as cause
	assert.Nil(t, unlocked)
	var evalErr *achievement.EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, achievement.AchievementID(2), evalErr.AchievementID)
	require.Len(t, evalErr.Committed, 1)

	// AND: The first unlock persisted, the second row was never created
	first, ok := entryFor(t, store, user, game, 1)
	require.True(t, ok)
	assert.True(t, first.Unlocked)
	_, ok = entryFor(t, store, user, game, 2)
	assert.False(t, ok)
}

// countingCounters fails license reads and records what was read.
type countingCounters struct {
	*memory.Store
	carReads atomic.Int64
}

func (c *countingCounters) LicenseCounts(context.Context, achievement.UserID, achievement.GameID) (achievement.LicenseCounts, error) {
	return achievement.LicenseCounts{}, errors.New("connection reset")
}

func (c *countingCounters) CarsCollected(ctx context.Context, u achievement.UserID, g achievement.GameID) (int64, error) {
	c.carReads.Add(1)
	return c.Store.CarsCollected(ctx, u, g)
}

func TestRefresh_CounterFailureAbortsBeforeEvaluation(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.SeedDefinitions(ctx, []achievement.Definition{def(1, achievement.RequirementRacesWon, "0", 10)})
	require.NoError(t, err)
	counters := &countingCounters{Store: store}
	engine := achievement.NewEngine(store, store, counters, nil)

	unlocked, err := engine.Refresh(ctx, user, game)

	assert.Nil(t, unlocked)
	assert.True(t, achievement.IsStorage(err))
	assert.Equal(t, int64(0), counters.carReads.Load())
	entries, err := store.EntriesForGame(ctx, user, game)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefresh_ReadsLiveCounters(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t,
		def(1, achievement.RequirementRacesWon, "2", 10),
		def(2, achievement.RequirementCarsCollected, "1", 15))

	_, err := store.RecordRace(ctx, user, game, progress.RaceResult{Won: true})
	require.NoError(t, err)
	_, err = store.AddCar(ctx, user, game, 11)
	require.NoError(t, err)

	unlocked, err := engine.Refresh(ctx, user, game)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, achievement.AchievementID(2), unlocked[0].AchievementID)

	_, err = store.RecordRace(ctx, user, game, progress.RaceResult{Won: true})
	require.NoError(t, err)
	unlocked, err = engine.Refresh(ctx, user, game)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, achievement.AchievementID(1), unlocked[0].AchievementID)
}

// =============================================================================
// READ MODELS
// =============================================================================

func TestSummarize_CountsRowsAndSkipsPointsOfRemovedDefinitions(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, def(1, achievement.RequirementRacesWon, "1", 10))

	_, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1})
	require.NoError(t, err)

	// A ledger row whose definition no longer exists
	orphan := achievement.EntryKey{UserID: user, AchievementID: 99, GameID: game}
	require.NoError(t, store.EnsureEntry(ctx, orphan))
	_, _, err = store.RecordProgress(ctx, achievement.ProgressWrite{Key: orphan, Progress: decimal.NewFromInt(1), ThresholdMet: true, At: time.Now()})
	require.NoError(t, err)

	summary, err := engine.Summarize(ctx, user)

	require.NoError(t, err)
	assert.Equal(t, achievement.Summary{TotalAchievements: 2, UnlockedCount: 2, TotalPoints: 10}, summary)
}

func TestSummarize_EmptyLedger(t *testing.T) {
	engine, _ := newEngine(t, def(1, achievement.RequirementRacesWon, "1", 10))

	summary, err := engine.Summarize(context.Background(), user)

	require.NoError(t, err)
	assert.Equal(t, achievement.Summary{}, summary)
}

func TestUserAchievements_UnlockedFirstThenByPoints(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine(t,
		def(1, achievement.RequirementRacesWon, "1", 10),
		def(2, achievement.RequirementRacesWon, "5", 50),
		def(3, achievement.RequirementCarsCollected, "1", 20))

	_, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1, CarsCollected: 1})
	require.NoError(t, err)
	_, err = engine.CheckAndUnlock(ctx, user, game+1, achievement.StatSnapshot{})
	require.NoError(t, err)

	g := game
	uas, err := engine.UserAchievements(ctx, user, &g)
	require.NoError(t, err)
	var ids []achievement.AchievementID
	for _, ua := range uas {
		ids = append(ids, ua.Definition.ID)
	}
	assert.Equal(t, []achievement.AchievementID{3, 1, 2}, ids)
	assert.Equal(t, "20", uas[2].ProgressPercentage().String())

	all, err := engine.UserAchievements(ctx, user, nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestDescribe_KeepsEntriesWithoutDefinition(t *testing.T) {
	engine, _ := newEngine(t, def(1, achievement.RequirementRacesWon, "1", 10))

	uas, err := engine.Describe(context.Background(), []achievement.LedgerEntry{
		{AchievementID: 1}, {AchievementID: 42},
	})

	require.NoError(t, err)
	require.Len(t, uas, 2)
	assert.Equal(t, int64(10), uas[0].Definition.Points)
	assert.Equal(t, achievement.AchievementID(42), uas[1].Definition.ID)
	assert.Empty(t, uas[1].Definition.Name)
}

func TestUserAchievements_HidesEntriesWithoutDefinition(t *testing.T) {
	// GIVEN: One evaluated definition and a ledger row for a removed definition
	ctx := context.Background()
	engine, store := newEngine(t, def(1, achievement.RequirementRacesWon, "1", 10))
	_, err := engine.CheckAndUnlock(ctx, user, game, achievement.StatSnapshot{RacesWon: 1})
	require.NoError(t, err)
	orphan := achievement.EntryKey{UserID: user, AchievementID: 99, GameID: game}
	require.NoError(t, store.EnsureEntry(ctx, orphan))

	// WHEN: Listing the user's achievements
	g := game
	uas, err := engine.UserAchievements(ctx, user, &g)

	// THEN: Only the entry with a definition is listed
	require.NoError(t, err)
	require.Len(t, uas, 1)
	assert.Equal(t, achievement.AchievementID(1), uas[0].Definition.ID)
}
