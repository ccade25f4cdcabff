package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/store/memory"
)

// newTestLedger spins up a miniredis server and returns a ledger on it.
func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test"), mr
}

var key = achievement.EntryKey{UserID: 1, AchievementID: 10, GameID: 7}

func TestLedger_EnsureEntry(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.EnsureEntry(ctx, key))
	require.NoError(t, l.EnsureEntry(ctx, key))

	entries, err := l.EntriesForGame(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, achievement.AchievementID(10), entries[0].AchievementID)
	assert.True(t, entries[0].Progress.IsZero())
	assert.False(t, entries[0].Unlocked)

	assert.Equal(t, "0", mr.HGet("test:entry:1:7:10", "unlocked"))
	members, err := mr.Members("test:user:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"7:10"}, members)
}

func TestLedger_RecordProgress_OneWayUnlock(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureEntry(ctx, key))

	t1 := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	e, unlocked, err := l.RecordProgress(ctx, achievement.ProgressWrite{Key: key, Progress: decimal.RequireFromString("2.5"), At: t1})
	require.NoError(t, err)
	assert.False(t, unlocked)
	assert.Equal(t, "2.5", e.Progress.String())

	e, unlocked, err = l.RecordProgress(ctx, achievement.ProgressWrite{Key: key, Progress: decimal.NewFromInt(5), ThresholdMet: true, At: t1})
	require.NoError(t, err)
	assert.True(t, unlocked)
	require.NotNil(t, e.UnlockedAt)
	assert.True(t, t1.Equal(*e.UnlockedAt))

	e, unlocked, err = l.RecordProgress(ctx, achievement.ProgressWrite{Key: key, Progress: decimal.NewFromInt(6), ThresholdMet: true, At: t1.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, unlocked)
	assert.True(t, t1.Equal(*e.UnlockedAt))
}

func TestLedger_RecordProgress_MissingEntry(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, err := l.RecordProgress(context.Background(), achievement.ProgressWrite{Key: key, Progress: decimal.Zero, At: time.Now()})
	assert.ErrorIs(t, err, achievement.ErrEntryNotFound)
}

func TestLedger_ConcurrentUnlockReportedOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.EnsureEntry(ctx, key))

	var flips atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unlocked, err := l.RecordProgress(ctx, achievement.ProgressWrite{Key: key, Progress: decimal.NewFromInt(1), ThresholdMet: true, At: time.Now()})
			assert.NoError(t, err)
			if unlocked {
				flips.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), flips.Load())
}

func TestLedger_EntriesForUserSpansGames(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, k := range []achievement.EntryKey{
		{UserID: 1, AchievementID: 3, GameID: 8},
		{UserID: 1, AchievementID: 2, GameID: 7},
		{UserID: 1, AchievementID: 1, GameID: 8},
		{UserID: 2, AchievementID: 1, GameID: 7},
	} {
		require.NoError(t, l.EnsureEntry(ctx, k))
	}

	entries, err := l.EntriesForUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, achievement.GameID(7), entries[0].GameID)
	assert.Equal(t, achievement.AchievementID(1), entries[1].AchievementID)
	assert.Equal(t, achievement.AchievementID(3), entries[2].AchievementID)
}

func TestLedger_BacksEngine(t *testing.T) {
	// GIVEN: Definitions and counters in memory, ledger in Redis
	// WHEN: The player wins a race and evaluation runs twice
	// THEN: The unlock is reported once and persisted in Redis

	l, _ := newTestLedger(t)
	ctx := context.Background()
	mem := memory.New()
	_, err := mem.SeedDefinitions(ctx, []achievement.Definition{{
		ID: 1, Name: "First Victory", Points: 10,
		RequirementType: achievement.RequirementRacesWon, RequirementValue: decimal.NewFromInt(1),
	}})
	require.NoError(t, err)
	engine := achievement.NewEngine(mem, l, mem, nil)

	unlocked, err := engine.CheckAndUnlock(ctx, 1, 7, achievement.StatSnapshot{RacesWon: 1})
	require.NoError(t, err)
	require.Len(t, unlocked, 1)

	unlocked, err = engine.CheckAndUnlock(ctx, 1, 7, achievement.StatSnapshot{RacesWon: 2})
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	entries, err := l.EntriesForGame(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Unlocked)
}
