package progress_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
	"github.com/gtcompanion/achievement-engine/store/memory"
)

const (
	user achievement.UserID = 11
	game achievement.GameID = 2
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]achievement.UserAchievement
}

func (n *recordingNotifier) NotifyUnlocked(_ context.Context, _ achievement.UserID, _ achievement.GameID, unlocked []achievement.UserAchievement) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, unlocked)
}

func newTracker(t *testing.T) (*progress.Tracker, *memory.Store, *recordingNotifier) {
	t.Helper()
	store := memory.New()
	_, err := store.SeedDefinitions(context.Background(), []achievement.Definition{
		{ID: 1, Name: "First Victory", Points: 10, RequirementType: achievement.RequirementRacesWon, RequirementValue: decimal.NewFromInt(1)},
		{ID: 2, Name: "Licensed", Points: 10, RequirementType: achievement.RequirementLicensesObtained, RequirementValue: decimal.NewFromInt(1)},
		{ID: 3, Name: "Two Cars", Points: 15, RequirementType: achievement.RequirementCarsCollected, RequirementValue: decimal.NewFromInt(2)},
		{ID: 4, Name: "Track Day", Points: 20, RequirementType: achievement.RequirementTrackRecords, RequirementValue: decimal.NewFromInt(1)},
		{ID: 5, Name: "Three Quarters", Points: 30, RequirementType: achievement.RequirementCompletion, RequirementValue: decimal.RequireFromString("75")},
	})
	require.NoError(t, err)

	engine := achievement.NewEngine(store, store, store, zaptest.NewLogger(t))
	notifier := &recordingNotifier{}
	return progress.NewTracker(store, engine, notifier, zaptest.NewLogger(t)), store, notifier
}

func names(uas []achievement.UserAchievement) []string {
	out := make([]string, len(uas))
	for i, ua := range uas {
		out[i] = ua.Definition.Name
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestUpdateProgress_EvaluatesAndNotifies(t *testing.T) {
	// GIVEN: A started game
	ctx := context.Background()
	tracker, _, notifier := newTracker(t)
	_, err := tracker.StartGame(ctx, user, game)
	require.NoError(t, err)

	// WHEN: Completion reaches 75%
	p, unlocked, err := tracker.UpdateProgress(ctx, user, game, progress.ProgressUpdate{
		CompletionPercentage: ptr(decimal.RequireFromString("75")),
		TotalRaces:           ptr(int64(4)),
	})

	// THEN: The counters are stored and the achievement is reported and pushed
	require.NoError(t, err)
	assert.Equal(t, "75", p.CompletionPercentage.String())
	assert.Equal(t, int64(4), p.TotalRaces)
	assert.Equal(t, []string{"Three Quarters"}, names(unlocked))
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, []string{"Three Quarters"}, names(notifier.calls[0]))

	// WHEN: An unrelated field changes
	_, unlocked, err = tracker.UpdateProgress(ctx, user, game, progress.ProgressUpdate{HoursPlayed: ptr(decimal.NewFromInt(3))})

	// THEN: Nothing new is reported, completion keeps its value
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	assert.Len(t, notifier.calls, 1)
	stored, err := tracker.GetProgress(ctx, user, game)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "75", stored.CompletionPercentage.String())
}

func TestUpdateProgress_NotStarted(t *testing.T) {
	tracker, _, _ := newTracker(t)

	_, _, err := tracker.UpdateProgress(context.Background(), user, game, progress.ProgressUpdate{RacesWon: ptr(int64(1))})

	assert.ErrorIs(t, err, progress.ErrNotStarted)
}

func TestTracker_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTracker(t)
	_, err := tracker.StartGame(ctx, user, game)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{"completion over 100", func() error {
			_, _, err := tracker.UpdateProgress(ctx, user, game, progress.ProgressUpdate{CompletionPercentage: ptr(decimal.NewFromInt(101))})
			return err
		}},
		{"negative hours", func() error {
			_, _, err := tracker.UpdateProgress(ctx, user, game, progress.ProgressUpdate{HoursPlayed: ptr(decimal.NewFromInt(-1))})
			return err
		}},
		{"wins exceed races", func() error {
			_, _, err := tracker.UpdateProgress(ctx, user, game, progress.ProgressUpdate{TotalRaces: ptr(int64(1)), RacesWon: ptr(int64(2))})
			return err
		}},
		{"negative race credits", func() error {
			_, _, err := tracker.RecordRace(ctx, user, game, progress.RaceResult{CreditsEarned: -1})
			return err
		}},
		{"unknown license status", func() error {
			_, _, err := tracker.RecordLicense(ctx, user, game, progress.LicenseResult{LicenseID: 1, Status: "platinum"})
			return err
		}},
		{"more tests than exist", func() error {
			_, _, err := tracker.RecordLicense(ctx, user, game, progress.LicenseResult{LicenseID: 1, Status: progress.LicenseGold, TestsCompleted: 9, TotalTests: 8})
			return err
		}},
		{"zero lap time", func() error {
			_, _, err := tracker.RecordLap(ctx, user, game, progress.LapRecord{TrackID: 1, CarID: 1})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), progress.ErrInvalidInput)
		})
	}
}

func TestGameplayEvents_EachTriggersEvaluation(t *testing.T) {
	ctx := context.Background()
	tracker, _, notifier := newTracker(t)

	_, unlocked, err := tracker.RecordRace(ctx, user, game, progress.RaceResult{Won: true, HoursPlayed: decimal.RequireFromString("0.25")})
	require.NoError(t, err)
	assert.Equal(t, []string{"First Victory"}, names(unlocked))

	_, unlocked, err = tracker.RecordLicense(ctx, user, game, progress.LicenseResult{LicenseID: 1, Status: progress.LicenseBronze, TestsCompleted: 2, TotalTests: 8})
	require.NoError(t, err)
	assert.Equal(t, []string{"Licensed"}, names(unlocked))

	added, unlocked, err := tracker.AddCar(ctx, user, game, 100)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Empty(t, unlocked)

	added, unlocked, err = tracker.AddCar(ctx, user, game, 101)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, []string{"Two Cars"}, names(unlocked))

	rec, unlocked, err := tracker.RecordLap(ctx, user, game, progress.LapRecord{TrackID: 5, CarID: 100, LapTime: decimal.RequireFromString("84.112")})
	require.NoError(t, err)
	assert.Equal(t, "84.112", rec.Lap.LapTime.String())
	assert.Equal(t, []string{"Track Day"}, names(unlocked))

	assert.Len(t, notifier.calls, 4)
}

func TestRecordLap_SlowerLapKeepsRecord(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := newTracker(t)

	first, _, err := tracker.RecordLap(ctx, user, game, progress.LapRecord{TrackID: 5, CarID: 1, LapTime: decimal.RequireFromString("90.5"), Weather: "dry"})
	require.NoError(t, err)

	rec, _, err := tracker.RecordLap(ctx, user, game, progress.LapRecord{TrackID: 5, CarID: 1, LapTime: decimal.RequireFromString("91"), Weather: "wet"})
	require.NoError(t, err)
	assert.Equal(t, "90.5", rec.Lap.LapTime.String())
	assert.Equal(t, "dry", rec.Lap.Weather)
	assert.True(t, rec.AchievedAt.Equal(first.AchievedAt))

	rec, _, err = tracker.RecordLap(ctx, user, game, progress.LapRecord{TrackID: 5, CarID: 1, LapTime: decimal.RequireFromString("89.9"), Weather: "wet"})
	require.NoError(t, err)
	assert.Equal(t, "89.9", rec.Lap.LapTime.String())
	assert.Equal(t, "wet", rec.Lap.Weather)
}

// brokenLedger fails every ledger read so evaluation cannot run.
type brokenLedger struct {
	*memory.Store
}

func (brokenLedger) EntriesForGame(context.Context, achievement.UserID, achievement.GameID) ([]achievement.LedgerEntry, error) {
	return nil, errors.New("ledger unavailable")
}

func TestEvaluationFailureStillRecordsTheEvent(t *testing.T) {
	// GIVEN: A ledger that cannot be read
	ctx := context.Background()
	store := memory.New()
	_, err := store.SeedDefinitions(ctx, []achievement.Definition{
		{ID: 1, Name: "First Victory", Points: 10, RequirementType: achievement.RequirementRacesWon, RequirementValue: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)
	engine := achievement.NewEngine(store, brokenLedger{store}, store, nil)
	notifier := &recordingNotifier{}
	tracker := progress.NewTracker(store, engine, notifier, zaptest.NewLogger(t))

	// WHEN: A race is recorded
	p, unlocked, err := tracker.RecordRace(ctx, user, game, progress.RaceResult{Won: true})

	// THEN: The race counts, no achievements are reported, nobody is notified
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.RacesWon)
	assert.Nil(t, unlocked)
	assert.Empty(t, notifier.calls)
}

func TestWinRate(t *testing.T) {
	assert.True(t, progress.GameProgress{}.WinRate().IsZero())
	assert.Equal(t, "33.33", progress.GameProgress{TotalRaces: 3, RacesWon: 1}.WinRate().String())
}
