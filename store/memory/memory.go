// Package memory provides an in-memory implementation of every store interface.
// It backs tests and the server's -db=memory mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps definitions, ledger entries and gameplay counters in maps
// guarded by a single RWMutex. Every write is atomic with respect to readers.
type Store struct {
	mu sync.RWMutex

	definitions map[achievement.AchievementID]achievement.Definition
	ledger      map[achievement.EntryKey]achievement.LedgerEntry
	progress    map[gameKey]progress.GameProgress
	licenses    map[licenseKey]progress.UserLicense
	cars        map[carKey]progress.UserCar
	laps        map[lapKey]progress.TrackRecord

	now func() time.Time
}

type gameKey struct {
	UserID achievement.UserID
	GameID achievement.GameID
}

type licenseKey struct {
	gameKey
	LicenseID int64
}

type carKey struct {
	gameKey
	CarID int64
}

type lapKey struct {
	gameKey
	TrackID int64
	CarID   int64
}

func New() *Store {
	return &Store{
		definitions: make(map[achievement.AchievementID]achievement.Definition),
		ledger:      make(map[achievement.EntryKey]achievement.LedgerEntry),
		progress:    make(map[gameKey]progress.GameProgress),
		licenses:    make(map[licenseKey]progress.UserLicense),
		cars:        make(map[carKey]progress.UserCar),
		laps:        make(map[lapKey]progress.TrackRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// DEFINITIONS
// =============================================================================

func (s *Store) ListDefinitions(_ context.Context) ([]achievement.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]achievement.Definition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d)
	}
	achievement.SortDefinitions(out)
	return out, nil
}

// SeedDefinitions inserts definitions whose ID is not present yet.
func (s *Store) SeedDefinitions(_ context.Context, defs []achievement.Definition) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, d := range defs {
		if _, ok := s.definitions[d.ID]; ok {
			continue
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = s.now()
		}
		s.definitions[d.ID] = d
		inserted++
	}
	return inserted, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) EntriesForGame(_ context.Context, userID achievement.UserID, gameID achievement.GameID) ([]achievement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked(func(k achievement.EntryKey) bool {
		return k.UserID == userID && k.GameID == gameID
	}), nil
}

func (s *Store) EntriesForUser(_ context.Context, userID achievement.UserID) ([]achievement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesLocked(func(k achievement.EntryKey) bool {
		return k.UserID == userID
	}), nil
}

func (s *Store) entriesLocked(match func(achievement.EntryKey) bool) []achievement.LedgerEntry {
	var out []achievement.LedgerEntry
	for k, e := range s.ledger {
		if match(k) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GameID != out[j].GameID {
			return out[i].GameID < out[j].GameID
		}
		return out[i].AchievementID < out[j].AchievementID
	})
	return out
}

// EnsureEntry is insert-or-no-op.
func (s *Store) EnsureEntry(_ context.Context, key achievement.EntryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ledger[key]; ok {
		return nil
	}
	now := s.now()
	s.ledger[key] = achievement.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        key.UserID,
		AchievementID: key.AchievementID,
		GameID:        key.GameID,
		Progress:      decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

// RecordProgress overwrites progress and unlocks once.
func (s *Store) RecordProgress(_ context.Context, w achievement.ProgressWrite) (achievement.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.ledger[w.Key]
	if !ok {
		return achievement.LedgerEntry{}, false, achievement.ErrEntryNotFound
	}

	e.Progress = w.Progress
	e.UpdatedAt = w.At
	unlockedNow := false
	if w.ThresholdMet && !e.Unlocked {
		at := w.At
		e.Unlocked = true
		e.UnlockedAt = &at
		unlockedNow = true
	}
	s.ledger[w.Key] = e
	return e, unlockedNow, nil
}

// =============================================================================
// COUNTERS (achievement.CounterSource)
// =============================================================================

func (s *Store) GameCounters(_ context.Context, userID achievement.UserID, gameID achievement.GameID) (achievement.GameCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[gameKey{userID, gameID}]
	if !ok {
		return achievement.GameCounters{CompletionPercentage: decimal.Zero}, nil
	}
	return achievement.GameCounters{RacesWon: p.RacesWon, CompletionPercentage: p.CompletionPercentage}, nil
}

func (s *Store) LicenseCounts(_ context.Context, userID achievement.UserID, gameID achievement.GameID) (achievement.LicenseCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c achievement.LicenseCounts
	for k, l := range s.licenses {
		if k.gameKey != (gameKey{userID, gameID}) {
			continue
		}
		c.Obtained++
		if l.Status == progress.LicenseGold {
			c.Gold++
		}
	}
	return c, nil
}

func (s *Store) CarsCollected(_ context.Context, userID achievement.UserID, gameID achievement.GameID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for k := range s.cars {
		if k.gameKey == (gameKey{userID, gameID}) {
			n++
		}
	}
	return n, nil
}

func (s *Store) TracksMastered(_ context.Context, userID achievement.UserID, gameID achievement.GameID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := make(map[int64]struct{})
	for k := range s.laps {
		if k.gameKey == (gameKey{userID, gameID}) {
			tracks[k.TrackID] = struct{}{}
		}
	}
	return int64(len(tracks)), nil
}

// =============================================================================
// GAMEPLAY WRITES (progress.Store)
// =============================================================================

func (s *Store) StartGame(_ context.Context, userID achievement.UserID, gameID achievement.GameID) (progress.GameProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(userID, gameID), nil
}

func (s *Store) startLocked(userID achievement.UserID, gameID achievement.GameID) progress.GameProgress {
	k := gameKey{userID, gameID}
	if p, ok := s.progress[k]; ok {
		return p
	}
	now := s.now()
	p := progress.GameProgress{
		UserID:               userID,
		GameID:               gameID,
		CompletionPercentage: decimal.Zero,
		HoursPlayed:          decimal.Zero,
		StartedAt:            now,
		LastPlayed:           now,
	}
	s.progress[k] = p
	return p
}

func (s *Store) GetProgress(_ context.Context, userID achievement.UserID, gameID achievement.GameID) (*progress.GameProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[gameKey{userID, gameID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListProgress(_ context.Context, userID achievement.UserID) ([]progress.GameProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progress.GameProgress
	for k, p := range s.progress {
		if k.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastPlayed.Equal(out[j].LastPlayed) {
			return out[i].LastPlayed.After(out[j].LastPlayed)
		}
		return out[i].GameID < out[j].GameID
	})
	return out, nil
}

func (s *Store) UpdateProgress(_ context.Context, userID achievement.UserID, gameID achievement.GameID, upd progress.ProgressUpdate) (progress.GameProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := gameKey{userID, gameID}
	p, ok := s.progress[k]
	if !ok {
		return progress.GameProgress{}, progress.ErrNotStarted
	}
	if upd.CompletionPercentage != nil {
		p.CompletionPercentage = *upd.CompletionPercentage
	}
	if upd.HoursPlayed != nil {
		p.HoursPlayed = *upd.HoursPlayed
	}
	if upd.CreditsEarned != nil {
		p.CreditsEarned = *upd.CreditsEarned
	}
	if upd.TotalRaces != nil {
		p.TotalRaces = *upd.TotalRaces
	}
	if upd.RacesWon != nil {
		p.RacesWon = *upd.RacesWon
	}
	p.LastPlayed = s.now()
	s.progress[k] = p
	return p, nil
}

func (s *Store) RecordRace(_ context.Context, userID achievement.UserID, gameID achievement.GameID, race progress.RaceResult) (progress.GameProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.startLocked(userID, gameID)
	p.TotalRaces++
	if race.Won {
		p.RacesWon++
	}
	p.HoursPlayed = p.HoursPlayed.Add(race.HoursPlayed)
	p.CreditsEarned += race.CreditsEarned
	p.LastPlayed = s.now()
	s.progress[gameKey{userID, gameID}] = p
	return p, nil
}

func (s *Store) SaveLicense(_ context.Context, userID achievement.UserID, gameID achievement.GameID, res progress.LicenseResult) (progress.UserLicense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := licenseKey{gameKey{userID, gameID}, res.LicenseID}
	l, ok := s.licenses[k]
	if !ok {
		l = progress.UserLicense{
			UserID:     userID,
			LicenseID:  res.LicenseID,
			GameID:     gameID,
			TotalTests: res.TotalTests,
			ObtainedAt: s.now(),
		}
	}
	l.Status = res.Status
	l.TestsCompleted = res.TestsCompleted
	if res.TotalTests > 0 {
		l.TotalTests = res.TotalTests
	}
	if res.BestTime != nil {
		bt := *res.BestTime
		l.BestTime = &bt
	}
	s.licenses[k] = l
	return l, nil
}

func (s *Store) AddCar(_ context.Context, userID achievement.UserID, gameID achievement.GameID, carID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := carKey{gameKey{userID, gameID}, carID}
	if _, ok := s.cars[k]; ok {
		return false, nil
	}
	s.cars[k] = progress.UserCar{
		UserID:     userID,
		CarID:      carID,
		GameID:     gameID,
		Mileage:    decimal.Zero,
		AcquiredAt: s.now(),
	}
	return true, nil
}

func (s *Store) RecordLap(_ context.Context, userID achievement.UserID, gameID achievement.GameID, lap progress.LapRecord) (progress.TrackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := lapKey{gameKey{userID, gameID}, lap.TrackID, lap.CarID}
	if rec, ok := s.laps[k]; ok && !lap.LapTime.LessThan(rec.Lap.LapTime) {
		return rec, nil
	}
	rec := progress.TrackRecord{UserID: userID, GameID: gameID, Lap: lap, AchievedAt: s.now()}
	s.laps[k] = rec
	return rec, nil
}

func (s *Store) OverallStats(_ context.Context, userID achievement.UserID) (progress.OverallStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := progress.OverallStats{TotalHours: decimal.Zero, AverageCompletion: decimal.Zero}
	completion := decimal.Zero
	for k, p := range s.progress {
		if k.UserID != userID {
			continue
		}
		stats.GamesStarted++
		stats.TotalRaces += p.TotalRaces
		stats.TotalWins += p.RacesWon
		stats.TotalHours = stats.TotalHours.Add(p.HoursPlayed)
		stats.TotalCredits += p.CreditsEarned
		completion = completion.Add(p.CompletionPercentage)
	}
	if stats.GamesStarted > 0 {
		stats.AverageCompletion = completion.Div(decimal.NewFromInt(stats.GamesStarted)).Round(2)
	}

	for k, l := range s.licenses {
		if k.UserID == userID {
			stats.Licenses.Add(l.Status)
		}
	}
	for k := range s.cars {
		if k.UserID == userID {
			stats.CarsCollected++
		}
	}
	tracks := make(map[int64]bool)
	for k := range s.laps {
		if k.UserID == userID {
			tracks[k.TrackID] = true
		}
	}
	stats.TracksMastered = int64(len(tracks))
	return stats, nil
}

var (
	_ achievement.DefinitionStore  = (*Store)(nil)
	_ achievement.DefinitionWriter = (*Store)(nil)
	_ achievement.LedgerStore      = (*Store)(nil)
	_ progress.Store               = (*Store)(nil)
)
