package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
)

// =============================================================================
// GAME PROGRESS
// =============================================================================

const progressColumns = `user_id, game_id, completion_percentage, hours_played, credits_earned,
	total_races, races_won, started_at, last_played`

type progressRow struct {
	UserID               int64           `db:"user_id"`
	GameID               int64           `db:"game_id"`
	CompletionPercentage decimal.Decimal `db:"completion_percentage"`
	HoursPlayed          decimal.Decimal `db:"hours_played"`
	CreditsEarned        int64           `db:"credits_earned"`
	TotalRaces           int64           `db:"total_races"`
	RacesWon             int64           `db:"races_won"`
	StartedAt            string          `db:"started_at"`
	LastPlayed           string          `db:"last_played"`
}

func (r progressRow) toProgress() progress.GameProgress {
	return progress.GameProgress{
		UserID:               achievement.UserID(r.UserID),
		GameID:               achievement.GameID(r.GameID),
		CompletionPercentage: r.CompletionPercentage,
		HoursPlayed:          r.HoursPlayed,
		CreditsEarned:        r.CreditsEarned,
		TotalRaces:           r.TotalRaces,
		RacesWon:             r.RacesWon,
		StartedAt:            parseTime(r.StartedAt),
		LastPlayed:           parseTime(r.LastPlayed),
	}
}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) StartGame(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (progress.GameProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p progress.GameProgress
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		p, err = s.startGame(ctx, tx, userID, gameID)
		return err
	})
	return p, err
}

func (s *Store) startGame(ctx context.Context, q querier, userID achievement.UserID, gameID achievement.GameID) (progress.GameProgress, error) {
	now := formatTime(s.now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_game_progress
		(user_id, game_id, completion_percentage, hours_played, credits_earned,
		 total_races, races_won, started_at, last_played)
		VALUES (?, ?, '0', '0', 0, 0, 0, ?, ?)
		ON CONFLICT(user_id, game_id) DO NOTHING`,
		int64(userID), int64(gameID), now, now,
	)
	if err != nil {
		return progress.GameProgress{}, fmt.Errorf("failed to start game: %w", err)
	}
	p, err := s.getProgress(ctx, q, userID, gameID)
	if err != nil {
		return progress.GameProgress{}, err
	}
	if p == nil {
		return progress.GameProgress{}, fmt.Errorf("failed to start game: row missing after insert")
	}
	return *p, nil
}

func (s *Store) GetProgress(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (*progress.GameProgress, error) {
	return s.getProgress(ctx, s.db, userID, gameID)
}

func (s *Store) getProgress(ctx context.Context, q querier, userID achievement.UserID, gameID achievement.GameID) (*progress.GameProgress, error) {
	var row progressRow
	err := q.GetContext(ctx, &row, `
		SELECT `+progressColumns+` FROM user_game_progress
		WHERE user_id = ? AND game_id = ?`, int64(userID), int64(gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	p := row.toProgress()
	return &p, nil
}

func (s *Store) ListProgress(ctx context.Context, userID achievement.UserID) ([]progress.GameProgress, error) {
	var rows []progressRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+progressColumns+` FROM user_game_progress
		WHERE user_id = ?
		ORDER BY last_played DESC, game_id ASC`, int64(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	out := make([]progress.GameProgress, len(rows))
	for i, r := range rows {
		out[i] = r.toProgress()
	}
	return out, nil
}

func (s *Store) UpdateProgress(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, upd progress.ProgressUpdate) (progress.GameProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out progress.GameProgress
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.getProgress(ctx, tx, userID, gameID)
		if err != nil {
			return err
		}
		if p == nil {
			return progress.ErrNotStarted
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
		if err := s.saveProgress(ctx, tx, *p); err != nil {
			return err
		}
		out = *p
		return nil
	})
	return out, err
}

// RecordRace increments counters, starting the game first if needed.
func (s *Store) RecordRace(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, race progress.RaceResult) (progress.GameProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out progress.GameProgress
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.startGame(ctx, tx, userID, gameID)
		if err != nil {
			return err
		}
		p.TotalRaces++
		if race.Won {
			p.RacesWon++
		}
		p.HoursPlayed = p.HoursPlayed.Add(race.HoursPlayed)
		p.CreditsEarned += race.CreditsEarned
		p.LastPlayed = s.now()
		if err := s.saveProgress(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Store) saveProgress(ctx context.Context, q querier, p progress.GameProgress) error {
	_, err := q.ExecContext(ctx, `
		UPDATE user_game_progress
		SET completion_percentage = ?, hours_played = ?, credits_earned = ?,
		    total_races = ?, races_won = ?, last_played = ?
		WHERE user_id = ? AND game_id = ?`,
		p.CompletionPercentage.String(), p.HoursPlayed.String(), p.CreditsEarned,
		p.TotalRaces, p.RacesWon, formatTime(p.LastPlayed),
		int64(p.UserID), int64(p.GameID),
	)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// OverallStats sums progress in Go (decimal columns are TEXT) and counts
// licenses, cars and tracks in SQL.
func (s *Store) OverallStats(ctx context.Context, userID achievement.UserID) (progress.OverallStats, error) {
	games, err := s.ListProgress(ctx, userID)
	if err != nil {
		return progress.OverallStats{}, err
	}

	stats := progress.OverallStats{TotalHours: decimal.Zero, AverageCompletion: decimal.Zero}
	completion := decimal.Zero
	for _, p := range games {
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

	var licenses struct {
		Total  int64 `db:"total"`
		Gold   int64 `db:"gold"`
		Silver int64 `db:"silver"`
		Bronze int64 `db:"bronze"`
	}
	err = s.db.GetContext(ctx, &licenses, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN status = 'gold' THEN 1 ELSE 0 END), 0) AS gold,
		       COALESCE(SUM(CASE WHEN status = 'silver' THEN 1 ELSE 0 END), 0) AS silver,
		       COALESCE(SUM(CASE WHEN status = 'bronze' THEN 1 ELSE 0 END), 0) AS bronze
		FROM user_licenses
		WHERE user_id = ?`, int64(userID))
	if err != nil {
		return progress.OverallStats{}, fmt.Errorf("failed to total licenses: %w", err)
	}
	stats.Licenses = progress.LicenseTotals(licenses)

	err = s.db.GetContext(ctx, &stats.CarsCollected, `
		SELECT COUNT(*) FROM user_cars WHERE user_id = ?`, int64(userID))
	if err != nil {
		return progress.OverallStats{}, fmt.Errorf("failed to total cars: %w", err)
	}

	err = s.db.GetContext(ctx, &stats.TracksMastered, `
		SELECT COUNT(DISTINCT track_id) FROM track_records WHERE user_id = ?`, int64(userID))
	if err != nil {
		return progress.OverallStats{}, fmt.Errorf("failed to total track records: %w", err)
	}
	return stats, nil
}

// =============================================================================
// LICENSES, CARS, LAPS
// =============================================================================

type licenseRow struct {
	UserID         int64               `db:"user_id"`
	LicenseID      int64               `db:"license_id"`
	GameID         int64               `db:"game_id"`
	Status         string              `db:"status"`
	TestsCompleted int64               `db:"tests_completed"`
	TotalTests     int64               `db:"total_tests"`
	BestTime       decimal.NullDecimal `db:"best_time"`
	ObtainedAt     string              `db:"obtained_at"`
}

// SaveLicense upserts the result. obtained_at keeps the first attempt's time;
// a missing best time or total keeps the stored value.
func (s *Store) SaveLicense(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, res progress.LicenseResult) (progress.UserLicense, error) {
	var bestTime any
	if res.BestTime != nil {
		bestTime = res.BestTime.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_licenses
		(user_id, license_id, game_id, status, tests_completed, total_tests, best_time, obtained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, license_id, game_id) DO UPDATE SET
			status = excluded.status,
			tests_completed = excluded.tests_completed,
			total_tests = CASE WHEN excluded.total_tests > 0 THEN excluded.total_tests ELSE user_licenses.total_tests END,
			best_time = COALESCE(excluded.best_time, user_licenses.best_time)`,
		int64(userID), res.LicenseID, int64(gameID), string(res.Status),
		res.TestsCompleted, res.TotalTests, bestTime, formatTime(s.now()),
	)
	if err != nil {
		return progress.UserLicense{}, fmt.Errorf("failed to save license: %w", err)
	}

	var row licenseRow
	err = s.db.GetContext(ctx, &row, `
		SELECT user_id, license_id, game_id, status, tests_completed, total_tests, best_time, obtained_at
		FROM user_licenses
		WHERE user_id = ? AND license_id = ? AND game_id = ?`,
		int64(userID), res.LicenseID, int64(gameID))
	if err != nil {
		return progress.UserLicense{}, fmt.Errorf("failed to load license: %w", err)
	}

	l := progress.UserLicense{
		UserID:         achievement.UserID(row.UserID),
		LicenseID:      row.LicenseID,
		GameID:         achievement.GameID(row.GameID),
		Status:         progress.LicenseStatus(row.Status),
		TestsCompleted: row.TestsCompleted,
		TotalTests:     row.TotalTests,
		ObtainedAt:     parseTime(row.ObtainedAt),
	}
	if row.BestTime.Valid {
		bt := row.BestTime.Decimal
		l.BestTime = &bt
	}
	return l, nil
}

func (s *Store) AddCar(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, carID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_cars (user_id, car_id, game_id, mileage, times_used, is_favorite, acquired_at)
		VALUES (?, ?, ?, '0', 0, 0, ?)
		ON CONFLICT(user_id, car_id, game_id) DO NOTHING`,
		int64(userID), carID, int64(gameID), formatTime(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to add car: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add car: %w", err)
	}
	return n == 1, nil
}

type trackRow struct {
	UserID       int64               `db:"user_id"`
	TrackID      int64               `db:"track_id"`
	CarID        int64               `db:"car_id"`
	GameID       int64               `db:"game_id"`
	LapTime      decimal.Decimal     `db:"lap_time"`
	Sector1      decimal.NullDecimal `db:"sector1_time"`
	Sector2      decimal.NullDecimal `db:"sector2_time"`
	Sector3      decimal.NullDecimal `db:"sector3_time"`
	Weather      string              `db:"weather"`
	TyreCompound string              `db:"tyre_compound"`
	IsAssisted   bool                `db:"is_assisted"`
	AchievedAt   string              `db:"achieved_at"`
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

// RecordLap replaces the stored lap only when the new lap time is lower.
func (s *Store) RecordLap(ctx context.Context, userID achievement.UserID, gameID achievement.GameID, lap progress.LapRecord) (progress.TrackRecord, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO track_records
		(user_id, track_id, car_id, game_id, lap_time, sector1_time, sector2_time, sector3_time,
		 weather, tyre_compound, is_assisted, achieved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, track_id, car_id, game_id) DO UPDATE SET
			lap_time = excluded.lap_time,
			sector1_time = excluded.sector1_time,
			sector2_time = excluded.sector2_time,
			sector3_time = excluded.sector3_time,
			weather = excluded.weather,
			tyre_compound = excluded.tyre_compound,
			is_assisted = excluded.is_assisted,
			achieved_at = excluded.achieved_at
		WHERE CAST(excluded.lap_time AS REAL) < CAST(track_records.lap_time AS REAL)`,
		int64(userID), lap.TrackID, lap.CarID, int64(gameID), lap.LapTime.String(),
		nullDecimal(lap.Sector1), nullDecimal(lap.Sector2), nullDecimal(lap.Sector3),
		lap.Weather, lap.TyreCompound, lap.IsAssisted, formatTime(s.now()),
	)
	if err != nil {
		return progress.TrackRecord{}, fmt.Errorf("failed to record lap: %w", err)
	}

	var row trackRow
	err = s.db.GetContext(ctx, &row, `
		SELECT user_id, track_id, car_id, game_id, lap_time, sector1_time, sector2_time, sector3_time,
		       weather, tyre_compound, is_assisted, achieved_at
		FROM track_records
		WHERE user_id = ? AND track_id = ? AND car_id = ? AND game_id = ?`,
		int64(userID), lap.TrackID, lap.CarID, int64(gameID))
	if err != nil {
		return progress.TrackRecord{}, fmt.Errorf("failed to load track record: %w", err)
	}

	return progress.TrackRecord{
		UserID: achievement.UserID(row.UserID),
		GameID: achievement.GameID(row.GameID),
		Lap: progress.LapRecord{
			TrackID:      row.TrackID,
			CarID:        row.CarID,
			LapTime:      row.LapTime,
			Sector1:      decimalPtr(row.Sector1),
			Sector2:      decimalPtr(row.Sector2),
			Sector3:      decimalPtr(row.Sector3),
			Weather:      row.Weather,
			TyreCompound: row.TyreCompound,
			IsAssisted:   row.IsAssisted,
		},
		AchievedAt: parseTime(row.AchievedAt),
	}, nil
}

// =============================================================================
// COUNTERS (achievement.CounterSource)
// =============================================================================

func (s *Store) GameCounters(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (achievement.GameCounters, error) {
	var row struct {
		RacesWon             int64           `db:"races_won"`
		CompletionPercentage decimal.Decimal `db:"completion_percentage"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT races_won, completion_percentage FROM user_game_progress
		WHERE user_id = ? AND game_id = ?`, int64(userID), int64(gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return achievement.GameCounters{CompletionPercentage: decimal.Zero}, nil
	}
	if err != nil {
		return achievement.GameCounters{}, fmt.Errorf("failed to read game counters: %w", err)
	}
	return achievement.GameCounters{RacesWon: row.RacesWon, CompletionPercentage: row.CompletionPercentage}, nil
}

func (s *Store) LicenseCounts(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (achievement.LicenseCounts, error) {
	var row struct {
		Obtained int64 `db:"obtained"`
		Gold     int64 `db:"gold"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS obtained,
		       COALESCE(SUM(CASE WHEN status = 'gold' THEN 1 ELSE 0 END), 0) AS gold
		FROM user_licenses
		WHERE user_id = ? AND game_id = ?`, int64(userID), int64(gameID))
	if err != nil {
		return achievement.LicenseCounts{}, fmt.Errorf("failed to count licenses: %w", err)
	}
	return achievement.LicenseCounts{Obtained: row.Obtained, Gold: row.Gold}, nil
}

func (s *Store) CarsCollected(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM user_cars WHERE user_id = ? AND game_id = ?`,
		int64(userID), int64(gameID))
	if err != nil {
		return 0, fmt.Errorf("failed to count cars: %w", err)
	}
	return n, nil
}

func (s *Store) TracksMastered(ctx context.Context, userID achievement.UserID, gameID achievement.GameID) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(DISTINCT track_id) FROM track_records WHERE user_id = ? AND game_id = ?`,
		int64(userID), int64(gameID))
	if err != nil {
		return 0, fmt.Errorf("failed to count track records: %w", err)
	}
	return n, nil
}
