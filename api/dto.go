/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

NUMBERS:
  Decimal values (progress, thresholds, hours, lap times) are written as
  JSON numbers through json.Number, so no precision is lost and clients
  receive 87.5 rather than "87.5".

VALIDATION:
  Request types carry go-playground/validator tags. Range checks that
  depend on decimals live in the progress workflow and come back as
  progress.ErrInvalidInput.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
)

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func numberPtr(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := number(*d)
	return &n
}

// =============================================================================
// ACHIEVEMENTS
// =============================================================================

type AchievementDTO struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Category         string      `json:"category"`
	Points           int64       `json:"points"`
	IconURL          string      `json:"iconUrl,omitempty"`
	RequirementType  string      `json:"requirementType"`
	RequirementValue json.Number `json:"requirementValue"`
	Rarity           string      `json:"rarity"`
}

func toAchievementDTO(d achievement.Definition) AchievementDTO {
	return AchievementDTO{
		ID:               int64(d.ID),
		Name:             d.Name,
		Description:      d.Description,
		Category:         d.Category,
		Points:           d.Points,
		IconURL:          d.IconURL,
		RequirementType:  string(d.RequirementType),
		RequirementValue: number(d.RequirementValue),
		Rarity:           string(d.Rarity),
	}
}

// UserAchievementDTO is a ledger row joined with its definition.
type UserAchievementDTO struct {
	ID                 string      `json:"id"`
	AchievementID      int64       `json:"achievementId"`
	GameID             int64       `json:"gameId"`
	Progress           json.Number `json:"progress"`
	ProgressPercentage json.Number `json:"progressPercentage"`
	Unlocked           bool        `json:"unlocked"`
	UnlockedAt         *time.Time  `json:"unlockedAt,omitempty"`
	AchievementName    string      `json:"achievementName"`
	Description        string      `json:"description"`
	Category           string      `json:"category"`
	Points             int64       `json:"points"`
	IconURL            string      `json:"iconUrl,omitempty"`
	Rarity             string      `json:"rarity"`
	RequirementType    string      `json:"requirementType"`
	RequirementValue   json.Number `json:"requirementValue"`
}

func toUserAchievementDTO(ua achievement.UserAchievement) UserAchievementDTO {
	return UserAchievementDTO{
		ID:                 ua.Entry.ID,
		AchievementID:      int64(ua.Entry.AchievementID),
		GameID:             int64(ua.Entry.GameID),
		Progress:           number(ua.Entry.Progress),
		ProgressPercentage: number(ua.ProgressPercentage()),
		Unlocked:           ua.Entry.Unlocked,
		UnlockedAt:         ua.Entry.UnlockedAt,
		AchievementName:    ua.Definition.Name,
		Description:        ua.Definition.Description,
		Category:           ua.Definition.Category,
		Points:             ua.Definition.Points,
		IconURL:            ua.Definition.IconURL,
		Rarity:             string(ua.Definition.Rarity),
		RequirementType:    string(ua.Definition.RequirementType),
		RequirementValue:   number(ua.Definition.RequirementValue),
	}
}

func toUserAchievementDTOs(uas []achievement.UserAchievement) []UserAchievementDTO {
	out := make([]UserAchievementDTO, len(uas))
	for i, ua := range uas {
		out[i] = toUserAchievementDTO(ua)
	}
	return out
}

// newAchievements returns nil for an empty list so the field is omitted.
func newAchievements(uas []achievement.UserAchievement) []UserAchievementDTO {
	if len(uas) == 0 {
		return nil
	}
	return toUserAchievementDTOs(uas)
}

type AchievementStatsDTO struct {
	TotalAchievements int64 `json:"totalAchievements"`
	UnlockedCount     int64 `json:"unlockedCount"`
	TotalPoints       int64 `json:"totalPoints"`
}

func toStatsDTO(s achievement.Summary) AchievementStatsDTO {
	return AchievementStatsDTO{
		TotalAchievements: s.TotalAchievements,
		UnlockedCount:     s.UnlockedCount,
		TotalPoints:       s.TotalPoints,
	}
}

// =============================================================================
// PROGRESS
// =============================================================================

type ProgressDTO struct {
	UserID               int64       `json:"userId"`
	GameID               int64       `json:"gameId"`
	CompletionPercentage json.Number `json:"completionPercentage"`
	HoursPlayed          json.Number `json:"hoursPlayed"`
	CreditsEarned        int64       `json:"creditsEarned"`
	TotalRaces           int64       `json:"totalRaces"`
	RacesWon             int64       `json:"racesWon"`
	WinRate              json.Number `json:"winRate"`
	StartedAt            time.Time   `json:"startedAt"`
	LastPlayed           time.Time   `json:"lastPlayed"`
}

func toProgressDTO(p progress.GameProgress) ProgressDTO {
	return ProgressDTO{
		UserID:               int64(p.UserID),
		GameID:               int64(p.GameID),
		CompletionPercentage: number(p.CompletionPercentage),
		HoursPlayed:          number(p.HoursPlayed),
		CreditsEarned:        p.CreditsEarned,
		TotalRaces:           p.TotalRaces,
		RacesWon:             p.RacesWon,
		WinRate:              number(p.WinRate()),
		StartedAt:            p.StartedAt,
		LastPlayed:           p.LastPlayed,
	}
}

type OverallStatsDTO struct {
	GamesStarted      int64       `json:"gamesStarted"`
	TotalRaces        int64       `json:"totalRaces"`
	TotalWins         int64       `json:"totalWins"`
	TotalHours        json.Number `json:"totalHours"`
	TotalCredits      int64       `json:"totalCredits"`
	AverageCompletion json.Number `json:"averageCompletion"`
}

type LicenseStatsDTO struct {
	Total  int64 `json:"total"`
	Gold   int64 `json:"gold"`
	Silver int64 `json:"silver"`
	Bronze int64 `json:"bronze"`
}

type CarStatsDTO struct {
	Total int64 `json:"total"`
}

type TrackStatsDTO struct {
	TracksMastered int64 `json:"tracksMastered"`
}

type StatsResponse struct {
	Progress     OverallStatsDTO     `json:"progress"`
	Licenses     LicenseStatsDTO     `json:"licenses"`
	Cars         CarStatsDTO         `json:"cars"`
	Tracks       TrackStatsDTO       `json:"tracks"`
	Achievements AchievementStatsDTO `json:"achievements"`
}

type StartGameRequest struct {
	GameID int64 `json:"gameId" validate:"required,gt=0"`
}

// UpdateProgressRequest overwrites the fields that are present.
type UpdateProgressRequest struct {
	CompletionPercentage *decimal.Decimal `json:"completionPercentage"`
	HoursPlayed          *decimal.Decimal `json:"hoursPlayed"`
	CreditsEarned        *int64           `json:"creditsEarned" validate:"omitempty,gte=0"`
	TotalRaces           *int64           `json:"totalRaces" validate:"omitempty,gte=0"`
	RacesWon             *int64           `json:"racesWon" validate:"omitempty,gte=0"`
}

func (r UpdateProgressRequest) toUpdate() progress.ProgressUpdate {
	return progress.ProgressUpdate{
		CompletionPercentage: r.CompletionPercentage,
		HoursPlayed:          r.HoursPlayed,
		CreditsEarned:        r.CreditsEarned,
		TotalRaces:           r.TotalRaces,
		RacesWon:             r.RacesWon,
	}
}

type RaceRequest struct {
	GameID        int64           `json:"gameId" validate:"required,gt=0"`
	Won           bool            `json:"won"`
	HoursPlayed   decimal.Decimal `json:"hoursPlayed"`
	CreditsEarned int64           `json:"creditsEarned" validate:"gte=0"`
}

type ProgressResponse struct {
	Message         string               `json:"message"`
	Progress        ProgressDTO          `json:"progress"`
	NewAchievements []UserAchievementDTO `json:"newAchievements,omitempty"`
}

// =============================================================================
// LICENSES, CARS, TRACK RECORDS
// =============================================================================

type LicenseRequest struct {
	LicenseID      int64            `json:"licenseId" validate:"required,gt=0"`
	Status         string           `json:"status" validate:"required,oneof=bronze silver gold"`
	TestsCompleted int64            `json:"testsCompleted" validate:"gte=0"`
	TotalTests     int64            `json:"totalTests" validate:"gte=0"`
	BestTime       *decimal.Decimal `json:"bestTime"`
}

type LicenseDTO struct {
	LicenseID      int64        `json:"licenseId"`
	GameID         int64        `json:"gameId"`
	Status         string       `json:"status"`
	TestsCompleted int64        `json:"testsCompleted"`
	TotalTests     int64        `json:"totalTests"`
	Completed      bool         `json:"completed"`
	BestTime       *json.Number `json:"bestTime,omitempty"`
	ObtainedAt     time.Time    `json:"obtainedAt"`
}

type LicenseResponse struct {
	Message         string               `json:"message"`
	License         LicenseDTO           `json:"license"`
	NewAchievements []UserAchievementDTO `json:"newAchievements,omitempty"`
}

type CarRequest struct {
	CarID int64 `json:"carId" validate:"required,gt=0"`
}

type CarResponse struct {
	Message         string               `json:"message"`
	CarID           int64                `json:"carId"`
	Added           bool                 `json:"added"`
	NewAchievements []UserAchievementDTO `json:"newAchievements,omitempty"`
}

type LapRequest struct {
	TrackID      int64            `json:"trackId" validate:"required,gt=0"`
	CarID        int64            `json:"carId" validate:"required,gt=0"`
	LapTime      *decimal.Decimal `json:"lapTime" validate:"required"`
	Sector1      *decimal.Decimal `json:"sector1Time"`
	Sector2      *decimal.Decimal `json:"sector2Time"`
	Sector3      *decimal.Decimal `json:"sector3Time"`
	Weather      string           `json:"weather"`
	TyreCompound string           `json:"tyreCompound"`
	IsAssisted   bool             `json:"isAssisted"`
}

type TrackRecordDTO struct {
	TrackID      int64        `json:"trackId"`
	CarID        int64        `json:"carId"`
	GameID       int64        `json:"gameId"`
	LapTime      json.Number  `json:"lapTime"`
	Sector1      *json.Number `json:"sector1Time,omitempty"`
	Sector2      *json.Number `json:"sector2Time,omitempty"`
	Sector3      *json.Number `json:"sector3Time,omitempty"`
	Weather      string       `json:"weather,omitempty"`
	TyreCompound string       `json:"tyreCompound,omitempty"`
	IsAssisted   bool         `json:"isAssisted"`
	AchievedAt   time.Time    `json:"achievedAt"`
}

type TrackRecordResponse struct {
	Message         string               `json:"message"`
	Record          TrackRecordDTO       `json:"record"`
	NewAchievements []UserAchievementDTO `json:"newAchievements,omitempty"`
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
