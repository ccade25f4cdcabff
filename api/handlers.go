/*
handlers.go - HTTP API handlers for the achievement service

PURPOSE:
  Exposes the achievement engine and the progress workflow via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain packages.

ENDPOINTS:
  Achievements:
    GET    /api/achievements              Full catalog (public)
    GET    /api/achievements/mine         Caller's ledger, optional ?gameId=
    GET    /api/achievements/stats        Caller's totals

  Progress:
    GET    /api/progress                  Caller's games, most recent first
    GET    /api/progress/stats            Totals across games: progress, licenses, cars, tracks, achievements
    GET    /api/progress/{gameId}         One game
    POST   /api/progress/start            Start tracking a game
    PUT    /api/progress/{gameId}         Overwrite counters, evaluate
    POST   /api/progress/races            Record a race, evaluate
    POST   /api/progress/{gameId}/licenses       Record a license result, evaluate
    POST   /api/progress/{gameId}/cars           Add a car, evaluate
    POST   /api/progress/{gameId}/track-records  Record a lap, evaluate

  Realtime:
    GET    /api/ws?token=                 Websocket stream of unlock events

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine:   achievement reads
  - Tracker:  gameplay writes (each triggers evaluation)
  - Streamer: websocket upgrade

REQUEST FLOW:
  1. Authenticate (middleware)
  2. Decode and validate input
  3. Call domain logic
  4. Serialize response
  5. Map errors (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: JWT middleware
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
	"github.com/gtcompanion/achievement-engine/realtime"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *achievement.Engine
	Tracker  *progress.Tracker
	Streamer *realtime.Streamer
	Log      *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a handler. streamer may be nil to disable /api/ws.
func NewHandler(engine *achievement.Engine, tracker *progress.Tracker, streamer *realtime.Streamer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Engine: engine, Tracker: tracker, Streamer: streamer, Log: log, validate: v}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACHIEVEMENT HANDLERS
// =============================================================================

// ListAchievements returns the catalog ordered by points.
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Engine.ListDefinitions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]AchievementDTO, len(defs))
	for i, d := range defs {
		out[i] = toAchievementDTO(d)
	}
	writeJSON(w, http.StatusOK, out)
}

// MyAchievements returns the caller's ledger rows, unlocked first.
func (h *Handler) MyAchievements(w http.ResponseWriter, r *http.Request) {
	claims := mustClaims(r)

	var gameID *achievement.GameID
	if raw := r.URL.Query().Get("gameId"); raw != "" {
		id, err := parseGameID(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		gameID = &id
	}

	uas, err := h.Engine.UserAchievements(r.Context(), claims.UserID(), gameID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserAchievementDTOs(uas))
}

func (h *Handler) AchievementStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.Summarize(r.Context(), mustClaims(r).UserID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(summary))
}

// =============================================================================
// PROGRESS HANDLERS
// =============================================================================

func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	games, err := h.Tracker.ListProgress(r.Context(), mustClaims(r).UserID())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ProgressDTO, len(games))
	for i, p := range games {
		out[i] = toProgressDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseGameID(chi.URLParam(r, "gameId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Tracker.GetProgress(r.Context(), mustClaims(r).UserID(), gameID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, MessageResponse{Message: "No progress found for this game"})
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(*p))
}

// OverallStats totals progress, licenses, cars, tracks and achievements across every game.
func (h *Handler) OverallStats(w http.ResponseWriter, r *http.Request) {
	userID := mustClaims(r).UserID()

	stats, err := h.Tracker.OverallStats(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.Engine.Summarize(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Progress: OverallStatsDTO{
			GamesStarted:      stats.GamesStarted,
			TotalRaces:        stats.TotalRaces,
			TotalWins:         stats.TotalWins,
			TotalHours:        number(stats.TotalHours),
			TotalCredits:      stats.TotalCredits,
			AverageCompletion: number(stats.AverageCompletion),
		},
		Licenses: LicenseStatsDTO{
			Total:  stats.Licenses.Total,
			Gold:   stats.Licenses.Gold,
			Silver: stats.Licenses.Silver,
			Bronze: stats.Licenses.Bronze,
		},
		Cars:         CarStatsDTO{Total: stats.CarsCollected},
		Tracks:       TrackStatsDTO{TracksMastered: stats.TracksMastered},
		Achievements: toStatsDTO(summary),
	})
}

func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	var req StartGameRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Tracker.StartGame(r.Context(), mustClaims(r).UserID(), achievement.GameID(req.GameID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{Message: "Game started", Progress: toProgressDTO(p)})
}

// UpdateProgress overwrites counters and reports achievements unlocked by the change.
func (h *Handler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseGameID(chi.URLParam(r, "gameId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateProgressRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	p, unlocked, err := h.Tracker.UpdateProgress(r.Context(), mustClaims(r).UserID(), gameID, req.toUpdate())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{
		Message:         "Progress updated",
		Progress:        toProgressDTO(p),
		NewAchievements: newAchievements(unlocked),
	})
}

func (h *Handler) RecordRace(w http.ResponseWriter, r *http.Request) {
	var req RaceRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	p, unlocked, err := h.Tracker.RecordRace(r.Context(), mustClaims(r).UserID(), achievement.GameID(req.GameID), progress.RaceResult{
		Won:           req.Won,
		HoursPlayed:   req.HoursPlayed,
		CreditsEarned: req.CreditsEarned,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{
		Message:         "Race recorded successfully",
		Progress:        toProgressDTO(p),
		NewAchievements: newAchievements(unlocked),
	})
}

func (h *Handler) RecordLicense(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseGameID(chi.URLParam(r, "gameId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req LicenseRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	l, unlocked, err := h.Tracker.RecordLicense(r.Context(), mustClaims(r).UserID(), gameID, progress.LicenseResult{
		LicenseID:      req.LicenseID,
		Status:         progress.LicenseStatus(req.Status),
		TestsCompleted: req.TestsCompleted,
		TotalTests:     req.TotalTests,
		BestTime:       req.BestTime,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LicenseResponse{
		Message: "License recorded",
		License: LicenseDTO{
			LicenseID:      l.LicenseID,
			GameID:         int64(l.GameID),
			Status:         string(l.Status),
			TestsCompleted: l.TestsCompleted,
			TotalTests:     l.TotalTests,
			Completed:      l.Completed(),
			BestTime:       numberPtr(l.BestTime),
			ObtainedAt:     l.ObtainedAt,
		},
		NewAchievements: newAchievements(unlocked),
	})
}

func (h *Handler) AddCar(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseGameID(chi.URLParam(r, "gameId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req CarRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	added, unlocked, err := h.Tracker.AddCar(r.Context(), mustClaims(r).UserID(), gameID, req.CarID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := "Car added to collection"
	if !added {
		msg = "Car already in collection"
	}
	writeJSON(w, http.StatusOK, CarResponse{
		Message:         msg,
		CarID:           req.CarID,
		Added:           added,
		NewAchievements: newAchievements(unlocked),
	})
}

func (h *Handler) RecordLap(w http.ResponseWriter, r *http.Request) {
	gameID, err := parseGameID(chi.URLParam(r, "gameId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req LapRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	rec, unlocked, err := h.Tracker.RecordLap(r.Context(), mustClaims(r).UserID(), gameID, progress.LapRecord{
		TrackID:      req.TrackID,
		CarID:        req.CarID,
		LapTime:      *req.LapTime,
		Sector1:      req.Sector1,
		Sector2:      req.Sector2,
		Sector3:      req.Sector3,
		Weather:      req.Weather,
		TyreCompound: req.TyreCompound,
		IsAssisted:   req.IsAssisted,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TrackRecordResponse{
		Message: "Lap recorded",
		Record: TrackRecordDTO{
			TrackID:      rec.Lap.TrackID,
			CarID:        rec.Lap.CarID,
			GameID:       int64(rec.GameID),
			LapTime:      number(rec.Lap.LapTime),
			Sector1:      numberPtr(rec.Lap.Sector1),
			Sector2:      numberPtr(rec.Lap.Sector2),
			Sector3:      numberPtr(rec.Lap.Sector3),
			Weather:      rec.Lap.Weather,
			TyreCompound: rec.Lap.TyreCompound,
			IsAssisted:   rec.Lap.IsAssisted,
			AchievedAt:   rec.AchievedAt,
		},
		NewAchievements: newAchievements(unlocked),
	})
}

// =============================================================================
// REALTIME
// =============================================================================

// Stream upgrades to a websocket carrying the caller's unlock events.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.Streamer.Serve(w, r, mustClaims(r).UserID())
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads a JSON body into dst and runs struct validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &ValidationError{Message: "Invalid JSON body"}
	}
	if err := h.validate.Struct(dst); err != nil {
		return fromValidator(err)
	}
	return nil
}

func parseGameID(raw string) (achievement.GameID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fieldError("gameId", "must be a positive integer")
	}
	return achievement.GameID(id), nil
}

// mustClaims returns the claims set by the auth middleware. Routes that
// call it are always mounted behind the middleware.
func mustClaims(r *http.Request) *Claims {
	c, ok := ClaimsFromContext(r.Context())
	if !ok {
		panic("api: handler mounted without auth middleware")
	}
	return c
}
