/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: Structured request log (zap)
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the companion frontend

ROUTE GROUPS:
  /api/health              Liveness
  /api/achievements        Catalog (public)
  /api/achievements/*      Caller's achievements (bearer token)
  /api/progress/*          Gameplay events (bearer token)
  /api/ws                  Unlock stream (token query parameter)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: JWT middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Auth           *Authenticator
	AllowedOrigins []string
	Log            *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	bearer := opts.Auth.Middleware(BearerToken)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Achievement routes
		r.Route("/achievements", func(r chi.Router) {
			r.Get("/", h.ListAchievements)
			r.Group(func(r chi.Router) {
				r.Use(bearer)
				r.Get("/mine", h.MyAchievements)
				r.Get("/stats", h.AchievementStats)
			})
		})

		// Progress routes
		r.Route("/progress", func(r chi.Router) {
			r.Use(bearer)
			r.Get("/", h.ListProgress)
			r.Get("/stats", h.OverallStats)
			r.Post("/start", h.StartGame)
			r.Post("/races", h.RecordRace)
			r.Get("/{gameId}", h.GetProgress)
			r.Put("/{gameId}", h.UpdateProgress)
			r.Post("/{gameId}/licenses", h.RecordLicense)
			r.Post("/{gameId}/cars", h.AddCar)
			r.Post("/{gameId}/track-records", h.RecordLap)
		})

		// Realtime
		if h.Streamer != nil {
			r.With(opts.Auth.Middleware(QueryToken)).Get("/ws", h.Stream)
		}
	})

	return r
}

// RequestLogger logs one line per request with zap.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
