package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hut8/soar-sub007/internal/config"
	"github.com/hut8/soar-sub007/internal/geofence"
	"github.com/hut8/soar-sub007/internal/storage/sqlite"
	"github.com/hut8/soar-sub007/internal/tracker"
	"github.com/hut8/soar-sub007/internal/websocket"
	"github.com/hut8/soar-sub007/pkg/logger"
)

// NewRouter builds the HTTP router with all API routes
func NewRouter(
	trk *tracker.Service,
	storage *sqlite.Storage,
	geofences []geofence.Geofence,
	wsServer *websocket.Server,
	cfg *config.Config,
	log *logger.Logger,
) chi.Router {
	handler := NewHandler(trk, storage, geofences, wsServer, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowedOrigins := cfg.Server.CORSAllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.GetHealth)
		r.Get("/aircraft", handler.GetAircraft)
		r.Get("/aircraft/{id}", handler.GetAircraftByID)
		r.Get("/flights", handler.GetFlights)
		r.Get("/flights/{id}", handler.GetFlightByID)
		r.Get("/flights/{id}/track", handler.GetFlightTrack)
		r.Get("/receivers", handler.GetReceivers)
		r.Get("/geofences", handler.GetGeofences)
		r.Get("/ws", handler.HandleWebSocket)
	})

	return r
}
