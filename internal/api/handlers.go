package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/geofence"
	"github.com/hut8/soar-sub007/internal/storage/sqlite"
	"github.com/hut8/soar-sub007/internal/tracker"
	"github.com/hut8/soar-sub007/internal/websocket"
	"github.com/hut8/soar-sub007/pkg/logger"
)

const (
	defaultFlightLimit = 200
	maxFlightLimit     = 1000
	defaultTrackLimit  = 5000
)

// Handler contains the API handlers
type Handler struct {
	tracker   *tracker.Service
	storage   *sqlite.Storage
	geofences []geofence.Geofence
	wsServer  *websocket.Server
	logger    *logger.Logger
	startedAt time.Time
}

// NewHandler creates a new API handler
func NewHandler(trk *tracker.Service, storage *sqlite.Storage, geofences []geofence.Geofence, wsServer *websocket.Server, log *logger.Logger) *Handler {
	return &Handler{
		tracker:   trk,
		storage:   storage,
		geofences: geofences,
		wsServer:  wsServer,
		logger:    log.Named("api-handler"),
		startedAt: time.Now().UTC(),
	}
}

// GetHealth returns process health and live aircraft count
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"aircraft_count": len(h.tracker.Snapshot()),
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetAircraft returns the latest known position of every live aircraft
func (h *Handler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(snapshot),
		"aircraft": snapshot,
	})
}

// GetAircraftByID returns the latest known position of one live aircraft
func (h *Handler) GetAircraftByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	position, ok := h.tracker.LiveAircraft(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "aircraft not tracked")
		return
	}
	WriteJSON(w, http.StatusOK, position)
}

// GetFlights returns recent flights, optionally filtered by aircraft
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultFlightLimit, maxFlightLimit)

	var flights []*fix.Flight
	var err error
	if device := r.URL.Query().Get("device"); device != "" {
		flights, err = h.storage.GetFlightsByDevice(device, limit)
	} else if state := r.URL.Query().Get("state"); state != "" {
		if state != string(fix.FlightActive) {
			WriteError(w, http.StatusBadRequest, "unsupported state filter, want active")
			return
		}
		flights, err = h.storage.GetActiveFlights(limit)
	} else {
		since := time.Now().UTC().Add(-24 * time.Hour)
		if raw := r.URL.Query().Get("since"); raw != "" {
			parsed, parseErr := time.Parse(time.RFC3339, raw)
			if parseErr != nil {
				WriteError(w, http.StatusBadRequest, "invalid since parameter, want RFC3339")
				return
			}
			since = parsed
		}
		flights, err = h.storage.GetRecentFlights(since, limit)
	}
	if err != nil {
		h.logger.Error("Failed to query flights", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to query flights")
		return
	}
	if flights == nil {
		flights = []*fix.Flight{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(flights),
		"flights": flights,
	})
}

// GetFlightByID returns one flight
func (h *Handler) GetFlightByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flight, err := h.storage.GetFlight(id)
	if err != nil {
		h.logger.Error("Failed to query flight", logger.Error(err), logger.String("id", id))
		WriteError(w, http.StatusInternalServerError, "failed to query flight")
		return
	}
	if flight == nil {
		WriteError(w, http.StatusNotFound, "flight not found")
		return
	}
	WriteJSON(w, http.StatusOK, flight)
}

// GetFlightTrack returns the fixes spanning one flight
func (h *Handler) GetFlightTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseLimit(r, defaultTrackLimit, defaultTrackLimit)

	fixes, err := h.storage.GetFlightTrack(id, limit)
	if err != nil {
		h.logger.Error("Failed to query flight track", logger.Error(err), logger.String("id", id))
		WriteError(w, http.StatusInternalServerError, "failed to query flight track")
		return
	}
	if fixes == nil {
		WriteError(w, http.StatusNotFound, "flight not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"flight_id": id,
		"count":     len(fixes),
		"fixes":     fixes,
	})
}

// GetReceivers returns all known receivers
func (h *Handler) GetReceivers(w http.ResponseWriter, r *http.Request) {
	receivers, err := h.storage.GetReceivers()
	if err != nil {
		h.logger.Error("Failed to query receivers", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to query receivers")
		return
	}
	if receivers == nil {
		receivers = []*sqlite.Receiver{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(receivers),
		"receivers": receivers,
	})
}

// GetGeofences returns the configured geofence definitions
func (h *Handler) GetGeofences(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(h.geofences),
		"geofences": h.geofences,
	})
}

// HandleWebSocket upgrades the connection and hands it to the fan-out server
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.HandleConnection(w, r)
}

func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
