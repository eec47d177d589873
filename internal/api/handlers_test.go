package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hut8/soar-sub007/internal/config"
	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/storage/sqlite"
	"github.com/hut8/soar-sub007/internal/tracker"
	"github.com/hut8/soar-sub007/internal/websocket"
	"github.com/hut8/soar-sub007/pkg/logger"
)

type testAPI struct {
	router  http.Handler
	storage *sqlite.Storage
	tracker *tracker.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.NewNop()
	storage, err := sqlite.NewStorage(filepath.Join(t.TempDir(), "api.db"), log)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	trk := tracker.NewService(tracker.DefaultConfig(), storage, nil, nil, func(fix.Event) {}, log)
	ws := websocket.NewServer(log)
	router := NewRouter(trk, storage, nil, ws, &config.Config{}, log)
	return &testAPI{router: router, storage: storage, tracker: trk}
}

func (a *testAPI) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec, body := a.get(t, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if _, ok := body["aircraft_count"]; !ok {
		t.Error("missing aircraft_count field")
	}
}

func TestFlightsEmpty(t *testing.T) {
	a := newTestAPI(t)
	rec, body := a.get(t, "/api/v1/flights")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["count"] != float64(0) {
		t.Errorf("count = %v, want 0", body["count"])
	}
}

func TestFlightNotFound(t *testing.T) {
	a := newTestAPI(t)
	rec, _ := a.get(t, "/api/v1/flights/no-such-flight")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFlightByID(t *testing.T) {
	a := newTestAPI(t)
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	flight := &fix.Flight{
		ID:           "f-1",
		Device:       "FLR-DF0A52",
		AircraftType: fix.AircraftGlider,
		State:        fix.FlightActive,
		LastFixAt:    now,
		CreatedAt:    now,
	}
	if err := a.storage.UpsertFlight(flight); err != nil {
		t.Fatalf("UpsertFlight: %v", err)
	}

	rec, body := a.get(t, "/api/v1/flights/f-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["id"] != "f-1" {
		t.Errorf("id = %v, want f-1", body["id"])
	}
	if body["device_id"] != "FLR-DF0A52" {
		t.Errorf("device_id = %v, want FLR-DF0A52", body["device_id"])
	}

	rec, body = a.get(t, "/api/v1/flights?state=active")
	if rec.Code != http.StatusOK {
		t.Fatalf("state filter status = %d, want 200", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("active flight count = %v, want 1", body["count"])
	}
}

func TestFlightStateFilterRejectsUnknown(t *testing.T) {
	a := newTestAPI(t)
	rec, _ := a.get(t, "/api/v1/flights?state=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAircraftNotTracked(t *testing.T) {
	a := newTestAPI(t)
	rec, _ := a.get(t, "/api/v1/aircraft/FLR-000000")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAircraftLive(t *testing.T) {
	a := newTestAPI(t)
	device, err := fix.ParseDeviceID("FLR-DF0A52")
	if err != nil {
		t.Fatalf("ParseDeviceID: %v", err)
	}
	speed := 60.0
	agl := 1500.0
	a.tracker.ProcessFix(&fix.Fix{
		ID:            "fx-1",
		DeviceID:      device,
		Device:        "FLR-DF0A52",
		AircraftType:  fix.AircraftGlider,
		Timestamp:     time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
		Latitude:      46.9,
		Longitude:     7.5,
		GroundSpeedKt: &speed,
		AltitudeAGLFt: &agl,
		Source:        fix.SourceAPRS,
	})

	rec, body := a.get(t, "/api/v1/aircraft")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}

	rec, body = a.get(t, "/api/v1/aircraft/FLR-DF0A52")
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d, want 200", rec.Code)
	}
	if body["device_id"] != "FLR-DF0A52" {
		t.Errorf("device_id = %v, want FLR-DF0A52", body["device_id"])
	}
}
