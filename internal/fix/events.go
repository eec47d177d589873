package fix

import "time"

// EventType classifies messages published on the outbound event bus
type EventType string

const (
	EventFixAccepted     EventType = "fix"
	EventFlightStarted   EventType = "flight_started"
	EventTowPaired       EventType = "tow_paired"
	EventTowReleased     EventType = "tow_released"
	EventFlightCompleted EventType = "flight_completed"
	EventFlightTimedOut  EventType = "flight_timed_out"
	EventGeofenceExit    EventType = "geofence_exit"
)

// Event is one message on the outbound bus. Either Fix or Flight is set
// depending on the event type; position fields are always populated so
// geographic routing never needs to dereference the payload.
type Event struct {
	Type       EventType `json:"type"`
	Device     string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Fix        *Fix      `json:"fix,omitempty"`
	Flight     *Flight   `json:"flight,omitempty"`
	GeofenceID string    `json:"geofence_id,omitempty"`
}
