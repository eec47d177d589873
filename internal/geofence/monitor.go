package geofence

import (
	"sync"
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/pkg/logger"
)

// ExitHandler receives each confirmed inside-to-outside crossing
type ExitHandler func(event fix.Event)

// Monitor evaluates accepted fixes against the configured geofences and
// fires exit events with hysteresis: after an exit the aircraft must
// re-enter before another exit can fire for the same pair, so orbiting on
// the boundary cannot flap alerts.
type Monitor struct {
	mu        sync.Mutex
	geofences []Geofence
	// device -> geofence id -> wasInside
	inside   map[string]map[string]bool
	lastSeen map[string]time.Time

	onExit ExitHandler
	logger *logger.Logger
}

// NewMonitor creates a monitor over a definition set
func NewMonitor(geofences []Geofence, onExit ExitHandler, log *logger.Logger) *Monitor {
	return &Monitor{
		geofences: geofences,
		inside:    make(map[string]map[string]bool),
		lastSeen:  make(map[string]time.Time),
		onExit:    onExit,
		logger:    log.Named("geofence"),
	}
}

// SetDefinitions replaces the definition set. Hysteresis state for removed
// geofences is dropped lazily on the next evaluation.
func (m *Monitor) SetDefinitions(geofences []Geofence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geofences = geofences
}

// Evaluate tests one fix against every geofence. Indeterminate results
// (missing altitude, no layer at altitude) leave the armed state unchanged.
func (m *Monitor) Evaluate(f *fix.Fix) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := m.inside[f.Device]
	if states == nil {
		states = make(map[string]bool)
		m.inside[f.Device] = states
	}
	m.lastSeen[f.Device] = f.Timestamp

	for i := range m.geofences {
		g := &m.geofences[i]
		result := g.Evaluate(f.Latitude, f.Longitude, f.AltitudeMSLFt)

		switch result {
		case Inside:
			states[g.ID] = true
		case Outside:
			if states[g.ID] {
				states[g.ID] = false
				m.logger.Info("Geofence exit",
					logger.String("device", f.Device),
					logger.String("geofence", g.ID))
				m.onExit(fix.Event{
					Type:       fix.EventGeofenceExit,
					Device:     f.Device,
					Timestamp:  f.Timestamp,
					Latitude:   f.Latitude,
					Longitude:  f.Longitude,
					Fix:        f,
					GeofenceID: g.ID,
				})
			}
		case NoLayerAtAltitude, MissingAltitude:
			// indeterminate, keep the armed state
		}
	}
}

// Evict drops hysteresis state for aircraft silent since the cutoff
func (m *Monitor) Evict(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for device, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			delete(m.lastSeen, device)
			delete(m.inside, device)
		}
	}
}
