package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/geo"
	"github.com/hut8/soar-sub007/pkg/logger"
)

// Config tunes the flight state engine
type Config struct {
	Thresholds

	// StalenessWindow is the maximum gap between fixes before an active
	// flight is considered lost
	StalenessWindow time.Duration
	// SweepInterval is how often the timeout sweep runs
	SweepInterval time.Duration
	// StateEviction drops per-aircraft state after this much silence
	StateEviction time.Duration

	// GapSplit splits a flight when fixes resume after a long gap but the
	// aircraft has not traveled anywhere near as far as its last known
	// speed implies (it landed, sat, and relaunched out of coverage)
	GapSplit            time.Duration
	GapDistanceFraction float64

	// DuplicateWindow drops fixes arriving within this interval of the
	// previous one for the same aircraft
	DuplicateWindow time.Duration

	// TowVicinityM and TowReleaseFpm drive tow pairing and release
	TowVicinityM  float64
	TowReleaseFpm float64

	// RunwayEventWindow is how far around a takeoff/landing the ground
	// track is averaged for runway matching
	RunwayEventWindow time.Duration
	// AirportMaxDistM bounds departure/arrival attribution
	AirportMaxDistM float64
}

// DefaultConfig returns the engine's tuned defaults
func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		StalenessWindow:     20 * time.Minute,
		SweepInterval:       time.Minute,
		StateEviction:       18 * time.Hour,
		GapSplit:            30 * time.Minute,
		GapDistanceFraction: 0.3,
		DuplicateWindow:     time.Second,
		TowVicinityM:        500,
		TowReleaseFpm:       100,
		RunwayEventWindow:   20 * time.Second,
		AirportMaxDistM:     10000,
	}
}

// FlightStore is the persistence collaborator. Finalize is called exactly
// once per flight, on the transition to a terminal state.
type FlightStore interface {
	UpsertFlight(f *fix.Flight) error
	FinalizeFlight(f *fix.Flight) error
}

// livePosition is the cross-aircraft snapshot used by tow pairing; it is
// read without touching another aircraft's state lock
type livePosition struct {
	lat      float64
	lon      float64
	altMSLFt *float64
	climbFpm *float64
	flightID string
	device   string
	at       time.Time
}

// stateEntry pairs an aircraft state with its processing lock. The lock is
// the single-owner mechanism: whoever holds it is the only writer for that
// aircraft.
type stateEntry struct {
	mu sync.Mutex
	st *aircraftState
}

// Service is the flight state engine: one state machine per tracked
// aircraft, consuming ordered fixes and emitting lifecycle events.
type Service struct {
	cfg      Config
	store    FlightStore
	runways  *geo.RunwayDB
	airports *geo.AirportDB
	publish  func(fix.Event)
	logger   *logger.Logger
	now      func() time.Time

	statesMu sync.RWMutex
	states   map[string]*stateEntry

	liveMu sync.RWMutex
	live   map[string]livePosition

	cancel chan struct{}
	done   chan struct{}
}

// NewService creates the engine. runways and airports may be nil; runway
// idents and altitude offsets then degrade to unknown.
func NewService(cfg Config, store FlightStore, runways *geo.RunwayDB, airports *geo.AirportDB, publish func(fix.Event), log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		runways:  runways,
		airports: airports,
		publish:  publish,
		logger:   log.Named("tracker"),
		now:      time.Now,
		states:   make(map[string]*stateEntry),
		live:     make(map[string]livePosition),
	}
}

// entry returns the state entry for a device, creating it on first sight
func (s *Service) entry(device string) *stateEntry {
	s.statesMu.RLock()
	e, ok := s.states[device]
	s.statesMu.RUnlock()
	if ok {
		return e
	}

	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	if e, ok = s.states[device]; ok {
		return e
	}
	e = &stateEntry{st: &aircraftState{device: device}}
	s.states[device] = e
	return e
}

// ProcessFix runs one state transition. Fixes for the same aircraft are
// serialized on the per-aircraft lock; fixes for different aircraft run
// concurrently.
func (s *Service) ProcessFix(f *fix.Fix) {
	e := s.entry(f.Device)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.st
	if f.AircraftType != fix.AircraftUnknown {
		st.aircraftType = f.AircraftType
	}
	st.source = f.Source

	if last := st.last(); last != nil {
		dt := f.Timestamp.Sub(last.at)
		if dt < 0 || (dt < s.cfg.DuplicateWindow && dt > -s.cfg.DuplicateWindow) {
			return
		}
	}

	s.fillAGL(f)
	active := s.cfg.isActive(f)
	cf := compactFix{
		at:       f.Timestamp,
		lat:      f.Latitude,
		lon:      f.Longitude,
		altMSLFt: f.AltitudeMSLFt,
		aglFt:    f.AltitudeAGLFt,
		speedKt:  f.GroundSpeedKt,
		trackDeg: f.TrackDeg,
		climbFpm: f.ClimbRateFpm,
		active:   active,
	}

	switch {
	case st.flight != nil && active:
		s.continueFlight(st, f, cf)
	case st.flight == nil && active:
		s.createFlight(st, f, cf)
	case st.flight != nil && !active:
		s.maybeLand(st, f, cf)
	default:
		// on the ground with no flight open
		st.push(cf)
		st.trackInactive(cf)
	}

	s.updateLive(st, f)
}

// fillAGL derives height above ground from the nearest known field
// elevation when the fix reports only MSL
func (s *Service) fillAGL(f *fix.Fix) {
	if f.AltitudeAGLFt != nil || f.AltitudeMSLFt == nil || s.airports == nil {
		return
	}
	airport := s.airports.Nearest(f.Latitude, f.Longitude, s.cfg.AirportMaxDistM)
	if airport == nil || !airport.HasElev {
		return
	}
	agl := *f.AltitudeMSLFt - airport.ElevationFt
	f.AltitudeAGLFt = &agl
}

// continueFlight handles an active fix for an aircraft with an open flight
func (s *Service) continueFlight(st *aircraftState, f *fix.Fix, cf compactFix) {
	flight := st.flight
	last := st.last()

	// gap split: a long silence after which the aircraft reappears far
	// short of where its speed would have carried it means it landed out
	// of coverage and launched again
	if last != nil {
		gap := cf.at.Sub(last.at)
		if gap > s.cfg.GapSplit && last.speedKt != nil && *last.speedKt > s.cfg.ActiveSpeedKt {
			expectedM := *last.speedKt * 0.514444 * gap.Seconds()
			actualM := geo.Haversine(last.lat, last.lon, cf.lat, cf.lon)
			if actualM < s.cfg.GapDistanceFraction*expectedM {
				s.timeOutFlight(st, last.at)
				s.createFlight(st, f, cf)
				return
			}
		}
	}

	if last != nil {
		inc, counts := geo.DistanceIncrement(last.lat, last.lon, last.at, cf.lat, cf.lon, cf.at)
		if counts {
			flight.TotalDistanceM += inc
		}
	}
	if disp := geo.Haversine(st.originLat, st.originLon, cf.lat, cf.lon); disp > flight.MaxDisplacementM {
		flight.MaxDisplacementM = disp
	}
	flight.LastFixAt = cf.at
	st.push(cf)
	st.trackInactive(cf)
	st.stats.observe(cf)
	flight.LastPhase = phase(st.climbRateFpm(60*time.Second, 5*time.Second), cf.altMSLFt)

	s.evaluateTowRelease(st, cf)

	if err := s.store.UpsertFlight(flight); err != nil {
		s.logger.Error("Failed to upsert flight", logger.Error(err),
			logger.String("flight", flight.ID))
	}
}

// createFlight opens a flight for a newly active aircraft
func (s *Service) createFlight(st *aircraftState, f *fix.Fix, cf compactFix) {
	now := s.now().UTC()
	flight := &fix.Flight{
		ID:           uuid.NewString(),
		Device:       st.device,
		AircraftType: st.aircraftType,
		State:        fix.FlightActive,
		LastFixAt:    cf.at,
		CreatedAt:    now,
	}

	tookOff := st.lastNInactive(s.cfg.TakeoffLookbackFixes) ||
		(cf.aglFt != nil && *cf.aglFt < s.cfg.LowAGLTakeoffFt)
	if tookOff {
		takeoff := cf.at
		flight.TakeoffTime = &takeoff
		s.captureTakeoff(st, flight, cf)
	} else {
		flight.FirstSeenAirborne = true
	}

	st.flight = flight
	st.originLat = cf.lat
	st.originLon = cf.lon
	st.stats = flightStats{}
	st.push(cf)
	st.trackInactive(cf)
	st.stats.observe(cf)

	s.logger.Info("Flight started",
		logger.String("device", st.device),
		logger.String("flight", flight.ID),
		logger.Bool("first_seen_airborne", flight.FirstSeenAirborne))

	if st.aircraftType == fix.AircraftGlider {
		s.pairTow(st, cf)
	}

	if err := s.store.UpsertFlight(flight); err != nil {
		s.logger.Error("Failed to upsert flight", logger.Error(err),
			logger.String("flight", flight.ID))
	}
	s.publish(fix.Event{
		Type:      fix.EventFlightStarted,
		Device:    st.device,
		Timestamp: cf.at,
		Latitude:  cf.lat,
		Longitude: cf.lon,
		Flight:    flight,
	})
}

// maybeLand handles an inactive fix for an aircraft with an open flight
func (s *Service) maybeLand(st *aircraftState, f *fix.Fix, cf compactFix) {
	// a transponder ground flag is authoritative
	if f.OnGround != nil && *f.OnGround {
		st.push(cf)
		st.trackInactive(cf)
		s.completeFlight(st, cf.at, cf)
		return
	}

	st.push(cf)
	st.trackInactive(cf)
	st.flight.LastFixAt = cf.at

	if st.inactiveRun >= s.cfg.LandingDebounceFixes {
		landing := *st.inactiveRunStart
		s.completeFlight(st, landing.at, landing)
		return
	}

	if err := s.store.UpsertFlight(st.flight); err != nil {
		s.logger.Error("Failed to upsert flight", logger.Error(err),
			logger.String("flight", st.flight.ID))
	}
}

// updateLive refreshes the cross-aircraft snapshot used by tow pairing
func (s *Service) updateLive(st *aircraftState, f *fix.Fix) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	lp := livePosition{
		lat:      f.Latitude,
		lon:      f.Longitude,
		altMSLFt: f.AltitudeMSLFt,
		climbFpm: f.ClimbRateFpm,
		device:   st.device,
		at:       f.Timestamp,
	}
	if st.flight != nil {
		lp.flightID = st.flight.ID
	}
	s.live[st.device] = lp
}

// LiveAircraft returns the latest position for one aircraft, if it is
// currently tracked
func (s *Service) LiveAircraft(device string) (fix.Fix, bool) {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	lp, ok := s.live[device]
	if !ok {
		return fix.Fix{}, false
	}
	return fix.Fix{
		Device:        lp.device,
		Timestamp:     lp.at,
		Latitude:      lp.lat,
		Longitude:     lp.lon,
		AltitudeMSLFt: lp.altMSLFt,
		ClimbRateFpm:  lp.climbFpm,
	}, true
}

// Snapshot returns the current live positions for the API layer
func (s *Service) Snapshot() []fix.Fix {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	out := make([]fix.Fix, 0, len(s.live))
	for _, lp := range s.live {
		out = append(out, fix.Fix{
			Device:        lp.device,
			Timestamp:     lp.at,
			Latitude:      lp.lat,
			Longitude:     lp.lon,
			AltitudeMSLFt: lp.altMSLFt,
			ClimbRateFpm:  lp.climbFpm,
		})
	}
	return out
}
