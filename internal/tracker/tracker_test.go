package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/pkg/logger"
)

type fakeStore struct {
	mu        sync.Mutex
	upserts   int
	finalized []*fix.Flight
}

func (s *fakeStore) UpsertFlight(f *fix.Flight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	return nil
}

func (s *fakeStore) FinalizeFlight(f *fix.Flight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *f
	s.finalized = append(s.finalized, &copied)
	return nil
}

type eventCollector struct {
	mu     sync.Mutex
	events []fix.Event
}

func (c *eventCollector) publish(e fix.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) ofType(t fix.EventType) []fix.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []fix.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestService() (*Service, *fakeStore, *eventCollector) {
	store := &fakeStore{}
	events := &eventCollector{}
	svc := NewService(DefaultConfig(), store, nil, nil, events.publish, logger.NewNop())
	return svc, store, events
}

var t0 = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

// mkFix builds an APRS-style fix offset sec seconds from t0
func mkFix(device string, sec int, lat, lon float64, speedKt, aglFt, mslFt float64) *fix.Fix {
	return &fix.Fix{
		Device:        device,
		AircraftType:  fix.AircraftGlider,
		Timestamp:     t0.Add(time.Duration(sec) * time.Second),
		Latitude:      lat,
		Longitude:     lon,
		GroundSpeedKt: ptr(speedKt),
		AltitudeAGLFt: ptr(aglFt),
		AltitudeMSLFt: ptr(mslFt),
		Source:        fix.SourceAPRS,
	}
}

// TestFullFlightScenario drives ground -> climb -> cruise -> descent ->
// landed and expects one Complete flight with takeoff at the first active
// fix and landing at the first fix of the stationary run.
func TestFullFlightScenario(t *testing.T) {
	svc, store, events := newTestService()
	const dev = "FLR-DF0A52"

	svc.ProcessFix(mkFix(dev, 0, 46.000, 7.000, 0, 0, 1400))
	svc.ProcessFix(mkFix(dev, 10, 46.001, 7.000, 35, 50, 1450)) // takeoff
	svc.ProcessFix(mkFix(dev, 600, 46.050, 7.050, 60, 3100, 4500))
	svc.ProcessFix(mkFix(dev, 1200, 46.010, 7.010, 45, 400, 1800))
	// stationary on the ground; debounce needs five consecutive inactive fixes
	for i := 0; i < 5; i++ {
		svc.ProcessFix(mkFix(dev, 1210+i*10, 46.000, 7.000, 0, 0, 1400))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 1 {
		t.Fatalf("finalized flights = %d, want 1", len(store.finalized))
	}
	flight := store.finalized[0]

	if flight.State != fix.FlightComplete {
		t.Errorf("State = %v, want complete", flight.State)
	}
	if flight.TakeoffTime == nil || !flight.TakeoffTime.Equal(t0.Add(10*time.Second)) {
		t.Errorf("TakeoffTime = %v, want t0+10s", flight.TakeoffTime)
	}
	if flight.LandingTime == nil || !flight.LandingTime.Equal(t0.Add(1210*time.Second)) {
		t.Errorf("LandingTime = %v, want t0+1210s", flight.LandingTime)
	}
	if flight.LandingTime != nil && flight.TakeoffTime != nil &&
		!flight.LandingTime.After(*flight.TakeoffTime) {
		t.Error("LandingTime not after TakeoffTime")
	}
	if flight.TimedOutAt != nil {
		t.Errorf("TimedOutAt = %v, want nil", flight.TimedOutAt)
	}
	if flight.FirstSeenAirborne {
		t.Error("FirstSeenAirborne = true for an observed takeoff")
	}

	if got := len(events.ofType(fix.EventFlightStarted)); got != 1 {
		t.Errorf("flight_started events = %d, want 1", got)
	}
	if got := len(events.ofType(fix.EventFlightCompleted)); got != 1 {
		t.Errorf("flight_completed events = %d, want 1", got)
	}
}

// TestTakeoffAfterGroundLookback confirms the ground-to-air transition via
// the inactive-lookback path rather than the low-AGL path.
func TestTakeoffAfterGroundLookback(t *testing.T) {
	svc, store, _ := newTestService()
	const dev = "FLR-AAAAAA"

	for i := 0; i < 3; i++ {
		svc.ProcessFix(mkFix(dev, i*10, 46.0, 7.0, 0, 0, 1400))
	}
	// first active fix already above the low-AGL cutoff
	svc.ProcessFix(mkFix(dev, 30, 46.001, 7.0, 40, 150, 1550))

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.upserts == 0 {
		t.Fatal("no flight created")
	}

	svc.statesMu.RLock()
	st := svc.states[dev].st
	svc.statesMu.RUnlock()
	if st.flight == nil {
		t.Fatal("no open flight")
	}
	if st.flight.TakeoffTime == nil {
		t.Error("TakeoffTime = nil, want the first active fix time")
	}
	if st.flight.FirstSeenAirborne {
		t.Error("FirstSeenAirborne = true despite observed ground phase")
	}
}

// TestFirstSeenAirborne covers an aircraft entering coverage at altitude
func TestFirstSeenAirborne(t *testing.T) {
	svc, _, events := newTestService()
	svc.ProcessFix(mkFix("FLR-BBBBBB", 0, 46.0, 7.0, 60, 3000, 4500))

	started := events.ofType(fix.EventFlightStarted)
	if len(started) != 1 {
		t.Fatalf("flight_started events = %d, want 1", len(started))
	}
	flight := started[0].Flight
	if !flight.FirstSeenAirborne {
		t.Error("FirstSeenAirborne = false")
	}
	if flight.TakeoffTime != nil {
		t.Errorf("TakeoffTime = %v, want nil", flight.TakeoffTime)
	}
}

// TestTimeoutSweep drives the staleness property: fixes cease mid-flight
// without a landing signature.
func TestTimeoutSweep(t *testing.T) {
	svc, store, events := newTestService()
	const dev = "ICA-4B43D1"

	svc.ProcessFix(mkFix(dev, 0, 46.0, 7.0, 60, 3000, 4500))
	svc.Sweep(t0.Add(21 * time.Minute))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 1 {
		t.Fatalf("finalized flights = %d, want 1", len(store.finalized))
	}
	flight := store.finalized[0]
	if flight.State != fix.FlightTimedOut {
		t.Errorf("State = %v, want timed_out", flight.State)
	}
	if flight.LandingTime != nil {
		t.Errorf("LandingTime = %v, want nil", flight.LandingTime)
	}
	if flight.TimedOutAt == nil {
		t.Error("TimedOutAt = nil")
	}
	if got := len(events.ofType(fix.EventFlightTimedOut)); got != 1 {
		t.Errorf("flight_timed_out events = %d, want 1", got)
	}
}

// TestSweepBeforeStalenessDoesNothing guards against premature timeouts
func TestSweepBeforeStalenessDoesNothing(t *testing.T) {
	svc, store, _ := newTestService()
	svc.ProcessFix(mkFix("ICA-4B43D1", 0, 46.0, 7.0, 60, 3000, 4500))
	svc.Sweep(t0.Add(10 * time.Minute))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 0 {
		t.Errorf("finalized flights = %d, want 0", len(store.finalized))
	}
}

// TestMaxDisplacementMonotone: the running maximum never decreases, even as
// the aircraft returns toward the takeoff point.
func TestMaxDisplacementMonotone(t *testing.T) {
	svc, _, _ := newTestService()
	const dev = "FLR-CCCCCC"

	svc.ProcessFix(mkFix(dev, 0, 46.0, 7.0, 0, 0, 1400))
	svc.ProcessFix(mkFix(dev, 10, 46.0, 7.0, 35, 50, 1450))

	var lastDisp float64
	outAndBack := []struct {
		sec      int
		lat, lon float64
	}{
		{60, 46.01, 7.0},
		{120, 46.05, 7.0},
		{180, 46.10, 7.0}, // farthest
		{240, 46.05, 7.0},
		{300, 46.01, 7.0},
	}
	svc.statesMu.RLock()
	st := svc.states[dev].st
	svc.statesMu.RUnlock()

	var maxSeen float64
	for _, p := range outAndBack {
		svc.ProcessFix(mkFix(dev, p.sec, p.lat, p.lon, 60, 3000, 4500))
		disp := st.flight.MaxDisplacementM
		if disp < lastDisp {
			t.Errorf("displacement decreased: %.0f -> %.0f at t+%ds", lastDisp, disp, p.sec)
		}
		lastDisp = disp
		if disp > maxSeen {
			maxSeen = disp
		}
	}

	// ~0.10 degrees of latitude from the origin
	if maxSeen < 11000 || maxSeen > 12000 {
		t.Errorf("max displacement = %.0f m, want ~11120", maxSeen)
	}
}

// TestDuplicateAndOutOfOrderDiscarded covers the per-aircraft ordering
// guarantee: near-duplicate timestamps and regressions do not thrash state.
func TestDuplicateAndOutOfOrderDiscarded(t *testing.T) {
	svc, _, _ := newTestService()
	const dev = "FLR-DDDDDD"

	svc.ProcessFix(mkFix(dev, 0, 46.0, 7.0, 0, 0, 1400))
	svc.ProcessFix(mkFix(dev, 10, 46.001, 7.0, 35, 50, 1450))

	svc.statesMu.RLock()
	st := svc.states[dev].st
	svc.statesMu.RUnlock()
	buffered := len(st.recent)

	// same second: duplicate
	svc.ProcessFix(mkFix(dev, 10, 46.002, 7.0, 36, 60, 1460))
	// timestamp regression
	svc.ProcessFix(mkFix(dev, 5, 46.000, 7.0, 20, 10, 1410))

	if len(st.recent) != buffered {
		t.Errorf("buffer grew to %d on duplicate/stale fixes, want %d", len(st.recent), buffered)
	}
}

// TestSpuriousShortHop: a seconds-long "flight" with no altitude change is
// finalized but not published as completed.
func TestSpuriousShortHop(t *testing.T) {
	svc, store, events := newTestService()
	const dev = "FLR-EEEEEE"

	svc.ProcessFix(mkFix(dev, 0, 46.0, 7.0, 0, 0, 1400))
	svc.ProcessFix(mkFix(dev, 10, 46.0001, 7.0, 30, 40, 1410))
	for i := 0; i < 5; i++ {
		svc.ProcessFix(mkFix(dev, 20+i*10, 46.0, 7.0, 0, 0, 1400))
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 1 {
		t.Fatalf("finalized flights = %d, want 1", len(store.finalized))
	}
	flight := store.finalized[0]
	if !flight.Spurious {
		t.Error("Spurious = false for a 10-second hop")
	}
	if got := len(events.ofType(fix.EventFlightCompleted)); got != 0 {
		t.Errorf("flight_completed events = %d for spurious flight, want 0", got)
	}
}

func mkBeastFix(device string, sec int, lat, lon float64, speedKt, aglFt, mslFt float64, onGround bool) *fix.Fix {
	return &fix.Fix{
		Device:        device,
		AircraftType:  fix.AircraftPoweredAircraft,
		Timestamp:     t0.Add(time.Duration(sec) * time.Second),
		Latitude:      lat,
		Longitude:     lon,
		GroundSpeedKt: ptr(speedKt),
		AltitudeAGLFt: ptr(aglFt),
		AltitudeMSLFt: ptr(mslFt),
		OnGround:      &onGround,
		Source:        fix.SourceBeast,
	}
}

// TestShortTransponderCircuitNotSpurious: a one-minute pattern circuit from
// a transponder source fails every duration/displacement heuristic, but the
// ground flag confirmed the landing, so only the corruption checks apply.
func TestShortTransponderCircuitNotSpurious(t *testing.T) {
	svc, store, events := newTestService()
	const dev = "ICA-4B1234"

	for i := 0; i < 3; i++ {
		svc.ProcessFix(mkBeastFix(dev, i*10, 46.0, 7.0, 5, 0, 1400, true))
	}
	svc.ProcessFix(mkBeastFix(dev, 30, 46.0005, 7.0, 80, 400, 1800, false))
	svc.ProcessFix(mkBeastFix(dev, 50, 46.0010, 7.001, 80, 500, 1900, false))
	svc.ProcessFix(mkBeastFix(dev, 70, 46.0005, 7.002, 80, 300, 1700, false))
	svc.ProcessFix(mkBeastFix(dev, 90, 46.0, 7.0, 10, 0, 1400, true))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 1 {
		t.Fatalf("finalized flights = %d, want 1", len(store.finalized))
	}
	flight := store.finalized[0]
	if flight.Spurious {
		t.Errorf("Spurious = true for a transponder-confirmed circuit (%s)", flight.SpuriousReason)
	}
	if flight.State != fix.FlightComplete {
		t.Errorf("State = %s, want complete", flight.State)
	}
	if got := len(events.ofType(fix.EventFlightCompleted)); got != 1 {
		t.Errorf("flight_completed events = %d, want 1", got)
	}
}

// TestGapSplit: after a long silence the aircraft reappears near where it
// vanished despite a high last known speed; the old flight times out and a
// new one opens.
func TestGapSplit(t *testing.T) {
	svc, store, _ := newTestService()
	const dev = "FLR-FFFFFF"

	svc.ProcessFix(mkFix(dev, 0, 46.0, 7.0, 60, 3000, 4500))
	// 40 minutes later, barely moved
	svc.ProcessFix(mkFix(dev, 2400, 46.002, 7.0, 60, 3000, 4500))

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.finalized) != 1 {
		t.Fatalf("finalized flights = %d, want 1", len(store.finalized))
	}
	if store.finalized[0].State != fix.FlightTimedOut {
		t.Errorf("split flight state = %v, want timed_out", store.finalized[0].State)
	}

	svc.statesMu.RLock()
	st := svc.states[dev].st
	svc.statesMu.RUnlock()
	if st.flight == nil {
		t.Fatal("no new flight opened after split")
	}
	if st.flight.ID == store.finalized[0].ID {
		t.Error("flight not split")
	}
}

// TestTowPairingAndRelease: a tow plane flying from the same field is
// paired at the glider's launch and released when their climb rates
// diverge.
func TestTowPairingAndRelease(t *testing.T) {
	svc, _, events := newTestService()
	const towPlane = "OGN-111111"
	const glider = "FLR-222222"

	// tow plane already flying, adjacent to the launch point
	tow := mkFix(towPlane, 0, 46.0, 7.0, 60, 300, 1700)
	tow.AircraftType = fix.AircraftTowTug
	tow.ClimbRateFpm = ptr(400.0)
	svc.ProcessFix(tow)

	// glider lifts off ~100m away
	launch := mkFix(glider, 5, 46.0009, 7.0, 35, 50, 1450)
	launch.ClimbRateFpm = ptr(300.0)
	svc.ProcessFix(launch)

	paired := events.ofType(fix.EventTowPaired)
	if len(paired) != 1 {
		t.Fatalf("tow_paired events = %d, want 1", len(paired))
	}
	if paired[0].Flight.TowedByAircraft == nil || *paired[0].Flight.TowedByAircraft != towPlane {
		t.Fatalf("TowedByAircraft = %v, want %s", paired[0].Flight.TowedByAircraft, towPlane)
	}

	// tow plane dives away
	towDescend := mkFix(towPlane, 60, 46.010, 7.0, 80, 1500, 2900)
	towDescend.ClimbRateFpm = ptr(-500.0)
	svc.ProcessFix(towDescend)

	// glider climbs on its own
	free := mkFix(glider, 65, 46.009, 7.001, 55, 1600, 3000)
	free.ClimbRateFpm = ptr(400.0)
	svc.ProcessFix(free)

	released := events.ofType(fix.EventTowReleased)
	if len(released) != 1 {
		t.Fatalf("tow_released events = %d, want 1", len(released))
	}
	if released[0].Flight.TowReleaseTime == nil {
		t.Error("TowReleaseTime = nil after release")
	}
}

// TestConcurrentAircraftIndependent: fixes for many aircraft processed in
// parallel each produce exactly one flight.
func TestConcurrentAircraftIndependent(t *testing.T) {
	svc, _, events := newTestService()

	devices := []string{
		"FLR-000001", "FLR-000002", "FLR-000003", "FLR-000004",
		"FLR-000005", "FLR-000006", "FLR-000007", "FLR-000008",
	}
	var wg sync.WaitGroup
	for i, dev := range devices {
		wg.Add(1)
		go func(dev string, i int) {
			defer wg.Done()
			lat := 46.0 + float64(i)*0.5
			svc.ProcessFix(mkFix(dev, 0, lat, 7.0, 0, 0, 1400))
			svc.ProcessFix(mkFix(dev, 10, lat+0.001, 7.0, 40, 50, 1450))
			svc.ProcessFix(mkFix(dev, 60, lat+0.01, 7.0, 60, 3000, 4500))
		}(dev, i)
	}
	wg.Wait()

	started := events.ofType(fix.EventFlightStarted)
	if len(started) != len(devices) {
		t.Errorf("flight_started events = %d, want %d", len(started), len(devices))
	}
}
