package tracker

import (
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
)

// fixBufferSize is how many recent fixes each aircraft state retains for
// takeoff lookback, landing debounce and climb rate derivation
const fixBufferSize = 10

// compactFix is the slice of a Fix the state machine needs to keep
type compactFix struct {
	at       time.Time
	lat      float64
	lon      float64
	altMSLFt *float64
	aglFt    *float64
	speedKt  *float64
	trackDeg *float64
	climbFpm *float64
	active   bool
}

// aircraftState is the per-aircraft unit of the engine. All access is
// serialized by the per-aircraft mutex in the Service; nothing here locks.
type aircraftState struct {
	device       string
	aircraftType fix.AircraftType
	source       fix.Source

	// ring buffer of recent fixes, newest last
	recent []compactFix

	flight *fix.Flight
	// takeoff reference point for displacement tracking; set at flight
	// creation whether or not a takeoff was observed
	originLat float64
	originLon float64

	// landing debounce: first fix of the current uninterrupted inactive run
	inactiveRun      int
	inactiveRunStart *compactFix

	// per-flight telemetry extremes for spurious-flight detection
	stats flightStats

	lastFixAt time.Time
}

// flightStats tracks telemetry extremes over one flight
type flightStats struct {
	fixes      int
	maxSpeedKt float64
	minAltFt   float64
	maxAltFt   float64
	maxAGLFt   float64
	hasAlt     bool
	hasAGL     bool
}

func (fs *flightStats) observe(cf compactFix) {
	fs.fixes++
	if cf.speedKt != nil && *cf.speedKt > fs.maxSpeedKt {
		fs.maxSpeedKt = *cf.speedKt
	}
	if cf.altMSLFt != nil {
		if !fs.hasAlt || *cf.altMSLFt < fs.minAltFt {
			fs.minAltFt = *cf.altMSLFt
		}
		if !fs.hasAlt || *cf.altMSLFt > fs.maxAltFt {
			fs.maxAltFt = *cf.altMSLFt
		}
		fs.hasAlt = true
	}
	if cf.aglFt != nil {
		if !fs.hasAGL || *cf.aglFt > fs.maxAGLFt {
			fs.maxAGLFt = *cf.aglFt
		}
		fs.hasAGL = true
	}
}

// push appends a fix to the ring buffer, evicting the oldest beyond capacity
func (s *aircraftState) push(cf compactFix) {
	s.recent = append(s.recent, cf)
	if len(s.recent) > fixBufferSize {
		s.recent = s.recent[1:]
	}
	s.lastFixAt = cf.at
}

// last returns the newest buffered fix, or nil when empty
func (s *aircraftState) last() *compactFix {
	if len(s.recent) == 0 {
		return nil
	}
	return &s.recent[len(s.recent)-1]
}

// lastNInactive reports whether the newest n buffered fixes were all
// inactive. Called before the current active fix is pushed, so a true
// result means the aircraft was on the ground right up to this fix.
func (s *aircraftState) lastNInactive(n int) bool {
	if len(s.recent) < n {
		return false
	}
	for i := len(s.recent) - n; i < len(s.recent); i++ {
		if s.recent[i].active {
			return false
		}
	}
	return true
}

// trackInactive updates the landing debounce run with the newest fix
func (s *aircraftState) trackInactive(cf compactFix) {
	if cf.active {
		s.inactiveRun = 0
		s.inactiveRunStart = nil
		return
	}
	s.inactiveRun++
	if s.inactiveRunStart == nil {
		start := cf
		s.inactiveRunStart = &start
	}
}

// climbRateFpm derives a climb rate from buffered altitudes: the newest fix
// with altitude against the oldest one within the window, at least
// minSeparation apart. Falls back to the newest reported climb rate.
func (s *aircraftState) climbRateFpm(window, minSeparation time.Duration) *float64 {
	var newest, oldest *compactFix
	for i := len(s.recent) - 1; i >= 0; i-- {
		cf := &s.recent[i]
		if cf.altMSLFt == nil {
			continue
		}
		if newest == nil {
			newest = cf
			continue
		}
		if newest.at.Sub(cf.at) > window {
			break
		}
		if newest.at.Sub(cf.at) >= minSeparation {
			oldest = cf
		}
	}
	if newest != nil && oldest != nil {
		dt := newest.at.Sub(oldest.at).Seconds()
		fpm := (*newest.altMSLFt - *oldest.altMSLFt) / dt * 60
		return &fpm
	}
	if newest != nil && newest.climbFpm != nil {
		return newest.climbFpm
	}
	return nil
}

// phase maps a climb rate and altitude onto the coarse flight phase
func phase(climbFpm *float64, altMSLFt *float64) fix.FlightPhase {
	if climbFpm == nil {
		return fix.PhaseUnknown
	}
	switch {
	case *climbFpm > 300:
		return fix.PhaseClimbing
	case *climbFpm < -300:
		return fix.PhaseDescending
	case altMSLFt != nil && *altMSLFt > 10000 && *climbFpm > -500 && *climbFpm < 500:
		return fix.PhaseCruising
	default:
		return fix.PhaseUnknown
	}
}
