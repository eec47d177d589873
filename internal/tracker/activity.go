package tracker

import "github.com/hut8/soar-sub007/internal/fix"

// Thresholds are the operationally tuned constants of the state machine
type Thresholds struct {
	// ActiveSpeedKt is the ground speed above which a fix with altitude
	// data counts as airborne
	ActiveSpeedKt float64
	// ActiveAGLFt is the height above ground above which a fix counts as
	// airborne regardless of speed
	ActiveAGLFt float64
	// NoAltitudeSpeedKt is the speed cutoff when no height above ground is
	// known; set high so fast ground operations (aerotow ground rolls) do
	// not trip it
	NoAltitudeSpeedKt float64
	// LowAGLTakeoffFt treats a newly active aircraft still below this
	// height as freshly departed rather than first seen airborne
	LowAGLTakeoffFt float64
	// TakeoffLookbackFixes is how many consecutive inactive fixes before
	// an active one confirm a ground-to-air transition
	TakeoffLookbackFixes int
	// LandingDebounceFixes is how many consecutive inactive fixes confirm
	// a landing, rejecting touch-and-go bounces
	LandingDebounceFixes int
}

// DefaultThresholds are the values the system is tuned with
func DefaultThresholds() Thresholds {
	return Thresholds{
		ActiveSpeedKt:        25,
		ActiveAGLFt:          250,
		NoAltitudeSpeedKt:    80,
		LowAGLTakeoffFt:      100,
		TakeoffLookbackFixes: 3,
		LandingDebounceFixes: 5,
	}
}

// isActive decides whether a fix shows airborne-characteristic telemetry.
// With height above ground available, speed or height suffices; without
// it, only clearly-flying speeds count.
func (t Thresholds) isActive(f *fix.Fix) bool {
	if f.OnGround != nil && *f.OnGround {
		return false
	}
	if f.AltitudeAGLFt != nil {
		if *f.AltitudeAGLFt >= t.ActiveAGLFt {
			return true
		}
		return f.GroundSpeedKt != nil && *f.GroundSpeedKt >= t.ActiveSpeedKt
	}
	return f.GroundSpeedKt != nil && *f.GroundSpeedKt >= t.NoAltitudeSpeedKt
}
