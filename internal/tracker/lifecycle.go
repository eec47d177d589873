package tracker

import (
	"fmt"
	"math"
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/geo"
	"github.com/hut8/soar-sub007/pkg/logger"
)

// spurious-flight limits. APRS receivers occasionally emit corrupt
// telemetry; a "flight" failing these checks never left the ground or never
// physically happened.
const (
	spuriousMinDuration      = 120 * time.Second
	spuriousMinAltRangeFt    = 50.0
	spuriousMinMaxAGLFt      = 100.0
	spuriousMaxAltFt         = 100000.0
	spuriousMaxSpeedKt       = 868.976 // 1000 mph
	spuriousMinDisplacementM = 500.0
)

// completeFlight finalizes an open flight as landed. landing is the first
// fix of the confirmed inactive run, so bounce-and-settle sequences record
// the initial touchdown time.
func (s *Service) completeFlight(st *aircraftState, landingTime time.Time, landing compactFix) {
	flight := st.flight
	flight.State = fix.FlightComplete
	flight.LandingTime = &landingTime
	flight.LastFixAt = landingTime
	s.captureLanding(st, flight, landing)

	spurious, reason := s.checkSpurious(st, flight)
	if spurious {
		flight.Spurious = true
		flight.SpuriousReason = reason
		s.logger.Info("Discarding spurious flight",
			logger.String("flight", flight.ID),
			logger.String("reason", reason))
	}

	if err := s.store.FinalizeFlight(flight); err != nil {
		s.logger.Error("Failed to finalize flight", logger.Error(err),
			logger.String("flight", flight.ID))
	}

	s.logger.Info("Flight complete",
		logger.String("device", st.device),
		logger.String("flight", flight.ID),
		logger.Float64("distance_km", flight.TotalDistanceM/1000))

	if !spurious {
		s.publish(fix.Event{
			Type:      fix.EventFlightCompleted,
			Device:    st.device,
			Timestamp: landingTime,
			Latitude:  landing.lat,
			Longitude: landing.lon,
			Flight:    flight,
		})
	}

	st.flight = nil
	st.inactiveRun = 0
	st.inactiveRunStart = nil
}

// timeOutFlight finalizes an open flight whose fixes stopped without a
// landing signature. landing_time stays null; the timeout timestamp records
// when the aircraft was last heard.
func (s *Service) timeOutFlight(st *aircraftState, lastHeard time.Time) {
	flight := st.flight
	flight.State = fix.FlightTimedOut
	timedOut := lastHeard
	flight.TimedOutAt = &timedOut

	if err := s.store.FinalizeFlight(flight); err != nil {
		s.logger.Error("Failed to finalize flight", logger.Error(err),
			logger.String("flight", flight.ID))
	}

	s.logger.Info("Flight timed out",
		logger.String("device", st.device),
		logger.String("flight", flight.ID),
		logger.String("phase", string(flight.LastPhase)))

	var lat, lon float64
	if last := st.last(); last != nil {
		lat, lon = last.lat, last.lon
	}
	s.publish(fix.Event{
		Type:      fix.EventFlightTimedOut,
		Device:    st.device,
		Timestamp: timedOut,
		Latitude:  lat,
		Longitude: lon,
		Flight:    flight,
	})

	st.flight = nil
	st.inactiveRun = 0
	st.inactiveRunStart = nil
}

// checkSpurious applies the telemetry-sanity filters. Transponder-sourced
// flights get only the corruption checks; APRS flights additionally must
// look like actual flying.
func (s *Service) checkSpurious(st *aircraftState, flight *fix.Flight) (bool, string) {
	stats := &st.stats

	if stats.hasAlt && stats.maxAltFt > spuriousMaxAltFt {
		return true, fmt.Sprintf("impossible altitude %.0f ft", stats.maxAltFt)
	}
	if stats.maxSpeedKt > spuriousMaxSpeedKt {
		return true, fmt.Sprintf("impossible speed %.0f kt", stats.maxSpeedKt)
	}

	// the remaining checks assume noisy APRS-style sources; transponder
	// traffic already passed an on-ground-confirmed landing
	if st.source == fix.SourceBeast {
		return false, ""
	}
	if flight.TakeoffTime == nil || flight.LandingTime == nil {
		return false, ""
	}
	duration := flight.LandingTime.Sub(*flight.TakeoffTime)
	if duration < spuriousMinDuration {
		return true, fmt.Sprintf("duration %.0fs", duration.Seconds())
	}
	if stats.hasAlt && stats.maxAltFt-stats.minAltFt < spuriousMinAltRangeFt {
		return true, fmt.Sprintf("altitude range %.0f ft", stats.maxAltFt-stats.minAltFt)
	}
	if stats.hasAGL && stats.maxAGLFt < spuriousMinMaxAGLFt {
		return true, fmt.Sprintf("max agl %.0f ft", stats.maxAGLFt)
	}
	if flight.MaxDisplacementM < spuriousMinDisplacementM {
		return true, fmt.Sprintf("displacement %.0f m", flight.MaxDisplacementM)
	}
	return false, ""
}

// captureTakeoff records the departure airport, runway and altimeter offset
// at the moment a takeoff is detected
func (s *Service) captureTakeoff(st *aircraftState, flight *fix.Flight, cf compactFix) {
	if s.airports != nil {
		if airport := s.airports.Nearest(cf.lat, cf.lon, s.cfg.AirportMaxDistM); airport != nil {
			ident := airport.Ident
			flight.DepartureAirport = &ident
			if airport.HasElev && cf.altMSLFt != nil {
				offset := geo.AltitudeOffsetFt(*cf.altMSLFt, airport.ElevationFt)
				flight.TakeoffAltOffset = &offset
			}
		}
	}
	if ident, inferred, ok := s.matchRunway(st, cf); ok && st.aircraftType.UsesRunways() {
		flight.TakeoffRunway = &ident
		flight.RunwaysInferred = flight.RunwaysInferred || inferred
	}
}

// captureLanding records the arrival airport, runway and altimeter offset
// at the confirmed landing
func (s *Service) captureLanding(st *aircraftState, flight *fix.Flight, cf compactFix) {
	if s.airports != nil {
		if airport := s.airports.Nearest(cf.lat, cf.lon, s.cfg.AirportMaxDistM); airport != nil {
			ident := airport.Ident
			flight.ArrivalAirport = &ident
			if airport.HasElev && cf.altMSLFt != nil {
				offset := geo.AltitudeOffsetFt(*cf.altMSLFt, airport.ElevationFt)
				flight.LandingAltOffset = &offset
			}
		}
	}
	if ident, inferred, ok := s.matchRunway(st, cf); ok && st.aircraftType.UsesRunways() {
		flight.LandingRunway = &ident
		flight.RunwaysInferred = flight.RunwaysInferred || inferred
	}
}

// matchRunway averages the ground track over buffered fixes around the
// event and resolves it against runway geometry
func (s *Service) matchRunway(st *aircraftState, event compactFix) (string, bool, bool) {
	if s.runways == nil {
		return "", false, false
	}
	course, ok := s.eventCourse(st, event.at)
	if !ok {
		return "", false, false
	}
	match := s.runways.Match(event.lat, event.lon, course, event.at)
	return match.Ident, match.Inferred, true
}

// eventCourse is the circular mean of buffered ground tracks within the
// runway event window of the event time
func (s *Service) eventCourse(st *aircraftState, at time.Time) (float64, bool) {
	var x, y float64
	n := 0
	for i := range st.recent {
		cf := &st.recent[i]
		if cf.at.Sub(at).Abs() > s.cfg.RunwayEventWindow {
			continue
		}
		if cf.trackDeg == nil {
			continue
		}
		if cf.speedKt != nil && *cf.speedKt < 3 {
			// a stationary aircraft's track is noise
			continue
		}
		x += math.Cos(*cf.trackDeg * math.Pi / 180)
		y += math.Sin(*cf.trackDeg * math.Pi / 180)
		n++
	}
	if n == 0 {
		return 0, false
	}
	course := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(course+360, 360), true
}
