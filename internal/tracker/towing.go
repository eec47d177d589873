package tracker

import (
	"math"
	"time"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/geo"
	"github.com/hut8/soar-sub007/pkg/logger"
)

const (
	// a tow candidate's position must be this fresh to count
	towCandidateMaxAge = 30 * time.Second
	// vertical separation beyond this rules out being on the same rope
	towMaxAltDiffFt = 500.0
)

// pairTow looks for a concurrent flight spatially proximate to a glider's
// launch and records it as the tow hypothesis. The pairing stays revisable
// until the glider's flight reaches a terminal state.
func (s *Service) pairTow(st *aircraftState, cf compactFix) {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()

	var best *livePosition
	bestDist := s.cfg.TowVicinityM
	for device, lp := range s.live {
		if device == st.device || lp.flightID == "" {
			continue
		}
		if cf.at.Sub(lp.at).Abs() > towCandidateMaxAge {
			continue
		}
		if cf.altMSLFt != nil && lp.altMSLFt != nil &&
			math.Abs(*cf.altMSLFt-*lp.altMSLFt) > towMaxAltDiffFt {
			continue
		}
		d := geo.Haversine(cf.lat, cf.lon, lp.lat, lp.lon)
		if d <= bestDist {
			bestDist = d
			candidate := lp
			best = &candidate
		}
	}

	if best == nil {
		return
	}

	flight := st.flight
	device := best.device
	flightID := best.flightID
	flight.TowedByAircraft = &device
	flight.TowedByFlight = &flightID

	s.logger.Info("Tow pairing",
		logger.String("glider", st.device),
		logger.String("tow_plane", device),
		logger.Float64("distance_m", bestDist))

	s.publish(fix.Event{
		Type:      fix.EventTowPaired,
		Device:    st.device,
		Timestamp: cf.at,
		Latitude:  cf.lat,
		Longitude: cf.lon,
		Flight:    flight,
	})
}

// evaluateTowRelease watches a paired glider for the release signature:
// the glider climbing on its own while the tow plane descends away. If the
// tow candidate's flight disappears before any release is seen, the
// hypothesis was wrong and is cleared.
func (s *Service) evaluateTowRelease(st *aircraftState, cf compactFix) {
	flight := st.flight
	if flight.TowedByAircraft == nil || flight.TowReleaseTime != nil {
		return
	}

	s.liveMu.RLock()
	tow, ok := s.live[*flight.TowedByAircraft]
	s.liveMu.RUnlock()

	if !ok || tow.flightID != *flight.TowedByFlight {
		flight.TowedByAircraft = nil
		flight.TowedByFlight = nil
		s.logger.Debug("Cleared tow pairing, candidate flight gone",
			logger.String("glider", st.device))
		return
	}

	gliderClimb := s.recentAvgClimb(st)
	if gliderClimb == nil || tow.climbFpm == nil {
		return
	}
	if *gliderClimb > s.cfg.TowReleaseFpm && *tow.climbFpm < -s.cfg.TowReleaseFpm {
		release := cf.at
		flight.TowReleaseTime = &release
		flight.TowReleaseAltFt = cf.altMSLFt

		s.logger.Info("Tow release",
			logger.String("glider", st.device),
			logger.String("tow_plane", *flight.TowedByAircraft))

		s.publish(fix.Event{
			Type:      fix.EventTowReleased,
			Device:    st.device,
			Timestamp: cf.at,
			Latitude:  cf.lat,
			Longitude: cf.lon,
			Flight:    flight,
		})
	}
}

// recentAvgClimb averages the reported climb rates over the buffered fixes
func (s *Service) recentAvgClimb(st *aircraftState) *float64 {
	sum := 0.0
	n := 0
	for i := range st.recent {
		if st.recent[i].climbFpm != nil {
			sum += *st.recent[i].climbFpm
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
