package tracker

import (
	"context"
	"time"

	"github.com/hut8/soar-sub007/pkg/logger"
)

// Start launches the periodic staleness sweep. Timeouts are timer-driven,
// not per-fix, so one ticker serves every aircraft.
func (s *Service) Start(ctx context.Context) error {
	s.cancel = make(chan struct{})
	s.done = make(chan struct{})
	go s.sweepLoop(ctx)
	s.logger.Info("Flight state engine started",
		logger.Duration("staleness_window", s.cfg.StalenessWindow),
		logger.Duration("sweep_interval", s.cfg.SweepInterval))
	return nil
}

// Stop terminates the sweep loop
func (s *Service) Stop() {
	if s.cancel != nil {
		close(s.cancel)
		<-s.done
	}
}

func (s *Service) sweepLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.cancel:
			return
		case <-ticker.C:
			s.Sweep(s.now().UTC())
		}
	}
}

// Sweep times out flights whose fixes stopped and evicts long-idle state.
// Exported so tests can drive it with a synthetic clock.
func (s *Service) Sweep(now time.Time) {
	s.statesMu.RLock()
	entries := make(map[string]*stateEntry, len(s.states))
	for device, e := range s.states {
		entries[device] = e
	}
	s.statesMu.RUnlock()

	var evict []string
	for device, e := range entries {
		e.mu.Lock()
		st := e.st
		if st.flight != nil && now.Sub(st.lastFixAt) > s.cfg.StalenessWindow {
			s.timeOutFlight(st, st.lastFixAt)
		}
		if st.flight == nil && !st.lastFixAt.IsZero() && now.Sub(st.lastFixAt) > s.cfg.StateEviction {
			evict = append(evict, device)
		}
		e.mu.Unlock()
	}

	if len(evict) > 0 {
		s.statesMu.Lock()
		for _, device := range evict {
			delete(s.states, device)
		}
		s.statesMu.Unlock()

		s.liveMu.Lock()
		for _, device := range evict {
			delete(s.live, device)
		}
		s.liveMu.Unlock()

		s.logger.Debug("Evicted idle aircraft state", logger.Int("count", len(evict)))
	}
}
