package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/hut8/soar-sub007/internal/beast"
	"github.com/hut8/soar-sub007/internal/dedupe"
	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/geofence"
	"github.com/hut8/soar-sub007/internal/ogn"
	"github.com/hut8/soar-sub007/internal/tracker"
	"github.com/hut8/soar-sub007/pkg/logger"
)

const evictInterval = time.Minute

// FixStore persists accepted fixes and their relay attributions
type FixStore interface {
	InsertFix(f *fix.Fix) error
	AppendFixReceiver(fixID, receiver string, receivedAt time.Time) error
}

// Pipeline normalizes raw input from both feeds into fixes and drives the
// downstream consumers: storage, the flight tracker, the geofence monitor
// and the event bus.
type Pipeline struct {
	store    FixStore
	deduper  *dedupe.Deduper
	resolver *dedupe.Resolver
	tracker  *tracker.Service
	monitor  *geofence.Monitor
	decoder  *beast.Decoder
	publish  func(fix.Event)
	logger   *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the ingest pipeline
func New(
	store FixStore,
	deduper *dedupe.Deduper,
	resolver *dedupe.Resolver,
	trk *tracker.Service,
	monitor *geofence.Monitor,
	decoder *beast.Decoder,
	publish func(fix.Event),
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		store:    store,
		deduper:  deduper,
		resolver: resolver,
		tracker:  trk,
		monitor:  monitor,
		decoder:  decoder,
		publish:  publish,
		logger:   log.Named("ingest"),
	}
}

// Start begins the background eviction loop for decoder and monitor state
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.evictLoop(ctx)
	return nil
}

// Stop terminates the eviction loop
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Pipeline) evictLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-time.Hour)
			if p.decoder != nil {
				p.decoder.Evict(cutoff)
			}
			if p.monitor != nil {
				p.monitor.Evict(cutoff)
			}
		case <-ctx.Done():
			return
		}
	}
}

// HandleAPRSLine processes one raw line from the APRS-IS feed
func (p *Pipeline) HandleAPRSLine(line string, receivedAt time.Time) {
	f, pkt, err := ogn.Parse(line, receivedAt)
	if err != nil {
		p.logDecodeError(err, line)
		return
	}

	// a position beacon with no aircraft identity is the receiver
	// reporting its own location
	if f.DeviceID == (fix.DeviceID{}) {
		if err := p.resolver.UpdatePosition(pkt.From, f.Latitude, f.Longitude); err != nil {
			p.logger.Error("Failed to update receiver position",
				logger.Error(err), logger.String("receiver", pkt.From))
		}
		return
	}

	receiver := p.resolver.ResolveCallsign(pkt.From, pkt.Via)

	// the dedup key covers the originator and body but not the relay
	// path, so the same broadcast heard by several receivers collapses
	// to one fix
	payload := []byte(pkt.From + ":" + pkt.Body)
	outcome := p.deduper.Check(payload, f.ID)
	if outcome.Duplicate {
		if receiver != "" && outcome.FixID != "" {
			if err := p.store.AppendFixReceiver(outcome.FixID, receiver, receivedAt); err != nil {
				p.logger.Error("Failed to append fix receiver", logger.Error(err))
			}
		}
		return
	}

	f.RawHash = outcome.Hash
	f.ReceiverCallsign = receiver
	if receiver != "" {
		if err := p.resolver.Ensure(receiver); err != nil {
			p.logger.Error("Failed to upsert receiver",
				logger.Error(err), logger.String("receiver", receiver))
		}
	}

	p.accept(f, receiver, receivedAt)
}

// HandleBeastFrame processes one framed message from the Beast feed
func (p *Pipeline) HandleBeastFrame(frame *beast.Frame, receivedAt time.Time) {
	outcome := p.deduper.Check(frame.Payload, "")
	if outcome.Duplicate {
		return
	}

	f, err := p.decoder.Decode(frame, receivedAt)
	if err != nil {
		p.logDecodeError(err, "")
		return
	}
	if f == nil {
		// velocity-only message, or a position awaiting its CPR pair
		return
	}

	f.RawHash = outcome.Hash
	p.accept(f, "", receivedAt)
}

// accept runs one decoded, deduplicated fix through storage, the flight
// tracker, the geofence monitor and the event bus
func (p *Pipeline) accept(f *fix.Fix, receiver string, receivedAt time.Time) {
	// storage failures must not stall tracking: the state machine and the
	// live fan-out keep running on the in-memory fix
	if err := p.store.InsertFix(f); err != nil {
		p.logger.Error("Failed to store fix",
			logger.Error(err), logger.String("device", f.Device))
	} else if receiver != "" {
		if err := p.store.AppendFixReceiver(f.ID, receiver, receivedAt); err != nil {
			p.logger.Error("Failed to append fix receiver", logger.Error(err))
		}
	}

	p.tracker.ProcessFix(f)
	if p.monitor != nil {
		p.monitor.Evaluate(f)
	}

	p.publish(fix.Event{
		Type:      fix.EventFixAccepted,
		Device:    f.Device,
		Timestamp: f.Timestamp,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Fix:       f,
	})
}

func (p *Pipeline) logDecodeError(err error, line string) {
	var decodeErr *fix.DecodeError
	if errors.As(err, &decodeErr) {
		switch decodeErr.Kind {
		case fix.KindTrackingDisabled:
			// stealth and no-track aircraft are dropped without record
			p.logger.Debug("Dropped opted-out aircraft")
		case fix.KindUnsupported:
			p.logger.Debug("Skipped unsupported input", logger.Error(err))
		default:
			p.logger.Warn("Failed to decode input",
				logger.Error(err), logger.String("line", line))
		}
		return
	}
	p.logger.Warn("Failed to decode input", logger.Error(err))
}
