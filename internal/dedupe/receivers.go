package dedupe

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/hut8/soar-sub007/pkg/logger"
)

const (
	receiverCacheSize = 10000
	receiverCacheTTL  = time.Hour
)

// ReceiverStore is the persistence surface receiver resolution needs
type ReceiverStore interface {
	UpsertReceiver(callsign string, fromDirectory bool) error
	UpdateReceiverPosition(callsign string, lat, lon float64) error
}

// Resolver attributes APRS packets to the ground station that heard them
// and keeps the receiver table current. Resolution is cached; first
// sightings of a receiver are collapsed through singleflight so concurrent
// packets cannot race duplicate upserts.
type Resolver struct {
	store  ReceiverStore
	cache  *expirable.LRU[string, struct{}]
	group  singleflight.Group
	logger *logger.Logger
}

// NewResolver creates a receiver resolver
func NewResolver(store ReceiverStore, log *logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  expirable.NewLRU[string, struct{}](receiverCacheSize, nil, receiverCacheTTL),
		logger: log.Named("receivers"),
	}
}

// ResolveCallsign determines which station heard an APRS packet from its
// source and via path. A packet whose path contains TCPIP* came straight
// from the station itself, so the source callsign is the receiver;
// otherwise the last via entry is the receiving station. OGN core servers
// are not receivers and resolve to empty.
func (r *Resolver) ResolveCallsign(from string, via []string) string {
	for _, v := range via {
		if v == "TCPIP*" {
			return checkServerCallsign(from, r.logger)
		}
	}
	if len(via) == 0 {
		return ""
	}
	return checkServerCallsign(via[len(via)-1], r.logger)
}

func checkServerCallsign(callsign string, log *logger.Logger) string {
	if strings.HasPrefix(callsign, "GLIDERN") {
		log.Warn("Packet attributed to an OGN core server, not a receiver",
			logger.String("callsign", callsign))
		return ""
	}
	return callsign
}

// Ensure upserts the receiver once per cache lifetime. Safe for concurrent
// first sightings: the flight through singleflight makes the upsert
// idempotent under races.
func (r *Resolver) Ensure(callsign string) error {
	if callsign == "" {
		return nil
	}
	if _, ok := r.cache.Get(callsign); ok {
		return nil
	}

	_, err, _ := r.group.Do(callsign, func() (interface{}, error) {
		if err := r.store.UpsertReceiver(callsign, false); err != nil {
			return nil, err
		}
		r.cache.Add(callsign, struct{}{})
		return nil, nil
	})
	return err
}

// UpdatePosition records a receiver's own beaconed position
func (r *Resolver) UpdatePosition(callsign string, lat, lon float64) error {
	if callsign == "" {
		return nil
	}
	if err := r.Ensure(callsign); err != nil {
		return err
	}
	return r.store.UpdateReceiverPosition(callsign, lat, lon)
}
