package dedupe

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Outcome says whether a payload was first heard or is a rebroadcast
type Outcome struct {
	Duplicate bool
	Hash      [32]byte
	// FixID is the id of the canonical fix when Duplicate is true
	FixID string
}

// Deduper collapses the same RF broadcast heard by multiple receivers into
// one logical fix. The hash covers the semantically meaningful payload
// bytes, excluding receiver-specific framing, so two receivers hearing one
// transmission produce identical hashes.
type Deduper struct {
	mu   sync.Mutex
	seen *expirable.LRU[[32]byte, string]
}

// New creates a deduper. Window is how long a payload hash suppresses
// rebroadcasts; maxEntries bounds memory under packet storms.
func New(maxEntries int, window time.Duration) *Deduper {
	return &Deduper{
		seen: expirable.NewLRU[[32]byte, string](maxEntries, nil, window),
	}
}

// Check hashes the payload and reports whether it was already accepted
// within the window. The first sighting records fixID as the canonical fix
// for later duplicates.
func (d *Deduper) Check(payload []byte, fixID string) Outcome {
	hash := sha256.Sum256(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.seen.Get(hash); ok {
		return Outcome{Duplicate: true, Hash: hash, FixID: existing}
	}
	d.seen.Add(hash, fixID)
	return Outcome{Duplicate: false, Hash: hash}
}
