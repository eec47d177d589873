package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hut8/soar-sub007/internal/dedupe"
	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/internal/tracker"
	"github.com/hut8/soar-sub007/pkg/logger"
)

type memFixStore struct {
	mu        sync.Mutex
	fixes     []*fix.Fix
	receivers map[string][]string
}

func newMemFixStore() *memFixStore {
	return &memFixStore{receivers: make(map[string][]string)}
}

func (s *memFixStore) InsertFix(f *fix.Fix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixes = append(s.fixes, f)
	return nil
}

func (s *memFixStore) AppendFixReceiver(fixID, receiver string, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers[fixID] = append(s.receivers[fixID], receiver)
	return nil
}

type failingFixStore struct{}

func (failingFixStore) InsertFix(f *fix.Fix) error { return errDown }

func (failingFixStore) AppendFixReceiver(fixID, receiver string, receivedAt time.Time) error {
	return errDown
}

var errDown = errors.New("database is locked")

type memReceiverStore struct {
	mu        sync.Mutex
	upserts   map[string]int
	positions map[string][2]float64
}

func newMemReceiverStore() *memReceiverStore {
	return &memReceiverStore{
		upserts:   make(map[string]int),
		positions: make(map[string][2]float64),
	}
}

func (s *memReceiverStore) UpsertReceiver(callsign string, fromDirectory bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts[callsign]++
	return nil
}

func (s *memReceiverStore) UpdateReceiverPosition(callsign string, lat, lon float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[callsign] = [2]float64{lat, lon}
	return nil
}

type nopFlightStore struct{}

func (nopFlightStore) UpsertFlight(f *fix.Flight) error   { return nil }
func (nopFlightStore) FinalizeFlight(f *fix.Flight) error { return nil }

func newTestPipeline(t *testing.T) (*Pipeline, *memFixStore, *memReceiverStore, *[]fix.Event) {
	t.Helper()
	log := logger.NewNop()
	var mu sync.Mutex
	events := &[]fix.Event{}
	publish := func(e fix.Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e)
	}

	fixStore := newMemFixStore()
	recvStore := newMemReceiverStore()
	trk := tracker.NewService(tracker.DefaultConfig(), nopFlightStore{}, nil, nil, publish, log)

	p := New(
		fixStore,
		dedupe.New(1024, 5*time.Second),
		dedupe.NewResolver(recvStore, log),
		trk,
		nil,
		nil,
		publish,
		log,
	)
	return p, fixStore, recvStore, events
}

var receivedAt = time.Date(2024, 6, 15, 22, 1, 35, 0, time.UTC)

func aprsLine(receiver string) string {
	return "FLRDF0A52>APRS,qAS," + receiver + ":/220132h4658.70N/00707.72Ez086/007/A=001424 !W52! id06DF0A52 -019fpm +0.0rot 5.5dB"
}

func TestRebroadcastCollapsesToOneFix(t *testing.T) {
	p, fixStore, recvStore, events := newTestPipeline(t)

	p.HandleAPRSLine(aprsLine("LSZB"), receivedAt)
	p.HandleAPRSLine(aprsLine("Bern2"), receivedAt.Add(100*time.Millisecond))

	fixStore.mu.Lock()
	defer fixStore.mu.Unlock()
	if len(fixStore.fixes) != 1 {
		t.Fatalf("stored fixes = %d, want 1", len(fixStore.fixes))
	}
	f := fixStore.fixes[0]
	if f.Device != "FLR-DF0A52" {
		t.Errorf("Device = %q, want FLR-DF0A52", f.Device)
	}
	if f.ReceiverCallsign != "LSZB" {
		t.Errorf("ReceiverCallsign = %q, want LSZB", f.ReceiverCallsign)
	}

	// the second copy is attributed to its receiver, not stored again
	if got := fixStore.receivers[f.ID]; len(got) != 2 {
		t.Errorf("fix receivers = %v, want [LSZB Bern2]", got)
	}

	recvStore.mu.Lock()
	defer recvStore.mu.Unlock()
	if recvStore.upserts["LSZB"] != 1 {
		t.Errorf("LSZB upserts = %d, want 1", recvStore.upserts["LSZB"])
	}

	var accepted int
	for _, e := range *events {
		if e.Type == fix.EventFixAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("fix events = %d, want 1", accepted)
	}
}

func TestReceiverBeaconUpdatesPosition(t *testing.T) {
	p, fixStore, recvStore, _ := newTestPipeline(t)

	beacon := "LSZB>APRS,TCPIP*,qAC,GLIDERN1:/220130h4655.00NI00725.00E&/A=001700"
	p.HandleAPRSLine(beacon, receivedAt)

	fixStore.mu.Lock()
	if len(fixStore.fixes) != 0 {
		t.Errorf("stored fixes = %d for a receiver beacon, want 0", len(fixStore.fixes))
	}
	fixStore.mu.Unlock()

	recvStore.mu.Lock()
	defer recvStore.mu.Unlock()
	pos, ok := recvStore.positions["LSZB"]
	if !ok {
		t.Fatal("receiver position not recorded")
	}
	if pos[0] < 46.9 || pos[0] > 46.92 {
		t.Errorf("receiver latitude = %v, want ~46.9167", pos[0])
	}
}

func TestOptedOutAircraftDropped(t *testing.T) {
	p, fixStore, _, events := newTestPipeline(t)

	// id86 sets the stealth bit
	stealth := "FLRDF0A52>APRS,qAS,LSZB:/220132h4658.70N/00707.72Ez086/007/A=001424 id86DF0A52"
	p.HandleAPRSLine(stealth, receivedAt)

	fixStore.mu.Lock()
	defer fixStore.mu.Unlock()
	if len(fixStore.fixes) != 0 {
		t.Errorf("stored fixes = %d for stealth aircraft, want 0", len(fixStore.fixes))
	}
	if len(*events) != 0 {
		t.Errorf("events = %d for stealth aircraft, want 0", len(*events))
	}
}

func TestTrackingContinuesWhenStorageDown(t *testing.T) {
	log := logger.NewNop()
	var mu sync.Mutex
	var events []fix.Event
	publish := func(e fix.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	trk := tracker.NewService(tracker.DefaultConfig(), nopFlightStore{}, nil, nil, publish, log)
	p := New(
		failingFixStore{},
		dedupe.New(1024, 5*time.Second),
		dedupe.NewResolver(newMemReceiverStore(), log),
		trk,
		nil,
		nil,
		publish,
		log,
	)

	// 95kt with no height above ground is unambiguously airborne
	airborne := "FLRDF0A52>APRS,qAS,LSZB:/220132h4658.70N/00707.72Ez086/095/A=005424 id06DF0A52 +198fpm +0.0rot"
	p.HandleAPRSLine(airborne, receivedAt)

	mu.Lock()
	defer mu.Unlock()
	var started, accepted int
	for _, e := range events {
		switch e.Type {
		case fix.EventFlightStarted:
			started++
		case fix.EventFixAccepted:
			accepted++
		}
	}
	if started != 1 {
		t.Errorf("flight_started events = %d with storage down, want 1", started)
	}
	if accepted != 1 {
		t.Errorf("fix events = %d with storage down, want 1", accepted)
	}
}

func TestMalformedLineDoesNotStore(t *testing.T) {
	p, fixStore, _, _ := newTestPipeline(t)

	p.HandleAPRSLine("not an aprs line", receivedAt)
	p.HandleAPRSLine("# aprsc 2.1.4 server comment", receivedAt)

	fixStore.mu.Lock()
	defer fixStore.mu.Unlock()
	if len(fixStore.fixes) != 0 {
		t.Errorf("stored fixes = %d, want 0", len(fixStore.fixes))
	}
}
