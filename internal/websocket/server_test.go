package websocket

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/hut8/soar-sub007/internal/fix"
)

func testClient() *Client {
	return &Client{
		send:      make(chan []byte, 4),
		closeChan: make(chan struct{}),
		subs:      make(map[string]*subscription),
	}
}

func TestSubscriptionRouting(t *testing.T) {
	inAlps := &fix.Event{Type: fix.EventFixAccepted, Device: "FLR-DF0A52", Latitude: 46.5, Longitude: 7.5}
	inBaltic := &fix.Event{Type: fix.EventFixAccepted, Device: "ICA-4B43D1", Latitude: 55.0, Longitude: 19.0}

	tests := []struct {
		name string
		sub  subscription
		ev   *fix.Event
		want bool
	}{
		{"aircraft match", subscription{aircraft: "FLR-DF0A52"}, inAlps, true},
		{"aircraft mismatch", subscription{aircraft: "FLR-DF0A52"}, inBaltic, false},
		{
			"bounds match",
			subscription{bounds: &Bounds{North: 47.5, South: 45.5, East: 10.5, West: 5.9}},
			inAlps, true,
		},
		{
			"bounds mismatch",
			subscription{bounds: &Bounds{North: 47.5, South: 45.5, East: 10.5, West: 5.9}},
			inBaltic, false,
		},
		{"empty subscription matches nothing", subscription{}, inAlps, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.matches(tt.ev); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientWantsAnySubscription(t *testing.T) {
	c := testClient()
	c.subs["a"] = &subscription{aircraft: "FLR-000001"}
	c.subs["b"] = &subscription{bounds: &Bounds{North: 47.5, South: 45.5, East: 10.5, West: 5.9}}

	ev := &fix.Event{Device: "ICA-4B43D1", Latitude: 46.5, Longitude: 7.5}
	if !c.wants(ev) {
		t.Error("wants() = false, want true via bounds subscription")
	}

	far := &fix.Event{Device: "ICA-4B43D1", Latitude: 10, Longitude: 10}
	if c.wants(far) {
		t.Error("wants() = true for event matching no subscription")
	}

	c.closed = true
	if c.wants(ev) {
		t.Error("wants() = true on a closed client")
	}
}

// TestEnqueueDropsOldest fills the queue past capacity and checks that
// the newest payloads survive at the expense of the oldest.
func TestEnqueueDropsOldest(t *testing.T) {
	c := testClient()

	payloads := [][]byte{
		[]byte("m0"), []byte("m1"), []byte("m2"),
		[]byte("m3"), []byte("m4"), []byte("m5"),
	}
	for _, p := range payloads {
		c.enqueue(p)
	}

	// queue capacity is 4: m0 and m1 should have been evicted
	var got []string
	for len(c.send) > 0 {
		got = append(got, string(<-c.send))
	}
	want := []string{"m2", "m3", "m4", "m5"}
	if len(got) != len(want) {
		t.Fatalf("queued = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queued[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	raw := `{"type":"subscribe","bounds":{"north":47.5,"south":45.5,"east":10.5,"west":5.9}}`
	var msg ControlMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Type != MessageTypeSubscribe {
		t.Errorf("Type = %q, want subscribe", msg.Type)
	}
	if msg.Bounds == nil || msg.Bounds.North != 47.5 {
		t.Errorf("Bounds = %+v, want north 47.5", msg.Bounds)
	}
	if err := msg.Bounds.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// Randomized sweep of the routing invariant: an event reaches a client
// exactly when some subscribed box contains it. Boxes with west > east
// exercise the antimeridian wrap.
func TestSubscriptionRoutingRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 25; trial++ {
		c := testClient()
		boxes := make([]*Bounds, 0, 4)
		for i := 0; i < 4; i++ {
			south := rng.Float64()*160 - 80
			b := &Bounds{
				South: south,
				North: south + rng.Float64()*(80-south),
				West:  rng.Float64()*360 - 180,
				East:  rng.Float64()*360 - 180,
			}
			boxes = append(boxes, b)
			c.subs[fmt.Sprintf("sub-%d", i)] = &subscription{id: fmt.Sprintf("sub-%d", i), bounds: b}
		}

		for j := 0; j < 200; j++ {
			lat := rng.Float64()*180 - 90
			lon := rng.Float64()*360 - 180
			ev := &fix.Event{Type: fix.EventFixAccepted, Device: "FLR-AAAAAA", Latitude: lat, Longitude: lon}

			contained := false
			for _, b := range boxes {
				inLat := lat >= b.South && lat <= b.North
				var inLon bool
				if b.West > b.East {
					inLon = lon >= b.West || lon <= b.East
				} else {
					inLon = lon >= b.West && lon <= b.East
				}
				if inLat && inLon {
					contained = true
					break
				}
			}

			if got := c.wants(ev); got != contained {
				t.Fatalf("trial %d: wants(%.4f, %.4f) = %v, contained = %v (boxes %+v)",
					trial, lat, lon, got, contained, boxes)
			}
		}
	}
}
