package beast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar-sub007/internal/fix"
)

// velocityMergeWindow is how long a velocity report stays attachable to a
// later position report from the same aircraft.
const velocityMergeWindow = 10 * time.Second

// Decoder turns Beast frames into normalized fixes. Velocity and
// identification messages carry no position, so they are cached per
// aircraft and merged into the next position fix; only position messages
// produce a Fix.
type Decoder struct {
	cpr *CPRDecoder

	mu       sync.Mutex
	velocity map[uint32]*velocityState
}

type velocityState struct {
	groundSpeedKt *float64
	trackDeg      *float64
	verticalFpm   *float64
	callsign      string
	at            time.Time
}

// NewDecoder creates a decoder with the station position as the CPR local
// reference.
func NewDecoder(stationLat, stationLon float64) *Decoder {
	return &Decoder{
		cpr:      NewCPRDecoder(stationLat, stationLon, true),
		velocity: make(map[uint32]*velocityState),
	}
}

// Decode processes one frame. It returns (nil, nil) for frames that were
// valid but produce no fix (velocity, ident, Mode A/C, unpaired CPR), a Fix
// when a position resolves, and a classified DecodeError otherwise.
func (d *Decoder) Decode(frame *Frame, receivedAt time.Time) (*fix.Fix, error) {
	if frame.Type == frameTypeModeAC {
		return nil, fix.NewDecodeError(fix.KindUnsupported, "mode a/c frame")
	}

	msg, err := ParseModeS(frame.Payload)
	if err != nil {
		return nil, err
	}

	if msg.Callsign != "" || msg.HasVelocity {
		d.remember(msg, receivedAt)
	}
	if !msg.HasPosition {
		return nil, nil
	}

	lat, lon, ok := d.cpr.Decode(msg.ICAO, msg, receivedAt)
	if !ok {
		// waiting for the frame pair
		return nil, nil
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fix.NewDecodeError(fix.KindOutOfRange, "position %f,%f", lat, lon)
	}

	onGround := msg.OnGround
	f := &fix.Fix{
		ID: uuid.NewString(),
		DeviceID: fix.DeviceID{
			AddressType: fix.AddressIcao,
			Address:     msg.ICAO,
		},
		AircraftType:  fix.AircraftUnknown,
		Timestamp:     receivedAt,
		Latitude:      lat,
		Longitude:     lon,
		AltitudeMSLFt: msg.AltitudeFt,
		GroundSpeedKt: msg.GroundSpeedKt,
		TrackDeg:      msg.TrackDeg,
		OnGround:      &onGround,
		Source:        fix.SourceBeast,
	}
	f.Device = f.DeviceID.String()

	d.merge(msg.ICAO, f, receivedAt)
	return f, nil
}

func (d *Decoder) remember(msg *Message, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.velocity[msg.ICAO]
	if state == nil {
		state = &velocityState{}
		d.velocity[msg.ICAO] = state
	}
	if msg.HasVelocity {
		state.groundSpeedKt = msg.GroundSpeedKt
		state.trackDeg = msg.TrackDeg
		state.verticalFpm = msg.VerticalFpm
	}
	if msg.Callsign != "" {
		state.callsign = msg.Callsign
	}
	state.at = at
}

func (d *Decoder) merge(icao uint32, f *fix.Fix, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.velocity[icao]
	if state == nil || at.Sub(state.at) > velocityMergeWindow {
		return
	}
	if f.GroundSpeedKt == nil {
		f.GroundSpeedKt = state.groundSpeedKt
	}
	if f.TrackDeg == nil {
		f.TrackDeg = state.trackDeg
	}
	if f.ClimbRateFpm == nil {
		f.ClimbRateFpm = state.verticalFpm
	}
}

// Evict drops cached CPR and velocity state for aircraft silent since the
// cutoff. Called periodically by the ingest client.
func (d *Decoder) Evict(cutoff time.Time) {
	d.cpr.Evict(cutoff)
	d.mu.Lock()
	defer d.mu.Unlock()
	for icao, state := range d.velocity {
		if state.at.Before(cutoff) {
			delete(d.velocity, icao)
		}
	}
}
