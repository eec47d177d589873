package beast

import (
	"math"
	"sync"
	"time"
)

// frameExpiry is how long an even or odd CPR frame stays usable for global
// decoding; beyond this the aircraft has moved between latitude zones.
const frameExpiry = 10 * time.Second

const nz = 15 // number of latitude zones (airborne)

// cprFrame is one cached CPR-encoded position
type cprFrame struct {
	latCPR  uint32
	lonCPR  uint32
	surface bool
	at      time.Time
}

// aircraftCPR holds the even/odd frame pair for one ICAO address
type aircraftCPR struct {
	even *cprFrame
	odd  *cprFrame
}

// CPRDecoder pairs even and odd compact position frames per aircraft and
// resolves them to latitude/longitude. When only one frame of a pair is
// available it falls back to local decoding against the station reference.
type CPRDecoder struct {
	mu     sync.Mutex
	byICAO map[uint32]*aircraftCPR

	refLat float64
	refLon float64
	hasRef bool
}

// NewCPRDecoder creates a decoder; pass the station position so single
// frames can be resolved locally, or hasRef=false to require frame pairs.
func NewCPRDecoder(refLat, refLon float64, hasRef bool) *CPRDecoder {
	return &CPRDecoder{
		byICAO: make(map[uint32]*aircraftCPR),
		refLat: refLat,
		refLon: refLon,
		hasRef: hasRef,
	}
}

// Decode feeds one position message and returns the resolved position if
// either a global even/odd pair or a local reference decode succeeds.
func (d *CPRDecoder) Decode(icao uint32, msg *Message, at time.Time) (lat, lon float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.byICAO[icao]
	if state == nil {
		state = &aircraftCPR{}
		d.byICAO[icao] = state
	}

	frame := &cprFrame{latCPR: msg.CPRLat, lonCPR: msg.CPRLon, surface: msg.OnGround, at: at}
	if msg.CPROdd {
		state.odd = frame
	} else {
		state.even = frame
	}

	if state.even != nil && state.odd != nil &&
		state.even.surface == state.odd.surface &&
		state.even.at.Sub(state.odd.at).Abs() <= frameExpiry {
		if lat, lon, ok = decodeGlobal(state.even, state.odd, msg.CPROdd); ok {
			return lat, lon, true
		}
	}

	if d.hasRef {
		return decodeLocal(frame, msg.CPROdd, d.refLat, d.refLon)
	}
	return 0, 0, false
}

// Evict drops cached frames for aircraft not heard since the cutoff
func (d *CPRDecoder) Evict(cutoff time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for icao, state := range d.byICAO {
		if state.even != nil && state.even.at.Before(cutoff) {
			state.even = nil
		}
		if state.odd != nil && state.odd.at.Before(cutoff) {
			state.odd = nil
		}
		if state.even == nil && state.odd == nil {
			delete(d.byICAO, icao)
		}
	}
}

// decodeGlobal resolves an even/odd pair. latestOdd selects which frame's
// zone the final position is computed in (the most recently received one).
func decodeGlobal(even, odd *cprFrame, latestOdd bool) (float64, float64, bool) {
	span := 360.0
	if even.surface {
		span = 90.0
	}
	dlatEven := span / (4 * nz)
	dlatOdd := span / (4*nz - 1)

	latE := float64(even.latCPR) / 131072.0
	latO := float64(odd.latCPR) / 131072.0

	j := math.Floor(59*latE - 60*latO + 0.5)
	rlatE := dlatEven * (floorMod(j, 60) + latE)
	rlatO := dlatOdd * (floorMod(j, 59) + latO)
	if rlatE >= 270 {
		rlatE -= 360
	}
	if rlatO >= 270 {
		rlatO -= 360
	}

	// both frames must fall in the same longitude zone
	if nlFunc(rlatE) != nlFunc(rlatO) {
		return 0, 0, false
	}

	var rlat float64
	if latestOdd {
		rlat = rlatO
	} else {
		rlat = rlatE
	}
	if rlat < -90 || rlat > 90 {
		return 0, 0, false
	}

	nl := nlFunc(rlat)
	lonE := float64(even.lonCPR) / 131072.0
	lonO := float64(odd.lonCPR) / 131072.0
	m := math.Floor(lonE*float64(nl-1) - lonO*float64(nl) + 0.5)

	var ni int
	var lonCPR float64
	if latestOdd {
		ni = max(nl-1, 1)
		lonCPR = lonO
	} else {
		ni = max(nl, 1)
		lonCPR = lonE
	}
	dlon := span / float64(ni)
	rlon := dlon * (floorMod(m, float64(ni)) + lonCPR)
	if rlon >= 180 {
		rlon -= 360
	}
	return rlat, rlon, true
}

// decodeLocal resolves a single frame against a reference position assumed
// to be within half a zone (about 180 NM airborne, 45 NM surface).
func decodeLocal(frame *cprFrame, odd bool, refLat, refLon float64) (float64, float64, bool) {
	span := 360.0
	if frame.surface {
		span = 90.0
	}
	i := 0.0
	if odd {
		i = 1.0
	}
	dlat := span / (4*nz - i)

	latCPR := float64(frame.latCPR) / 131072.0
	j := math.Floor(refLat/dlat) + math.Floor(0.5+floorMod(refLat, dlat)/dlat-latCPR)
	rlat := dlat * (j + latCPR)
	if rlat < -90 || rlat > 90 {
		return 0, 0, false
	}

	nl := float64(max(nlFunc(rlat)-int(i), 1))
	dlon := span / nl
	lonCPR := float64(frame.lonCPR) / 131072.0
	m := math.Floor(refLon/dlon) + math.Floor(0.5+floorMod(refLon, dlon)/dlon-lonCPR)
	rlon := dlon * (m + lonCPR)
	if rlon < -180 || rlon > 180 {
		return 0, 0, false
	}
	return rlat, rlon, true
}

// nlFunc is the longitude zone count for a latitude, from the closed-form
// NL(lat) in the position encoding definition.
func nlFunc(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}
	a := 1 - math.Cos(math.Pi/(2*nz))
	b := math.Cos(math.Pi / 180.0 * lat)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/(b*b))))
}

func floorMod(a, b float64) float64 {
	return a - b*math.Floor(a/b)
}
