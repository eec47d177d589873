package fix

import (
	"fmt"
	"strings"
	"time"
)

// AddressType identifies the addressing scheme of an aircraft identifier
type AddressType uint8

const (
	AddressUnknown AddressType = 0
	AddressIcao    AddressType = 1
	AddressFlarm   AddressType = 2
	AddressOgn     AddressType = 3
)

// String returns the canonical three-letter prefix for the address type
func (a AddressType) String() string {
	switch a {
	case AddressIcao:
		return "ICA"
	case AddressFlarm:
		return "FLR"
	case AddressOgn:
		return "OGN"
	default:
		return "UNK"
	}
}

// ParseAddressType parses a canonical prefix back into an AddressType
func ParseAddressType(s string) (AddressType, error) {
	switch strings.ToUpper(s) {
	case "ICA":
		return AddressIcao, nil
	case "FLR":
		return AddressFlarm, nil
	case "OGN":
		return AddressOgn, nil
	case "UNK":
		return AddressUnknown, nil
	default:
		return AddressUnknown, fmt.Errorf("unknown address type: %q", s)
	}
}

// AircraftType is the OGN aircraft category nibble
type AircraftType uint8

const (
	AircraftReserved          AircraftType = 0x0
	AircraftGlider            AircraftType = 0x1
	AircraftTowTug            AircraftType = 0x2
	AircraftHelicopterGyro    AircraftType = 0x3
	AircraftSkydiverParachute AircraftType = 0x4
	AircraftDropPlane         AircraftType = 0x5
	AircraftHangGlider        AircraftType = 0x6
	AircraftParaglider        AircraftType = 0x7
	AircraftPoweredAircraft   AircraftType = 0x8
	AircraftJet               AircraftType = 0x9
	AircraftUnknown           AircraftType = 0xA
	AircraftBalloon           AircraftType = 0xB
	AircraftAirship           AircraftType = 0xC
	AircraftUAV               AircraftType = 0xD
	AircraftGroundVehicle     AircraftType = 0xE
	AircraftStaticObstacle    AircraftType = 0xF
)

var aircraftTypeNames = map[AircraftType]string{
	AircraftReserved:          "reserved",
	AircraftGlider:            "glider",
	AircraftTowTug:            "tow_tug",
	AircraftHelicopterGyro:    "helicopter",
	AircraftSkydiverParachute: "parachute",
	AircraftDropPlane:         "drop_plane",
	AircraftHangGlider:        "hang_glider",
	AircraftParaglider:        "paraglider",
	AircraftPoweredAircraft:   "powered",
	AircraftJet:               "jet",
	AircraftUnknown:           "unknown",
	AircraftBalloon:           "balloon",
	AircraftAirship:           "airship",
	AircraftUAV:               "uav",
	AircraftGroundVehicle:     "ground_vehicle",
	AircraftStaticObstacle:    "static_obstacle",
}

func (t AircraftType) String() string {
	if name, ok := aircraftTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// AircraftTypeFromName is the inverse of String, used when loading
// persisted records
func AircraftTypeFromName(name string) AircraftType {
	for t, n := range aircraftTypeNames {
		if n == name {
			return t
		}
	}
	return AircraftUnknown
}

// UsesRunways reports whether this aircraft category operates from runways.
// Paragliders, hang gliders, helicopters, balloons and UAVs launch from
// arbitrary sites, so runway matching is skipped for them.
func (t AircraftType) UsesRunways() bool {
	switch t {
	case AircraftGlider, AircraftTowTug, AircraftDropPlane,
		AircraftPoweredAircraft, AircraftJet, AircraftUnknown:
		return true
	default:
		return false
	}
}

// DeviceID is the typed identity of a tracked aircraft: an addressing scheme
// plus a 24-bit address.
type DeviceID struct {
	AddressType AddressType
	Address     uint32
}

// String renders the canonical form, e.g. "FLR-DF0A52"
func (d DeviceID) String() string {
	return fmt.Sprintf("%s-%06X", d.AddressType, d.Address&0xFFFFFF)
}

// ParseDeviceID parses the canonical "XXX-AAAAAA" form
func ParseDeviceID(s string) (DeviceID, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return DeviceID{}, fmt.Errorf("malformed device id: %q", s)
	}
	at, err := ParseAddressType(parts[0])
	if err != nil {
		return DeviceID{}, err
	}
	var addr uint32
	if _, err := fmt.Sscanf(parts[1], "%06X", &addr); err != nil {
		return DeviceID{}, fmt.Errorf("malformed device address: %q", parts[1])
	}
	return DeviceID{AddressType: at, Address: addr & 0xFFFFFF}, nil
}

// Source identifies which ingest path produced a fix
type Source string

const (
	SourceAPRS  Source = "aprs"
	SourceBeast Source = "beast"
)

// Fix is one normalized, deduplicated position report. Fixes are immutable
// once created.
type Fix struct {
	ID               string       `json:"id"`
	DeviceID         DeviceID     `json:"-"`
	Device           string       `json:"device_id"`
	AircraftType     AircraftType `json:"aircraft_type"`
	Timestamp        time.Time    `json:"timestamp"`
	Latitude         float64      `json:"latitude"`
	Longitude        float64      `json:"longitude"`
	AltitudeMSLFt    *float64     `json:"altitude_msl_ft,omitempty"`
	AltitudeAGLFt    *float64     `json:"altitude_agl_ft,omitempty"`
	GroundSpeedKt    *float64     `json:"ground_speed_kt,omitempty"`
	TrackDeg         *float64     `json:"track_deg,omitempty"`
	ClimbRateFpm     *float64     `json:"climb_rate_fpm,omitempty"`
	TurnRateRot      *float64     `json:"turn_rate_rot,omitempty"`
	SNRdB            *float64     `json:"snr_db,omitempty"`
	OnGround         *bool        `json:"on_ground,omitempty"`
	ReceiverCallsign string       `json:"receiver,omitempty"`
	RawHash          [32]byte     `json:"-"`
	Source           Source       `json:"source"`
}

// FlightState is the lifecycle state of a flight
type FlightState string

const (
	FlightActive   FlightState = "active"
	FlightComplete FlightState = "complete"
	FlightTimedOut FlightState = "timed_out"
)

// FlightPhase is the coarse vertical phase derived from recent fixes
type FlightPhase string

const (
	PhaseUnknown    FlightPhase = "unknown"
	PhaseClimbing   FlightPhase = "climbing"
	PhaseCruising   FlightPhase = "cruising"
	PhaseDescending FlightPhase = "descending"
)

// Flight is one continuous airborne episode for an aircraft
type Flight struct {
	ID                string       `json:"id"`
	Device            string       `json:"device_id"`
	AircraftType      AircraftType `json:"aircraft_type"`
	State             FlightState  `json:"state"`
	TakeoffTime       *time.Time   `json:"takeoff_time,omitempty"`
	LandingTime       *time.Time   `json:"landing_time,omitempty"`
	TimedOutAt        *time.Time   `json:"timed_out_at,omitempty"`
	FirstSeenAirborne bool         `json:"first_seen_airborne"`
	DepartureAirport  *string      `json:"departure_airport,omitempty"`
	ArrivalAirport    *string      `json:"arrival_airport,omitempty"`
	TakeoffRunway     *string      `json:"takeoff_runway,omitempty"`
	LandingRunway     *string      `json:"landing_runway,omitempty"`
	RunwaysInferred   bool         `json:"runways_inferred"`
	TakeoffAltOffset  *float64     `json:"takeoff_altitude_offset_ft,omitempty"`
	LandingAltOffset  *float64     `json:"landing_altitude_offset_ft,omitempty"`
	TowedByAircraft   *string      `json:"towed_by_aircraft,omitempty"`
	TowedByFlight     *string      `json:"towed_by_flight,omitempty"`
	TowReleaseTime    *time.Time   `json:"tow_release_time,omitempty"`
	TowReleaseAltFt   *float64     `json:"tow_release_altitude_ft,omitempty"`
	TotalDistanceM    float64      `json:"total_distance_m"`
	MaxDisplacementM  float64      `json:"maximum_displacement_m"`
	LastFixAt         time.Time    `json:"last_fix_at"`
	LastPhase         FlightPhase  `json:"last_phase"`
	Spurious          bool         `json:"spurious,omitempty"`
	SpuriousReason    string       `json:"spurious_reason,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}
