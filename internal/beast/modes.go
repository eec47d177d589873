package beast

import (
	"math"

	"github.com/hut8/soar-sub007/internal/fix"
)

// Message is one parsed Mode S extended squitter. Only the fields the fix
// pipeline consumes are decoded; everything else is classified unsupported.
type Message struct {
	DF       uint8
	ICAO     uint32
	TypeCode uint8

	// airborne/surface position (type codes 5-8, 9-18, 20-22)
	HasPosition bool
	OnGround    bool
	AltitudeFt  *float64
	CPRLat      uint32 // 17-bit
	CPRLon      uint32 // 17-bit
	CPROdd      bool

	// velocity (type code 19)
	HasVelocity   bool
	GroundSpeedKt *float64
	TrackDeg      *float64
	VerticalFpm   *float64

	// identification (type codes 1-4)
	Callsign string
}

// ParseModeS decodes a 14-byte DF17/18 extended squitter. Short (56-bit)
// frames and other downlink formats carry no position payload and are
// classified unsupported. The 24-bit parity is checked before any field is
// trusted.
func ParseModeS(payload []byte) (*Message, error) {
	if len(payload) != 7 && len(payload) != 14 {
		return nil, fix.NewDecodeError(fix.KindMalformed, "mode s frame length %d", len(payload))
	}

	df := payload[0] >> 3
	if len(payload) == 7 || (df != 17 && df != 18) {
		return nil, fix.NewDecodeError(fix.KindUnsupported, "downlink format %d", df)
	}
	if crc24(payload) != 0 {
		return nil, fix.NewDecodeError(fix.KindChecksum, "parity mismatch")
	}

	msg := &Message{
		DF:   df,
		ICAO: uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3]),
	}
	me := payload[4:11]
	msg.TypeCode = me[0] >> 3

	switch {
	case msg.TypeCode >= 1 && msg.TypeCode <= 4:
		msg.Callsign = decodeCallsign(me)
	case msg.TypeCode >= 5 && msg.TypeCode <= 8:
		decodeSurfacePosition(me, msg)
	case (msg.TypeCode >= 9 && msg.TypeCode <= 18) || (msg.TypeCode >= 20 && msg.TypeCode <= 22):
		decodeAirbornePosition(me, msg)
	case msg.TypeCode == 19:
		decodeVelocity(me, msg)
	default:
		return nil, fix.NewDecodeError(fix.KindUnsupported, "type code %d", msg.TypeCode)
	}
	return msg, nil
}

// crc24 computes the Mode S parity over the full frame; a valid ADS-B frame
// yields zero because the transmitted parity is appended to the data.
func crc24(data []byte) uint32 {
	const poly = 0xFFF409
	crc := uint32(0)
	for _, b := range data {
		crc ^= uint32(b) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= poly
			}
		}
	}
	return crc & 0xFFFFFF
}

const callsignCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

func decodeCallsign(me []byte) string {
	bits := uint64(0)
	for _, b := range me[1:7] {
		bits = bits<<8 | uint64(b)
	}
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = callsignCharset[bits&0x3F]
		bits >>= 6
	}
	s := string(out)
	// trim padding
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '#') {
		s = s[:len(s)-1]
	}
	return s
}

func decodeAirbornePosition(me []byte, msg *Message) {
	msg.HasPosition = true
	msg.OnGround = false

	// 12-bit altitude field, bits 9-20 of the ME
	altField := uint32(me[1])<<4 | uint32(me[2])>>4
	if altField != 0 {
		if alt, ok := decodeAC12(altField); ok {
			msg.AltitudeFt = &alt
		}
	}

	msg.CPROdd = me[2]&0x04 != 0
	msg.CPRLat = (uint32(me[2]&0x03) << 15) | (uint32(me[3]) << 7) | (uint32(me[4]) >> 1)
	msg.CPRLon = (uint32(me[4]&0x01) << 16) | (uint32(me[5]) << 8) | uint32(me[6])
}

func decodeSurfacePosition(me []byte, msg *Message) {
	msg.HasPosition = true
	msg.OnGround = true

	// movement field bits 6-12: encoded ground speed
	mov := (uint32(me[0]&0x07) << 4) | (uint32(me[1]) >> 4)
	if spd, ok := decodeMovement(mov); ok {
		msg.GroundSpeedKt = &spd
		msg.HasVelocity = true
	}
	// ground track, valid bit then 7 bits of 360/128 degree units
	if me[1]&0x08 != 0 {
		trk := float64((uint32(me[1]&0x07)<<4)|(uint32(me[2])>>4)) * 360.0 / 128.0
		msg.TrackDeg = &trk
	}

	msg.CPROdd = me[2]&0x04 != 0
	msg.CPRLat = (uint32(me[2]&0x03) << 15) | (uint32(me[3]) << 7) | (uint32(me[4]) >> 1)
	msg.CPRLon = (uint32(me[4]&0x01) << 16) | (uint32(me[5]) << 8) | uint32(me[6])
}

// decodeAC12 decodes the 12-bit altitude code with the Q-bit 25ft encoding.
// Gillham-coded altitudes (Q=0) are rare above glider country and skipped.
func decodeAC12(v uint32) (float64, bool) {
	if v&0x10 == 0 {
		return 0, false
	}
	n := ((v & 0xFE0) >> 1) | (v & 0x0F)
	return float64(n)*25 - 1000, true
}

// decodeMovement maps the 7-bit surface movement code to knots using the
// piecewise scale from the surface position format.
func decodeMovement(mov uint32) (float64, bool) {
	switch {
	case mov == 0 || mov >= 125:
		return 0, false
	case mov == 1:
		return 0, true
	case mov <= 8:
		return 0.125 + float64(mov-2)*0.125, true
	case mov <= 12:
		return 1 + float64(mov-9)*0.25, true
	case mov <= 38:
		return 2 + float64(mov-13)*0.5, true
	case mov <= 93:
		return 15 + float64(mov-39)*1, true
	case mov <= 108:
		return 70 + float64(mov-94)*2, true
	default:
		return 100 + float64(mov-109)*5, true
	}
}

func decodeVelocity(me []byte, msg *Message) {
	subtype := me[0] & 0x07
	if subtype != 1 && subtype != 2 {
		// airspeed subtypes carry no ground velocity
		return
	}
	msg.HasVelocity = true

	ewSign := me[1]&0x04 != 0
	ew := (uint32(me[1]&0x03) << 8) | uint32(me[2])
	nsSign := me[3]&0x80 != 0
	ns := (uint32(me[3]&0x7F) << 3) | (uint32(me[4]) >> 5)

	if ew != 0 && ns != 0 {
		vx := float64(ew) - 1
		if ewSign {
			vx = -vx
		}
		vy := float64(ns) - 1
		if nsSign {
			vy = -vy
		}
		if subtype == 2 { // supersonic
			vx *= 4
			vy *= 4
		}
		gs := math.Hypot(vx, vy)
		trk := math.Atan2(vx, vy) * 180 / math.Pi
		if trk < 0 {
			trk += 360
		}
		msg.GroundSpeedKt = &gs
		msg.TrackDeg = &trk
	}

	// vertical rate: sign bit then 9 bits of 64 fpm
	vrSign := me[4]&0x08 != 0
	vr := (uint32(me[4]&0x07) << 6) | (uint32(me[5]) >> 2)
	if vr != 0 {
		fpm := (float64(vr) - 1) * 64
		if vrSign {
			fpm = -fpm
		}
		msg.VerticalFpm = &fpm
	}
}
