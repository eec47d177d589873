package ogn

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar-sub007/internal/fix"
)

// Packet is a parsed APRS frame before normalization. Via carries the digi
// path, which the receiver-resolution stage needs to attribute the packet to
// a ground station.
type Packet struct {
	From string
	To   string
	Via  []string
	Body string
}

// Parse decodes one APRS-IS line into a normalized Fix plus the raw packet
// structure. Server comment lines and non-position bodies return a classified
// DecodeError with kind "unsupported"; structural problems return "malformed".
// Parse is pure: no clock reads except resolving the HHMMSS timestamp against
// receivedAt, no I/O, no shared state.
func Parse(line string, receivedAt time.Time) (*fix.Fix, *Packet, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, nil, fix.NewDecodeError(fix.KindMalformed, "empty line")
	}
	if strings.HasPrefix(line, "#") {
		return nil, nil, fix.NewDecodeError(fix.KindUnsupported, "server comment")
	}

	pkt, err := parseHeader(line)
	if err != nil {
		return nil, nil, err
	}

	body := pkt.Body
	if len(body) == 0 {
		return nil, pkt, fix.NewDecodeError(fix.KindMalformed, "empty body")
	}
	switch body[0] {
	case '/', '@':
		// timestamped position report
	case '>':
		return nil, pkt, fix.NewDecodeError(fix.KindUnsupported, "status report")
	default:
		return nil, pkt, fix.NewDecodeError(fix.KindUnsupported, "non-position body %q", body[:1])
	}

	f, err := parsePosition(body[1:], receivedAt)
	if err != nil {
		return nil, pkt, err
	}
	if f.DeviceID == (fix.DeviceID{}) {
		f.DeviceID = deviceFromCallsign(pkt.From)
	}
	f.ID = uuid.NewString()
	f.Source = fix.SourceAPRS
	f.Device = f.DeviceID.String()
	return f, pkt, nil
}

// parseHeader splits "SRC>DEST,VIA1,VIA2:body"
func parseHeader(line string) (*Packet, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return nil, fix.NewDecodeError(fix.KindMalformed, "missing body separator")
	}
	header := line[:colon]
	body := line[colon+1:]

	gt := strings.IndexByte(header, '>')
	if gt <= 0 {
		return nil, fix.NewDecodeError(fix.KindMalformed, "missing destination separator")
	}
	from := header[:gt]
	path := strings.Split(header[gt+1:], ",")
	if len(path) == 0 || path[0] == "" {
		return nil, fix.NewDecodeError(fix.KindMalformed, "empty destination")
	}
	return &Packet{
		From: from,
		To:   path[0],
		Via:  path[1:],
		Body: body,
	}, nil
}

// parsePosition decodes "HHMMSShDDMM.mmN/DDDMM.mmE'CCC/SSS/A=FFFFFF comment"
func parsePosition(s string, receivedAt time.Time) (*fix.Fix, error) {
	if len(s) < 7 || s[6] != 'h' {
		return nil, fix.NewDecodeError(fix.KindMalformed, "missing timestamp")
	}
	ts, err := resolveTimestamp(s[:6], receivedAt)
	if err != nil {
		return nil, err
	}
	s = s[7:]

	if len(s) < 19 {
		return nil, fix.NewDecodeError(fix.KindMalformed, "truncated position")
	}
	latStr := s[0:8]  // DDMM.mmN
	lonStr := s[9:18] // DDDMM.mmE, s[8] is the symbol table char
	rest := s[19:]    // s[18] is the symbol code

	lat, err := parseLatitude(latStr)
	if err != nil {
		return nil, err
	}
	lon, err := parseLongitude(lonStr)
	if err != nil {
		return nil, err
	}

	f := &fix.Fix{
		Timestamp:    ts,
		Latitude:     lat,
		Longitude:    lon,
		AircraftType: fix.AircraftUnknown,
	}

	// optional course/speed "CCC/SSS"
	if len(rest) >= 7 && rest[3] == '/' && isDigits(rest[0:3]) && isDigits(rest[4:7]) {
		course, _ := strconv.ParseFloat(rest[0:3], 64)
		speed, _ := strconv.ParseFloat(rest[4:7], 64)
		f.TrackDeg = &course
		f.GroundSpeedKt = &speed
		rest = rest[7:]
	}

	// optional altitude "/A=FFFFFF"
	if idx := strings.Index(rest, "/A="); idx >= 0 && len(rest) >= idx+9 {
		if alt, err := strconv.ParseFloat(rest[idx+3:idx+9], 64); err == nil {
			f.AltitudeMSLFt = &alt
			rest = rest[:idx] + rest[idx+9:]
		}
	}

	if err := parseComment(rest, f); err != nil {
		return nil, err
	}

	if f.Latitude < -90 || f.Latitude > 90 {
		return nil, fix.NewDecodeError(fix.KindOutOfRange, "latitude %f", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return nil, fix.NewDecodeError(fix.KindOutOfRange, "longitude %f", f.Longitude)
	}
	return f, nil
}

// resolveTimestamp maps an HHMMSS time-of-day onto the receipt date, picking
// the nearest day boundary so packets received just after midnight with a
// pre-midnight timestamp resolve to yesterday.
func resolveTimestamp(hms string, receivedAt time.Time) (time.Time, error) {
	h, err1 := strconv.Atoi(hms[0:2])
	m, err2 := strconv.Atoi(hms[2:4])
	sec, err3 := strconv.Atoi(hms[4:6])
	if err1 != nil || err2 != nil || err3 != nil || h > 23 || m > 59 || sec > 59 {
		return time.Time{}, fix.NewDecodeError(fix.KindMalformed, "bad timestamp %q", hms)
	}
	recv := receivedAt.UTC()
	ts := time.Date(recv.Year(), recv.Month(), recv.Day(), h, m, sec, 0, time.UTC)
	if ts.Sub(recv) > 12*time.Hour {
		ts = ts.AddDate(0, 0, -1)
	} else if recv.Sub(ts) > 12*time.Hour {
		ts = ts.AddDate(0, 0, 1)
	}
	return ts, nil
}

func parseLatitude(s string) (float64, error) {
	// DDMM.mmN
	if len(s) != 8 || s[4] != '.' {
		return 0, fix.NewDecodeError(fix.KindMalformed, "bad latitude %q", s)
	}
	deg, err1 := strconv.ParseFloat(s[0:2], 64)
	min, err2 := strconv.ParseFloat(s[2:7], 64)
	if err1 != nil || err2 != nil {
		return 0, fix.NewDecodeError(fix.KindMalformed, "bad latitude %q", s)
	}
	v := deg + min/60
	switch s[7] {
	case 'N':
	case 'S':
		v = -v
	default:
		return 0, fix.NewDecodeError(fix.KindMalformed, "bad latitude hemisphere %q", s)
	}
	return v, nil
}

func parseLongitude(s string) (float64, error) {
	// DDDMM.mmE
	if len(s) != 9 || s[5] != '.' {
		return 0, fix.NewDecodeError(fix.KindMalformed, "bad longitude %q", s)
	}
	deg, err1 := strconv.ParseFloat(s[0:3], 64)
	min, err2 := strconv.ParseFloat(s[3:8], 64)
	if err1 != nil || err2 != nil {
		return 0, fix.NewDecodeError(fix.KindMalformed, "bad longitude %q", s)
	}
	v := deg + min/60
	switch s[8] {
	case 'E':
	case 'W':
		v = -v
	default:
		return 0, fix.NewDecodeError(fix.KindMalformed, "bad longitude hemisphere %q", s)
	}
	return v, nil
}

// parseComment walks the OGN comment tokens and fills in device identity,
// climb/turn rates, signal quality and the !W..! precision extension.
func parseComment(comment string, f *fix.Fix) error {
	// !Wab! adds thousandth-of-minute digits to lat (a) and lon (b)
	if idx := strings.Index(comment, "!W"); idx >= 0 && len(comment) >= idx+5 && comment[idx+4] == '!' {
		latDigit := comment[idx+2]
		lonDigit := comment[idx+3]
		if latDigit >= '0' && latDigit <= '9' && lonDigit >= '0' && lonDigit <= '9' {
			latExtra := float64(latDigit-'0') / 1000 / 60
			lonExtra := float64(lonDigit-'0') / 1000 / 60
			if f.Latitude < 0 {
				f.Latitude -= latExtra
			} else {
				f.Latitude += latExtra
			}
			if f.Longitude < 0 {
				f.Longitude -= lonExtra
			} else {
				f.Longitude += lonExtra
			}
		}
	}

	for _, tok := range strings.Fields(comment) {
		switch {
		case strings.HasPrefix(tok, "id") && len(tok) == 10:
			if err := parseDeviceField(tok, f); err != nil {
				return err
			}
		case strings.HasSuffix(tok, "fpm"):
			if v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "fpm"), 64); err == nil {
				f.ClimbRateFpm = &v
			}
		case strings.HasSuffix(tok, "rot"):
			if v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "rot"), 64); err == nil {
				f.TurnRateRot = &v
			}
		case strings.HasSuffix(tok, "dB"):
			if v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "dB"), 64); err == nil {
				f.SNRdB = &v
			}
		}
		// remaining tokens (bit errors "3e", frequency offset "-4.3kHz",
		// gps resolution) carry no fix-level information
	}
	return nil
}

// parseDeviceField decodes "idXXYYYYYY": flag byte STttttaa (stealth,
// no-tracking, aircraft type, address type) and a 24-bit address.
func parseDeviceField(tok string, f *fix.Fix) error {
	flags, err := strconv.ParseUint(tok[2:4], 16, 8)
	if err != nil {
		return fix.NewDecodeError(fix.KindMalformed, "bad device flags %q", tok)
	}
	addr, err := strconv.ParseUint(tok[4:10], 16, 32)
	if err != nil {
		return fix.NewDecodeError(fix.KindMalformed, "bad device address %q", tok)
	}

	stealth := flags&0x80 != 0
	noTracking := flags&0x40 != 0
	if stealth || noTracking {
		return fix.NewDecodeError(fix.KindTrackingDisabled, "device opted out of tracking")
	}

	f.AircraftType = fix.AircraftType((flags >> 2) & 0x0F)
	f.DeviceID = fix.DeviceID{
		AddressType: fix.AddressType(flags & 0x03),
		Address:     uint32(addr),
	}
	return nil
}

// deviceFromCallsign recovers the device identity from an OGN-style source
// callsign (FLRDF0A52, ICA4B43D1, OGN123456) when the comment carries no id
// field.
func deviceFromCallsign(from string) fix.DeviceID {
	if len(from) < 9 {
		return fix.DeviceID{}
	}
	at, err := fix.ParseAddressType(from[:3])
	if err != nil {
		return fix.DeviceID{}
	}
	addr, err := strconv.ParseUint(from[3:9], 16, 32)
	if err != nil {
		return fix.DeviceID{}
	}
	return fix.DeviceID{AddressType: at, Address: uint32(addr)}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
