package beast

import (
	"bufio"
	"errors"
	"io"
)

// Beast frame type bytes, after the 0x1a escape
const (
	frameEscape     = 0x1a
	frameTypeModeAC = 0x31
	frameTypeShort  = 0x32
	frameTypeLong   = 0x33
)

// Frame is one de-escaped Beast frame: the 48-bit MLAT counter, the signal
// byte, and the raw Mode S payload (7 or 14 bytes; 2 for Mode A/C).
type Frame struct {
	Type     byte
	MLATTime uint64
	Signal   byte
	Payload  []byte
}

// Framer extracts Beast frames from a byte stream, handling the <1A><1A>
// escape doubling. It resynchronizes on the next escape byte after a
// malformed frame rather than failing the stream.
type Framer struct {
	r *bufio.Reader

	// set when a truncated frame ran into the start of the next one; the
	// next frame's type byte has already been consumed
	pendingType byte
	hasPending  bool
}

// NewFramer wraps a stream in a Beast framer
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 4096)}
}

// Next reads the next complete frame. Mode A/C frames are returned with
// Type 0x31 so the caller can count and skip them.
func (f *Framer) Next() (*Frame, error) {
	for {
		var typ byte
		if f.hasPending {
			typ = f.pendingType
			f.hasPending = false
		} else {
			if err := f.sync(); err != nil {
				return nil, err
			}
			b, err := f.r.ReadByte()
			if err != nil {
				return nil, err
			}
			typ = b
		}

		var payloadLen int
		switch typ {
		case frameTypeModeAC:
			payloadLen = 2
		case frameTypeShort:
			payloadLen = 7
		case frameTypeLong:
			payloadLen = 14
		default:
			// not a frame start we recognize, keep scanning
			continue
		}

		buf, err := f.readEscaped(6 + 1 + payloadLen)
		if err != nil {
			if errors.Is(err, errResync) {
				continue
			}
			return nil, err
		}

		var mlat uint64
		for i := 0; i < 6; i++ {
			mlat = mlat<<8 | uint64(buf[i])
		}
		return &Frame{
			Type:     typ,
			MLATTime: mlat,
			Signal:   buf[6],
			Payload:  buf[7:],
		}, nil
	}
}

var errResync = errors.New("frame truncated by next frame start")

// sync discards bytes until the next frame escape
func (f *Framer) sync() error {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		if b == frameEscape {
			return nil
		}
	}
}

// readEscaped reads n logical bytes, collapsing doubled escapes. A lone
// escape followed by anything else means a new frame started before this
// one finished; the follow-up byte is kept as the next frame's type.
func (f *Framer) readEscaped(n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == frameEscape {
			next, err := f.r.ReadByte()
			if err != nil {
				return nil, err
			}
			if next != frameEscape {
				f.pendingType = next
				f.hasPending = true
				return nil, errResync
			}
		}
		buf = append(buf, b)
	}
	return buf, nil
}
