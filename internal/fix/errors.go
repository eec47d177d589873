package fix

import "fmt"

// DecodeErrorKind classifies why a packet failed to decode. The pipeline
// counts drops per kind; no kind is ever fatal to ingestion.
type DecodeErrorKind string

const (
	KindMalformed        DecodeErrorKind = "malformed"
	KindUnsupported      DecodeErrorKind = "unsupported"
	KindChecksum         DecodeErrorKind = "checksum"
	KindOutOfRange       DecodeErrorKind = "out_of_range"
	KindTrackingDisabled DecodeErrorKind = "tracking_disabled"
)

// DecodeError is a classified decode failure
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error (%s): %s", e.Kind, e.Detail)
}

// NewDecodeError creates a classified decode error
func NewDecodeError(kind DecodeErrorKind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
