package dissect

import (
	"errors"
	"fmt"
)

// Decode failure kinds. A parser error always unwraps to exactly one of these,
// so callers classify with errors.Is.
var (
	// ErrTruncated fewer bytes remain than a header requires
	ErrTruncated = errors.New("truncated")
	// ErrMalformed the header bytes contradict themselves
	ErrMalformed = errors.New("malformed")
	// ErrUnsupported the next layer is not one we decode; ends the chain, not an error to the caller
	ErrUnsupported = errors.New("unsupported variant")
	// ErrChecksum a verified checksum did not match. Only produced with checksum verification on.
	ErrChecksum = fmt.Errorf("%w: bad checksum", ErrMalformed)
)

// DecodeError describes where and why a layer failed to decode.
type DecodeError struct {
	Layer  LayerKind
	Offset int
	Err    error
	Msg    string
}

func (e *DecodeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s at offset %d: %v", e.Layer, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s at offset %d: %v: %s", e.Layer, e.Offset, e.Err, e.Msg)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(layer LayerKind, offset int, kind error, format string, args ...interface{}) error {
	return &DecodeError{
		Layer:  layer,
		Offset: offset,
		Err:    kind,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// Reason short, stable name for a stop error, suitable as a metric label.
// A nil error means the chain decoded to the end.
func Reason(err error) string {
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	default:
		return "other"
	}
}
