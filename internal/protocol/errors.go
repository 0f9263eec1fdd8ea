package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTruncated        = errors.New("truncated BER element")
	ErrLength           = errors.New("invalid BER length")
	ErrIntegerTooLarge  = errors.New("integer does not fit in 64 bits")
	ErrOIDTooShort      = errors.New("minimum OID length is two")
	ErrOIDStart         = errors.New("OID must start with 0.0-0.39, 1.0-1.39 or 2.x")
	ErrInvalidOID       = errors.New("invalid OID format")
	ErrInvalidIPAddress = errors.New("IP addresses must be four dotted decimal octets between 0 and 255")
	ErrValueType        = errors.New("value cannot be encoded as the requested type")
	ErrNoVarBinds       = errors.New("PDU carries no varbinds")
)

// TypeError is returned when a BER element does not carry the expected tag.
type TypeError struct {
	Expected []Tag
	Got      Tag
}

func (e *TypeError) Error() string {
	want := make([]string, len(e.Expected))
	for i, t := range e.Expected {
		want[i] = fmt.Sprintf("%s (0x%02x)", t, uint8(t))
	}
	return fmt.Sprintf("expected %s, got %s (0x%02x)", strings.Join(want, " or "), e.Got, uint8(e.Got))
}

// UnsupportedTypeError is returned when asked to encode a value type the codec
// does not construct.
type UnsupportedTypeError struct {
	Tag Tag
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported varbind type %s (0x%02x) in encoding", e.Tag, uint8(e.Tag))
}
