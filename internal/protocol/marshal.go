package protocol

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// EncodeLength returns the BER length octets for a content of n bytes.
func EncodeLength(n int) []byte {
	if n <= 127 {
		return []byte{byte(n)}
	}

	var buf []byte
	for v := n; v > 0; v >>= 8 {
		buf = append([]byte{byte(v)}, buf...)
	}
	return append([]byte{0x80 | byte(len(buf))}, buf...)
}

// wrap prefixes content with its tag and length.
func wrap(tag Tag, content []byte) []byte {
	length := EncodeLength(len(content))
	buf := make([]byte, 0, 1+len(length)+len(content))
	buf = append(buf, byte(tag))
	buf = append(buf, length...)
	return append(buf, content...)
}

// signedBytes returns the minimal two's complement big-endian form of v.
func signedBytes(v int64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	// Drop redundant sign octets, keeping the sign bit of what remains intact.
	for len(buf) > 1 {
		if buf[0] == 0x00 && buf[1]&0x80 == 0 || buf[0] == 0xFF && buf[1]&0x80 != 0 {
			buf = buf[1:]
			continue
		}
		break
	}
	return buf
}

// unsignedBytes returns the minimal big-endian form of v, padded with a zero
// octet when the top bit would otherwise read as a sign.
func unsignedBytes(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var buf []byte
	for ; v > 0; v >>= 8 {
		buf = append([]byte{byte(v)}, buf...)
	}
	if buf[0]&0x80 != 0 {
		buf = append([]byte{0}, buf...)
	}
	return buf
}

func EncodeInteger(v int64) []byte {
	return wrap(Integer, signedBytes(v))
}

// EncodeUnsigned encodes v under one of the unsigned application types.
func EncodeUnsigned(tag Tag, v uint64) ([]byte, error) {
	switch tag {
	case Counter32, Gauge32, TimeTicks:
		if v > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrValueType, v, tag)
		}
	case Counter64:
	default:
		return nil, &TypeError{Expected: unsignedTags, Got: tag}
	}
	return wrap(tag, unsignedBytes(v)), nil
}

func EncodeCounter32(v uint32) []byte { return wrap(Counter32, unsignedBytes(uint64(v))) }

func EncodeGauge32(v uint32) []byte { return wrap(Gauge32, unsignedBytes(uint64(v))) }

func EncodeTimeTicks(v uint32) []byte { return wrap(TimeTicks, unsignedBytes(uint64(v))) }

func EncodeCounter64(v uint64) []byte { return wrap(Counter64, unsignedBytes(v)) }

func EncodeNull() []byte {
	return []byte{byte(Null), 0x00}
}

func EncodeSequence(content []byte) []byte {
	return wrap(Sequence, content)
}

func EncodeOctetString(b []byte) []byte {
	return wrap(OctetString, b)
}

// EncodeIPAddress encodes a dotted decimal IPv4 address.
func EncodeIPAddress(addr string) ([]byte, error) {
	octets := strings.Split(addr, ".")
	if len(octets) != 4 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIPAddress, addr)
	}

	content := make([]byte, 4)
	for i, octet := range octets {
		v, err := strconv.ParseUint(octet, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: octet %q in %q", ErrInvalidIPAddress, octet, addr)
		}
		content[i] = byte(v)
	}
	return wrap(IPAddress, content), nil
}

// base128 appends v as base-128 digits, most significant first, with the high
// bit set on every octet but the last.
func base128(buf []byte, v uint64) []byte {
	if v < 0x80 {
		return append(buf, byte(v))
	}
	var digits []byte
	digits = append(digits, byte(v&0x7F))
	for v >>= 7; v > 0; v >>= 7 {
		digits = append(digits, 0x80|byte(v&0x7F))
	}
	for i := len(digits) - 1; i >= 0; i-- {
		buf = append(buf, digits[i])
	}
	return buf
}

// EncodeOID encodes an object identifier. The first two arcs share the first
// subidentifier as 40*oid[0]+oid[1].
func EncodeOID(oid OID) ([]byte, error) {
	if err := oid.Validate(); err != nil {
		return nil, err
	}

	content := base128(make([]byte, 0, len(oid)+4), 40*uint64(oid[0])+uint64(oid[1]))
	for _, arc := range oid[2:] {
		content = base128(content, uint64(arc))
	}
	return wrap(ObjectIdentifier, content), nil
}

// EncodeRequest wraps already concatenated PDU fields in the context tag of t.
func EncodeRequest(t PDUType, content []byte) []byte {
	return wrap(t.tag(), content)
}

// EncodeValue encodes v as a varbind value of the given type.
func EncodeValue(tag Tag, v any) ([]byte, error) {
	switch tag {
	case Null:
		return EncodeNull(), nil

	case NoSuchObject, NoSuchInstance, EndOfMibView:
		return []byte{byte(tag), 0x00}, nil

	case Integer:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("%w: %T as %s", ErrValueType, v, tag)
		}
		return EncodeInteger(n), nil

	case Counter32, Gauge32, TimeTicks, Counter64:
		n, ok := toUint64(v)
		if !ok {
			return nil, fmt.Errorf("%w: %T as %s", ErrValueType, v, tag)
		}
		return EncodeUnsigned(tag, n)

	case OctetString:
		switch s := v.(type) {
		case string:
			return EncodeOctetString([]byte(s)), nil
		case []byte:
			return EncodeOctetString(s), nil
		}
		return nil, fmt.Errorf("%w: %T as %s", ErrValueType, v, tag)

	case ObjectIdentifier:
		switch o := v.(type) {
		case OID:
			return EncodeOID(o)
		case []uint32:
			return EncodeOID(o)
		case string:
			oid, err := ParseOID(o)
			if err != nil {
				return nil, err
			}
			return EncodeOID(oid)
		}
		return nil, fmt.Errorf("%w: %T as %s", ErrValueType, v, tag)

	case IPAddress:
		return encodeIPValue(v)

	default:
		return nil, &UnsupportedTypeError{Tag: tag}
	}
}

func encodeIPValue(v any) ([]byte, error) {
	switch a := v.(type) {
	case string:
		return EncodeIPAddress(a)
	case netip.Addr:
		if !a.Is4() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidIPAddress, a)
		}
		b := a.As4()
		return wrap(IPAddress, b[:]), nil
	case [4]byte:
		return wrap(IPAddress, a[:]), nil
	case net.IP:
		if v4 := a.To4(); v4 != nil {
			return wrap(IPAddress, v4), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidIPAddress, a)
	case []byte:
		if len(a) != 4 {
			return nil, fmt.Errorf("%w: %d octets", ErrInvalidIPAddress, len(a))
		}
		return wrap(IPAddress, a), nil
	}
	return nil, fmt.Errorf("%w: %T as %s", ErrValueType, v, IPAddress)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	}
	if n, ok := toInt64(v); ok && n >= 0 {
		return uint64(n), true
	}
	return 0, false
}
