package protocol

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/netip"
)

var unsignedTags = []Tag{Counter32, Gauge32, TimeTicks, Counter64}

// header describes the identifier and length octets of a BER element.
type header struct {
	tag    Tag
	length int // content length
	size   int // tag + length octets
}

// parseHeader reads the tag and length of the element at the start of buf and
// checks that its content fits in buf.
func parseHeader(buf []byte) (header, error) {
	/*
		.-----.------------------------------.-----------------.
		| tag | length (short or long form)  |     content     |
		`-----'------------------------------'-----------------'
		short form: 0lllllll
		long form:  1nnnnnnn followed by n big-endian length octets
	*/
	if len(buf) < 2 {
		return header{}, fmt.Errorf("%w: need at least 2 bytes, have %d", ErrTruncated, len(buf))
	}

	h := header{tag: Tag(buf[0]), size: 2}
	first := buf[1]
	if first&0x80 == 0 {
		h.length = int(first)
	} else {
		n := int(first & 0x7F)
		if n == 0 {
			return header{}, fmt.Errorf("%w: indefinite length not supported", ErrLength)
		}
		if n > maxLengthOctets {
			return header{}, fmt.Errorf("%w: %d length octets", ErrLength, n)
		}
		if len(buf) < 2+n {
			return header{}, fmt.Errorf("%w: need %d length octets, have %d", ErrTruncated, n, len(buf)-2)
		}
		for _, b := range buf[2 : 2+n] {
			h.length = h.length<<8 | int(b)
		}
		h.size += n
	}

	if h.length > len(buf)-h.size {
		return header{}, fmt.Errorf("%w: %s content of %d bytes, have %d", ErrTruncated, h.tag, h.length, len(buf)-h.size)
	}
	return h, nil
}

// element splits the element at the start of buf into its header, content and
// the remaining bytes.
func element(buf []byte) (header, []byte, []byte, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return header{}, nil, nil, err
	}
	end := h.size + h.length
	return h, buf[h.size:end], buf[end:], nil
}

// expect parses the element at the start of buf and checks its tag.
func expect(buf []byte, tags ...Tag) (Tag, []byte, error) {
	h, content, _, err := element(buf)
	if err != nil {
		return 0, nil, err
	}
	for _, t := range tags {
		if h.tag == t {
			return h.tag, content, nil
		}
	}
	return 0, nil, &TypeError{Expected: tags, Got: h.tag}
}

// ParseInteger decodes a signed Integer.
func ParseInteger(buf []byte) (int64, error) {
	_, content, err := expect(buf, Integer)
	if err != nil {
		return 0, err
	}
	return decodeSigned(content)
}

func decodeSigned(content []byte) (int64, error) {
	if len(content) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrLength)
	}
	if len(content) > maxIntegerLen {
		return 0, fmt.Errorf("%w: %d octets", ErrIntegerTooLarge, len(content))
	}

	var u uint64
	for _, b := range content {
		u = u<<8 | uint64(b)
	}
	// Sign correction: subtract 2^(8*len) when the top bit is set.
	if content[0]&0x80 != 0 && len(content) < 8 {
		u -= 1 << (8 * uint(len(content)))
	}
	return int64(u), nil
}

// ParseUnsigned decodes a Counter32, Gauge32, TimeTicks or Counter64. These
// are never sign corrected.
func ParseUnsigned(buf []byte) (uint64, error) {
	_, content, err := expect(buf, unsignedTags...)
	if err != nil {
		return 0, err
	}
	return decodeUnsigned(content)
}

func decodeUnsigned(content []byte) (uint64, error) {
	if len(content) == 0 {
		return 0, fmt.Errorf("%w: empty integer", ErrLength)
	}
	if len(content) > maxIntegerLen+1 || len(content) == maxIntegerLen+1 && content[0] != 0 {
		return 0, fmt.Errorf("%w: %d octets", ErrIntegerTooLarge, len(content))
	}

	var u uint64
	for _, b := range content {
		u = u<<8 | uint64(b)
	}
	return u, nil
}

// ParseOctetString decodes an OctetString as text.
func ParseOctetString(buf []byte) (string, error) {
	b, err := ParseOctetBytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseOctetBytes decodes an OctetString as raw bytes.
func ParseOctetBytes(buf []byte) ([]byte, error) {
	_, content, err := expect(buf, OctetString)
	if err != nil {
		return nil, err
	}
	return content, nil
}

func ParseNull(buf []byte) error {
	_, content, err := expect(buf, Null)
	if err != nil {
		return err
	}
	if len(content) != 0 {
		return fmt.Errorf("%w: Null with %d content bytes", ErrLength, len(content))
	}
	return nil
}

// ParseObjectIdentifier decodes an ObjectIdentifier element.
func ParseObjectIdentifier(buf []byte) (OID, error) {
	_, content, err := expect(buf, ObjectIdentifier)
	if err != nil {
		return nil, err
	}
	return decodeOID(content)
}

func decodeOID(content []byte) (OID, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty OID", ErrLength)
	}

	var (
		oid   = make(OID, 0, len(content)+1)
		v     uint64
		first = true
		open  = false
	)
	for _, b := range content {
		v = v<<7 | uint64(b&0x7F)
		if v > math.MaxUint32+80 {
			return nil, fmt.Errorf("%w: arc overflows 32 bits", ErrInvalidOID)
		}
		open = b&0x80 != 0
		if open {
			continue
		}

		if first {
			// The first subidentifier holds two arcs; arc 0 saturates at 2.
			a := min(v/40, 2)
			oid = append(oid, uint32(a), uint32(v-40*a))
			first = false
		} else {
			if v > math.MaxUint32 {
				return nil, fmt.Errorf("%w: arc overflows 32 bits", ErrInvalidOID)
			}
			oid = append(oid, uint32(v))
		}
		v = 0
	}
	if open {
		return nil, fmt.Errorf("%w: last arc has continuation bit set", ErrTruncated)
	}
	return oid, nil
}

// ParseIPAddress decodes an IpAddress, which is exactly four octets.
func ParseIPAddress(buf []byte) (netip.Addr, error) {
	_, content, err := expect(buf, IPAddress)
	if err != nil {
		return netip.Addr{}, err
	}
	return decodeIPAddress(content)
}

func decodeIPAddress(content []byte) (netip.Addr, error) {
	if len(content) != 4 {
		return netip.Addr{}, fmt.Errorf("%w: %d octets", ErrInvalidIPAddress, len(content))
	}
	return netip.AddrFrom4([4]byte(content)), nil
}

// ParseOpaque renders the content of an Opaque as a 0x prefixed hex string.
func ParseOpaque(buf []byte) (string, error) {
	_, content, err := expect(buf, Opaque)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(content), nil
}
