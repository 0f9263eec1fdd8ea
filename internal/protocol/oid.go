package protocol

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// OID is a numeric object identifier, e.g. .1.3.6.1.2.1.1.1.0.
type OID []uint32

// ParseOID converts the dotted form of an OID into its arcs. The leading dot is
// optional.
func ParseOID(s string) (OID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), ".")
	if s == "" {
		return nil, fmt.Errorf("%w: empty OID", ErrInvalidOID)
	}

	parts := strings.Split(s, ".")
	oid := make(OID, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty arc in %q", ErrInvalidOID, s)
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: arc %q in %q", ErrInvalidOID, p, s)
		}
		oid = append(oid, uint32(v))
	}
	return oid, nil
}

// MustParseOID is like ParseOID but panics on malformed input. Intended for
// package level variables and tests.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

func (o OID) String() string {
	var b strings.Builder
	for _, arc := range o {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(arc), 10))
	}
	return b.String()
}

func (o OID) Equal(other OID) bool {
	return slices.Equal(o, other)
}

// HasPrefix reports whether o lies strictly below root in the OID tree.
func (o OID) HasPrefix(root OID) bool {
	if len(o) <= len(root) {
		return false
	}
	return slices.Equal(o[:len(root)], root)
}

// Compare orders OIDs arc by arc, the shorter one first on a common prefix.
// An empty OID sorts after every defined OID.
func Compare(a, b OID) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return 1
	case len(b) == 0:
		return -1
	}
	return slices.Compare(a, b)
}

// Validate checks the constraints BER places on the first two arcs.
func (o OID) Validate() error {
	if len(o) < 2 {
		return ErrOIDTooShort
	}
	switch {
	case o[0] > 2:
		return fmt.Errorf("%w: first arc %d", ErrOIDStart, o[0])
	case o[0] < 2 && o[1] > 39:
		return fmt.Errorf("%w: second arc %d under %d", ErrOIDStart, o[1], o[0])
	case o[0] == 2 && uint64(o[1]) > math.MaxUint32-80:
		return fmt.Errorf("%w: second arc %d under 2 overflows", ErrOIDStart, o[1])
	}
	return nil
}
