package protocol

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// typeNames maps net-snmp style type letters and type names to tags.
var typeNames = map[string]Tag{
	"i":                Integer,
	"integer":          Integer,
	"s":                OctetString,
	"string":           OctetString,
	"octetstring":      OctetString,
	"o":                ObjectIdentifier,
	"oid":              ObjectIdentifier,
	"objectidentifier": ObjectIdentifier,
	"a":                IPAddress,
	"ipaddress":        IPAddress,
	"c":                Counter32,
	"counter":          Counter32,
	"counter32":        Counter32,
	"u":                Gauge32,
	"gauge":            Gauge32,
	"gauge32":          Gauge32,
	"unsigned32":       Gauge32,
	"t":                TimeTicks,
	"timeticks":        TimeTicks,
	"C":                Counter64,
	"counter64":        Counter64,
	"n":                Null,
	"null":             Null,
}

// ParseTag resolves a type given either as a net-snmp letter (i s o a c u t C n)
// or as a type name. Letters are case sensitive, names are not.
func ParseTag(name string) (Tag, error) {
	if t, ok := typeNames[name]; ok {
		return t, nil
	}
	if len(name) > 1 {
		if t, ok := typeNames[strings.ToLower(name)]; ok {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", name)
}

// ParseValue converts text into a value EncodeValue accepts for tag.
func ParseValue(tag Tag, text string) (any, error) {
	switch tag {
	case Integer:
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrValueType, text, tag)
		}
		return v, nil

	case Counter32, Gauge32, TimeTicks:
		v, err := strconv.ParseUint(text, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrValueType, text, tag)
		}
		return v, nil

	case Counter64:
		v, err := strconv.ParseUint(text, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrValueType, text, tag)
		}
		return v, nil

	case OctetString:
		return text, nil

	case ObjectIdentifier:
		return ParseOID(text)

	case IPAddress:
		addr, err := netip.ParseAddr(text)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIPAddress, text)
		}
		return addr, nil

	case Null:
		return nil, nil
	}
	return nil, &UnsupportedTypeError{Tag: tag}
}

// FormatValue renders the value of a varbind for display.
func FormatValue(vb VarBind) string {
	switch v := vb.Value.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		if vb.Type == TimeTicks {
			return formatTicks(v)
		}
		return strconv.FormatUint(v, 10)
	case string:
		if vb.Type == OctetString && !printable(v) {
			return formatHex([]byte(v))
		}
		return v
	case []byte:
		return formatHex(v)
	case OID:
		return v.String()
	case netip.Addr:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(vb.Value)
}

// formatTicks renders hundredths of a second the way net-snmp does:
// (4242) 0:00:42.42
func formatTicks(ticks uint64) string {
	d := time.Duration(ticks) * 10 * time.Millisecond
	days := ticks / (100 * 60 * 60 * 24)
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	cs := int(d % time.Second / (10 * time.Millisecond))
	if days > 0 {
		return fmt.Sprintf("(%d) %d days, %d:%02d:%02d.%02d", ticks, days, h, m, s, cs)
	}
	return fmt.Sprintf("(%d) %d:%02d:%02d.%02d", ticks, h, m, s, cs)
}

func formatHex(b []byte) string {
	return strings.ToUpper(strings.TrimSpace(hexSpaced(b)))
}

func hexSpaced(b []byte) string {
	var sb strings.Builder
	for i := range b {
		sb.WriteString(hex.EncodeToString(b[i : i+1]))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func printable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
