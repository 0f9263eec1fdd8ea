package protocol

import "fmt"

// Tag is the identifier octet of a BER element.
type Tag uint8

type PDUType uint8

type Version int64

type ErrorStatus int

const (
	// Universal types
	Integer          Tag = 0x02
	OctetString      Tag = 0x04
	Null             Tag = 0x05
	ObjectIdentifier Tag = 0x06
	Sequence         Tag = 0x30

	// Application types
	IPAddress Tag = 0x40
	Counter32 Tag = 0x41
	Gauge32   Tag = 0x42
	TimeTicks Tag = 0x43
	Opaque    Tag = 0x44
	Counter64 Tag = 0x46

	// Exception markers carried in place of a value
	NoSuchObject   Tag = 0x80
	NoSuchInstance Tag = 0x81
	EndOfMibView   Tag = 0x82

	pduBase Tag = 0xA0
)

const (
	GetRequest     PDUType = 0
	GetNextRequest PDUType = 1
	GetResponse    PDUType = 2
	SetRequest     PDUType = 3
)

// V2c is the value of the version field in an SNMPv2c message.
const V2c Version = 1

const (
	NoError             ErrorStatus = 0
	TooBig              ErrorStatus = 1
	NoSuchName          ErrorStatus = 2
	BadValue            ErrorStatus = 3
	ReadOnly            ErrorStatus = 4
	GenErr              ErrorStatus = 5
	NoAccess            ErrorStatus = 6
	WrongType           ErrorStatus = 7
	WrongLength         ErrorStatus = 8
	WrongEncoding       ErrorStatus = 9
	WrongValue          ErrorStatus = 10
	NoCreation          ErrorStatus = 11
	InconsistentValue   ErrorStatus = 12
	ResourceUnavailable ErrorStatus = 13
	CommitFailed        ErrorStatus = 14
	UndoFailed          ErrorStatus = 15
	AuthorizationError  ErrorStatus = 16
	NotWritable         ErrorStatus = 17
	InconsistentName    ErrorStatus = 18
)

const (
	// lengths
	maxLengthOctets = 4
	maxIntegerLen   = 8
)

var tagNames = map[Tag]string{
	Integer:          "Integer",
	OctetString:      "OctetString",
	Null:             "Null",
	ObjectIdentifier: "ObjectIdentifier",
	Sequence:         "Sequence",
	IPAddress:        "IpAddress",
	Counter32:        "Counter32",
	Gauge32:          "Gauge32",
	TimeTicks:        "TimeTicks",
	Opaque:           "Opaque",
	Counter64:        "Counter64",
	NoSuchObject:     "NoSuchObject",
	NoSuchInstance:   "NoSuchInstance",
	EndOfMibView:     "EndOfMibView",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	if t >= pduBase && t <= pduBase+Tag(SetRequest) {
		return PDUType(t - pduBase).String()
	}
	return fmt.Sprintf("Tag(0x%02x)", uint8(t))
}

// IsException reports whether t is one of the SNMPv2 exception markers.
func (t Tag) IsException() bool {
	return t == NoSuchObject || t == NoSuchInstance || t == EndOfMibView
}

func (p PDUType) String() string {
	switch p {
	case GetRequest:
		return "GetRequest"
	case GetNextRequest:
		return "GetNextRequest"
	case GetResponse:
		return "GetResponse"
	case SetRequest:
		return "SetRequest"
	default:
		return fmt.Sprintf("PDUType(%d)", uint8(p))
	}
}

func (p PDUType) tag() Tag {
	return pduBase + Tag(p)
}

var statusNames = [...]string{
	"noError", "tooBig", "noSuchName", "badValue", "readOnly", "genErr",
	"noAccess", "wrongType", "wrongLength", "wrongEncoding", "wrongValue",
	"noCreation", "inconsistentValue", "resourceUnavailable", "commitFailed",
	"undoFailed", "authorizationError", "notWritable", "inconsistentName",
}

func (e ErrorStatus) String() string {
	if e >= 0 && int(e) < len(statusNames) {
		return statusNames[e]
	}
	return fmt.Sprintf("errorStatus(%d)", int(e))
}
