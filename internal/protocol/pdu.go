package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// VarBind is a single (OID, type, value) binding.
type VarBind struct {
	OID   OID
	Type  Tag
	Value any

	// Raw holds the undecoded value content and Hex its hex rendering. Both are
	// only set on varbinds produced by Unmarshal.
	Raw []byte
	Hex string

	// Attached after parsing, not part of the wire varbind.
	RequestID    int32
	SendStamp    time.Time
	ReceiveStamp time.Time
}

// Bytes returns the raw value content, e.g. the octets of an OctetString.
func (v VarBind) Bytes() []byte {
	return v.Raw
}

// IsException reports whether the value is noSuchObject, noSuchInstance or
// endOfMibView.
func (v VarBind) IsException() bool {
	return v.Type.IsException()
}

type PDU struct {
	Type        PDUType
	RequestID   int32
	ErrorStatus ErrorStatus
	ErrorIndex  int
	VarBinds    []VarBind
}

// Packet is a complete SNMPv2c message.
type Packet struct {
	/*
		SEQUENCE {
		    version    INTEGER (1 = v2c)
		    community  OCTET STRING
		    [0xA0+type] {
		        request-id    INTEGER
		        error-status  INTEGER
		        error-index   INTEGER
		        SEQUENCE {
		            SEQUENCE { name OBJECT IDENTIFIER, value ANY }
		            ...
		        }
		    }
		}
	*/
	Version   Version
	Community string
	PDU       PDU
}

// NewPacket returns a v2c packet requesting oids with Null placeholder values.
func NewPacket(t PDUType, community string, oids ...OID) *Packet {
	vbs := make([]VarBind, len(oids))
	for i, oid := range oids {
		vbs[i] = VarBind{OID: oid, Type: Null}
	}
	return &Packet{
		Version:   V2c,
		Community: community,
		PDU: PDU{
			Type:     t,
			VarBinds: vbs,
		},
	}
}

// Marshal returns the BER encoding of the packet.
func (p *Packet) Marshal() ([]byte, error) {
	if err := checkVersion(p.Version); err != nil {
		return nil, err
	}
	if len(p.PDU.VarBinds) == 0 {
		return nil, ErrNoVarBinds
	}

	var vbs bytes.Buffer
	for i, vb := range p.PDU.VarBinds {
		encoded, err := marshalVarBind(vb)
		if err != nil {
			return nil, fmt.Errorf("varbind %d (%s): %w", i, vb.OID, err)
		}
		vbs.Write(encoded)
	}

	var pdu bytes.Buffer
	pdu.Write(EncodeInteger(int64(p.PDU.RequestID)))
	pdu.Write(EncodeInteger(int64(p.PDU.ErrorStatus)))
	pdu.Write(EncodeInteger(int64(p.PDU.ErrorIndex)))
	pdu.Write(EncodeSequence(vbs.Bytes()))

	var msg bytes.Buffer
	msg.Write(EncodeInteger(int64(p.Version)))
	msg.Write(EncodeOctetString([]byte(p.Community)))
	msg.Write(EncodeRequest(p.PDU.Type, pdu.Bytes()))

	return EncodeSequence(msg.Bytes()), nil
}

func marshalVarBind(vb VarBind) ([]byte, error) {
	oid, err := EncodeOID(vb.OID)
	if err != nil {
		return nil, err
	}

	// A zero type is a request placeholder.
	tag := vb.Type
	if tag == 0 {
		tag = Null
	}
	val, err := EncodeValue(tag, vb.Value)
	if err != nil {
		return nil, err
	}
	return EncodeSequence(append(oid, val...)), nil
}

// Unmarshal parses a received datagram into a Packet.
func Unmarshal(data []byte) (*Packet, error) {
	_, msg, err := expect(data, Sequence)
	if err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}

	p := &Packet{}

	version, msg, err := nextInteger(msg)
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	p.Version = Version(version)

	h, community, msg, err := element(msg)
	if err != nil {
		return nil, fmt.Errorf("community: %w", err)
	}
	if h.tag != OctetString {
		return nil, fmt.Errorf("community: %w", &TypeError{Expected: []Tag{OctetString}, Got: h.tag})
	}
	p.Community = string(community)

	h, body, _, err := element(msg)
	if err != nil {
		return nil, fmt.Errorf("pdu: %w", err)
	}
	if h.tag < pduBase || h.tag > SetRequest.tag() {
		return nil, fmt.Errorf("unsupported PDU type: 0x%02x", uint8(h.tag))
	}
	p.PDU.Type = PDUType(h.tag - pduBase)

	reqID, body, err := nextInteger(body)
	if err != nil {
		return nil, fmt.Errorf("request-id: %w", err)
	}
	if reqID < math.MinInt32 || reqID > math.MaxInt32 {
		return nil, fmt.Errorf("request-id %d out of range", reqID)
	}
	p.PDU.RequestID = int32(reqID)

	status, body, err := nextInteger(body)
	if err != nil {
		return nil, fmt.Errorf("error-status: %w", err)
	}
	p.PDU.ErrorStatus = ErrorStatus(status)

	index, body, err := nextInteger(body)
	if err != nil {
		return nil, fmt.Errorf("error-index: %w", err)
	}
	p.PDU.ErrorIndex = int(index)

	_, list, err := expect(body, Sequence)
	if err != nil {
		return nil, fmt.Errorf("varbind list: %w", err)
	}

	for len(list) > 0 {
		h, vbContent, rest, err := element(list)
		if err != nil {
			return nil, fmt.Errorf("varbind %d: %w", len(p.PDU.VarBinds), err)
		}
		if h.tag != Sequence {
			return nil, fmt.Errorf("varbind %d: %w", len(p.PDU.VarBinds), &TypeError{Expected: []Tag{Sequence}, Got: h.tag})
		}
		vb, err := unmarshalVarBind(vbContent)
		if err != nil {
			return nil, fmt.Errorf("varbind %d: %w", len(p.PDU.VarBinds), err)
		}
		vb.RequestID = p.PDU.RequestID
		p.PDU.VarBinds = append(p.PDU.VarBinds, vb)
		list = rest
	}

	return p, nil
}

func nextInteger(buf []byte) (int64, []byte, error) {
	h, content, rest, err := element(buf)
	if err != nil {
		return 0, nil, err
	}
	if h.tag != Integer {
		return 0, nil, &TypeError{Expected: []Tag{Integer}, Got: h.tag}
	}
	v, err := decodeSigned(content)
	return v, rest, err
}

func unmarshalVarBind(buf []byte) (VarBind, error) {
	h, oidContent, rest, err := element(buf)
	if err != nil {
		return VarBind{}, err
	}
	if h.tag != ObjectIdentifier {
		return VarBind{}, &TypeError{Expected: []Tag{ObjectIdentifier}, Got: h.tag}
	}
	oid, err := decodeOID(oidContent)
	if err != nil {
		return VarBind{}, err
	}

	h, content, _, err := element(rest)
	if err != nil {
		return VarBind{}, fmt.Errorf("value of %s: %w", oid, err)
	}

	vb := VarBind{
		OID:  oid,
		Type: h.tag,
		Raw:  content,
		Hex:  hex.EncodeToString(content),
	}

	switch h.tag {
	case Null:
		vb.Value = nil
	case OctetString:
		vb.Value = string(content)
	case Integer:
		vb.Value, err = decodeSigned(content)
	case Counter32, Gauge32, TimeTicks, Counter64:
		vb.Value, err = decodeUnsigned(content)
	case ObjectIdentifier:
		vb.Value, err = decodeOID(content)
	case IPAddress:
		vb.Value, err = decodeIPAddress(content)
	case Opaque:
		vb.Value = "0x" + vb.Hex
	case EndOfMibView:
		vb.Value = "endOfMibView"
	case NoSuchObject:
		vb.Value = "noSuchObject"
	case NoSuchInstance:
		vb.Value = "noSuchInstance"
	default:
		return VarBind{}, fmt.Errorf("unrecognized value type %s for %s", h.tag, oid)
	}
	if err != nil {
		return VarBind{}, fmt.Errorf("value of %s: %w", oid, err)
	}
	return vb, nil
}
