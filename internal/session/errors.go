package session

import (
	"errors"
	"fmt"
	"net"

	"github.com/mellowdrifter/snmpv2c/internal/protocol"
)

var (
	ErrTimeout           = errors.New("timeout")
	ErrSessionClosed     = errors.New("session closed")
	ErrMissingParameter  = errors.New("missing parameter")
	ErrRequestIDOverflow = errors.New("request id space for this millisecond exhausted")
	ErrRequestIDInUse    = errors.New("request id already in flight")
	ErrOIDNotIncreasing  = errors.New("OID not increasing")
)

// StatusError is returned when an agent answers with a non-zero error-status.
// VarBinds holds the varbind list of that reply, stamped like a normal one.
type StatusError struct {
	Status   protocol.ErrorStatus
	Index    int
	OID      protocol.OID // varbind the index points at, if any
	VarBinds []protocol.VarBind
}

func (e *StatusError) Error() string {
	if len(e.OID) > 0 {
		return fmt.Sprintf("agent returned %s for %s (index %d)", e.Status, e.OID, e.Index)
	}
	return fmt.Sprintf("agent returned %s (index %d)", e.Status, e.Index)
}

// ParseError describes an inbound datagram that could not be decoded.
type ParseError struct {
	Err  error
	Data []byte
	From net.Addr
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse datagram from %s: %v", e.From, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
