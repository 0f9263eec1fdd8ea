package session

import (
	"fmt"

	"github.com/mellowdrifter/snmpv2c/internal/protocol"
)

// transmit sends r once. The timer for the current step of the schedule is
// armed before the write so a fast reply always finds a send time. A send
// error fails the request at once.
func (s *Session) transmit(r *request) {
	if !s.pending.arm(r, s.now(), func() { s.expire(r) }) {
		return
	}
	if _, err := s.conn.WriteTo(r.msg, r.addr); err != nil {
		if s.pending.remove(r) {
			s.metrics.sendError()
			s.logger.Debugf("Send of request %d to %s failed: %v", r.id, r.addr, err)
			s.finish(r, nil, fmt.Errorf("send to %s: %w", r.addr, err))
		}
		return
	}
	s.logger.Debugf("Sent %s %d to %s", r.pduType, r.id, r.addr)
}

// expire runs when r's timer fires.
func (s *Session) expire(r *request) {
	switch s.pending.expire(r) {
	case expiryGone:
	case expiryTimeout:
		s.metrics.timeout()
		s.logger.Debugf("Request %d to %s timed out after %d transmissions", r.id, r.addr, len(r.schedule))
		s.finish(r, nil, ErrTimeout)
	case expiryRetransmit:
		s.metrics.retransmission()
		s.logger.Debugf("Retransmitting request %d to %s", r.id, r.addr)
		s.transmit(r)
	}
}

// finish delivers the outcome of a request that has already been removed from
// the pending table.
func (s *Session) finish(r *request, vbs []protocol.VarBind, err error) {
	s.metrics.requestDone()
	r.resolve(vbs, err)
}
