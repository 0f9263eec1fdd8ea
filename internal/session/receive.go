package session

import (
	"encoding/hex"
	"errors"
	"net"

	"github.com/mellowdrifter/snmpv2c/internal/protocol"
)

// readLoop reads datagrams until the socket is closed.
func (s *Session) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			if isClosedError(err) || s.closed.Load() {
				return
			}
			s.logger.Warnf("Read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(data, from)
	}
}

// handleDatagram decodes one reply and hands it to the waiting request.
func (s *Session) handleDatagram(data []byte, from net.Addr) {
	pkt, err := protocol.Unmarshal(data)
	if err == nil {
		err = pkt.CheckVersion()
	}
	if err != nil {
		s.metrics.parseError()
		s.onParseError(&ParseError{Err: err, Data: data, From: from})
		return
	}

	id := pkt.PDU.RequestID
	if pkt.PDU.Type != protocol.GetResponse {
		s.metrics.unmatchedReply()
		s.logger.Warnf("Ignoring %s with request id %d from %s", pkt.PDU.Type, id, from)
		return
	}

	r := s.pending.take(id)
	if r == nil {
		s.metrics.unmatchedReply()
		s.logger.Warnf("Response with unknown request id %d from %s, roughly %s old", id, from, idAge(id, s.now()))
		return
	}

	now := s.now()
	s.metrics.observeRTT(now.Sub(r.sent))

	vbs := pkt.PDU.VarBinds
	for i := range vbs {
		vbs[i].SendStamp = r.sent
		vbs[i].ReceiveStamp = now
	}

	if status := pkt.PDU.ErrorStatus; status != protocol.NoError {
		se := &StatusError{Status: status, Index: pkt.PDU.ErrorIndex, VarBinds: vbs}
		if i := se.Index - 1; i >= 0 && i < len(vbs) {
			se.OID = vbs[i].OID
		}
		s.finish(r, nil, se)
		return
	}
	s.finish(r, vbs, nil)
}

func (s *Session) logParseError(pe *ParseError) {
	s.logger.Errorf("Could not parse datagram from %s: %v\n%s", pe.From, pe.Err, hex.Dump(pe.Data))
}

func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
