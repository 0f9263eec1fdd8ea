package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mellowdrifter/snmpv2c/internal/config"
	"github.com/mellowdrifter/snmpv2c/internal/protocol"
	"go.uber.org/zap"
)

// maxDatagram is the largest UDP payload we will read.
const maxDatagram = 65535

// Session sends SNMPv2c requests over a single UDP socket and matches replies
// to callers by request id. A session is not bound to one agent: every call
// may override the host, port, community and timeouts.
type Session struct {
	// large fields first
	conn    net.PacketConn
	logger  *zap.SugaredLogger
	opts    config.Options
	pending *pendingTable
	ids     *idGenerator
	metrics *Metrics

	onParseError func(*ParseError)
	now          func() time.Time

	// sync types next
	wg        sync.WaitGroup
	closeOnce sync.Once

	// smaller fields last
	closed atomic.Bool
}

type Option func(*Session)

// WithConn makes the session use conn instead of opening its own socket. The
// session takes ownership and closes conn on Close.
func WithConn(conn net.PacketConn) Option {
	return func(s *Session) { s.conn = conn }
}

// WithMetrics records session activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithParseErrorHandler replaces the default handler, which logs a hex dump of
// every datagram that fails to decode.
func WithParseErrorHandler(fn func(*ParseError)) Option {
	return func(s *Session) { s.onParseError = fn }
}

func withClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session whose options are the defaults for every call made on
// it, and starts its read loop.
func New(opts config.Options, logger *zap.SugaredLogger, options ...Option) (*Session, error) {
	s := &Session{
		logger:  logger,
		opts:    opts,
		pending: newPendingTable(),
		now:     time.Now,
	}
	s.onParseError = s.logParseError
	for _, o := range options {
		o(s)
	}
	s.ids = newIDGenerator(s.now)

	if s.conn == nil {
		family := config.Resolve(opts, config.Options{}, config.Defaults()).Family
		conn, err := net.ListenPacket(family, ":0")
		if err != nil {
			return nil, fmt.Errorf("failed to open %s socket: %w", family, err)
		}
		s.conn = conn
	}
	s.logger = s.logger.With("local", s.conn.LocalAddr().String())

	s.wg.Add(1)
	go s.readLoop()

	s.logger.Debugf("Session started")
	return s, nil
}

// LocalAddr returns the address replies are received on.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close fails every in-flight request with ErrSessionClosed, closes the socket
// and waits for the read loop to exit.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		reqs := s.pending.drain()
		for _, r := range reqs {
			s.finish(r, nil, ErrSessionClosed)
		}

		err = s.conn.Close()
		s.wg.Wait()
		s.logger.Debugf("Session closed, %d requests abandoned", len(reqs))
	})
	return err
}

// options layers the caller's options over the session's and the defaults.
func (s *Session) options(explicit config.Options) (config.Options, error) {
	if s.closed.Load() {
		return config.Options{}, ErrSessionClosed
	}
	o := config.Resolve(explicit, s.opts, config.Defaults())
	if err := o.Validate(); err != nil {
		return config.Options{}, err
	}
	return o, nil
}

// do sends pkt to the agent named in o and waits for the matching reply. o
// must already be resolved.
func (s *Session) do(ctx context.Context, o config.Options, pkt *protocol.Packet) ([]protocol.VarBind, error) {
	addr, err := net.ResolveUDPAddr(o.Family, o.Address())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", o.Address(), err)
	}

	id, err := s.ids.next()
	if err != nil {
		return nil, err
	}
	pkt.PDU.RequestID = id

	msg, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}

	r := &request{
		id:       id,
		pduType:  pkt.PDU.Type,
		msg:      msg,
		addr:     addr,
		schedule: o.Timeouts,
		result:   make(chan result, 1),
	}
	if err := s.pending.add(r); err != nil {
		return nil, err
	}
	s.metrics.requestStarted(r.pduType)

	s.transmit(r)

	select {
	case res := <-r.result:
		return res.varbinds, res.err
	case <-ctx.Done():
		if s.pending.remove(r) {
			s.metrics.requestDone()
			return nil, ctx.Err()
		}
		// Resolved concurrently; the result is already on its way.
		res := <-r.result
		return res.varbinds, res.err
	}
}
