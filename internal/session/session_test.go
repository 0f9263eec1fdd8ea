package session

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mellowdrifter/snmpv2c/internal/agenttest"
	"github.com/mellowdrifter/snmpv2c/internal/config"
	"github.com/mellowdrifter/snmpv2c/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

var (
	sysDescr    = protocol.MustParseOID("1.3.6.1.2.1.1.1.0")
	sysObjectID = protocol.MustParseOID("1.3.6.1.2.1.1.2.0")
	sysName     = protocol.MustParseOID("1.3.6.1.2.1.1.5.0")
	system      = protocol.MustParseOID("1.3.6.1.2.1.1")
)

// systemGroup is the MIB-II system group plus ifNumber just past it.
func systemGroup() []agenttest.Entry {
	return []agenttest.Entry{
		{OID: sysDescr, Type: protocol.OctetString, Value: "Solaris"},
		{OID: sysObjectID, Type: protocol.ObjectIdentifier, Value: protocol.MustParseOID("1.3.6.1.4.1.42")},
		{OID: protocol.MustParseOID("1.3.6.1.2.1.1.3.0"), Type: protocol.TimeTicks, Value: uint64(4242)},
		{OID: protocol.MustParseOID("1.3.6.1.2.1.1.4.0"), Type: protocol.OctetString, Value: "ops@example.net"},
		{OID: sysName, Type: protocol.OctetString, Value: "router-1"},
		{OID: protocol.MustParseOID("1.3.6.1.2.1.1.6.0"), Type: protocol.OctetString, Value: "rack 4"},
		{OID: protocol.MustParseOID("1.3.6.1.2.1.2.1.0"), Type: protocol.Integer, Value: int64(2)},
	}
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(config.Options{}, zaptest.NewLogger(t).Sugar(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// schedule returns agent options with the given timeouts in milliseconds.
func schedule(a *agenttest.Agent, ms ...int) config.Options {
	o := a.Options()
	for _, v := range ms {
		o.Timeouts = append(o.Timeouts, time.Duration(v)*time.Millisecond)
	}
	return o
}

func TestGet(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	vbs, err := s.Get(context.Background(), sysDescr, agent.Options())
	require.NoError(t, err)
	require.Len(t, vbs, 1)

	vb := vbs[0]
	assert.Equal(t, sysDescr, vb.OID)
	assert.Equal(t, protocol.OctetString, vb.Type)
	assert.Equal(t, "Solaris", vb.Value)
	assert.False(t, vb.SendStamp.IsZero())
	assert.False(t, vb.ReceiveStamp.Before(vb.SendStamp))
	assert.Equal(t, 1, agent.Requests(protocol.GetRequest))
}

func TestGetEmptyOIDSendsNothing(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	vbs, err := s.Get(context.Background(), nil, agent.Options())
	require.NoError(t, err)
	assert.Empty(t, vbs)

	vbs, err = s.GetNext(context.Background(), protocol.OID{}, agent.Options())
	require.NoError(t, err)
	assert.Empty(t, vbs)
	assert.Zero(t, agent.Packets())
}

func TestGetInvalidOIDSendsNothing(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	_, err := s.Get(context.Background(), protocol.OID{1}, agent.Options())
	assert.ErrorIs(t, err, protocol.ErrOIDTooShort)

	_, err = s.Get(context.Background(), protocol.OID{5, 1}, agent.Options())
	assert.ErrorIs(t, err, protocol.ErrOIDStart)
	assert.Zero(t, agent.Packets())
}

func TestGetMissingObject(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	vbs, err := s.Get(context.Background(), protocol.MustParseOID("1.3.6.1.2.1.1.99.0"), agent.Options())
	require.NoError(t, err)
	require.Len(t, vbs, 1)
	assert.True(t, vbs[0].IsException())
	assert.Equal(t, "noSuchObject", vbs[0].Value)
}

func TestGetNext(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	vbs, err := s.GetNext(context.Background(), sysDescr, agent.Options())
	require.NoError(t, err)
	require.Len(t, vbs, 1)
	assert.Equal(t, sysObjectID, vbs[0].OID)
	assert.Equal(t, protocol.MustParseOID("1.3.6.1.4.1.42"), vbs[0].Value)
}

func TestSet(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	vbs, err := s.Set(context.Background(), sysName, "router-2", protocol.OctetString, agent.Options())
	require.NoError(t, err)
	require.Len(t, vbs, 1)
	assert.Equal(t, "router-2", vbs[0].Value)

	e, ok := agent.Lookup(sysName)
	require.True(t, ok)
	assert.Equal(t, "router-2", e.Value)
	assert.Equal(t, 1, agent.Requests(protocol.SetRequest))
}

func TestSetValidation(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	tests := []struct {
		name    string
		oid     protocol.OID
		value   any
		tag     protocol.Tag
		wantErr error
	}{
		{"missing oid", nil, "x", protocol.OctetString, ErrMissingParameter},
		{"missing type", sysName, "x", 0, ErrMissingParameter},
		{"missing value", sysName, nil, protocol.OctetString, ErrMissingParameter},
		{"value does not fit type", sysName, "x", protocol.Integer, protocol.ErrValueType},
		{"bad oid", protocol.OID{7, 1}, "x", protocol.OctetString, protocol.ErrOIDStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Set(context.Background(), tt.oid, tt.value, tt.tag, agent.Options())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := s.Set(context.Background(), sysName, nil, 0, agent.Options())
	assert.ErrorContains(t, err, "type")
	assert.Zero(t, agent.Packets())
}

func TestTimeoutAfterSchedule(t *testing.T) {
	agent := agenttest.New(t, nil, agenttest.Silent())
	s := newSession(t)

	start := time.Now()
	vbs, err := s.Get(context.Background(), sysDescr, schedule(agent, 50, 125))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, vbs)
	assert.GreaterOrEqual(t, elapsed, 175*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Equal(t, 2, agent.Packets(), "one transmission per schedule entry")
	assert.Zero(t, s.pending.len())
}

// failingConn refuses every write.
type failingConn struct {
	net.PacketConn
	writes atomic.Int32
}

var errNetworkDown = errors.New("network is down")

func (c *failingConn) WriteTo([]byte, net.Addr) (int, error) {
	c.writes.Add(1)
	return 0, errNetworkDown
}

func TestSendErrorIsNotRetried(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	conn := &failingConn{PacketConn: pc}
	s := newSession(t, WithConn(conn))

	start := time.Now()
	_, err = s.Get(context.Background(), sysDescr, schedule(agent, 500, 500))
	require.ErrorIs(t, err, errNetworkDown)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, int32(1), conn.writes.Load())
	assert.Zero(t, s.pending.len())
}

func TestConcurrentRepliesOutOfOrder(t *testing.T) {
	agent := agenttest.New(t, systemGroup(), agenttest.ReplyInReverse(2))
	s := newSession(t)

	var descr, name []protocol.VarBind
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		descr, err = s.Get(ctx, sysDescr, schedule(agent, 2000))
		return err
	})
	g.Go(func() error {
		var err error
		name, err = s.Get(ctx, sysName, schedule(agent, 2000))
		return err
	})
	require.NoError(t, g.Wait())

	require.Len(t, descr, 1)
	require.Len(t, name, 1)
	assert.Equal(t, "Solaris", descr[0].Value)
	assert.Equal(t, "router-1", name[0].Value)
	assert.NotEqual(t, descr[0].RequestID, name[0].RequestID)
}

func TestGetAllChunksInOrder(t *testing.T) {
	var (
		entries []agenttest.Entry
		oids    []protocol.OID
	)
	for i := 20; i > 0; i-- {
		oid := protocol.OID{1, 3, 6, 1, 4, 1, 9999, 1, uint32(i)}
		entries = append(entries, agenttest.Entry{OID: oid, Type: protocol.Integer, Value: int64(i)})
		oids = append(oids, oid)
	}
	agent := agenttest.New(t, entries)
	s := newSession(t)

	vbs, err := s.GetAll(context.Background(), oids, agent.Options())
	require.NoError(t, err)
	require.Len(t, vbs, 20)
	for i, vb := range vbs {
		assert.Equal(t, oids[i], vb.OID)
		assert.Equal(t, int64(20-i), vb.Value)
	}
	assert.Equal(t, 2, agent.Requests(protocol.GetRequest), "16 + 4 varbinds")
}

func TestGetAllValidatesUpFront(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	_, err := s.GetAll(context.Background(), []protocol.OID{sysDescr, {1}}, agent.Options())
	assert.ErrorIs(t, err, protocol.ErrOIDTooShort)

	_, err = s.GetAll(context.Background(), []protocol.OID{sysDescr, nil}, agent.Options())
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.Zero(t, agent.Packets())

	vbs, err := s.GetAll(context.Background(), nil, agent.Options())
	require.NoError(t, err)
	assert.Empty(t, vbs)
}

// failFullChunks answers requests with MaxVarBindsPerPacket varbinds with
// genErr and echoes the rest as integers.
func failFullChunks(req *protocol.Packet) *protocol.Packet {
	resp := &protocol.Packet{
		Version:   protocol.V2c,
		Community: req.Community,
		PDU:       protocol.PDU{Type: protocol.GetResponse, RequestID: req.PDU.RequestID},
	}
	if len(req.PDU.VarBinds) == MaxVarBindsPerPacket {
		resp.PDU.ErrorStatus = protocol.GenErr
		resp.PDU.ErrorIndex = 1
	}
	for i, vb := range req.PDU.VarBinds {
		resp.PDU.VarBinds = append(resp.PDU.VarBinds, protocol.VarBind{OID: vb.OID, Type: protocol.Integer, Value: i})
	}
	return resp
}

func TestGetAllChunkErrors(t *testing.T) {
	oids := make([]protocol.OID, 20)
	for i := range oids {
		oids[i] = protocol.OID{1, 3, 6, 1, 4, 1, 9999, 2, uint32(i)}
	}

	t.Run("skipped by default", func(t *testing.T) {
		agent := agenttest.New(t, nil, agenttest.Respond(failFullChunks))
		s := newSession(t)

		vbs, err := s.GetAll(context.Background(), oids, agent.Options())
		require.NoError(t, err)
		require.Len(t, vbs, 20, "the failed chunk still delivers its varbinds")
		for i, vb := range vbs {
			assert.Equal(t, oids[i], vb.OID)
		}
		assert.Equal(t, 2, agent.Requests(protocol.GetRequest))
	})

	t.Run("abort on error", func(t *testing.T) {
		agent := agenttest.New(t, nil, agenttest.Respond(failFullChunks))
		s := newSession(t)

		opts := agent.Options()
		opts.AbortOnError = true
		vbs, err := s.GetAll(context.Background(), oids, opts)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, protocol.GenErr, se.Status)
		assert.Equal(t, oids[0], se.OID)
		assert.Len(t, se.VarBinds, MaxVarBindsPerPacket)
		assert.Nil(t, vbs)
		assert.Equal(t, 1, agent.Requests(protocol.GetRequest))
	})

	t.Run("every chunk timing out", func(t *testing.T) {
		agent := agenttest.New(t, nil, agenttest.Silent())
		s := newSession(t)

		vbs, err := s.GetAll(context.Background(), oids, schedule(agent, 20))
		require.NoError(t, err)
		assert.Empty(t, vbs)
		assert.Equal(t, 2, agent.Requests(protocol.GetRequest))
	})

	t.Run("every chunk with an error status", func(t *testing.T) {
		agent := agenttest.New(t, nil, agenttest.ErrorStatus(protocol.GenErr, 1))
		s := newSession(t)

		vbs, err := s.GetAll(context.Background(), oids, agent.Options())
		require.NoError(t, err)
		require.Len(t, vbs, 20)
		assert.Equal(t, protocol.Null, vbs[19].Type)
	})
}

func TestGetSubtree(t *testing.T) {
	t.Run("ends past the subtree", func(t *testing.T) {
		agent := agenttest.New(t, systemGroup())
		s := newSession(t)

		vbs, err := s.GetSubtree(context.Background(), system, agent.Options())
		require.NoError(t, err)
		require.Len(t, vbs, 6)
		assert.Equal(t, sysDescr, vbs[0].OID)
		assert.Equal(t, "rack 4", vbs[5].Value)
		assert.Equal(t, 7, agent.Requests(protocol.GetNextRequest))
	})

	t.Run("ends at end of mib view", func(t *testing.T) {
		agent := agenttest.New(t, systemGroup()[:6])
		s := newSession(t)

		vbs, err := s.GetSubtree(context.Background(), system, agent.Options())
		require.NoError(t, err)
		require.Len(t, vbs, 6)
		assert.Equal(t, 7, agent.Requests(protocol.GetNextRequest))
	})

	t.Run("empty subtree", func(t *testing.T) {
		agent := agenttest.New(t, systemGroup())
		s := newSession(t)

		vbs, err := s.GetSubtree(context.Background(), protocol.MustParseOID("1.3.6.1.2.1.1.3.0"), agent.Options())
		require.NoError(t, err)
		assert.Empty(t, vbs)
		assert.Equal(t, 1, agent.Requests(protocol.GetNextRequest))
	})

	t.Run("noSuchName ends the walk", func(t *testing.T) {
		agent := agenttest.New(t, systemGroup(), agenttest.ErrorStatus(protocol.NoSuchName, 1))
		s := newSession(t)

		vbs, err := s.GetSubtree(context.Background(), system, agent.Options())
		require.NoError(t, err)
		assert.Empty(t, vbs)
	})

	t.Run("other status errors fail the walk", func(t *testing.T) {
		agent := agenttest.New(t, systemGroup(), agenttest.ErrorStatus(protocol.GenErr, 1))
		s := newSession(t)

		_, err := s.GetSubtree(context.Background(), system, agent.Options())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Len(t, se.VarBinds, 1)
		assert.Equal(t, system, se.VarBinds[0].OID)
		assert.False(t, se.VarBinds[0].ReceiveStamp.IsZero())
	})
}

func TestGetSubtreeEmptyOIDSendsNothing(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	vbs, err := s.GetSubtree(context.Background(), nil, agent.Options())
	require.NoError(t, err)
	assert.Empty(t, vbs)
	assert.Zero(t, agent.Packets())
}

func TestWalkRejectsRepeatedOID(t *testing.T) {
	stuck := protocol.MustParseOID("1.3.6.1.2.1.1.1.0")
	agent := agenttest.New(t, nil, agenttest.Respond(func(req *protocol.Packet) *protocol.Packet {
		return &protocol.Packet{
			Version:   protocol.V2c,
			Community: req.Community,
			PDU: protocol.PDU{
				Type:      protocol.GetResponse,
				RequestID: req.PDU.RequestID,
				VarBinds:  []protocol.VarBind{{OID: stuck, Type: protocol.Integer, Value: 1}},
			},
		}
	}))
	s := newSession(t)

	var seen int
	err := s.Walk(context.Background(), system, agent.Options(), func(protocol.VarBind) error {
		seen++
		return nil
	})
	require.ErrorIs(t, err, ErrOIDNotIncreasing)
	assert.Equal(t, 1, seen)
	assert.Equal(t, 2, agent.Requests(protocol.GetNextRequest))
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	errStop := errors.New("stop")
	var seen int
	err := s.Walk(context.Background(), system, agent.Options(), func(protocol.VarBind) error {
		seen++
		if seen == 3 {
			return errStop
		}
		return nil
	})
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, 3, agent.Requests(protocol.GetNextRequest))
}

func TestSend(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	pkt := &protocol.Packet{PDU: protocol.PDU{
		Type:     protocol.GetRequest,
		VarBinds: []protocol.VarBind{{OID: sysDescr}, {OID: sysName}},
	}}
	vbs, err := s.Send(context.Background(), pkt, agent.Options())
	require.NoError(t, err)
	require.Len(t, vbs, 2)
	assert.Equal(t, "router-1", vbs[1].Value)
	assert.Zero(t, pkt.PDU.RequestID, "caller's packet untouched")
	assert.Empty(t, pkt.Community)

	_, err = s.Send(context.Background(), &protocol.Packet{}, agent.Options())
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestCloseResolvesPending(t *testing.T) {
	agent := agenttest.New(t, nil, agenttest.Silent())
	s := newSession(t)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Get(context.Background(), sysDescr, schedule(agent, 5000))
		errc <- err
	}()

	require.Eventually(t, func() bool { return s.pending.len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request not resolved by Close")
	}

	_, err := s.Get(context.Background(), sysDescr, agent.Options())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, s.Close(), "second close is a no-op")
}

func TestContextCancelRemovesRequest(t *testing.T) {
	agent := agenttest.New(t, nil, agenttest.Silent())
	s := newSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Get(ctx, sysDescr, schedule(agent, 5000))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, s.pending.len())
	assert.Equal(t, 1, agent.Packets())
}

func TestParseErrorHandler(t *testing.T) {
	garbage := []byte{0x04, 0x05, 0x01}
	agent := agenttest.New(t, nil, agenttest.Garbage(garbage))

	parsed := make(chan *ParseError, 4)
	s := newSession(t, WithParseErrorHandler(func(pe *ParseError) { parsed <- pe }))

	_, err := s.Get(context.Background(), sysDescr, schedule(agent, 50))
	require.ErrorIs(t, err, ErrTimeout, "garbage never satisfies the request")

	select {
	case pe := <-parsed:
		assert.ErrorIs(t, pe, protocol.ErrTruncated)
		assert.Equal(t, garbage, pe.Data)
		assert.Equal(t, agent.Addr().Port, pe.From.(*net.UDPAddr).Port)
	case <-time.After(time.Second):
		t.Fatal("parse error handler not called")
	}

	// The session keeps working after bad input.
	good := agenttest.New(t, systemGroup())
	vbs, err := s.Get(context.Background(), sysDescr, good.Options())
	require.NoError(t, err)
	assert.Equal(t, "Solaris", vbs[0].Value)
}

func TestSessionDefaultsLayer(t *testing.T) {
	agent := agenttest.New(t, systemGroup(), agenttest.Community("secret"))

	opts := agent.Options()
	opts.Community = "secret"
	s, err := New(opts, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	vbs, err := s.Get(context.Background(), sysDescr, config.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Solaris", vbs[0].Value)

	// An explicit community overrides the session's, and the agent drops it.
	_, err = s.Get(context.Background(), sysDescr, config.Options{Community: "public", Timeouts: []time.Duration{30 * time.Millisecond}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestInvalidOptionsSendNothing(t *testing.T) {
	agent := agenttest.New(t, systemGroup())
	s := newSession(t)

	opts := agent.Options()
	opts.Family = "ipx"
	_, err := s.Get(context.Background(), sysDescr, opts)
	assert.ErrorIs(t, err, config.ErrInvalidOptions)
	assert.Zero(t, agent.Packets())
}
