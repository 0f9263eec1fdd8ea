// Package agenttest runs a minimal SNMPv2c agent on loopback UDP for tests.
package agenttest

import (
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mellowdrifter/snmpv2c/internal/config"
	"github.com/mellowdrifter/snmpv2c/internal/protocol"
)

// Entry is one object served by the agent.
type Entry struct {
	OID   protocol.OID
	Type  protocol.Tag
	Value any
}

// Agent answers Get, GetNext and Set requests from an in-memory table.
type Agent struct {
	conn net.PacketConn

	mu        sync.Mutex
	entries   []Entry
	requests  map[protocol.PDUType]int
	held      []reply
	community string
	silent    bool
	garbage   []byte
	reverse   int
	duplicate bool
	status    protocol.ErrorStatus
	index     int
	respond   func(*protocol.Packet) *protocol.Packet

	packets   atomic.Int64
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type reply struct {
	data []byte
	to   net.Addr
}

type Option func(*Agent)

// Silent makes the agent read requests without ever replying.
func Silent() Option {
	return func(a *Agent) { a.silent = true }
}

// Garbage makes the agent answer every request with data.
func Garbage(data []byte) Option {
	return func(a *Agent) { a.garbage = data }
}

// ReplyInReverse holds replies until n are pending and then sends them newest
// first.
func ReplyInReverse(n int) Option {
	return func(a *Agent) { a.reverse = n }
}

// Duplicate makes the agent send every reply twice.
func Duplicate() Option {
	return func(a *Agent) { a.duplicate = true }
}

// ErrorStatus makes every reply carry the given error-status and index.
func ErrorStatus(status protocol.ErrorStatus, index int) Option {
	return func(a *Agent) {
		a.status = status
		a.index = index
	}
}

// Community makes the agent drop requests for any other community.
func Community(c string) Option {
	return func(a *Agent) { a.community = c }
}

// Respond replaces table lookups with fn. A nil return drops the request.
func Respond(fn func(req *protocol.Packet) *protocol.Packet) Option {
	return func(a *Agent) { a.respond = fn }
}

// New starts an agent on 127.0.0.1 serving entries. It is closed when the test
// ends.
func New(tb testing.TB, entries []Entry, opts ...Option) *Agent {
	tb.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("agent listen failed: %v", err)
	}

	a := &Agent{
		conn:     conn,
		entries:  slices.Clone(entries),
		requests: make(map[protocol.PDUType]int),
	}
	slices.SortFunc(a.entries, func(x, y Entry) int { return protocol.Compare(x.OID, y.OID) })
	for _, o := range opts {
		o(a)
	}

	a.wg.Add(1)
	go a.serve()
	tb.Cleanup(a.Close)
	return a
}

// Addr returns the address the agent listens on.
func (a *Agent) Addr() *net.UDPAddr {
	return a.conn.LocalAddr().(*net.UDPAddr)
}

// Options returns session options pointing at the agent.
func (a *Agent) Options() config.Options {
	return config.Options{
		Host:   "127.0.0.1",
		Port:   a.Addr().Port,
		Family: "udp4",
	}
}

// Packets returns the number of datagrams received, decodable or not.
func (a *Agent) Packets() int {
	return int(a.packets.Load())
}

// Requests returns the number of decoded requests of type t.
func (a *Agent) Requests(t protocol.PDUType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[t]
}

// Lookup returns the current value stored for oid.
func (a *Agent) Lookup(oid protocol.OID) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.find(oid)
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.conn.Close()
		a.wg.Wait()
	})
}

func (a *Agent) serve() {
	defer a.wg.Done()

	buf := make([]byte, 65535)
	for {
		n, from, err := a.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		a.packets.Add(1)

		req, err := protocol.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		a.handle(req, from)
	}
}

func (a *Agent) handle(req *protocol.Packet, from net.Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests[req.PDU.Type]++

	switch {
	case a.silent:
		return
	case a.community != "" && req.Community != a.community:
		return
	case a.garbage != nil:
		a.conn.WriteTo(a.garbage, from)
		return
	}

	var resp *protocol.Packet
	if a.respond != nil {
		resp = a.respond(req)
	} else {
		resp = a.answer(req)
	}
	if resp == nil {
		return
	}
	data, err := resp.Marshal()
	if err != nil {
		return
	}

	if a.reverse > 0 {
		a.held = append(a.held, reply{data: data, to: from})
		if len(a.held) < a.reverse {
			return
		}
		for i := len(a.held) - 1; i >= 0; i-- {
			a.conn.WriteTo(a.held[i].data, a.held[i].to)
		}
		a.held = nil
		return
	}

	a.conn.WriteTo(data, from)
	if a.duplicate {
		a.conn.WriteTo(data, from)
	}
}

// answer builds the reply to req from the table. Called with mu held.
func (a *Agent) answer(req *protocol.Packet) *protocol.Packet {
	resp := &protocol.Packet{
		Version:   protocol.V2c,
		Community: req.Community,
		PDU: protocol.PDU{
			Type:      protocol.GetResponse,
			RequestID: req.PDU.RequestID,
		},
	}

	if a.status != protocol.NoError {
		resp.PDU.ErrorStatus = a.status
		resp.PDU.ErrorIndex = a.index
		for _, vb := range req.PDU.VarBinds {
			resp.PDU.VarBinds = append(resp.PDU.VarBinds, protocol.VarBind{OID: vb.OID, Type: protocol.Null})
		}
		return resp
	}

	for _, vb := range req.PDU.VarBinds {
		var out protocol.VarBind
		switch req.PDU.Type {
		case protocol.GetRequest:
			out = a.get(vb.OID)
		case protocol.GetNextRequest:
			out = a.next(vb.OID)
		case protocol.SetRequest:
			out = a.set(vb)
		default:
			return nil
		}
		resp.PDU.VarBinds = append(resp.PDU.VarBinds, out)
	}
	return resp
}

func (a *Agent) find(oid protocol.OID) (int, bool) {
	return slices.BinarySearchFunc(a.entries, oid, func(e Entry, target protocol.OID) int {
		return protocol.Compare(e.OID, target)
	})
}

func (a *Agent) get(oid protocol.OID) protocol.VarBind {
	i, ok := a.find(oid)
	if !ok {
		return protocol.VarBind{OID: oid, Type: protocol.NoSuchObject}
	}
	e := a.entries[i]
	return protocol.VarBind{OID: e.OID, Type: e.Type, Value: e.Value}
}

func (a *Agent) next(oid protocol.OID) protocol.VarBind {
	i := slices.IndexFunc(a.entries, func(e Entry) bool { return protocol.Compare(e.OID, oid) > 0 })
	if i < 0 {
		return protocol.VarBind{OID: oid, Type: protocol.EndOfMibView}
	}
	e := a.entries[i]
	return protocol.VarBind{OID: e.OID, Type: e.Type, Value: e.Value}
}

func (a *Agent) set(vb protocol.VarBind) protocol.VarBind {
	e := Entry{OID: vb.OID, Type: vb.Type, Value: vb.Value}
	if i, ok := a.find(vb.OID); ok {
		a.entries[i] = e
	} else {
		a.entries = slices.Insert(a.entries, i, e)
	}
	return protocol.VarBind{OID: e.OID, Type: e.Type, Value: e.Value}
}
