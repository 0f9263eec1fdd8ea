package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mellowdrifter/snmpv2c/internal/protocol"
)

type result struct {
	varbinds []protocol.VarBind
	err      error
}

// request is one in-flight exchange.
type request struct {
	id       int32
	pduType  protocol.PDUType
	msg      []byte
	addr     net.Addr
	schedule []time.Duration
	result   chan result // buffered, written once by whoever removes the entry

	// Guarded by the pending table lock.
	retrans int
	sent    time.Time
	timer   *time.Timer
}

func (r *request) resolve(vbs []protocol.VarBind, err error) {
	r.result <- result{varbinds: vbs, err: err}
}

type expiry int

const (
	expiryGone expiry = iota
	expiryRetransmit
	expiryTimeout
)

// pendingTable maps request ids to in-flight requests. Every check-then-act on
// an entry happens under mu and verifies the entry is still the one
// registered, so a request is resolved exactly once.
type pendingTable struct {
	mu     sync.Mutex
	reqs   map[int32]*request
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[int32]*request)}
}

func (p *pendingTable) add(r *request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrSessionClosed
	}
	if _, ok := p.reqs[r.id]; ok {
		return fmt.Errorf("%w: %d", ErrRequestIDInUse, r.id)
	}
	p.reqs[r.id] = r
	return nil
}

// arm records a successful transmission and starts the timer for it.
func (p *pendingTable) arm(r *request, now time.Time, fire func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reqs[r.id] != r {
		return false
	}
	r.sent = now
	r.timer = time.AfterFunc(r.schedule[r.retrans], fire)
	r.retrans++
	return true
}

// expire decides what a fired timer means for r.
func (p *pendingTable) expire(r *request) expiry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reqs[r.id] != r {
		return expiryGone
	}
	if r.retrans >= len(r.schedule) {
		delete(p.reqs, r.id)
		return expiryTimeout
	}
	return expiryRetransmit
}

// take removes and returns the request registered under id, if any.
func (p *pendingTable) take(id int32) *request {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reqs[id]
	if !ok {
		return nil
	}
	delete(p.reqs, id)
	stop(r)
	return r
}

// remove unregisters r if it is still registered and reports whether it was.
func (p *pendingTable) remove(r *request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reqs[r.id] != r {
		return false
	}
	delete(p.reqs, r.id)
	stop(r)
	return true
}

// drain empties the table and refuses further requests.
func (p *pendingTable) drain() []*request {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	out := make([]*request, 0, len(p.reqs))
	for id, r := range p.reqs {
		delete(p.reqs, id)
		stop(r)
		out = append(out, r)
	}
	return out
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func stop(r *request) {
	if r.timer != nil {
		r.timer.Stop()
	}
}
