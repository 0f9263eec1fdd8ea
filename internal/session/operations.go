package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mellowdrifter/snmpv2c/internal/config"
	"github.com/mellowdrifter/snmpv2c/internal/protocol"
	"go.uber.org/multierr"
)

// MaxVarBindsPerPacket caps the number of OIDs GetAll puts in one request.
const MaxVarBindsPerPacket = 16

// Get fetches the value of a single OID. An empty OID returns no varbinds and
// sends nothing.
func (s *Session) Get(ctx context.Context, oid protocol.OID, opts config.Options) ([]protocol.VarBind, error) {
	return s.single(ctx, protocol.GetRequest, oid, opts)
}

// GetNext fetches the first OID lexicographically after oid.
func (s *Session) GetNext(ctx context.Context, oid protocol.OID, opts config.Options) ([]protocol.VarBind, error) {
	return s.single(ctx, protocol.GetNextRequest, oid, opts)
}

func (s *Session) single(ctx context.Context, t protocol.PDUType, oid protocol.OID, opts config.Options) ([]protocol.VarBind, error) {
	if len(oid) == 0 {
		return nil, nil
	}
	if err := oid.Validate(); err != nil {
		return nil, err
	}
	o, err := s.options(opts)
	if err != nil {
		return nil, err
	}
	return s.do(ctx, o, protocol.NewPacket(t, o.Community, oid))
}

// Set writes value, encoded as tag, to oid.
func (s *Session) Set(ctx context.Context, oid protocol.OID, value any, tag protocol.Tag, opts config.Options) ([]protocol.VarBind, error) {
	switch {
	case len(oid) == 0:
		return nil, fmt.Errorf("%w: oid", ErrMissingParameter)
	case tag == 0:
		return nil, fmt.Errorf("%w: type", ErrMissingParameter)
	case value == nil && tag != protocol.Null:
		return nil, fmt.Errorf("%w: value", ErrMissingParameter)
	}
	if err := oid.Validate(); err != nil {
		return nil, err
	}
	if _, err := protocol.EncodeValue(tag, value); err != nil {
		return nil, err
	}
	o, err := s.options(opts)
	if err != nil {
		return nil, err
	}

	pkt := &protocol.Packet{
		Version:   protocol.V2c,
		Community: o.Community,
		PDU: protocol.PDU{
			Type:     protocol.SetRequest,
			VarBinds: []protocol.VarBind{{OID: oid, Type: tag, Value: value}},
		},
	}
	return s.do(ctx, o, pkt)
}

// GetAll fetches every OID in oids, MaxVarBindsPerPacket at a time, and
// returns the varbinds in input order. A failing chunk aborts the call when
// opts.AbortOnError is set. Otherwise the failure is logged and skipped and
// whatever succeeded is returned; a chunk answered with an error-status still
// contributes the varbinds the agent sent back.
func (s *Session) GetAll(ctx context.Context, oids []protocol.OID, opts config.Options) ([]protocol.VarBind, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	for i, oid := range oids {
		if len(oid) == 0 {
			return nil, fmt.Errorf("%w: oid %d", ErrMissingParameter, i)
		}
		if err := oid.Validate(); err != nil {
			return nil, fmt.Errorf("oid %d: %w", i, err)
		}
	}
	o, err := s.options(opts)
	if err != nil {
		return nil, err
	}

	var (
		all  []protocol.VarBind
		errs error
		n    int
	)
	for chunk := range slices.Chunk(oids, MaxVarBindsPerPacket) {
		n++
		vbs, err := s.do(ctx, o, protocol.NewPacket(protocol.GetRequest, o.Community, chunk...))
		if err != nil {
			if o.AbortOnError || ctx.Err() != nil {
				return nil, err
			}
			errs = multierr.Append(errs, fmt.Errorf("chunk starting at %s: %w", chunk[0], err))
			var se *StatusError
			if errors.As(err, &se) {
				all = append(all, se.VarBinds...)
			}
			continue
		}
		all = append(all, vbs...)
	}

	if errs != nil {
		s.logger.Debugf("GetAll: %d of %d chunks failed: %v", len(multierr.Errors(errs)), n, errs)
	}
	return all, nil
}

// GetSubtree walks every OID strictly below root and returns the varbinds in
// order.
func (s *Session) GetSubtree(ctx context.Context, root protocol.OID, opts config.Options) ([]protocol.VarBind, error) {
	var out []protocol.VarBind
	err := s.Walk(ctx, root, opts, func(vb protocol.VarBind) error {
		out = append(out, vb)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Walk issues GetNext requests starting at root and calls fn for every varbind
// still below root. It stops at the first OID outside the subtree, at an
// exception value, on an empty reply, or on a noSuchName error status. An
// error from fn stops the walk and is returned. An empty root walks nothing
// and sends nothing.
func (s *Session) Walk(ctx context.Context, root protocol.OID, opts config.Options, fn func(protocol.VarBind) error) error {
	if len(root) == 0 {
		return nil
	}
	if err := root.Validate(); err != nil {
		return err
	}
	o, err := s.options(opts)
	if err != nil {
		return err
	}

	cur := root
	for {
		vbs, err := s.do(ctx, o, protocol.NewPacket(protocol.GetNextRequest, o.Community, cur))
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Status == protocol.NoSuchName {
				return nil
			}
			return err
		}
		if len(vbs) == 0 {
			return nil
		}

		vb := vbs[0]
		if !vb.OID.HasPrefix(root) || vb.IsException() {
			return nil
		}
		if protocol.Compare(vb.OID, cur) <= 0 {
			return fmt.Errorf("%w: %s after %s", ErrOIDNotIncreasing, vb.OID, cur)
		}
		if err := fn(vb); err != nil {
			return err
		}
		cur = vb.OID
	}
}

// Send transmits a caller built packet and waits for the reply. The session
// assigns the request id and fills in a zero version or empty community; pkt
// itself is not modified.
func (s *Session) Send(ctx context.Context, pkt *protocol.Packet, opts config.Options) ([]protocol.VarBind, error) {
	if pkt == nil || len(pkt.PDU.VarBinds) == 0 {
		return nil, fmt.Errorf("%w: varbinds", ErrMissingParameter)
	}
	o, err := s.options(opts)
	if err != nil {
		return nil, err
	}

	p := *pkt
	p.PDU.VarBinds = slices.Clone(pkt.PDU.VarBinds)
	if p.Community == "" {
		p.Community = o.Community
	}
	if p.Version == 0 {
		p.Version = protocol.V2c
	}
	return s.do(ctx, o, &p)
}
