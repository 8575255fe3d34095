package conn

import (
	"context"

	"github.com/mikekulinski/zoocore/pkg/pending"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

// submit delivers sub to the loop and blocks only long enough for the
// loop to accept it (never for the reply); the loop itself never
// blocks on this send back, since submitCh is drained every iteration.
func (e *Engine) submit(ctx context.Context, sub submission) error {
	select {
	case e.submitCh <- sub:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.doneCh:
		return &wire.ClientBroke{Op: sub.entry.Opcode, Path: sub.entry.Path}
	}
}

// call is the blocking delivery mode from source spec §4.2: the caller
// suspends on a one-shot rendezvous until the Engine's loop completes it.
func (e *Engine) call(ctx context.Context, op wire.OpCode, path string, encode func(xidVal int32) ([]byte, error)) (any, error) {
	rv := pending.NewRendezvous()
	sub := submission{
		entry: pending.Entry{
			Opcode:     op,
			Path:       path,
			Completion: pending.Completion{Blocking: rv},
		},
		encode: encode,
	}
	if err := e.submit(ctx, sub); err != nil {
		return nil, err
	}
	select {
	case result := <-rv.Done:
		return result.Value, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.doneCh:
		return nil, &wire.ClientBroke{Op: op, Path: path}
	}
}

// cast is the non-blocking delivery mode: the reply arrives later as a
// TaggedResult on receiver, and this call returns as soon as the Engine
// has accepted the submission.
func (e *Engine) cast(ctx context.Context, op wire.OpCode, path string, receiver chan pending.TaggedResult, tag any, encode func(xidVal int32) ([]byte, error)) error {
	sub := submission{
		entry: pending.Entry{
			Opcode: op,
			Path:   path,
			Completion: pending.Completion{
				NonBlocking: &pending.NonBlockingTarget{Receiver: receiver, Tag: tag},
			},
		},
		encode: encode,
	}
	return e.submit(ctx, sub)
}

func encodeFor(op wire.OpCode, body any) func(xidVal int32) ([]byte, error) {
	return func(xidVal int32) ([]byte, error) {
		return wire.EncodeRequest(xidVal, op, body)
	}
}

// Create issues a blocking create request. acls may be nil to mean "no
// ACL restrictions beyond the server default."
func (e *Engine) Create(ctx context.Context, path string, data []byte, flags wire.CreateFlag, acls []wire.ACL) (wire.CreateResponse, error) {
	v, err := e.call(ctx, wire.OpCreate, path, encodeFor(wire.OpCreate, wire.CreateRequest{Path: path, Data: data, Acl: acls, Flags: flags}))
	if err != nil {
		return wire.CreateResponse{}, err
	}
	return v.(wire.CreateResponse), nil
}

// Delete issues a blocking delete request. version == -1 skips the
// server-side version check.
func (e *Engine) Delete(ctx context.Context, path string, version int32) error {
	_, err := e.call(ctx, wire.OpDelete, path, encodeFor(wire.OpDelete, wire.DeleteRequest{Path: path, Version: version}))
	return err
}

// Get issues a blocking getData request with no watch.
func (e *Engine) Get(ctx context.Context, path string) (wire.GetDataResponse, error) {
	v, err := e.call(ctx, wire.OpGetData, path, encodeFor(wire.OpGetData, wire.GetDataRequest{Path: path, Watch: false}))
	if err != nil {
		return wire.GetDataResponse{}, err
	}
	return v.(wire.GetDataResponse), nil
}

// Exists issues a blocking exists request with no watch.
func (e *Engine) Exists(ctx context.Context, path string) (wire.ExistsResponse, error) {
	v, err := e.call(ctx, wire.OpExists, path, encodeFor(wire.OpExists, wire.ExistsRequest{Path: path, Watch: false}))
	if err != nil {
		return wire.ExistsResponse{}, err
	}
	return v.(wire.ExistsResponse), nil
}

// Set issues a blocking setData request. version == -1 skips the
// server-side version check.
func (e *Engine) Set(ctx context.Context, path string, data []byte, version int32) (wire.SetDataResponse, error) {
	v, err := e.call(ctx, wire.OpSetData, path, encodeFor(wire.OpSetData, wire.SetDataRequest{Path: path, Data: data, Version: version}))
	if err != nil {
		return wire.SetDataResponse{}, err
	}
	return v.(wire.SetDataResponse), nil
}

// GetACL issues a blocking getACL request.
func (e *Engine) GetACL(ctx context.Context, path string) (wire.GetACLResponse, error) {
	v, err := e.call(ctx, wire.OpGetACL, path, encodeFor(wire.OpGetACL, wire.GetACLRequest{Path: path}))
	if err != nil {
		return wire.GetACLResponse{}, err
	}
	return v.(wire.GetACLResponse), nil
}

// SetACL issues a blocking setACL request. version == -1 skips the
// server-side version check.
func (e *Engine) SetACL(ctx context.Context, path string, acls []wire.ACL, version int32) (wire.SetACLResponse, error) {
	v, err := e.call(ctx, wire.OpSetACL, path, encodeFor(wire.OpSetACL, wire.SetACLRequest{Path: path, Acl: acls, Version: version}))
	if err != nil {
		return wire.SetACLResponse{}, err
	}
	return v.(wire.SetACLResponse), nil
}

// Ls issues a blocking getChildren request (children only, no stat).
func (e *Engine) Ls(ctx context.Context, path string) (wire.GetChildrenResponse, error) {
	v, err := e.call(ctx, wire.OpGetChildren, path, encodeFor(wire.OpGetChildren, wire.GetChildrenRequest{Path: path, Watch: false}))
	if err != nil {
		return wire.GetChildrenResponse{}, err
	}
	return v.(wire.GetChildrenResponse), nil
}

// Ls2 issues a blocking getChildren2 request (children plus stat).
func (e *Engine) Ls2(ctx context.Context, path string) (wire.GetChildren2Response, error) {
	v, err := e.call(ctx, wire.OpGetChildren2, path, encodeFor(wire.OpGetChildren2, wire.GetChildren2Request{Path: path, Watch: false}))
	if err != nil {
		return wire.GetChildren2Response{}, err
	}
	return v.(wire.GetChildren2Response), nil
}

// CastGet is the non-blocking mode of Get (source spec §4.2 cast):
// the result arrives later on receiver tagged with tag, and this call
// returns as soon as the Engine has accepted the submission.
func (e *Engine) CastGet(ctx context.Context, path string, receiver chan pending.TaggedResult, tag any) error {
	return e.cast(ctx, wire.OpGetData, path, receiver, tag, encodeFor(wire.OpGetData, wire.GetDataRequest{Path: path, Watch: false}))
}

// CastSet is the non-blocking mode of Set.
func (e *Engine) CastSet(ctx context.Context, path string, data []byte, version int32, receiver chan pending.TaggedResult, tag any) error {
	return e.cast(ctx, wire.OpSetData, path, receiver, tag, encodeFor(wire.OpSetData, wire.SetDataRequest{Path: path, Data: data, Version: version}))
}

// CastCreate is the non-blocking mode of Create.
func (e *Engine) CastCreate(ctx context.Context, path string, data []byte, flags wire.CreateFlag, acls []wire.ACL, receiver chan pending.TaggedResult, tag any) error {
	return e.cast(ctx, wire.OpCreate, path, receiver, tag, encodeFor(wire.OpCreate, wire.CreateRequest{Path: path, Data: data, Acl: acls, Flags: flags}))
}

// CastDelete is the non-blocking mode of Delete.
func (e *Engine) CastDelete(ctx context.Context, path string, version int32, receiver chan pending.TaggedResult, tag any) error {
	return e.cast(ctx, wire.OpDelete, path, receiver, tag, encodeFor(wire.OpDelete, wire.DeleteRequest{Path: path, Version: version}))
}

// CastLs is the non-blocking mode of Ls.
func (e *Engine) CastLs(ctx context.Context, path string, receiver chan pending.TaggedResult, tag any) error {
	return e.cast(ctx, wire.OpGetChildren, path, receiver, tag, encodeFor(wire.OpGetChildren, wire.GetChildrenRequest{Path: path, Watch: false}))
}

// CastLs2 is the non-blocking mode of Ls2.
func (e *Engine) CastLs2(ctx context.Context, path string, receiver chan pending.TaggedResult, tag any) error {
	return e.cast(ctx, wire.OpGetChildren2, path, receiver, tag, encodeFor(wire.OpGetChildren2, wire.GetChildren2Request{Path: path, Watch: false}))
}

