package conn

import (
	"context"

	"github.com/mikekulinski/zoocore/pkg/pending"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

// AddAuth implements source spec §4.5: at most one addauth may be
// outstanding at a time. A second concurrent call fails immediately
// with wire.ErrAuthInProgress without generating any wire traffic.
func (e *Engine) AddAuth(ctx context.Context, scheme string, authBytes []byte) error {
	rv := pending.NewRendezvous()
	sub := submission{
		entry: pending.Entry{
			Opcode:     wire.OpAuth,
			Completion: pending.Completion{Blocking: rv},
		},
		isAuth: true,
		authEncode: func() []byte {
			return wire.EncodeAuth(wire.AuthPacket{Type: 0, Scheme: scheme, Auth: authBytes})
		},
	}
	if err := e.submit(ctx, sub); err != nil {
		return err
	}
	select {
	case result := <-rv.Done:
		return result.Err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.doneCh:
		return &wire.ClientBroke{Op: wire.OpAuth}
	}
}
