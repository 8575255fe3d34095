package conn

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikekulinski/zoocore/pkg/pending"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

// routeFrame classifies one decoded frame by its leading xid (source
// spec §4.3) and drives the matching state transition. It returns a
// non-nil error only for protocol violations that must terminate the
// session (missing pending entry, malformed payload).
func (e *Engine) routeFrame(payload []byte, outstandingHeartbeats *int) error {
	header, rest, err := wire.DecodeReplyHeader(payload)
	if err != nil {
		return fmt.Errorf("zoocore: malformed frame: %w", err)
	}

	switch header.Xid {
	case wire.XidPing:
		return e.routeHeartbeatAck(outstandingHeartbeats)
	case wire.XidWatchEvent:
		return e.routeWatchEvent(rest)
	case wire.XidAuth:
		return e.routeAuthReply(header)
	default:
		return e.routeNormalReply(header, rest)
	}
}

func (e *Engine) routeHeartbeatAck(outstandingHeartbeats *int) error {
	if *outstandingHeartbeats == 0 {
		// Tolerated silently per source spec §4.3: an ack with nothing
		// outstanding is a protocol oddity, not a fatal one.
		e.logger.Warn("heartbeat ack with none outstanding", zap.String("engine_id", e.id))
		return nil
	}
	*outstandingHeartbeats--
	return nil
}

func (e *Engine) routeWatchEvent(payload []byte) error {
	ev, err := wire.DecodeWatchEvent(payload)
	if err != nil {
		return fmt.Errorf("zoocore: malformed watch event: %w", err)
	}
	kind := watchKindForEvent(ev.Type)
	e.watches.Fire(kind, ev.Path, ev.Type, ev.State)
	// Exist watches (ExistsW) fire on the same created/deleted/dataChanged
	// events as data watches.
	if kind == wire.WatchData {
		e.watches.Fire(wire.WatchExist, ev.Path, ev.Type, ev.State)
	}
	return nil
}

// watchKindForEvent maps the event's change type to the watch kind the
// registry keyed it under. NodeChildrenChanged fires child watches;
// everything else (created/deleted/dataChanged) fires data watches.
func watchKindForEvent(t wire.EventType) wire.WatchKind {
	if t == wire.EventNodeChildrenChanged {
		return wire.WatchChild
	}
	return wire.WatchData
}

func (e *Engine) routeAuthReply(header wire.ReplyHeader) error {
	entry, ok := e.pending.TakeAuth()
	if !ok {
		return fmt.Errorf("zoocore: auth reply with no pending addauth")
	}
	var result pending.Result
	if header.Err == wire.ErrCodeOK {
		result = pending.Result{Value: "authed"}
	} else {
		result = pending.Result{Err: wire.FromCode(header.Err, wire.OpAuth, "")}
	}
	deliver(entry.Completion, result)
	return nil
}

func (e *Engine) routeNormalReply(header wire.ReplyHeader, body []byte) error {
	entry, ok := e.pending.Take(header.Xid)
	if !ok {
		return fmt.Errorf("zoocore: reply for unknown xid %d", header.Xid)
	}

	var result pending.Result
	if header.Err != wire.ErrCodeOK {
		result = pending.Result{Err: wire.FromCode(header.Err, entry.Opcode, entry.Path)}
	} else {
		value, err := wire.ReplyPayload(entry.Opcode, body)
		if err != nil {
			return fmt.Errorf("zoocore: malformed reply for %s %s: %w", entry.Opcode, entry.Path, err)
		}
		result = pending.Result{Value: value}
	}
	deliver(entry.Completion, result)
	return nil
}

func deliver(c pending.Completion, result pending.Result) {
	switch {
	case c.Blocking != nil:
		c.Blocking.Done <- result
	case c.NonBlocking != nil:
		c.NonBlocking.Receiver <- pending.TaggedResult{Tag: c.NonBlocking.Tag, Result: result}
	}
}
