// Package watch implements the client-side watch registry: a multimap
// from (kind, path) to the subscribers waiting on a server-side one-shot
// trigger for that node. It is not safe for concurrent use by design —
// the Connection Engine that owns a Registry only ever touches it from
// its own event-loop goroutine, same as the pending table.
package watch

import "github.com/mikekulinski/zoocore/pkg/wire"

// Subscriber is one local registration against a (kind, path) key.
// Payload is opaque to the registry; it is handed back verbatim on
// fire or loss so the caller can recover whatever context it attached.
type Subscriber struct {
	Receiver Receiver
	Payload  any
}

// Receiver is the narrow interface a watch fire or loss is delivered
// through. Engine API callers implement this with a channel-backed type;
// tests can supply a slice-collecting fake.
type Receiver interface {
	Fire(payload any, path string, eventType wire.EventType, state wire.ConnState)
	Lost(payload any, kind wire.WatchKind, path string)
}

type key struct {
	kind wire.WatchKind
	path string
}

// Registry is the multimap described in source spec §3/§4.2/§4.3: keys
// are (kind, path) pairs, values are ordered subscriber lists.
type Registry struct {
	subs map[key][]Subscriber
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{subs: make(map[key][]Subscriber)}
}

// HasWatch reports whether a server-side watch is already believed to
// be installed for (kind, path) — i.e. whether a prior Add returned
// true for that key. The Connection Engine uses this to pick between
// the watching and non-watching wire opcode variants.
func (r *Registry) HasWatch(kind wire.WatchKind, path string) bool {
	_, ok := r.subs[key{kind, path}]
	return ok
}

// Add appends sub to the subscriber list for (kind, path) and reports
// whether a watch must be installed on the wire: true means this is the
// first subscriber for the key (send the watching opcode variant),
// false means a watch is already outstanding (send the non-watching
// variant; the new subscriber rides the existing server-side watch).
func (r *Registry) Add(kind wire.WatchKind, path string, sub Subscriber) (mustInstall bool) {
	k := key{kind, path}
	existing, ok := r.subs[k]
	r.subs[k] = append(existing, sub)
	return !ok
}

// Fire dispatches a server-pushed watch event to every subscriber
// registered for (eventType's kind, path), then clears the key —
// server-side watches are one-shot, so every client-side alias for the
// same server watch must be invalidated atomically with dispatch.
//
// kind must be resolved by the caller from the event's semantics (data
// vs. children changed); the wire event itself doesn't carry it.
func (r *Registry) Fire(kind wire.WatchKind, path string, eventType wire.EventType, state wire.ConnState) {
	k := key{kind, path}
	subs := r.subs[k]
	delete(r.subs, k)
	for _, s := range subs {
		s.Receiver.Fire(s.Payload, path, eventType, state)
	}
}

// DrainLost delivers a "watch lost" notification to every subscriber
// of every key, in no particular key order (subscriber order within a
// key is preserved), then empties the registry. Called once from
// Engine termination (source spec §4.6 step 1).
func (r *Registry) DrainLost() {
	for k, subs := range r.subs {
		for _, s := range subs {
			s.Receiver.Lost(s.Payload, k.kind, k.path)
		}
	}
	r.subs = make(map[key][]Subscriber)
}

// Len reports how many (kind, path) keys currently have an outstanding
// server-side watch. Used by tests asserting invariant 5 (empty on
// termination) and by diagnostics.
func (r *Registry) Len() int {
	return len(r.subs)
}
