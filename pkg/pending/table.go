// Package pending implements the Engine's in-flight request correlation
// table: a map from xid to the entry describing how to complete the
// eventual reply, plus the dedicated auth slot source spec §9 calls out
// as a distinct field rather than a map entry.
package pending

import "github.com/mikekulinski/zoocore/pkg/wire"

// Completion is how a reply (or a termination notice) reaches the
// caller that submitted the request. Exactly one of Blocking or
// NonBlocking is set.
type Completion struct {
	Blocking *Rendezvous
	NonBlocking *NonBlockingTarget
}

// Rendezvous is a one-shot promise: the Engine's event loop sends
// exactly one Result into Done, then never touches it again. Callers
// block on Done.
type Rendezvous struct {
	Done chan Result
}

// NewRendezvous returns an unbuffered Rendezvous, matching the teacher's
// session.Messages channel: unbuffered so a send blocking forever is a
// bug signal rather than something silently absorbed.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{Done: make(chan Result)}
}

// NonBlockingTarget is a cast-style completion: the reply is wrapped
// with Tag and sent to Receiver without suspending the original caller.
type NonBlockingTarget struct {
	Receiver chan TaggedResult
	Tag      any
}

// Result is the outcome of one request: exactly one of Value or Err is
// set. Value's concrete type depends on the opcode (see wire.ReplyPayload).
type Result struct {
	Value any
	Err   error
}

// TaggedResult is what a NonBlocking completion delivers: the caller's
// own Tag alongside the Result, so one receiver channel can demux many
// outstanding casts.
type TaggedResult struct {
	Tag    any
	Result Result
}

// Entry is one row of the table: the opcode and path needed to decode
// the eventual reply payload, plus how to deliver it.
type Entry struct {
	Opcode     wire.OpCode
	Path       string
	Completion Completion
}

// Table is the map described in source spec §3/§9: xid -> Entry. The
// auth slot is a dedicated field, not a map entry, so its type (no path,
// always the same opcode) stays distinct from normal entries.
type Table struct {
	entries map[int32]Entry
	auth    *Entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{entries: make(map[int32]Entry)}
}

// Put records a new in-flight request. Callers must do this before the
// encoded frame leaves the socket (invariant 1).
func (t *Table) Put(xid int32, e Entry) {
	t.entries[xid] = e
}

// Take looks up and removes the entry for xid, reporting whether it was
// present. A miss on a non-special xid is a protocol violation per
// source spec §4.3 and must terminate the session; Take doesn't decide
// that, it just reports the fact.
func (t *Table) Take(xid int32) (Entry, bool) {
	e, ok := t.entries[xid]
	if ok {
		delete(t.entries, xid)
	}
	return e, ok
}

// PutAuth installs the dedicated auth slot. Callers must check AuthPending
// first; a second concurrent addauth is rejected before reaching here
// (source spec §4.5).
func (t *Table) PutAuth(e Entry) {
	t.auth = &e
}

// AuthPending reports whether an addauth is currently outstanding.
func (t *Table) AuthPending() bool {
	return t.auth != nil
}

// TakeAuth removes and returns the auth slot's entry, if any.
func (t *Table) TakeAuth() (Entry, bool) {
	if t.auth == nil {
		return Entry{}, false
	}
	e := *t.auth
	t.auth = nil
	return e, true
}

// Len reports the number of ordinary (non-auth) entries outstanding.
func (t *Table) Len() int {
	return len(t.entries)
}

// DrainBroke delivers ClientBroke to every outstanding completion —
// ordinary entries and the auth slot alike — then empties the table.
// Called once from Engine termination (source spec §4.6 step 2), after
// the watch registry has already been drained.
func (t *Table) DrainBroke() {
	for xid, e := range t.entries {
		deliverBroke(e)
		delete(t.entries, xid)
	}
	if t.auth != nil {
		deliverBroke(*t.auth)
		t.auth = nil
	}
}

func deliverBroke(e Entry) {
	err := &wire.ClientBroke{Op: e.Opcode, Path: e.Path}
	result := Result{Err: err}
	switch {
	case e.Completion.Blocking != nil:
		e.Completion.Blocking.Done <- result
	case e.Completion.NonBlocking != nil:
		nb := e.Completion.NonBlocking
		nb.Receiver <- TaggedResult{Tag: nb.Tag, Result: result}
	}
}
