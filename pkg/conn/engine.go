// Package conn implements the Connection Engine: the actor that owns
// one socket and one ZooKeeper-compatible session, multiplexing logical
// requests from many callers onto it and dispatching replies and watch
// events back out. The design follows the teacher's session/conn
// split (one owning goroutine draining a merged channel of API
// submissions, socket frames, and timer fires) generalized from a
// protobuf-over-gRPC stream to the raw length-prefixed ZooKeeper wire
// format.
package conn

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/mikekulinski/zoocore/pkg/pending"
	"github.com/mikekulinski/zoocore/pkg/watch"
	"github.com/mikekulinski/zoocore/pkg/wire"
	"github.com/mikekulinski/zoocore/pkg/xid"
)

// ServerAddr is one entry of the server list an Engine is started
// against: host, port, and the session timeout (ms) to request.
type ServerAddr struct {
	Host            string
	Port            int
	WantedTimeoutMS int32
}

func (s ServerAddr) String() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Engine is a single-session connection to one server. All of its
// mutable state (xid counter, pending table, watch registry) is owned
// exclusively by the goroutine running loop; nothing outside that
// goroutine touches it directly, so none of it needs a lock.
type Engine struct {
	id     string
	logger *zap.Logger

	transport Transport

	sessionID         int64
	negotiatedTimeout time.Duration
	heartbeatInterval time.Duration
	wantedTimeout     int32
	dialTimeout       time.Duration

	xids    *xid.Counter
	pending *pending.Table
	watches *watch.Registry

	submitCh chan submission
	framesCh chan frameMsg
	dieCh    chan dieRequest

	doneCh chan struct{}
	reason string
}

type submission struct {
	entry pending.Entry

	encode func(xidVal int32) ([]byte, error)

	// buildFrame, watchKind, watchPath, and subscriber are set only for
	// watch-setting submissions, so the loop can register the
	// subscriber and choose the wire opcode variant (source spec
	// §4.2 steps 1-3) before building the frame.
	buildFrame func(xidVal int32, mustInstall bool) ([]byte, error)
	watchKind  wire.WatchKind
	watchPath  string
	subscriber watch.Subscriber
	isWatch    bool

	// isAuth routes through the dedicated auth slot instead of the xid
	// counter and pending map (source spec §4.5): auth frames always
	// carry xid == wire.XidAuth.
	isAuth     bool
	authEncode func() []byte
}

type frameMsg struct {
	payload []byte
	err     error
}

type dieRequest struct {
	reason string
	ack    chan struct{}
}

// New constructs an Engine bound to id, not yet connected. Callers must
// call Start before submitting requests.
func New(id string, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &Engine{
		id:                id,
		logger:            cfg.logger,
		heartbeatInterval: cfg.heartbeatInterval,
		wantedTimeout:     cfg.wantedTimeout,
		dialTimeout:       cfg.dialTimeout,
		xids:              xid.NewCounter(),
		pending:           pending.New(),
		watches:           watch.New(),
		submitCh:          make(chan submission),
		framesCh:          make(chan frameMsg),
		dieCh:             make(chan dieRequest, 1),
		doneCh:            make(chan struct{}),
	}
}

// ID returns the identity the Manager uses to track this Engine.
func (e *Engine) ID() string {
	return e.id
}

// Xid is the introspection accessor from source spec §6
// (info_get_iterations): the xid the next outgoing request will be
// assigned.
func (e *Engine) Xid() int32 {
	return e.xids.Peek()
}

// SessionID returns the 64-bit session identifier the handshake
// negotiated. Zero before Start completes.
func (e *Engine) SessionID() int64 {
	return e.sessionID
}

// NegotiatedTimeout returns the server-accepted session timeout.
func (e *Engine) NegotiatedTimeout() time.Duration {
	return e.negotiatedTimeout
}

// Done is closed once the Engine has fully terminated (watches and
// pending drained, socket closed).
func (e *Engine) Done() <-chan struct{} {
	return e.doneCh
}

// Start picks one server uniformly at random from servers, dials,
// performs the handshake, and launches the event loop. It returns once
// the session is established and the first heartbeat is scheduled.
func (e *Engine) Start(ctx context.Context, servers []ServerAddr) error {
	if len(servers) == 0 {
		return fmt.Errorf("zoocore: no servers configured")
	}
	chosen := servers[rand.Intn(len(servers))]
	if chosen.WantedTimeoutMS > 0 {
		e.wantedTimeout = chosen.WantedTimeoutMS
	}

	transport, err := Dial(chosen.String(), e.dialTimeout)
	if err != nil {
		return fmt.Errorf("zoocore: dial %s: %w", chosen, err)
	}
	return e.startWithTransport(transport)
}

// startWithTransport is the transport-injectable half of Start, used
// directly by tests that supply a mock or in-process Transport.
func (e *Engine) startWithTransport(t Transport) error {
	e.transport = t

	reqFrame := wire.EncodeHandshake(wire.ConnectRequest{
		ProtocolVersion: 0,
		LastZxidSeen:    0,
		Timeout:         e.wantedTimeout,
		SessionID:       0,
		Passwd:          make([]byte, 16),
	})
	if err := e.transport.WriteFrame(reqFrame); err != nil {
		e.transport.Close()
		return fmt.Errorf("zoocore: send handshake: %w", err)
	}
	replyFrame, err := e.transport.ReadFrame()
	if err != nil {
		e.transport.Close()
		return fmt.Errorf("zoocore: read handshake reply: %w", err)
	}
	resp, err := wire.DecodeHandshake(replyFrame)
	if err != nil {
		e.transport.Close()
		return fmt.Errorf("zoocore: decode handshake reply: %w", err)
	}

	e.sessionID = resp.SessionID
	e.negotiatedTimeout = time.Duration(resp.Timeout) * time.Millisecond
	if e.heartbeatInterval*2 >= e.negotiatedTimeout && e.negotiatedTimeout > 0 {
		e.heartbeatInterval = e.negotiatedTimeout / 3
	}

	e.logger.Info("session established",
		zap.String("engine_id", e.id),
		zap.Int64("session_id", e.sessionID),
		zap.Duration("negotiated_timeout", e.negotiatedTimeout),
	)

	go e.receiveFrames()
	go e.loop()
	return nil
}

// receiveFrames reads one frame at a time off the transport and hands
// it to the event loop over an unbuffered channel, mirroring the
// teacher's continuouslyReceiveMessages: the next ReadFrame only
// happens once the loop has accepted the previous one, giving the
// one-frame-at-a-time flow control source spec §4.1 calls for.
func (e *Engine) receiveFrames() {
	for {
		payload, err := e.transport.ReadFrame()
		select {
		case e.framesCh <- frameMsg{payload: payload, err: err}:
		case <-e.doneCh:
			return
		}
		if err != nil {
			return
		}
	}
}

// loop is the Engine's single serialization point: every touch of
// xids, pending, and watches happens here and nowhere else.
func (e *Engine) loop() {
	timer := time.NewTimer(e.heartbeatInterval)
	outstandingHeartbeats := 0
	defer timer.Stop()

	for {
		select {
		case sub := <-e.submitCh:
			e.handleSubmission(sub)

		case f := <-e.framesCh:
			if f.err != nil {
				e.terminate("transport error: " + f.err.Error())
				return
			}
			if err := e.routeFrame(f.payload, &outstandingHeartbeats); err != nil {
				e.terminate(err.Error())
				return
			}

		case <-timer.C:
			if outstandingHeartbeats >= 1 {
				e.terminate("heartattack")
				return
			}
			if err := e.transport.WriteFrame(wire.EncodePing()); err != nil {
				e.terminate("heartbeat send failed: " + err.Error())
				return
			}
			outstandingHeartbeats = 1
			timer.Reset(e.heartbeatInterval)

		case req := <-e.dieCh:
			e.terminate(req.reason)
			if req.ack != nil {
				close(req.ack)
			}
			return
		}
	}
}

func (e *Engine) handleSubmission(sub submission) {
	if sub.isAuth {
		e.handleAuthSubmission(sub)
		return
	}

	xidVal := e.xids.Next()

	var frame []byte
	var err error
	if sub.isWatch {
		mustInstall := e.watches.Add(sub.watchKind, sub.watchPath, sub.subscriber)
		frame, err = sub.buildFrame(xidVal, mustInstall)
	} else {
		frame, err = sub.encode(xidVal)
	}
	if err != nil {
		e.failSubmission(sub.entry, err)
		return
	}

	e.pending.Put(xidVal, sub.entry)
	if err := e.transport.WriteFrame(frame); err != nil {
		e.pending.Take(xidVal)
		e.failSubmission(sub.entry, fmt.Errorf("zoocore: write: %w", err))
		return
	}
}

// handleAuthSubmission implements source spec §4.5: a second concurrent
// addauth fails fast, without touching the wire or consuming an xid.
func (e *Engine) handleAuthSubmission(sub submission) {
	if e.pending.AuthPending() {
		e.failSubmission(sub.entry, wire.ErrAuthInProgress)
		return
	}
	e.pending.PutAuth(sub.entry)
	if err := e.transport.WriteFrame(sub.authEncode()); err != nil {
		e.pending.TakeAuth()
		e.failSubmission(sub.entry, fmt.Errorf("zoocore: write: %w", err))
		return
	}
}

func (e *Engine) failSubmission(entry pending.Entry, err error) {
	result := pending.Result{Err: err}
	switch {
	case entry.Completion.Blocking != nil:
		entry.Completion.Blocking.Done <- result
	case entry.Completion.NonBlocking != nil:
		nb := entry.Completion.NonBlocking
		nb.Receiver <- pending.TaggedResult{Tag: nb.Tag, Result: result}
	}
}

// Die requests termination with reason and blocks until the Engine has
// fully drained and closed. Safe to call more than once; later calls
// after termination are no-ops.
func (e *Engine) Die(reason string) {
	ack := make(chan struct{})
	select {
	case e.dieCh <- dieRequest{reason: reason, ack: ack}:
		// dieCh is buffered, so this send can succeed after the loop
		// has already exited; doneCh covers that case.
		select {
		case <-ack:
		case <-e.doneCh:
		}
	case <-e.doneCh:
	}
}

func (e *Engine) terminate(reason string) {
	e.reason = reason
	e.logger.Info("engine terminating",
		zap.String("engine_id", e.id),
		zap.String("reason", reason),
	)
	// Order matters (source spec §4.6): watches first, then pending.
	e.watches.DrainLost()
	e.pending.DrainBroke()
	if e.transport != nil {
		e.transport.Close()
	}
	close(e.doneCh)
}

// TerminationReason returns why the Engine stopped, empty if still
// running.
func (e *Engine) TerminationReason() string {
	return e.reason
}
