// Package manager implements the Connection Manager: the component
// that spawns and tracks Connection Engines and tears one down when any
// of the external identities it's bound to stops being alive. Like
// pkg/conn's Engine, it follows the teacher's actor pattern: a single
// goroutine owns connections and serializes every mutation through one
// inbound command channel, so nothing here needs a lock either.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikekulinski/zoocore/pkg/conn"
)

// Manager spawns and tracks Connection Engines per source spec §4.7.
type Manager struct {
	defaultServers []conn.ServerAddr
	liveness       LivenessSource
	logger         *zap.Logger

	cmdCh  chan command
	dieCh  chan string // engine id whose monitored identity died
	doneCh chan struct{}

	wg sync.WaitGroup
}

type trackedEngine struct {
	engine   *conn.Engine
	monitors []string
	cancel   context.CancelFunc
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New constructs a Manager with defaultServers used by StartConnection
// calls that don't supply their own list, and starts its command loop.
func New(defaultServers []conn.ServerAddr, liveness LivenessSource, opts ...Option) *Manager {
	m := &Manager{
		defaultServers: defaultServers,
		liveness:       liveness,
		logger:         zap.NewNop(),
		cmdCh:          make(chan command),
		dieCh:          make(chan string),
		doneCh:         make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

type command struct {
	kind      commandKind
	servers   []conn.ServerAddr
	monitors  []string
	engineID  string
	reason    string
	reply     chan commandReply
	opts      []conn.Option
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdEnd
	cmdAddMonitors
	cmdShutdown
)

type commandReply struct {
	engine *conn.Engine
	err    error
}

// StartConnection spawns an Engine against servers (or the Manager's
// defaults if servers is nil) and installs a death-watch on every
// monitor token that resolves to a live identity. It returns the new
// Engine's id.
func (m *Manager) StartConnection(ctx context.Context, servers []conn.ServerAddr, monitors []string, opts ...conn.Option) (string, error) {
	reply := make(chan commandReply, 1)
	select {
	case m.cmdCh <- command{kind: cmdStart, servers: servers, monitors: monitors, opts: opts, reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.doneCh:
		return "", fmt.Errorf("zoocore: manager is shut down")
	}
	select {
	case r := <-reply:
		if r.err != nil {
			return "", r.err
		}
		return r.engine.ID(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// EndConnection tears down the Engine identified by engineID with
// reason and removes its association from the Manager.
func (m *Manager) EndConnection(ctx context.Context, engineID, reason string) error {
	reply := make(chan commandReply, 1)
	select {
	case m.cmdCh <- command{kind: cmdEnd, engineID: engineID, reason: reason, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.doneCh:
		return nil
	}
	select {
	case r := <-reply:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddMonitors installs additional death-watches on engineID, attributed
// to that Engine.
func (m *Manager) AddMonitors(ctx context.Context, engineID string, monitors []string) error {
	reply := make(chan commandReply, 1)
	select {
	case m.cmdCh <- command{kind: cmdAddMonitors, engineID: engineID, monitors: monitors, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.doneCh:
		return fmt.Errorf("zoocore: manager is shut down")
	}
	select {
	case r := <-reply:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown invokes Die on every tracked Engine and stops the Manager's
// loop. Safe to call more than once.
func (m *Manager) Shutdown() {
	select {
	case m.cmdCh <- command{kind: cmdShutdown}:
		<-m.doneCh
	case <-m.doneCh:
	}
	m.wg.Wait()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	defer close(m.doneCh)

	connections := map[string]*trackedEngine{}

	for {
		select {
		case cmd := <-m.cmdCh:
			switch cmd.kind {
			case cmdStart:
				m.handleStart(connections, cmd)
			case cmdEnd:
				m.handleEnd(connections, cmd)
			case cmdAddMonitors:
				m.handleAddMonitors(connections, cmd)
			case cmdShutdown:
				for id, te := range connections {
					te.cancel()
					te.engine.Die(cmd.reason)
					delete(connections, id)
				}
				return
			}

		case engineID := <-m.dieCh:
			te, ok := connections[engineID]
			if !ok {
				continue
			}
			delete(connections, engineID)
			// Asynchronous per source spec §4.7: tearing the Engine down
			// must not block the Manager's loop from servicing the next
			// command or death notification.
			go func() {
				te.cancel()
				te.engine.Die("essential process died")
			}()
		}
	}
}

func (m *Manager) handleStart(connections map[string]*trackedEngine, cmd command) {
	servers := cmd.servers
	if servers == nil {
		servers = m.defaultServers
	}

	id := uuid.NewString()
	e := conn.New(id, cmd.opts...)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx, servers); err != nil {
		cancel()
		cmd.reply <- commandReply{err: err}
		return
	}

	te := &trackedEngine{engine: e, cancel: cancel}
	for _, token := range cmd.monitors {
		if m.installMonitor(ctx, id, token) {
			te.monitors = append(te.monitors, token)
		}
	}
	connections[id] = te
	cmd.reply <- commandReply{engine: e}
}

func (m *Manager) handleEnd(connections map[string]*trackedEngine, cmd command) {
	te, ok := connections[cmd.engineID]
	if !ok {
		cmd.reply <- commandReply{err: fmt.Errorf("zoocore: unknown engine %q", cmd.engineID)}
		return
	}
	delete(connections, cmd.engineID)
	te.cancel()
	te.engine.Die(cmd.reason)
	cmd.reply <- commandReply{}
}

func (m *Manager) handleAddMonitors(connections map[string]*trackedEngine, cmd command) {
	te, ok := connections[cmd.engineID]
	if !ok {
		cmd.reply <- commandReply{err: fmt.Errorf("zoocore: unknown engine %q", cmd.engineID)}
		return
	}
	// Engine's own context was captured at start; derive a fresh
	// context and chain its cancel into te.cancel so Shutdown,
	// EndConnection and monitor-triggered teardown stop these too.
	ctx, cancel := context.WithCancel(context.Background())
	prevCancel := te.cancel
	te.cancel = func() {
		prevCancel()
		cancel()
	}
	for _, token := range cmd.monitors {
		if m.installMonitor(ctx, cmd.engineID, token) {
			te.monitors = append(te.monitors, token)
		}
	}
	cmd.reply <- commandReply{}
}

// installMonitor subscribes to token's liveness and, if it resolves,
// forwards its death into the Manager's loop. It reports whether the
// token was live enough to install, matching "for each monitor token
// that is a live external identity" in source spec §4.7.
func (m *Manager) installMonitor(ctx context.Context, engineID, token string) bool {
	died, err := m.liveness.Watch(ctx, token)
	if err != nil {
		m.logger.Warn("monitor token not live, skipping",
			zap.String("engine_id", engineID),
			zap.String("token", token),
			zap.Error(err),
		)
		return false
	}
	go func() {
		select {
		case <-died:
			select {
			case m.dieCh <- engineID:
			case <-m.doneCh:
			}
		case <-ctx.Done():
		}
	}()
	return true
}
