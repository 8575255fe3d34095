package conn

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatInterval is the default heartbeat period from source spec
// §4.4. It must stay strictly less than negotiatedTimeout/2; Start
// enforces that once the handshake returns the server's timeout.
const HeartbeatInterval = 10 * time.Second

// DialTimeout bounds the initial TCP connect attempt during Start.
const DialTimeout = 10 * time.Second

// Option configures an Engine at construction time.
type Option func(*engineConfig)

type engineConfig struct {
	logger            *zap.Logger
	heartbeatInterval time.Duration
	dialTimeout       time.Duration
	wantedTimeout     int32
}

func defaultConfig() *engineConfig {
	return &engineConfig{
		logger:            zap.NewNop(),
		heartbeatInterval: HeartbeatInterval,
		dialTimeout:       DialTimeout,
		wantedTimeout:     30000,
	}
}

// WithLogger attaches a structured logger. Engines are silent by
// default (zap.NewNop()); production callers should pass their own.
func WithLogger(l *zap.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithHeartbeatInterval overrides the default 10s heartbeat period.
// Tests use this to drive missed-heartbeat termination without
// waiting 20 seconds.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *engineConfig) { c.heartbeatInterval = d }
}

// WithDialTimeout overrides the TCP connect timeout used by Start.
func WithDialTimeout(d time.Duration) Option {
	return func(c *engineConfig) { c.dialTimeout = d }
}

// WithWantedTimeout sets the session timeout, in milliseconds, offered
// during the handshake. The server may negotiate it down.
func WithWantedTimeout(ms int32) Option {
	return func(c *engineConfig) { c.wantedTimeout = ms }
}
