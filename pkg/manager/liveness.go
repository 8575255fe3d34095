package manager

import "context"

// LivenessSource abstracts the external identity system the Manager
// binds Engines to — a process registry, a lease service, anything
// that can answer "is this token still alive" and push a notification
// when it stops being true. Source spec §4.7 calls these monitor
// tokens; this module treats them as opaque strings.
type LivenessSource interface {
	// Watch registers interest in token and returns a channel that
	// receives exactly one value when token's identity dies. The
	// channel is never sent to again afterward. Implementations that
	// can't find a live identity for token return an error instead of
	// a channel, mirroring "for each monitor token that is a live
	// external identity" in source spec §4.7 (dead-on-arrival tokens
	// are silently skipped by the Manager, not installed).
	Watch(ctx context.Context, token string) (<-chan struct{}, error)
}
