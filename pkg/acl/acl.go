// Package acl provides constructors for the common wire.ACL entries
// callers pass to create/setACL, mirroring the handful of fixed ACLs
// the reference client ships (world/anyone, digest auth).
package acl

import "github.com/mikekulinski/zoocore/pkg/wire"

// WorldAnyoneAll is the permissive default: anyone, all permissions.
// This is what most non-security-sensitive test fixtures and examples
// reach for.
func WorldAnyoneAll() []wire.ACL {
	return []wire.ACL{
		{Scheme: "world", ID: "anyone", Perms: wire.PermAll},
	}
}

// World returns a single world-scheme entry restricted to perms.
func World(perms wire.Perm) []wire.ACL {
	return []wire.ACL{{Scheme: "world", ID: "anyone", Perms: perms}}
}

// Digest returns a single digest-scheme ACL entry binding id (typically
// "user:base64(sha1(user:pass))", computed by the caller) to perms.
func Digest(id string, perms wire.Perm) []wire.ACL {
	return []wire.ACL{{Scheme: "digest", ID: id, Perms: perms}}
}

// ReadOnlyWorld is a convenience for watch-only or read-only fixtures.
func ReadOnlyWorld() []wire.ACL {
	return World(wire.PermRead)
}
