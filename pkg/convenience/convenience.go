// Package convenience holds the thin, loop-based helpers source spec
// §1 calls out as external collaborators rather than core
// responsibilities: recursive delete and prefix-path ensure. Neither
// touches Engine internals; both are just repeated calls through the
// same API any other caller would use.
package convenience

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/mikekulinski/zoocore/pkg/acl"
	"github.com/mikekulinski/zoocore/pkg/conn"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

// DeleteRecursive removes p and everything beneath it, deleting
// children before their parents. version applies only to p itself;
// descendants are always deleted unconditionally (-1).
func DeleteRecursive(ctx context.Context, e *conn.Engine, p string, version int32) error {
	children, err := e.Ls(ctx, p)
	if err != nil {
		if isNoNode(err) {
			return nil
		}
		return err
	}
	for _, child := range children.Children {
		if err := DeleteRecursive(ctx, e, path.Join(p, child), -1); err != nil {
			return err
		}
	}
	if err := e.Delete(ctx, p, version); err != nil && !isNoNode(err) {
		return err
	}
	return nil
}

// EnsurePath creates p and every missing ancestor along the way, in
// order, using the world/anyone/all ACL and no flags. Existing nodes
// are left untouched.
func EnsurePath(ctx context.Context, e *conn.Engine, p string) error {
	if p == "" || p == "/" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	cur := ""
	for _, seg := range segments {
		cur += "/" + seg
		_, err := e.Create(ctx, cur, nil, wire.FlagNone, acl.WorldAnyoneAll())
		if err != nil && !isNodeExists(err) {
			return err
		}
	}
	return nil
}

func isNoNode(err error) bool {
	var zerr *wire.Error
	return errors.As(err, &zerr) && zerr.Code == wire.ErrCodeNoNode
}

func isNodeExists(err error) bool {
	var zerr *wire.Error
	return errors.As(err, &zerr) && zerr.Code == wire.ErrCodeNodeExists
}
