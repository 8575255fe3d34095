package convenience_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikekulinski/zoocore/internal/testserver"
	"github.com/mikekulinski/zoocore/pkg/acl"
	"github.com/mikekulinski/zoocore/pkg/conn"
	"github.com/mikekulinski/zoocore/pkg/convenience"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

func dialEngine(t *testing.T, srv *testserver.Server) *conn.Engine {
	t.Helper()
	host, portStr, ok := strings.Cut(srv.Addr(), ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	e := conn.New("convenience-test")
	require.NoError(t, e.Start(context.Background(), []conn.ServerAddr{{Host: host, Port: port, WantedTimeoutMS: 30000}}))
	t.Cleanup(func() { e.Die("test done") })
	return e
}

func TestEnsurePathCreatesEveryMissingAncestor(t *testing.T) {
	srv, err := testserver.Start()
	require.NoError(t, err)
	defer srv.Close()
	e := dialEngine(t, srv)
	ctx := context.Background()

	require.NoError(t, convenience.EnsurePath(ctx, e, "/a/b/c"))

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		_, err := e.Get(ctx, p)
		require.NoError(t, err, "expected %s to exist", p)
	}
}

func TestEnsurePathIsIdempotent(t *testing.T) {
	srv, err := testserver.Start()
	require.NoError(t, err)
	defer srv.Close()
	e := dialEngine(t, srv)
	ctx := context.Background()

	require.NoError(t, convenience.EnsurePath(ctx, e, "/a/b"))
	require.NoError(t, convenience.EnsurePath(ctx, e, "/a/b"))

	_, err = e.Get(ctx, "/a/b")
	require.NoError(t, err)
}

func TestEnsurePathOnRootIsNoop(t *testing.T) {
	srv, err := testserver.Start()
	require.NoError(t, err)
	defer srv.Close()
	e := dialEngine(t, srv)

	require.NoError(t, convenience.EnsurePath(context.Background(), e, "/"))
	require.NoError(t, convenience.EnsurePath(context.Background(), e, ""))
}

func TestDeleteRecursiveRemovesWholeSubtree(t *testing.T) {
	srv, err := testserver.Start()
	require.NoError(t, err)
	defer srv.Close()
	e := dialEngine(t, srv)
	ctx := context.Background()

	require.NoError(t, convenience.EnsurePath(ctx, e, "/a/b/c"))
	_, err = e.Create(ctx, "/a/b/d", nil, wire.FlagNone, acl.WorldAnyoneAll())
	require.NoError(t, err)

	require.NoError(t, convenience.DeleteRecursive(ctx, e, "/a", -1))

	_, err = e.Get(ctx, "/a")
	require.Error(t, err)
	require.ErrorIs(t, err, wire.ErrNoNode)
}

func TestDeleteRecursiveOnMissingPathIsNoop(t *testing.T) {
	srv, err := testserver.Start()
	require.NoError(t, err)
	defer srv.Close()
	e := dialEngine(t, srv)

	require.NoError(t, convenience.DeleteRecursive(context.Background(), e, "/never-existed", -1))
}
