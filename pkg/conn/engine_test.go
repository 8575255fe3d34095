package conn_test

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mikekulinski/zoocore/internal/testserver"
	"github.com/mikekulinski/zoocore/pkg/acl"
	"github.com/mikekulinski/zoocore/pkg/conn"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

type engineTestSuite struct {
	suite.Suite
	server *testserver.Server
}

func (s *engineTestSuite) SetupTest() {
	srv, err := testserver.Start()
	s.Require().NoError(err)
	s.server = srv
}

func (s *engineTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *engineTestSuite) dial(opts ...conn.Option) *conn.Engine {
	host, portStr, err := splitAddr(s.server.Addr())
	s.Require().NoError(err)
	port, err := strconv.Atoi(portStr)
	s.Require().NoError(err)

	e := conn.New("test-engine", opts...)
	err = e.Start(context.Background(), []conn.ServerAddr{{Host: host, Port: port, WantedTimeoutMS: 30000}})
	s.Require().NoError(err)
	return e
}

func splitAddr(addr string) (string, string, error) {
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		return "", "", assert.AnError
	}
	return host, port, nil
}

func (s *engineTestSuite) TestHandshakeEstablishesSession() {
	e := s.dial()
	defer e.Die("test done")

	s.NotZero(e.SessionID())
	s.Greater(e.NegotiatedTimeout(), time.Duration(0))
	s.LessOrEqual(e.NegotiatedTimeout(), 30000*time.Millisecond)
}

func (s *engineTestSuite) TestCreateThenGet() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	createResp, err := e.Create(ctx, "/a", []byte("x"), wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)
	s.Equal("/a", createResp.Path)

	getResp, err := e.Get(ctx, "/a")
	s.Require().NoError(err)
	s.Equal([]byte("x"), getResp.Data)
}

func (s *engineTestSuite) TestSetThenGet() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	_, err := e.Create(ctx, "/a", []byte("x"), wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)
	_, err = e.Set(ctx, "/a", []byte("y"), -1)
	s.Require().NoError(err)

	getResp, err := e.Get(ctx, "/a")
	s.Require().NoError(err)
	s.Equal([]byte("y"), getResp.Data)
}

func (s *engineTestSuite) TestLsListsChildren() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	_, err := e.Create(ctx, "/a", nil, wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)
	_, err = e.Create(ctx, "/a/child", nil, wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)

	ls, err := e.Ls(ctx, "/a")
	s.Require().NoError(err)
	s.Equal([]string{"child"}, ls.Children)
}

func (s *engineTestSuite) TestGetMissingNodeReturnsNoNode() {
	e := s.dial()
	defer e.Die("test done")

	_, err := e.Get(context.Background(), "/missing")
	s.Require().Error(err)
	s.ErrorIs(err, wire.ErrNoNode)
}

func (s *engineTestSuite) TestWatchFiresOnceOnDataChange() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	_, err := e.Create(ctx, "/a", []byte("x"), wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)

	_, ch, err := e.GetW(ctx, "/a", "payload")
	s.Require().NoError(err)

	_, err = e.Set(ctx, "/a", []byte("y"), -1)
	s.Require().NoError(err)

	select {
	case n := <-ch:
		s.True(n.Fired)
		s.Equal("/a", n.Path)
		s.Equal("payload", n.Payload)
	case <-time.After(2 * time.Second):
		s.Fail("timed out waiting for watch fire")
	}
}

func (s *engineTestSuite) TestTwoWatchersCoalesceOntoOneServerWatch() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	_, err := e.Create(ctx, "/a", nil, wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)

	_, ch1, err := e.LsW(ctx, "/a", "p1")
	s.Require().NoError(err)
	_, ch2, err := e.LsW(ctx, "/a", "p2")
	s.Require().NoError(err)

	_, err = e.Create(ctx, "/a/child", nil, wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)

	for _, ch := range []<-chan conn.WatchNotification{ch1, ch2} {
		select {
		case n := <-ch:
			s.True(n.Fired)
		case <-time.After(2 * time.Second):
			s.Fail("timed out waiting for watch fire")
		}
	}
}

func (s *engineTestSuite) TestAddAuthInProgressRejectsConcurrentCall() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() { errs <- e.AddAuth(ctx, "digest", []byte("u:p")) }()
	go func() { errs <- e.AddAuth(ctx, "digest", []byte("u:p")) }()

	first, second := <-errs, <-errs
	successes, rejections := 0, 0
	for _, err := range []error{first, second} {
		switch {
		case err == nil:
			successes++
		case err == wire.ErrAuthInProgress:
			rejections++
		}
	}
	s.Equal(1, successes)
	s.Equal(1, rejections)
}

func (s *engineTestSuite) TestDieDrainsPendingWithClientBroke() {
	e := s.dial()
	ctx := context.Background()

	resultCh := make(chan error, 1)
	go func() {
		_, err := e.Get(ctx, "/never-created")
		resultCh <- err
	}()

	// Give the request a moment to land in the pending table before we
	// kill the Engine out from under it.
	time.Sleep(50 * time.Millisecond)
	e.Die("forced shutdown")

	select {
	case err := <-resultCh:
		var broke *wire.ClientBroke
		s.Require().ErrorAs(err, &broke)
	case <-time.After(2 * time.Second):
		s.Fail("timed out waiting for client_broke")
	}
}

func (s *engineTestSuite) TestSocketDeathTerminatesSession() {
	e := s.dial(conn.WithHeartbeatInterval(30 * time.Millisecond))
	// The testserver always acks pings, so this drives the f.err != nil
	// branch of loop(), not the missed-heartbeat branch; see
	// engine_whitebox_test.go for a mocked transport that never acks.
	s.server.Close()

	select {
	case <-e.Done():
		s.Contains(e.TerminationReason(), "transport error")
	case <-time.After(2 * time.Second):
		s.Fail("engine did not terminate after transport died")
	}
}

func (s *engineTestSuite) TestExistsReturnsStatForCreatedNode() {
	e := s.dial()
	defer e.Die("test done")
	ctx := context.Background()

	_, err := e.Create(ctx, "/a", []byte("x"), wire.FlagNone, acl.WorldAnyoneAll())
	s.Require().NoError(err)

	resp, err := e.Exists(ctx, "/a")
	s.Require().NoError(err)
	s.Equal(int32(1), resp.Stat.DataLength)
}

func (s *engineTestSuite) TestExistsMissingNodeReturnsNoNode() {
	e := s.dial()
	defer e.Die("test done")

	_, err := e.Exists(context.Background(), "/missing")
	s.Require().Error(err)
	s.ErrorIs(err, wire.ErrNoNode)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(engineTestSuite))
}

func TestXidIntrospectionAdvancesPerRequest(t *testing.T) {
	srv, err := testserver.Start()
	require.NoError(t, err)
	defer srv.Close()

	host, portStr, err := splitAddr(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	e := conn.New("xid-engine")
	require.NoError(t, e.Start(context.Background(), []conn.ServerAddr{{Host: host, Port: port, WantedTimeoutMS: 30000}}))
	defer e.Die("test done")

	before := e.Xid()
	_, err = e.Create(context.Background(), "/a", nil, wire.FlagNone, acl.WorldAnyoneAll())
	require.NoError(t, err)
	after := e.Xid()
	assert.Equal(t, before+1, after)
}
