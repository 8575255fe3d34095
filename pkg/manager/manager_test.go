package manager_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/mikekulinski/zoocore/internal/testserver"
	"github.com/mikekulinski/zoocore/pkg/conn"
	"github.com/mikekulinski/zoocore/pkg/manager"
	mock_manager "github.com/mikekulinski/zoocore/pkg/manager/mocks"
)

type managerTestSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	liveness *mock_manager.MockLivenessSource
	server   *testserver.Server
	servers  []conn.ServerAddr
}

func (s *managerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.liveness = mock_manager.NewMockLivenessSource(s.ctrl)

	srv, err := testserver.Start()
	s.Require().NoError(err)
	s.server = srv

	host, portStr, ok := strings.Cut(srv.Addr(), ":")
	s.Require().True(ok)
	port, err := strconv.Atoi(portStr)
	s.Require().NoError(err)
	s.servers = []conn.ServerAddr{{Host: host, Port: port, WantedTimeoutMS: 30000}}
}

func (s *managerTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *managerTestSuite) TestStartConnectionWithNoMonitorsSucceeds() {
	m := manager.New(s.servers, s.liveness)
	defer m.Shutdown()

	id, err := m.StartConnection(context.Background(), nil, nil)
	s.Require().NoError(err)
	s.NotEmpty(id)
}

func (s *managerTestSuite) TestStartConnectionSkipsDeadOnArrivalMonitor() {
	s.liveness.EXPECT().Watch(gomock.Any(), "dead-token").Return(nil, errors.New("no such identity"))

	m := manager.New(s.servers, s.liveness)
	defer m.Shutdown()

	id, err := m.StartConnection(context.Background(), nil, []string{"dead-token"})
	s.Require().NoError(err)
	s.NotEmpty(id)
}

func (s *managerTestSuite) TestEndConnectionTearsDownTrackedEngine() {
	m := manager.New(s.servers, s.liveness)
	defer m.Shutdown()

	id, err := m.StartConnection(context.Background(), nil, nil)
	s.Require().NoError(err)

	err = m.EndConnection(context.Background(), id, "test teardown")
	s.Require().NoError(err)

	err = m.EndConnection(context.Background(), id, "again")
	s.Require().Error(err)
}

func (s *managerTestSuite) TestAddMonitorsOnUnknownEngineErrors() {
	m := manager.New(s.servers, s.liveness)
	defer m.Shutdown()

	err := m.AddMonitors(context.Background(), "no-such-engine", []string{"tok"})
	s.Require().Error(err)
}

func (s *managerTestSuite) TestMonitoredIdentityDeathTearsDownEngineAsynchronously() {
	died := make(chan struct{})
	s.liveness.EXPECT().Watch(gomock.Any(), "proc-123").Return(died, nil)

	m := manager.New(s.servers, s.liveness)
	defer m.Shutdown()

	id, err := m.StartConnection(context.Background(), nil, []string{"proc-123"})
	s.Require().NoError(err)

	close(died)

	s.Eventually(func() bool {
		return m.EndConnection(context.Background(), id, "probe") != nil
	}, 2*time.Second, 10*time.Millisecond, "engine was not torn down after monitored identity died")
}

func (s *managerTestSuite) TestShutdownTearsDownEveryTrackedEngine() {
	m := manager.New(s.servers, s.liveness)

	_, err := m.StartConnection(context.Background(), nil, nil)
	s.Require().NoError(err)
	_, err = m.StartConnection(context.Background(), nil, nil)
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("shutdown did not complete")
	}
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(managerTestSuite))
}
