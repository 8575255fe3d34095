package conn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	mock_conn "github.com/mikekulinski/zoocore/pkg/conn/mocks"
	"github.com/mikekulinski/zoocore/pkg/wire"
)

// fakeFrameTransport backs ReadFrame with a queue of canned frames and
// records every WriteFrame call, for tests that want to drive the
// handshake without a real socket but don't need gomock's call
// matching.
type fakeFrameTransport struct {
	writes  [][]byte
	reads   [][]byte
	readErr error
	closed  bool
}

func (f *fakeFrameTransport) WriteFrame(payload []byte) error {
	f.writes = append(f.writes, payload)
	return nil
}

func (f *fakeFrameTransport) ReadFrame() ([]byte, error) {
	if len(f.reads) == 0 {
		if f.readErr != nil {
			return nil, f.readErr
		}
		return nil, errors.New("fakeFrameTransport: no more frames queued")
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	return next, nil
}

func (f *fakeFrameTransport) Close() error {
	f.closed = true
	return nil
}

func TestStartWithTransportPerformsHandshakeRoundTrip(t *testing.T) {
	replyFrame := wire.EncodeHandshakeReply(wire.ConnectResponse{Timeout: 18000, SessionID: 99, Passwd: make([]byte, 16)})
	ft := &fakeFrameTransport{reads: [][]byte{replyFrame}}

	e := New("mock-engine", WithWantedTimeout(30000))
	err := e.startWithTransport(ft)
	require.NoError(t, err)
	defer e.Die("test done")

	assert.Equal(t, int64(99), e.SessionID())
	assert.Len(t, ft.writes, 1)

	decoded, err := wire.DecodeHandshakeRequest(ft.writes[0])
	require.NoError(t, err)
	assert.Equal(t, int32(30000), decoded.Timeout)
}

func TestStartWithTransportFailsOnMalformedHandshakeReply(t *testing.T) {
	ft := &fakeFrameTransport{reads: [][]byte{[]byte("too short")}}

	e := New("mock-engine")
	err := e.startWithTransport(ft)
	require.Error(t, err)
	assert.True(t, ft.closed)
}

func TestHandleSubmissionFailsClosedWhenWriteFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mock_conn.NewMockTransport(ctrl)

	replyFrame := wire.EncodeHandshakeReply(wire.ConnectResponse{Timeout: 18000, SessionID: 1, Passwd: make([]byte, 16)})
	mt.EXPECT().WriteFrame(gomock.Any()).Return(nil) // handshake request
	mt.EXPECT().ReadFrame().Return(replyFrame, nil)   // handshake reply
	mt.EXPECT().WriteFrame(gomock.Any()).Return(errors.New("broken pipe"))
	mt.EXPECT().ReadFrame().Return(nil, errors.New("closed")).AnyTimes()
	mt.EXPECT().Close().AnyTimes()

	e := New("mock-engine")
	require.NoError(t, e.startWithTransport(mt))
	defer e.Die("test done")

	_, err := e.Get(context.Background(), "/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

// TestMissedHeartbeatTerminatesWithHeartattack drives the real
// outstandingHeartbeats >= 1 branch of loop() (source spec §8): the
// mock transport accepts every ping write but never produces an ack,
// so the second timer fire must find one still outstanding.
func TestMissedHeartbeatTerminatesWithHeartattack(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mock_conn.NewMockTransport(ctrl)

	replyFrame := wire.EncodeHandshakeReply(wire.ConnectResponse{Timeout: 18000, SessionID: 7, Passwd: make([]byte, 16)})
	unblock := make(chan struct{})
	defer close(unblock)

	mt.EXPECT().WriteFrame(gomock.Any()).Return(nil)           // handshake request
	mt.EXPECT().ReadFrame().Return(replyFrame, nil)            // handshake reply
	mt.EXPECT().WriteFrame(gomock.Any()).Return(nil).AnyTimes() // ping frames, never acked
	mt.EXPECT().ReadFrame().DoAndReturn(func() ([]byte, error) {
		<-unblock
		return nil, errors.New("transport closed")
	}).AnyTimes()
	mt.EXPECT().Close().AnyTimes()

	e := New("heartbeat-engine", WithHeartbeatInterval(20*time.Millisecond))
	require.NoError(t, e.startWithTransport(mt))

	select {
	case <-e.Done():
		assert.Contains(t, e.TerminationReason(), "heartattack")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not terminate after missed heartbeat")
	}
}

// TestMalformedInboundFrameTerminatesSession drives routeFrame's
// DecodeReplyHeader failure path (source spec §8: a malformed inbound
// frame terminates the session) once the Engine is already running,
// not just during the handshake.
func TestMalformedInboundFrameTerminatesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mock_conn.NewMockTransport(ctrl)

	replyFrame := wire.EncodeHandshakeReply(wire.ConnectResponse{Timeout: 18000, SessionID: 3, Passwd: make([]byte, 16)})
	mt.EXPECT().WriteFrame(gomock.Any()).Return(nil)
	mt.EXPECT().ReadFrame().Return(replyFrame, nil)
	mt.EXPECT().ReadFrame().Return([]byte{1, 2, 3}, nil) // too short to be a reply header
	mt.EXPECT().ReadFrame().Return(nil, errors.New("closed")).AnyTimes()
	mt.EXPECT().Close().AnyTimes()

	e := New("malformed-engine")
	require.NoError(t, e.startWithTransport(mt))

	select {
	case <-e.Done():
		assert.Contains(t, e.TerminationReason(), "malformed frame")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not terminate after malformed frame")
	}
}

// TestReplyForUnknownXidTerminatesSession drives routeNormalReply's
// fail-fast path (source spec §8) for a reply whose xid was never
// submitted by this Engine.
func TestReplyForUnknownXidTerminatesSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := mock_conn.NewMockTransport(ctrl)

	replyFrame := wire.EncodeHandshakeReply(wire.ConnectResponse{Timeout: 18000, SessionID: 3, Passwd: make([]byte, 16)})
	bogusReply := wire.EncodeReplyHeader(wire.ReplyHeader{Xid: 999, Zxid: 1, Err: wire.ErrCodeOK}, nil)
	mt.EXPECT().WriteFrame(gomock.Any()).Return(nil)
	mt.EXPECT().ReadFrame().Return(replyFrame, nil)
	mt.EXPECT().ReadFrame().Return(bogusReply, nil)
	mt.EXPECT().ReadFrame().Return(nil, errors.New("closed")).AnyTimes()
	mt.EXPECT().Close().AnyTimes()

	e := New("bogus-xid-engine")
	require.NoError(t, e.startWithTransport(mt))

	select {
	case <-e.Done():
		assert.Contains(t, e.TerminationReason(), "unknown xid")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not terminate after reply for unknown xid")
	}
}
