package conn

import (
	"bufio"
	"net"
	"time"

	"github.com/mikekulinski/zoocore/pkg/wire"
)

// Transport is the narrow, mockable surface the Engine needs from its
// socket: send one frame, receive one frame, tear down. Framing (the
// 4-byte length prefix) is handled inside the implementation so the
// Engine only ever deals in already-delimited payloads.
type Transport interface {
	WriteFrame(payload []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}

// netTransport is the production Transport: a length-prefixed framing
// layer over a net.Conn, the same wrapping the teacher's gRPC stream did
// for protobuf messages, adapted here to the raw ZooKeeper wire format.
type netTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial opens a TCP connection to addr and wraps it as a Transport. The
// caller is responsible for performing the handshake over the result;
// Dial itself speaks nothing but framing.
func Dial(addr string, dialTimeout time.Duration) (Transport, error) {
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return newNetTransport(c), nil
}

func newNetTransport(c net.Conn) *netTransport {
	return &netTransport{conn: c, reader: bufio.NewReader(c)}
}

func (t *netTransport) WriteFrame(payload []byte) error {
	return wire.WriteFrame(t.conn, payload)
}

func (t *netTransport) ReadFrame() ([]byte, error) {
	return wire.ReadFrame(t.reader)
}

func (t *netTransport) Close() error {
	return t.conn.Close()
}
