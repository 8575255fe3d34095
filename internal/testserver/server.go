package testserver

import (
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/mikekulinski/zoocore/pkg/wire"
)

type watchKey struct {
	kind wire.WatchKind
	path string
}

// Server is a toy ZooKeeper-protocol endpoint: just enough handshake,
// CRUD, and one-shot watch behavior to drive pkg/conn and pkg/manager
// tests end to end without a real ensemble.
type Server struct {
	ln net.Listener
	db *db

	mu       sync.Mutex
	sessions map[int64]*serverSession
	watches  map[watchKey][]int64
	nextSID  int64

	wg sync.WaitGroup
}

type serverSession struct {
	id   int64
	conn net.Conn
	mu   sync.Mutex // guards writes; reads happen only on the session's own goroutine
}

func (s *serverSession) writeFrame(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.WriteFrame(s.conn, b)
}

// Start listens on a loopback port and begins accepting connections.
// Callers get the chosen address back so they can point an Engine at it.
func Start() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:       ln,
		db:       newDB(),
		sessions: map[int64]*serverSession{},
		watches:  map[watchKey][]int64{},
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listener's address in host:port form.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops accepting connections and closes every active session.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	reqFrame, err := wire.ReadFrame(c)
	if err != nil {
		return
	}
	req, err := wire.DecodeHandshakeRequest(reqFrame)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.nextSID++
	sessionID := s.nextSID
	sess := &serverSession{id: sessionID, conn: c}
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	timeout := req.Timeout
	if timeout <= 0 || timeout > 30000 {
		timeout = 30000
	}
	replyFrame := wire.EncodeHandshakeReply(wire.ConnectResponse{
		Timeout:   timeout,
		SessionID: sessionID,
		Passwd:    make([]byte, 16),
	})
	if err := sess.writeFrame(replyFrame); err != nil {
		s.dropSession(sessionID)
		return
	}

	for {
		frame, err := wire.ReadFrame(c)
		if err != nil {
			s.dropSession(sessionID)
			return
		}
		if err := s.handleFrame(sess, frame); err != nil {
			s.dropSession(sessionID)
			return
		}
	}
}

func (s *Server) dropSession(sessionID int64) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	// Mirror the teacher's CloseSession: ephemeral nodes owned by this
	// session disappear, and anyone watching them finds out.
	for _, path := range s.db.deleteEphemeralsOwnedBy(sessionID) {
		s.fire(wire.WatchData, path, wire.EventNodeDeleted)
		s.fire(wire.WatchChild, path, wire.EventNodeDeleted)
	}
}

func (s *Server) handleFrame(sess *serverSession, frame []byte) error {
	if len(frame) < 8 {
		return errors.New("testserver: short frame")
	}
	xidVal := int32FromBytes(frame[0:4])
	op := wire.OpCode(int32FromBytes(frame[4:8]))
	rest := frame[8:]

	switch op {
	case wire.OpPing:
		return sess.writeFrame(wire.EncodeReplyHeader(wire.ReplyHeader{Xid: wire.XidPing}, nil))
	case wire.OpAuth:
		return s.handleAuth(sess, rest)
	default:
		return s.handleNormal(sess, xidVal, op, rest)
	}
}

// parentPath returns the parent of path, or "" for the root, so the
// caller can fire the parent's child watch after a create.
func parentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

func int32FromBytes(b []byte) int32 {
	return int32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

func (s *Server) handleAuth(sess *serverSession, body []byte) error {
	// Every scheme is accepted in this fixture; only malformed frames
	// are a protocol error.
	_ = body
	return sess.writeFrame(wire.EncodeReplyHeader(wire.ReplyHeader{Xid: wire.XidAuth, Err: wire.ErrCodeOK}, nil))
}

func (s *Server) handleNormal(sess *serverSession, xidVal int32, op wire.OpCode, body []byte) error {
	reply, errCode, watchKind, watchPath := s.dispatch(sess, op, body)
	header := wire.ReplyHeader{Xid: xidVal, Zxid: int64(s.db.curZxid), Err: errCode}
	var payload []byte
	if errCode == wire.ErrCodeOK {
		encoded, err := wire.EncodeReplyPayload(op, reply)
		if err != nil {
			return err
		}
		payload = encoded
	}
	if err := sess.writeFrame(wire.EncodeReplyHeader(header, payload)); err != nil {
		return err
	}
	if errCode == wire.ErrCodeOK && watchPath != "" {
		s.registerWatch(watchKind, watchPath, sess.id)
	}
	return nil
}

func (s *Server) registerWatch(kind wire.WatchKind, path string, sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := watchKey{kind: kind, path: path}
	s.watches[k] = append(s.watches[k], sessionID)
}

func (s *Server) fire(kind wire.WatchKind, path string, eventType wire.EventType) {
	s.mu.Lock()
	k := watchKey{kind: kind, path: path}
	sessionIDs := s.watches[k]
	delete(s.watches, k)
	sessions := make([]*serverSession, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if sess, ok := s.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()

	frame := wire.EncodeWatchEvent(wire.WatchEvent{Type: eventType, State: wire.StateConnected, Path: path})
	for _, sess := range sessions {
		sess.writeFrame(frame)
	}
}

// dispatch runs the requested operation against the tree and reports
// what watch, if any, the caller asked to install (handleNormal
// registers it only once the reply has gone out error-free).
func (s *Server) dispatch(sess *serverSession, op wire.OpCode, body []byte) (reply any, errCode wire.ErrCode, watchKind wire.WatchKind, watchPath string) {
	parsed, err := wire.DecodeRequestBody(op, body)
	if err != nil {
		return nil, wire.ErrCodeNoNode, 0, ""
	}

	switch op {
	case wire.OpCreate:
		req := parsed.(wire.CreateRequest)
		path, _, code := s.db.create(req, sess.id)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		if parent := parentPath(path); parent != "" {
			s.fire(wire.WatchChild, parent, wire.EventNodeChildrenChanged)
		}
		s.fire(wire.WatchData, path, wire.EventNodeCreated)
		return wire.CreateResponse{Path: path}, wire.ErrCodeOK, 0, ""

	case wire.OpDelete:
		req := parsed.(wire.DeleteRequest)
		code := s.db.delete(req.Path, req.Version)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		s.fire(wire.WatchData, req.Path, wire.EventNodeDeleted)
		s.fire(wire.WatchChild, req.Path, wire.EventNodeDeleted)
		return struct{}{}, wire.ErrCodeOK, 0, ""

	case wire.OpGetData:
		req := parsed.(wire.GetDataRequest)
		node, code := s.db.get(req.Path)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		resp := wire.GetDataResponse{Data: node.data, Stat: node.stat()}
		if req.Watch {
			return resp, wire.ErrCodeOK, wire.WatchData, req.Path
		}
		return resp, wire.ErrCodeOK, 0, ""

	case wire.OpSetData:
		req := parsed.(wire.SetDataRequest)
		stat, code := s.db.setData(req.Path, req.Data, req.Version)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		s.fire(wire.WatchData, req.Path, wire.EventNodeDataChanged)
		return wire.SetDataResponse{Stat: stat}, wire.ErrCodeOK, 0, ""

	case wire.OpExists:
		req := parsed.(wire.ExistsRequest)
		node, code := s.db.get(req.Path)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		resp := wire.ExistsResponse{Stat: node.stat()}
		if req.Watch {
			return resp, wire.ErrCodeOK, wire.WatchExist, req.Path
		}
		return resp, wire.ErrCodeOK, 0, ""

	case wire.OpGetACL:
		req := parsed.(wire.GetACLRequest)
		node, code := s.db.get(req.Path)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		return wire.GetACLResponse{Acl: node.acl, Stat: node.stat()}, wire.ErrCodeOK, 0, ""

	case wire.OpSetACL:
		req := parsed.(wire.SetACLRequest)
		stat, code := s.db.setACL(req.Path, req.Acl, req.Version)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		return wire.SetACLResponse{Stat: stat}, wire.ErrCodeOK, 0, ""

	case wire.OpGetChildren:
		req := parsed.(wire.GetChildrenRequest)
		names, _, code := s.db.children(req.Path)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		resp := wire.GetChildrenResponse{Children: names}
		if req.Watch {
			return resp, wire.ErrCodeOK, wire.WatchChild, req.Path
		}
		return resp, wire.ErrCodeOK, 0, ""

	case wire.OpGetChildren2:
		req := parsed.(wire.GetChildren2Request)
		names, stat, code := s.db.children(req.Path)
		if code != wire.ErrCodeOK {
			return nil, code, 0, ""
		}
		resp := wire.GetChildren2Response{Children: names, Stat: stat}
		if req.Watch {
			return resp, wire.ErrCodeOK, wire.WatchChild, req.Path
		}
		return resp, wire.ErrCodeOK, 0, ""

	default:
		return nil, wire.ErrCodeNoNode, 0, ""
	}
}
