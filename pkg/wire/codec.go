package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Every frame on the wire is prefixed with a 4-byte big-endian length
// that does not count itself.
const lengthPrefixSize = 4

// ReadFrame reads one length-prefixed frame from r. It is the one place
// in this package that knows about the prefix; everything else works on
// already-delimited byte slices.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame prepends the length prefix and writes the frame in one call.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(append(lenBuf[:], payload...)); err != nil {
		return err
	}
	return nil
}

// EncodeHandshake builds the handshake request frame payload (44 bytes):
// protocol version, last seen zxid, wanted timeout, session id, and a
// fixed-length (16-byte) password block.
func EncodeHandshake(req ConnectRequest) []byte {
	w := &writer{}
	w.int32(req.ProtocolVersion)
	w.int64(req.LastZxidSeen)
	w.int32(req.Timeout)
	w.int64(req.SessionID)
	passwd := make([]byte, 16)
	copy(passwd, req.Passwd)
	w.int32(16)
	w.buf = append(w.buf, passwd...)
	return w.bytesOut()
}

// DecodeHandshakeRequest parses the handshake request frame payload
// (44 bytes), the server-side mirror of EncodeHandshake. Production
// clients never need this; it exists for the in-memory test server.
func DecodeHandshakeRequest(b []byte) (ConnectRequest, error) {
	r := newReader(b)
	protoVersion, err := r.int32()
	if err != nil {
		return ConnectRequest{}, fmt.Errorf("decode handshake request: %w", err)
	}
	lastZxid, err := r.int64()
	if err != nil {
		return ConnectRequest{}, fmt.Errorf("decode handshake request: %w", err)
	}
	timeout, err := r.int32()
	if err != nil {
		return ConnectRequest{}, fmt.Errorf("decode handshake request: %w", err)
	}
	sessionID, err := r.int64()
	if err != nil {
		return ConnectRequest{}, fmt.Errorf("decode handshake request: %w", err)
	}
	passwdLen, err := r.int32()
	if err != nil {
		return ConnectRequest{}, fmt.Errorf("decode handshake request: %w", err)
	}
	if err := r.need(int(passwdLen)); err != nil {
		return ConnectRequest{}, fmt.Errorf("decode handshake request: %w", err)
	}
	passwd := make([]byte, passwdLen)
	copy(passwd, r.buf[r.pos:r.pos+int(passwdLen)])
	return ConnectRequest{
		ProtocolVersion: protoVersion,
		LastZxidSeen:    lastZxid,
		Timeout:         timeout,
		SessionID:       sessionID,
		Passwd:          passwd,
	}, nil
}

// EncodeHandshakeReply builds the handshake reply frame payload
// (32 bytes), the server-side mirror of DecodeHandshake. Production
// clients never need this; it exists for the in-memory test server.
func EncodeHandshakeReply(resp ConnectResponse) []byte {
	w := &writer{}
	w.int32(resp.Timeout)
	w.int64(resp.SessionID)
	passwd := make([]byte, 16)
	copy(passwd, resp.Passwd)
	w.int32(16)
	w.buf = append(w.buf, passwd...)
	return w.bytesOut()
}

// DecodeHandshake parses the handshake reply frame payload (32 bytes):
// negotiated timeout, session id, and the 16-byte password block.
func DecodeHandshake(b []byte) (ConnectResponse, error) {
	r := newReader(b)
	timeout, err := r.int32()
	if err != nil {
		return ConnectResponse{}, fmt.Errorf("decode handshake: %w", err)
	}
	sessionID, err := r.int64()
	if err != nil {
		return ConnectResponse{}, fmt.Errorf("decode handshake: %w", err)
	}
	passwdLen, err := r.int32()
	if err != nil {
		return ConnectResponse{}, fmt.Errorf("decode handshake: %w", err)
	}
	if err := r.need(int(passwdLen)); err != nil {
		return ConnectResponse{}, fmt.Errorf("decode handshake: %w", err)
	}
	passwd := make([]byte, passwdLen)
	copy(passwd, r.buf[r.pos:r.pos+int(passwdLen)])
	return ConnectResponse{Timeout: timeout, SessionID: sessionID, Passwd: passwd}, nil
}

// EncodeRequest frames a non-handshake request: an 8-byte header (xid,
// opcode) followed by the opcode-specific body. The ping and close-session
// opcodes carry no body.
func EncodeRequest(xid int32, op OpCode, body any) ([]byte, error) {
	w := &writer{}
	w.int32(xid)
	w.int32(int32(op))
	if body != nil {
		if err := encodeBody(w, body); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
	}
	return w.bytesOut(), nil
}

// EncodeAuth frames an auth packet. Auth replies use a fixed xid
// (XidAuth), so the header carries no client-chosen value.
func EncodeAuth(pkt AuthPacket) []byte {
	w := &writer{}
	w.int32(XidAuth)
	w.int32(int32(OpAuth))
	w.int32(pkt.Type)
	w.string(pkt.Scheme)
	w.bytes(pkt.Auth)
	return w.bytesOut()
}

// EncodePing frames the fixed 8-byte heartbeat request
// (xid = -2, opcode = 11) that source spec §4.4 specifies byte-for-byte.
func EncodePing() []byte {
	w := &writer{}
	w.int32(XidPing)
	w.int32(int32(OpPing))
	return w.bytesOut()
}

func encodeBody(w *writer, body any) error {
	switch v := body.(type) {
	case CreateRequest:
		w.string(v.Path)
		w.bytes(v.Data)
		w.acl(v.Acl)
		w.int32(int32(v.Flags))
	case DeleteRequest:
		w.string(v.Path)
		w.int32(v.Version)
	case ExistsRequest:
		w.string(v.Path)
		w.bool(v.Watch)
	case GetDataRequest:
		w.string(v.Path)
		w.bool(v.Watch)
	case SetDataRequest:
		w.string(v.Path)
		w.bytes(v.Data)
		w.int32(v.Version)
	case GetACLRequest:
		w.string(v.Path)
	case SetACLRequest:
		w.string(v.Path)
		w.acl(v.Acl)
		w.int32(v.Version)
	case GetChildrenRequest:
		w.string(v.Path)
		w.bool(v.Watch)
	case GetChildren2Request:
		w.string(v.Path)
		w.bool(v.Watch)
	default:
		return fmt.Errorf("unencodable request body %T", v)
	}
	return nil
}

// DecodeRequestBody decodes a request body for the given opcode. It is
// the server-side mirror of encodeBody, used by test fixtures that
// speak this wire format without a real ensemble behind them.
func DecodeRequestBody(op OpCode, b []byte) (any, error) {
	r := newReader(b)
	switch op {
	case OpCreate:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes()
		if err != nil {
			return nil, err
		}
		acl, err := r.acl()
		if err != nil {
			return nil, err
		}
		flags, err := r.int32()
		if err != nil {
			return nil, err
		}
		return CreateRequest{Path: path, Data: data, Acl: acl, Flags: CreateFlag(flags)}, nil
	case OpDelete:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		version, err := r.int32()
		if err != nil {
			return nil, err
		}
		return DeleteRequest{Path: path, Version: version}, nil
	case OpExists:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		watchFlag, err := r.bool()
		if err != nil {
			return nil, err
		}
		return ExistsRequest{Path: path, Watch: watchFlag}, nil
	case OpGetData:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		watchFlag, err := r.bool()
		if err != nil {
			return nil, err
		}
		return GetDataRequest{Path: path, Watch: watchFlag}, nil
	case OpSetData:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		data, err := r.bytes()
		if err != nil {
			return nil, err
		}
		version, err := r.int32()
		if err != nil {
			return nil, err
		}
		return SetDataRequest{Path: path, Data: data, Version: version}, nil
	case OpGetACL:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		return GetACLRequest{Path: path}, nil
	case OpSetACL:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		acl, err := r.acl()
		if err != nil {
			return nil, err
		}
		version, err := r.int32()
		if err != nil {
			return nil, err
		}
		return SetACLRequest{Path: path, Acl: acl, Version: version}, nil
	case OpGetChildren:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		watchFlag, err := r.bool()
		if err != nil {
			return nil, err
		}
		return GetChildrenRequest{Path: path, Watch: watchFlag}, nil
	case OpGetChildren2:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		watchFlag, err := r.bool()
		if err != nil {
			return nil, err
		}
		return GetChildren2Request{Path: path, Watch: watchFlag}, nil
	default:
		return nil, fmt.Errorf("no request decoder for opcode %s", op)
	}
}

// ReplyPayload decodes the body of a normal reply (err == 0) for the
// given opcode. Only create replies carry a path on the wire; callers
// that need the request's path keep it in their pending entry.
func ReplyPayload(op OpCode, b []byte) (any, error) {
	r := newReader(b)
	switch op {
	case OpCreate:
		path, err := r.string()
		if err != nil {
			return nil, err
		}
		return CreateResponse{Path: path}, nil
	case OpDelete:
		return struct{}{}, nil
	case OpExists:
		stat, err := r.stat()
		if err != nil {
			return nil, err
		}
		return ExistsResponse{Stat: stat}, nil
	case OpGetData:
		data, err := r.bytes()
		if err != nil {
			return nil, err
		}
		stat, err := r.stat()
		if err != nil {
			return nil, err
		}
		return GetDataResponse{Data: data, Stat: stat}, nil
	case OpSetData:
		stat, err := r.stat()
		if err != nil {
			return nil, err
		}
		return SetDataResponse{Stat: stat}, nil
	case OpGetACL:
		acl, err := r.acl()
		if err != nil {
			return nil, err
		}
		stat, err := r.stat()
		if err != nil {
			return nil, err
		}
		return GetACLResponse{Acl: acl, Stat: stat}, nil
	case OpSetACL:
		stat, err := r.stat()
		if err != nil {
			return nil, err
		}
		return SetACLResponse{Stat: stat}, nil
	case OpGetChildren:
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		children := make([]string, n)
		for i := range children {
			if children[i], err = r.string(); err != nil {
				return nil, err
			}
		}
		return GetChildrenResponse{Children: children}, nil
	case OpGetChildren2:
		n, err := r.int32()
		if err != nil {
			return nil, err
		}
		children := make([]string, n)
		for i := range children {
			if children[i], err = r.string(); err != nil {
				return nil, err
			}
		}
		stat, err := r.stat()
		if err != nil {
			return nil, err
		}
		return GetChildren2Response{Children: children, Stat: stat}, nil
	default:
		return nil, fmt.Errorf("no reply decoder for opcode %s", op)
	}
}

// EncodeReplyPayload mirrors ReplyPayload for the server side of tests:
// it lets the in-memory test server produce frames this package's
// decoder can round-trip.
func EncodeReplyPayload(op OpCode, body any) ([]byte, error) {
	w := &writer{}
	switch v := body.(type) {
	case CreateResponse:
		w.string(v.Path)
	case struct{}:
	case ExistsResponse:
		w.stat(v.Stat)
	case GetDataResponse:
		w.bytes(v.Data)
		w.stat(v.Stat)
	case SetDataResponse:
		w.stat(v.Stat)
	case GetACLResponse:
		w.acl(v.Acl)
		w.stat(v.Stat)
	case SetACLResponse:
		w.stat(v.Stat)
	case GetChildrenResponse:
		w.int32(int32(len(v.Children)))
		for _, c := range v.Children {
			w.string(c)
		}
	case GetChildren2Response:
		w.int32(int32(len(v.Children)))
		for _, c := range v.Children {
			w.string(c)
		}
		w.stat(v.Stat)
	default:
		return nil, fmt.Errorf("no reply encoder for opcode %s (%T)", op, v)
	}
	return w.bytesOut(), nil
}

// DecodeWatchEvent parses the payload of a watch-event frame
// (xid == XidWatchEvent).
func DecodeWatchEvent(b []byte) (WatchEvent, error) {
	r := newReader(b)
	t, err := r.int32()
	if err != nil {
		return WatchEvent{}, err
	}
	state, err := r.int32()
	if err != nil {
		return WatchEvent{}, err
	}
	path, err := r.string()
	if err != nil {
		return WatchEvent{}, err
	}
	return WatchEvent{Type: EventType(t), State: ConnState(state), Path: path}, nil
}

// EncodeWatchEvent mirrors DecodeWatchEvent for the test server.
func EncodeWatchEvent(ev WatchEvent) []byte {
	w := &writer{}
	w.int32(XidWatchEvent)
	w.int64(0) // zxid; unused by the core, carried for wire fidelity.
	w.int32(0) // err; watch event frames are always success.
	w.int32(int32(ev.Type))
	w.int32(int32(ev.State))
	w.string(ev.Path)
	return w.bytesOut()
}

// DecodeReplyHeader parses the leading (xid, zxid, err) header shared by
// every normal and auth reply.
func DecodeReplyHeader(b []byte) (ReplyHeader, []byte, error) {
	r := newReader(b)
	xid, err := r.int32()
	if err != nil {
		return ReplyHeader{}, nil, err
	}
	zxid, err := r.int64()
	if err != nil {
		return ReplyHeader{}, nil, err
	}
	errCode, err := r.int32()
	if err != nil {
		return ReplyHeader{}, nil, err
	}
	return ReplyHeader{Xid: xid, Zxid: zxid, Err: ErrCode(errCode)}, r.buf[r.pos:], nil
}

// EncodeReplyHeader mirrors DecodeReplyHeader for the test server.
func EncodeReplyHeader(h ReplyHeader, body []byte) []byte {
	w := &writer{}
	w.int32(h.Xid)
	w.int64(h.Zxid)
	w.int32(int32(h.Err))
	w.buf = append(w.buf, body...)
	return w.bytesOut()
}
