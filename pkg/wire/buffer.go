package wire

import (
	"encoding/binary"
	"fmt"
)

// writer accumulates a request body in the big-endian, length-prefixed
// encoding the ZooKeeper wire protocol uses for every field.
type writer struct {
	buf []byte
}

func (w *writer) int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) int64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) bytes(v []byte) {
	if v == nil {
		w.int32(-1)
		return
	}
	w.int32(int32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *writer) string(v string) {
	w.bytes([]byte(v))
}

func (w *writer) acl(acls []ACL) {
	w.int32(int32(len(acls)))
	for _, a := range acls {
		w.int32(int32(a.Perms))
		w.string(a.Scheme)
		w.string(a.ID)
	}
}

func (w *writer) bytesOut() []byte {
	return w.buf
}

// reader walks a decoded frame's payload the same way the writer built
// it, returning a protocol error on truncation instead of panicking.
type reader struct {
	buf []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("zoocore: truncated frame: need %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	return nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) bool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) acl() ([]ACL, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	acls := make([]ACL, 0, n)
	for i := int32(0); i < n; i++ {
		perms, err := r.int32()
		if err != nil {
			return nil, err
		}
		scheme, err := r.string()
		if err != nil {
			return nil, err
		}
		id, err := r.string()
		if err != nil {
			return nil, err
		}
		acls = append(acls, ACL{Scheme: scheme, ID: id, Perms: Perm(perms)})
	}
	return acls, nil
}

func (r *reader) stat() (Stat, error) {
	var s Stat
	var err error
	if s.Czxid, err = r.int64(); err != nil {
		return s, err
	}
	if s.Mzxid, err = r.int64(); err != nil {
		return s, err
	}
	if s.Ctime, err = r.int64(); err != nil {
		return s, err
	}
	if s.Mtime, err = r.int64(); err != nil {
		return s, err
	}
	v, err := r.int32()
	if err != nil {
		return s, err
	}
	s.Version = v
	if v, err = r.int32(); err != nil {
		return s, err
	} else {
		s.Cversion = v
	}
	if v, err = r.int32(); err != nil {
		return s, err
	} else {
		s.Aversion = v
	}
	if s.EphemeralOwner, err = r.int64(); err != nil {
		return s, err
	}
	if v, err = r.int32(); err != nil {
		return s, err
	} else {
		s.DataLength = v
	}
	if v, err = r.int32(); err != nil {
		return s, err
	} else {
		s.NumChildren = v
	}
	if s.Pzxid, err = r.int64(); err != nil {
		return s, err
	}
	return s, nil
}

func (w *writer) stat(s Stat) {
	w.int64(s.Czxid)
	w.int64(s.Mzxid)
	w.int64(s.Ctime)
	w.int64(s.Mtime)
	w.int32(s.Version)
	w.int32(s.Cversion)
	w.int32(s.Aversion)
	w.int64(s.EphemeralOwner)
	w.int32(s.DataLength)
	w.int32(s.NumChildren)
	w.int64(s.Pzxid)
}
