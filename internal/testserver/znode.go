// Package testserver is a minimal in-memory ZooKeeper-protocol server
// used only by this module's own tests: it speaks the same wire format
// pkg/wire encodes and decodes, so pkg/conn and pkg/manager can be
// exercised against something that behaves like a real ensemble
// without requiring one. It is adapted from the teacher's znode tree
// and in-memory database, generalized from protobuf transactions to
// the raw wire request/response types.
package testserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mikekulinski/zoocore/pkg/wire"
)

type nodeType int

const (
	nodeStandard nodeType = iota
	nodeEphemeral
)

type znode struct {
	name               string
	data               []byte
	acl                []wire.ACL
	nodeType           nodeType
	owner              int64
	children           map[string]*znode
	nextSequentialNode int
	version            int32
	cversion           int32
	aversion           int32
	czxid              zxid
	mzxid              zxid
}

func newZnode(name string, data []byte, acl []wire.ACL, nt nodeType, owner int64, zx zxid) *znode {
	return &znode{
		name:     name,
		data:     data,
		acl:      acl,
		nodeType: nt,
		owner:    owner,
		children: map[string]*znode{},
		czxid:    zx,
		mzxid:    zx,
	}
}

func (n *znode) stat() wire.Stat {
	owner := int64(0)
	if n.nodeType == nodeEphemeral {
		owner = n.owner
	}
	return wire.Stat{
		Czxid:          int64(n.czxid),
		Mzxid:          int64(n.mzxid),
		Version:        n.version,
		Cversion:       n.cversion,
		Aversion:       n.aversion,
		EphemeralOwner: owner,
		DataLength:     int32(len(n.data)),
		NumChildren:    int32(len(n.children)),
		Pzxid:          int64(n.czxid),
	}
}

// db is the tree of znodes backing a testserver, with the locking and
// path-walking helpers the teacher's znode.DB provided, adapted to
// the plain wire.ACL/wire.Stat types this module uses instead of
// protobuf transactions.
type db struct {
	mu      sync.Mutex
	root    *znode
	curZxid zxid
}

func newDB() *db {
	return &db{root: newZnode("", nil, nil, nodeStandard, 0, 0), curZxid: newZxid(1, 0)}
}

func splitPath(path string) []string {
	if path == "/" {
		return nil
	}
	return strings.Split(path, "/")[1:]
}

// validatePath rejects paths a real ensemble would never accept: it must
// be rooted, not be the root itself, carry no trailing slash, and have
// no empty segment.
func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q does not start at the root", path)
	}
	if path == "/" {
		return fmt.Errorf("path cannot be the root")
	}
	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("path %q should end in a node name, not '/'", path)
	}
	for _, name := range splitPath(path) {
		if name == "" {
			return fmt.Errorf("path %q contains an empty node name", path)
		}
	}
	return nil
}

func findNode(start *znode, names []string) *znode {
	node := start
	for _, name := range names {
		child, ok := node.children[name]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

func joinPath(ancestors []string, name string) string {
	if len(ancestors) == 0 {
		return "/" + name
	}
	return "/" + strings.Join(ancestors, "/") + "/" + name
}

func (d *db) nextZxid() zxid {
	d.curZxid = d.curZxid.next()
	return d.curZxid
}

// create returns the new node's full path and stat, or an error code
// mirroring the server-side validation the teacher's DB.Create did
// (missing ancestor, ephemeral parent, duplicate name).
func (d *db) create(req wire.CreateRequest, owner int64) (string, wire.Stat, wire.ErrCode) {
	if err := validatePath(req.Path); err != nil {
		return "", wire.Stat{}, wire.ErrCodeNoNode
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	names := splitPath(req.Path)
	if len(names) == 0 {
		return "", wire.Stat{}, wire.ErrCodeNodeExists
	}
	parentNames, leaf := names[:len(names)-1], names[len(names)-1]
	parent := findNode(d.root, parentNames)
	if parent == nil {
		return "", wire.Stat{}, wire.ErrCodeNoNode
	}
	if parent.nodeType == nodeEphemeral {
		return "", wire.Stat{}, wire.ErrCodeNoChildrenForEphemerals
	}

	name := leaf
	if req.Flags&wire.FlagSequential != 0 {
		name = fmt.Sprintf("%s%010d", leaf, parent.nextSequentialNode)
	}
	if _, exists := parent.children[name]; exists {
		return "", wire.Stat{}, wire.ErrCodeNodeExists
	}

	nt := nodeStandard
	if req.Flags&wire.FlagEphemeral != 0 {
		nt = nodeEphemeral
	}
	zx := d.nextZxid()
	node := newZnode(name, req.Data, req.Acl, nt, owner, zx)
	parent.children[name] = node
	parent.mzxid = zx
	parent.cversion++
	if req.Flags&wire.FlagSequential != 0 {
		parent.nextSequentialNode++
	}
	return joinPath(parentNames, name), node.stat(), wire.ErrCodeOK
}

func (d *db) delete(path string, version int32) wire.ErrCode {
	if err := validatePath(path); err != nil {
		return wire.ErrCodeNoNode
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	names := splitPath(path)
	if len(names) == 0 {
		return wire.ErrCodeBadVersion
	}
	parent := findNode(d.root, names[:len(names)-1])
	if parent == nil {
		return wire.ErrCodeNoNode
	}
	leaf := names[len(names)-1]
	node, ok := parent.children[leaf]
	if !ok {
		return wire.ErrCodeNoNode
	}
	if len(node.children) > 0 {
		return wire.ErrCodeNotEmpty
	}
	if version != -1 && version != node.version {
		return wire.ErrCodeBadVersion
	}
	delete(parent.children, leaf)
	parent.cversion++
	parent.mzxid = d.nextZxid()
	return wire.ErrCodeOK
}

func (d *db) get(path string) (*znode, wire.ErrCode) {
	if err := validatePath(path); err != nil {
		return nil, wire.ErrCodeNoNode
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	node := findNode(d.root, splitPath(path))
	if node == nil {
		return nil, wire.ErrCodeNoNode
	}
	return node, wire.ErrCodeOK
}

func (d *db) setData(path string, data []byte, version int32) (wire.Stat, wire.ErrCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node := findNode(d.root, splitPath(path))
	if node == nil {
		return wire.Stat{}, wire.ErrCodeNoNode
	}
	if version != -1 && version != node.version {
		return wire.Stat{}, wire.ErrCodeBadVersion
	}
	node.data = data
	node.version++
	node.mzxid = d.nextZxid()
	return node.stat(), wire.ErrCodeOK
}

func (d *db) setACL(path string, acl []wire.ACL, version int32) (wire.Stat, wire.ErrCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node := findNode(d.root, splitPath(path))
	if node == nil {
		return wire.Stat{}, wire.ErrCodeNoNode
	}
	if version != -1 && version != node.aversion {
		return wire.Stat{}, wire.ErrCodeBadVersion
	}
	node.acl = acl
	node.aversion++
	return node.stat(), wire.ErrCodeOK
}

func (d *db) children(path string) ([]string, wire.Stat, wire.ErrCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	node := findNode(d.root, splitPath(path))
	if node == nil {
		return nil, wire.Stat{}, wire.ErrCodeNoNode
	}
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	return names, node.stat(), wire.ErrCodeOK
}

// deleteEphemeralsOwnedBy removes every ephemeral node owned by
// sessionID, mirroring the teacher's CloseSession ephemeral cleanup.
// It returns the paths removed so the caller can fire watches on them.
func (d *db) deleteEphemeralsOwnedBy(sessionID int64) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var removed []string
	var walk func(node *znode, ancestors []string)
	walk = func(node *znode, ancestors []string) {
		for name, child := range node.children {
			path := joinPath(ancestors, name)
			if child.nodeType == nodeEphemeral && child.owner == sessionID {
				delete(node.children, name)
				removed = append(removed, path)
				continue
			}
			walk(child, append(ancestors, name))
		}
	}
	walk(d.root, nil)
	return removed
}
