package wire

// OpCode identifies the operation encoded in a request frame. Numbering
// follows the ZooKeeper 3.x wire protocol so that a real ensemble can
// decode frames produced by this package.
type OpCode int32

const (
	OpNotification OpCode = 0
	OpCreate       OpCode = 1
	OpDelete       OpCode = 2
	OpExists       OpCode = 3
	OpGetData      OpCode = 4
	OpSetData      OpCode = 5
	OpGetACL       OpCode = 6
	OpSetACL       OpCode = 7
	OpGetChildren  OpCode = 8
	OpSync         OpCode = 9
	OpPing         OpCode = 11
	OpGetChildren2 OpCode = 12
	OpAuth         OpCode = 100
	OpCreateSess   OpCode = -10
	OpCloseSess    OpCode = -11
	OpError        OpCode = -1
)

func (o OpCode) String() string {
	switch o {
	case OpNotification:
		return "notification"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpExists:
		return "exists"
	case OpGetData:
		return "getData"
	case OpSetData:
		return "setData"
	case OpGetACL:
		return "getACL"
	case OpSetACL:
		return "setACL"
	case OpGetChildren:
		return "getChildren"
	case OpSync:
		return "sync"
	case OpPing:
		return "ping"
	case OpGetChildren2:
		return "getChildren2"
	case OpAuth:
		return "auth"
	case OpCreateSess:
		return "createSession"
	case OpCloseSess:
		return "closeSession"
	case OpError:
		return "error"
	default:
		return "unknown"
	}
}

// Special xids carried in the reply header. Any other value is a
// client-chosen positive transaction id.
const (
	XidWatchEvent int32 = -1
	XidPing       int32 = -2
	XidAuth       int32 = -4
)

// CreateFlag mirrors the bit layout the server expects for the create
// request: ephemeral is bit 0, sequential is bit 1.
type CreateFlag int32

const (
	FlagNone       CreateFlag = 0
	FlagEphemeral  CreateFlag = 1 << 0
	FlagSequential CreateFlag = 1 << 1
)

// Perm is a single bit in an ACL's permission set.
type Perm int32

const (
	PermRead   Perm = 1 << 0
	PermWrite  Perm = 1 << 1
	PermCreate Perm = 1 << 2
	PermDelete Perm = 1 << 3
	PermAdmin  Perm = 1 << 4
	PermAll    Perm = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin
)

// EventType classifies a server-pushed watch notification.
type EventType int32

const (
	EventNodeCreated         EventType = 1
	EventNodeDeleted         EventType = 2
	EventNodeDataChanged     EventType = 3
	EventNodeChildrenChanged EventType = 4
)

// ConnState mirrors the connection-state field ZooKeeper embeds in every
// watch event so subscribers can tell a fire from a session blip.
type ConnState int32

const (
	StateDisconnected ConnState = 0
	StateConnecting   ConnState = 1
	StateConnected    ConnState = 3
	StateExpired      ConnState = -112
)

// WatchKind is the local classification of what a watch was registered
// against. Exist is issued only by (*conn.Engine).ExistsW; the core's
// own operations and helpers never use it.
type WatchKind int

const (
	WatchData WatchKind = iota
	WatchChild
	WatchExist
)

func (k WatchKind) String() string {
	switch k {
	case WatchData:
		return "data"
	case WatchChild:
		return "child"
	case WatchExist:
		return "exist"
	default:
		return "unknown"
	}
}
