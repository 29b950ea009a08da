package chat

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

type Client struct {
	ID       string // connection id, only used to correlate log lines
	Conn     net.Conn
	Username string
	Out      chan string // outbound lines to be written by the writer goroutine

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn net.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Out:  make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// Done is closed once the session owning the client has started tearing down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

type EventType int

const (
	EventRegister EventType = iota
	EventUnregister
	EventLookup
	EventOnline
	EventUsers
	EventCreateGroup
	EventJoinGroup
	EventIsMember
	EventGroupRecipients
)

func (t EventType) String() string {
	switch t {
	case EventRegister:
		return "register"
	case EventUnregister:
		return "unregister"
	case EventLookup:
		return "lookup"
	case EventOnline:
		return "online"
	case EventUsers:
		return "users"
	case EventCreateGroup:
		return "create_group"
	case EventJoinGroup:
		return "join_group"
	case EventIsMember:
		return "is_member"
	case EventGroupRecipients:
		return "group_recipients"
	default:
		return "unknown"
	}
}

type Event struct {
	Type      EventType
	Client    *Client
	Username  string
	Group     string
	Guest     bool
	ReplyChan chan Reply
}

// Reply carries the result of a registry request back to the caller.
type Reply struct {
	Err     error
	Name    string
	Client  *Client
	Clients []*Client
	Names   []string
	OK      bool
}

var (
	ErrAlreadyExists = errorString("already_exists")
	ErrNotFound      = errorString("not_found")
	ErrNotMember     = errorString("not_member")
	ErrClosed        = errorString("registry_closed")
)

type errorString string

func (e errorString) Error() string { return string(e) }
