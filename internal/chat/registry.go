package chat

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Random guest names are retried this many times before falling back to a
// sequential scan above the four digit range.
const maxGuestAttempts = 64

type member struct {
	client *Client
	groups map[string]struct{}
}

// Registry is the directory of online users and groups. All state is owned by
// the Run goroutine; other goroutines reach it only through request events.
type Registry struct {
	events    chan Event
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
	guestName func() string
}

func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		events:    make(chan Event, buffer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    logger,
		guestName: randomGuestName,
	}
}

func randomGuestName() string {
	return fmt.Sprintf("Guest%d", 1000+rand.IntN(9000))
}

// Stop signals the Run loop to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

func (r *Registry) Run() {
	defer close(r.doneCh)
	// Single-writer ownership: these maps are only accessed in this goroutine.
	users := make(map[string]*member)
	groups := make(map[string]map[string]struct{})

	for {
		select {
		case ev := <-r.events:
			start := time.Now()

			var rep Reply
			switch ev.Type {
			case EventRegister:
				rep = r.handleRegister(users, ev)
				ConnectedClients.Set(float64(len(users)))
			case EventUnregister:
				rep = r.handleUnregister(users, groups, ev)
				ConnectedClients.Set(float64(len(users)))
			case EventLookup:
				if m, ok := users[ev.Username]; ok {
					rep = Reply{Client: m.client, OK: true}
				}
			case EventOnline:
				rep.Clients = make([]*Client, 0, len(users))
				for _, m := range users {
					rep.Clients = append(rep.Clients, m.client)
				}
			case EventUsers:
				rep.Names = make([]string, 0, len(users))
				for name := range users {
					rep.Names = append(rep.Names, name)
				}
				sort.Strings(rep.Names)
			case EventCreateGroup:
				rep = r.handleCreateGroup(users, groups, ev)
				GroupsTotal.Set(float64(len(groups)))
			case EventJoinGroup:
				rep = r.handleJoinGroup(users, groups, ev)
			case EventIsMember:
				if m, ok := users[ev.Username]; ok {
					_, rep.OK = m.groups[ev.Group]
				}
			case EventGroupRecipients:
				rep = r.handleGroupRecipients(users, groups, ev)
			}

			if ev.ReplyChan != nil {
				ev.ReplyChan <- rep
			}

			EventsTotal.WithLabelValues(ev.Type.String()).Inc()
			EventProcessingDuration.WithLabelValues(ev.Type.String()).Observe(time.Since(start).Seconds())
		case <-r.stopCh:
			return
		}
	}
}

// request hands ev to the Run loop and waits for its reply.
func (r *Registry) request(ev Event) Reply {
	ev.ReplyChan = make(chan Reply, 1)
	select {
	case r.events <- ev:
	case <-r.stopCh:
		return Reply{Err: ErrClosed}
	}
	select {
	case rep := <-ev.ReplyChan:
		return rep
	case <-r.doneCh:
		select {
		case rep := <-ev.ReplyChan:
			return rep
		default:
			return Reply{Err: ErrClosed}
		}
	}
}

// RegisterGuest assigns c a guest name that is not currently online.
func (r *Registry) RegisterGuest(c *Client) (string, error) {
	rep := r.request(Event{Type: EventRegister, Client: c, Guest: true})
	return rep.Name, rep.Err
}

// RegisterNamed claims name for c, failing with ErrAlreadyExists if it is
// already online.
func (r *Registry) RegisterNamed(c *Client, name string) error {
	return r.request(Event{Type: EventRegister, Client: c, Username: name}).Err
}

// Unregister removes c from the directory and from every group it joined.
// It is a no-op if c is not the current owner of its name.
func (r *Registry) Unregister(c *Client) {
	r.request(Event{Type: EventUnregister, Client: c})
}

func (r *Registry) Lookup(name string) (*Client, bool) {
	rep := r.request(Event{Type: EventLookup, Username: name})
	return rep.Client, rep.OK
}

// Online returns a snapshot of every online client.
func (r *Registry) Online() []*Client {
	return r.request(Event{Type: EventOnline}).Clients
}

// Users returns the sorted names of every online user.
func (r *Registry) Users() []string {
	return r.request(Event{Type: EventUsers}).Names
}

func (r *Registry) CreateGroup(group, creator string) error {
	return r.request(Event{Type: EventCreateGroup, Group: group, Username: creator}).Err
}

func (r *Registry) JoinGroup(group, user string) error {
	return r.request(Event{Type: EventJoinGroup, Group: group, Username: user}).Err
}

// IsMember reports whether group is in user's own membership set.
func (r *Registry) IsMember(group, user string) bool {
	return r.request(Event{Type: EventIsMember, Group: group, Username: user}).OK
}

// GroupRecipients returns the online members of group other than sender.
// It fails with ErrNotMember unless sender has joined group.
func (r *Registry) GroupRecipients(group, sender string) ([]*Client, error) {
	rep := r.request(Event{Type: EventGroupRecipients, Group: group, Username: sender})
	return rep.Clients, rep.Err
}

func (r *Registry) handleRegister(users map[string]*member, ev Event) Reply {
	if ev.Client == nil {
		return Reply{Err: ErrNotFound}
	}

	username := ev.Username
	if ev.Guest {
		username = r.freeGuestName(users)
	} else if _, exists := users[username]; exists {
		return Reply{Err: ErrAlreadyExists}
	}

	ev.Client.Username = username
	users[username] = &member{client: ev.Client, groups: make(map[string]struct{})}

	r.logger.Info("user registered", "username", username, "guest", ev.Guest, "conn_id", ev.Client.ID)
	return Reply{Name: username}
}

func (r *Registry) freeGuestName(users map[string]*member) string {
	for range maxGuestAttempts {
		name := r.guestName()
		if _, taken := users[name]; !taken {
			return name
		}
	}
	for n := 10000; ; n++ {
		name := fmt.Sprintf("Guest%d", n)
		if _, taken := users[name]; !taken {
			return name
		}
	}
}

func (r *Registry) handleUnregister(users map[string]*member, groups map[string]map[string]struct{}, ev Event) Reply {
	if ev.Client == nil || ev.Client.Username == "" {
		return Reply{}
	}
	username := ev.Client.Username
	m, ok := users[username]
	if !ok || m.client != ev.Client {
		return Reply{}
	}
	delete(users, username)
	for group := range m.groups {
		delete(groups[group], username)
	}

	r.logger.Info("user left", "username", username, "conn_id", ev.Client.ID)
	return Reply{OK: true}
}

func (r *Registry) handleCreateGroup(users map[string]*member, groups map[string]map[string]struct{}, ev Event) Reply {
	m, ok := users[ev.Username]
	if !ok {
		return Reply{Err: ErrNotFound}
	}
	if _, exists := groups[ev.Group]; exists {
		return Reply{Err: ErrAlreadyExists}
	}
	groups[ev.Group] = map[string]struct{}{ev.Username: {}}
	m.groups[ev.Group] = struct{}{}

	r.logger.Info("group created", "group", ev.Group, "creator", ev.Username)
	return Reply{OK: true}
}

func (r *Registry) handleJoinGroup(users map[string]*member, groups map[string]map[string]struct{}, ev Event) Reply {
	members, exists := groups[ev.Group]
	if !exists {
		return Reply{Err: ErrNotFound}
	}
	m, ok := users[ev.Username]
	if !ok {
		return Reply{Err: ErrNotFound}
	}
	members[ev.Username] = struct{}{}
	m.groups[ev.Group] = struct{}{}
	return Reply{OK: true}
}

func (r *Registry) handleGroupRecipients(users map[string]*member, groups map[string]map[string]struct{}, ev Event) Reply {
	sender, ok := users[ev.Username]
	if !ok {
		return Reply{Err: ErrNotMember}
	}
	if _, joined := sender.groups[ev.Group]; !joined {
		return Reply{Err: ErrNotMember}
	}

	members := groups[ev.Group]
	clients := make([]*Client, 0, len(members))
	for name := range members {
		if name == ev.Username {
			continue
		}
		if m, online := users[name]; online {
			clients = append(clients, m.client)
		}
	}
	return Reply{Clients: clients}
}
