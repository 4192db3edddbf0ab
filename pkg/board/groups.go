package board

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/jhaugen/bboard/pkg/model"
	"github.com/jhaugen/bboard/pkg/protocol"
)

// LobbyGroup always exists and every authenticated session joins it.
const LobbyGroup = "lobby"

var ErrUnknownGroup = errors.New("board: unknown group")
var ErrNotInGroup = errors.New("board: not a member of group")
var ErrBadMessageID = errors.New("board: no such message id")

// Fanout reports how an event broadcast went: lines enqueued on member
// outboxes vs. lines dropped because a recipient was slow or closed.
type Fanout struct {
	Delivered int
	Dropped   int
}

func (f *Fanout) add(other Fanout) {
	f.Delivered += other.Delivered
	f.Dropped += other.Dropped
}

// group is one board: membership plus the append-only message store.
// Sequence ids are dense (1,2,3,...), so messages[i] always has ID i+1.
type group struct {
	name     string
	members  map[string]*Session // username -> session
	messages []model.Message
	nextID   int64
}

// GroupRegistry owns the fixed group catalog. The catalog is established
// at startup and never changes at runtime; only membership and message
// stores mutate, all under the registry mutex.
//
// Mutating operations that generate events (Join, Leave, Post,
// RemoveSession) enqueue those events while still holding the mutex, so
// any one observer sees events about a group in commit order. The enqueue
// itself never blocks (Session.Send is non-blocking), keeping the
// critical sections short.
type GroupRegistry struct {
	mu     sync.RWMutex
	order  []string // catalog order for deterministic GROUPS output
	groups map[string]*group
}

// NewGroupRegistry builds the catalog from the configured names. The
// lobby is always present and always listed first; duplicates are
// collapsed, order otherwise preserved.
func NewGroupRegistry(names []string) *GroupRegistry {
	r := &GroupRegistry{
		groups: make(map[string]*group),
	}
	r.add(LobbyGroup)
	for _, name := range names {
		r.add(name)
	}
	return r
}

func (r *GroupRegistry) add(name string) {
	if name == "" {
		return
	}
	if _, ok := r.groups[name]; ok {
		return
	}
	r.groups[name] = &group{
		name:    name,
		members: make(map[string]*Session),
	}
	r.order = append(r.order, name)
}

// Names returns the catalog in its configured order.
func (r *GroupRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Join adds sess to the group's membership and notifies the other current
// members with "EVENT JOINED <group> <user>". Joining a group twice is
// not an error; the second join reports already=true and emits no event.
func (r *GroupRegistry) Join(sess *Session, name string) (already bool, fo Fanout, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	if !ok {
		return false, Fanout{}, ErrUnknownGroup
	}
	if _, member := g.members[sess.Username]; member {
		return true, Fanout{}, nil
	}
	fo = g.broadcast(protocol.Event("JOINED "+g.name+" "+sess.Username), sess.Username)
	g.members[sess.Username] = sess
	return false, fo, nil
}

// Leave removes sess from the group and notifies the remaining members
// with "EVENT LEFT <group> <user>". The lobby is an ordinary group here:
// auto-join guarantees initial membership, not pinning.
func (r *GroupRegistry) Leave(sess *Session, name string) (Fanout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	if !ok {
		return Fanout{}, ErrUnknownGroup
	}
	if _, member := g.members[sess.Username]; !member {
		return Fanout{}, ErrNotInGroup
	}
	delete(g.members, sess.Username)
	return g.broadcast(protocol.Event("LEFT "+g.name+" "+sess.Username), sess.Username), nil
}

// Members returns the sorted usernames currently in the group. Callers do
// not need to be members themselves.
func (r *GroupRegistry) Members(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, ErrUnknownGroup
	}
	names := lo.Keys(g.members)
	sort.Strings(names)
	return names, nil
}

// Post appends a message to the group, allocating the next sequence id
// (1,2,3,... per group, no gaps or reuse even under concurrent posts),
// and pushes "EVENT MESSAGE ..." to the other members. The caller must be
// a member; the message must already be validated and sanitized.
func (r *GroupRegistry) Post(sess *Session, name, subject, body string) (model.Message, Fanout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	if !ok {
		return model.Message{}, Fanout{}, ErrUnknownGroup
	}
	if _, member := g.members[sess.Username]; !member {
		return model.Message{}, Fanout{}, ErrNotInGroup
	}

	g.nextID++
	msg := model.Message{
		ID:        g.nextID,
		Group:     g.name,
		Author:    sess.Username,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	g.messages = append(g.messages, msg)

	fo := g.broadcast(protocol.Event("MESSAGE "+protocol.FormatMessage(msg)), sess.Username)
	return msg, fo, nil
}

// Get returns the message with the given sequence id. Any authenticated
// session may read any group's messages; membership is not required.
func (r *GroupRegistry) Get(name string, id int64) (model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return model.Message{}, ErrUnknownGroup
	}
	// Dense ids make lookup an index check.
	if id < 1 || id > int64(len(g.messages)) {
		return model.Message{}, ErrBadMessageID
	}
	return g.messages[id-1], nil
}

// History returns up to the n most recent messages in chronological
// order. n <= 0 yields an empty result; n larger than the store yields
// everything.
func (r *GroupRegistry) History(name string, n int) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, ErrUnknownGroup
	}
	if n <= 0 {
		return nil, nil
	}
	start := len(g.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.Message, len(g.messages)-start)
	copy(out, g.messages[start:])
	return out, nil
}

// RemoveSession drops sess from every group it belongs to, notifying the
// remaining members of each, and returns the names of the groups left.
// Idempotent; used for QUIT and for connection-loss cleanup.
func (r *GroupRegistry) RemoveSession(sess *Session) ([]string, Fanout) {
	if sess.Username == "" {
		return nil, Fanout{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var left []string
	var fo Fanout
	for _, name := range r.order {
		g := r.groups[name]
		if _, member := g.members[sess.Username]; !member {
			continue
		}
		delete(g.members, sess.Username)
		fo.add(g.broadcast(protocol.Event("LEFT "+g.name+" "+sess.Username), sess.Username))
		left = append(left, name)
	}
	return left, fo
}

// broadcast enqueues line on every member's outbox except exclude.
// Callers hold the registry mutex; Send never blocks.
func (g *group) broadcast(line, exclude string) Fanout {
	var fo Fanout
	for name, member := range g.members {
		if name == exclude {
			continue
		}
		if member.Send(line) {
			fo.Delivered++
		} else {
			fo.Dropped++
		}
	}
	return fo
}
