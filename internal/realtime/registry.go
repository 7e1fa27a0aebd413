package realtime

import (
	"log/slog"
	"sync"
)

// Member is anything a room can deliver frames to. Deliver must not block
// on I/O: it enqueues onto the member's ordered outbound queue.
type Member interface {
	ID() string
	Deliver(frame []byte) error
}

// Registry maps room keys to the members currently joined to them.
// One lock guards both directions of the mapping; delivery always happens
// after the lock is released.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[Key]map[Member]struct{}
	joined map[Member]map[Key]struct{}
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[Key]map[Member]struct{}),
		joined: make(map[Member]map[Key]struct{}),
		logger: logger,
	}
}

// Join reports whether m was newly added to the room.
func (r *Registry) Join(key Key, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.join(key, m)
}

func (r *Registry) join(key Key, m Member) bool {
	room, ok := r.rooms[key]
	if !ok {
		room = make(map[Member]struct{})
		r.rooms[key] = room
	}
	if _, ok := room[m]; ok {
		return false
	}
	room[m] = struct{}{}

	keys, ok := r.joined[m]
	if !ok {
		keys = make(map[Key]struct{})
		r.joined[m] = keys
	}
	keys[key] = struct{}{}
	return true
}

// Leave reports whether m was in the room.
func (r *Registry) Leave(key Key, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(key, m)
}

func (r *Registry) leave(key Key, m Member) bool {
	room, ok := r.rooms[key]
	if !ok {
		return false
	}
	if _, ok := room[m]; !ok {
		return false
	}

	delete(room, m)
	if len(room) == 0 {
		delete(r.rooms, key)
	}

	if keys, ok := r.joined[m]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.joined, m)
		}
	}
	return true
}

// LeaveAll removes m from every room and returns the rooms it left.
func (r *Registry) LeaveAll(m Member) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.joined[m]
	left := make([]Key, 0, len(keys))
	for key := range keys {
		left = append(left, key)
	}
	for _, key := range left {
		r.leave(key, m)
	}
	return left
}

// Broadcast encodes the frame once and delivers it to every member of the
// room. Members whose delivery fails are removed from the room. It returns
// the number of successful deliveries.
func (r *Registry) Broadcast(key Key, event string, data any) int {
	frame, err := encodeFrame(event, data)
	if err != nil {
		r.logger.Error("failed to encode frame", "event", event, "room", key, "err", err)
		return 0
	}
	return r.BroadcastFrame(key, frame)
}

func (r *Registry) BroadcastFrame(key Key, frame []byte) int {
	recipients := r.Members(key)

	delivered := 0
	for _, m := range recipients {
		if err := m.Deliver(frame); err != nil {
			r.logger.Warn("delivery failed, removing member", "room", key, "member", m.ID(), "err", err)
			r.Leave(key, m)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns a snapshot of the room.
func (r *Registry) Members(key Key) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[key]
	members := make([]Member, 0, len(room))
	for m := range room {
		members = append(members, m)
	}
	return members
}

func (r *Registry) Rooms(m Member) []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.joined[m]))
	for key := range r.joined[m] {
		keys = append(keys, key)
	}
	return keys
}

func (r *Registry) Has(key Key, m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[key][m]
	return ok
}

// Len is the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Mirror joins every current member of from to to and returns how many
// were added.
func (r *Registry) Mirror(from, to Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for m := range r.rooms[from] {
		if r.join(to, m) {
			added++
		}
	}
	return added
}

// Evict drops a room and returns the members it held.
func (r *Registry) Evict(key Key) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[key]
	members := make([]Member, 0, len(room))
	for m := range room {
		members = append(members, m)
	}
	for _, m := range members {
		r.leave(key, m)
	}
	return members
}
