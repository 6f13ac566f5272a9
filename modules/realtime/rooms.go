package realtime

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Rooms tracks which connections belong to which rooms. Each room has its
// own lock; rooms are created on first join and removed when they empty.
type Rooms struct {
	rooms sync.Map // string -> *room
	index sync.Map // ConnID -> *connRooms
	count atomic.Int64
}

type room struct {
	mu      sync.Mutex
	members map[ConnID]struct{}
	closed  bool
}

type connRooms struct {
	mu     sync.Mutex
	keys   map[string]struct{}
	closed bool
}

// NewRooms creates an empty room manager.
func NewRooms() *Rooms {
	return &Rooms{}
}

// Join adds the connection to the room. It reports whether membership changed.
func (r *Rooms) Join(id ConnID, key string) bool {
	for {
		rm := r.load(key)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last member leaving; the key now maps to a fresh room.
			rm.mu.Unlock()
			continue
		}
		if _, ok := rm.members[id]; ok {
			rm.mu.Unlock()
			return false
		}
		rm.members[id] = struct{}{}
		r.indexAdd(id, key)
		rm.mu.Unlock()
		return true
	}
}

func (r *Rooms) load(key string) *room {
	if v, ok := r.rooms.Load(key); ok {
		return v.(*room)
	}
	v, loaded := r.rooms.LoadOrStore(key, &room{members: make(map[ConnID]struct{})})
	if !loaded {
		r.count.Add(1)
	}
	return v.(*room)
}

// Leave removes the connection from the room. Leaving a room the connection
// is not in is a no-op.
func (r *Rooms) Leave(id ConnID, key string) bool {
	v, ok := r.rooms.Load(key)
	if !ok {
		return false
	}
	rm := v.(*room)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.members[id]; !ok {
		return false
	}
	delete(rm.members, id)
	r.indexRemove(id, key)
	if len(rm.members) == 0 {
		rm.closed = true
		if r.rooms.CompareAndDelete(key, rm) {
			r.count.Add(-1)
		}
	}
	return true
}

// LeaveAll removes the connection from every room it joined. The index
// entry goes away with the last room.
func (r *Rooms) LeaveAll(id ConnID) {
	for _, key := range r.RoomsOf(id) {
		r.Leave(id, key)
	}
}

// Members returns a snapshot of the room's connections.
func (r *Rooms) Members(key string) []ConnID {
	v, ok := r.rooms.Load(key)
	if !ok {
		return nil
	}
	rm := v.(*room)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	members := make([]ConnID, 0, len(rm.members))
	for id := range rm.members {
		members = append(members, id)
	}
	return members
}

// IsMember reports whether the connection is in the room.
func (r *Rooms) IsMember(id ConnID, key string) bool {
	v, ok := r.rooms.Load(key)
	if !ok {
		return false
	}
	rm := v.(*room)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, member := rm.members[id]
	return member
}

// Size returns the number of connections in the room.
func (r *Rooms) Size(key string) int {
	v, ok := r.rooms.Load(key)
	if !ok {
		return 0
	}
	rm := v.(*room)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// RoomCount returns the number of non-empty rooms.
func (r *Rooms) RoomCount() int {
	return int(r.count.Load())
}

// RoomsOf returns the sorted keys of the rooms the connection is in.
func (r *Rooms) RoomsOf(id ConnID) []string {
	v, ok := r.index.Load(id)
	if !ok {
		return nil
	}
	cr := v.(*connRooms)

	cr.mu.Lock()
	keys := make([]string, 0, len(cr.keys))
	for key := range cr.keys {
		keys = append(keys, key)
	}
	cr.mu.Unlock()

	slices.Sort(keys)
	return keys
}

func (r *Rooms) indexAdd(id ConnID, key string) {
	for {
		v, _ := r.index.LoadOrStore(id, &connRooms{keys: make(map[string]struct{})})
		cr := v.(*connRooms)
		cr.mu.Lock()
		if cr.closed {
			cr.mu.Unlock()
			continue
		}
		cr.keys[key] = struct{}{}
		cr.mu.Unlock()
		return
	}
}

func (r *Rooms) indexRemove(id ConnID, key string) {
	v, ok := r.index.Load(id)
	if !ok {
		return
	}
	cr := v.(*connRooms)
	cr.mu.Lock()
	defer cr.mu.Unlock()
	delete(cr.keys, key)
	if len(cr.keys) == 0 && !cr.closed {
		cr.closed = true
		r.index.CompareAndDelete(id, cr)
	}
}
