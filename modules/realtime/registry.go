package realtime

import (
	"sync"
	"sync/atomic"
)

// Registry tracks live connections per user. Connections are addressed by
// id; other components keep ids, never *Connection values.
type Registry struct {
	rooms *Rooms
	conns sync.Map // ConnID -> *Connection
	users sync.Map // uint -> *userConns
	count atomic.Int64
}

type userConns struct {
	mu      sync.Mutex
	conns   map[ConnID]*Connection
	removed bool
}

// NewRegistry creates a registry that places connections into rooms.
func NewRegistry(rooms *Rooms) *Registry {
	return &Registry{rooms: rooms}
}

// Register adds the connection and joins it to its personal room and the
// broadcast room. It reports whether this is the user's first live connection.
func (r *Registry) Register(conn *Connection) bool {
	if _, loaded := r.conns.LoadOrStore(conn.ID, conn); loaded {
		return false
	}
	r.count.Add(1)

	var first bool
	for {
		v, _ := r.users.LoadOrStore(conn.UserID(), &userConns{conns: make(map[ConnID]*Connection)})
		uc := v.(*userConns)
		uc.mu.Lock()
		if uc.removed {
			uc.mu.Unlock()
			continue
		}
		first = len(uc.conns) == 0
		uc.conns[conn.ID] = conn
		uc.mu.Unlock()
		break
	}

	r.rooms.Join(conn.ID, PersonalRoom(conn.UserID()))
	r.rooms.Join(conn.ID, BroadcastRoom)
	return first
}

// Unregister removes the connection and its room memberships. It reports
// whether it was the user's last connection. Unknown ids are ignored.
func (r *Registry) Unregister(id ConnID) (conn *Connection, last bool, ok bool) {
	v, loaded := r.conns.LoadAndDelete(id)
	if !loaded {
		return nil, false, false
	}
	conn = v.(*Connection)
	r.count.Add(-1)
	r.rooms.LeaveAll(id)

	if v, found := r.users.Load(conn.UserID()); found {
		uc := v.(*userConns)
		uc.mu.Lock()
		delete(uc.conns, id)
		if len(uc.conns) == 0 {
			last = true
			uc.removed = true
			r.users.CompareAndDelete(conn.UserID(), uc)
		}
		uc.mu.Unlock()
	}
	return conn, last, true
}

// Get returns a live connection by id.
func (r *Registry) Get(id ConnID) (*Connection, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// ConnectionsFor returns the user's live connections.
func (r *Registry) ConnectionsFor(userID uint) []*Connection {
	v, ok := r.users.Load(userID)
	if !ok {
		return nil
	}
	uc := v.(*userConns)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	conns := make([]*Connection, 0, len(uc.conns))
	for _, c := range uc.conns {
		conns = append(conns, c)
	}
	return conns
}

// ConnectionCount returns the number of live connections of the user.
func (r *Registry) ConnectionCount(userID uint) int {
	v, ok := r.users.Load(userID)
	if !ok {
		return 0
	}
	uc := v.(*userConns)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.conns)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// UserCount returns the number of users with at least one live connection.
func (r *Registry) UserCount() int {
	n := 0
	r.users.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Each calls fn for every live connection until fn returns false.
func (r *Registry) Each(fn func(conn *Connection) bool) {
	r.conns.Range(func(_, v any) bool {
		return fn(v.(*Connection))
	})
}
