package polls

import "sync"

// RoomLocks serializes work per poll ID. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type RoomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// NewRoomLocks creates an empty lock table.
func NewRoomLocks() *RoomLocks {
	return &RoomLocks{rooms: make(map[string]*roomLock)}
}

// Lock blocks until the lock for id is held and returns its release func.
func (l *RoomLocks) Lock(id string) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.rooms[id]
	if !ok {
		rl = &roomLock{}
		l.rooms[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, id)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of rooms currently locked or awaited.
func (l *RoomLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
