package chat

import "sync"

// rooms serializes mutation and fan-out per room. Whoever holds a room's
// lock is the only one appending to its history, touching its polls or
// delivering to its members, so every member observes the same order.
type rooms struct {
	mu     sync.Mutex
	byName map[string]*room
}

type room struct {
	mu      sync.Mutex
	name    string
	evicted bool
}

func newRooms() *rooms {
	return &rooms{byName: make(map[string]*room)}
}

// lock returns name's room with its lock held, creating it on first use.
func (r *rooms) lock(name string) *room {
	for {
		r.mu.Lock()
		rm, ok := r.byName[name]
		if !ok {
			rm = &room{name: name}
			r.byName[name] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.evicted {
			return rm
		}
		rm.mu.Unlock()
	}
}

// evict removes name from the table when idle reports true while the room
// lock is held, running onEvict before the lock is released.
func (r *rooms) evict(name string, idle func() bool, onEvict func()) bool {
	rm := r.lock(name)
	defer rm.mu.Unlock()
	if !idle() {
		return false
	}
	rm.evicted = true

	r.mu.Lock()
	if r.byName[name] == rm {
		delete(r.byName, name)
	}
	r.mu.Unlock()

	onEvict()
	return true
}

func (r *rooms) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}
