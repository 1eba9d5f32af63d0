package ws

import "sync"

// rooms tracks the channels a connection is subscribed to and how to leave
// each of them.
type rooms struct {
	mu     sync.Mutex
	leaves map[string]func()
}

func newRooms() *rooms {
	return &rooms{leaves: make(map[string]func())}
}

func (r *rooms) has(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.leaves[channel]
	return ok
}

func (r *rooms) add(channel string, leave func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves[channel] = leave
}

func (r *rooms) leave(channel string) {
	r.mu.Lock()
	leave, ok := r.leaves[channel]
	delete(r.leaves, channel)
	r.mu.Unlock()
	if ok {
		leave()
	}
}

func (r *rooms) closeAll() {
	r.mu.Lock()
	all := r.leaves
	r.leaves = make(map[string]func())
	r.mu.Unlock()
	for _, leave := range all {
		leave()
	}
}
