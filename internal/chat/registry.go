package chat

import (
	"slices"
	"sync"
)

// Status is the presence state a user advertises to their room.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// User is the session bound to one live connection.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Room     string `json:"room"`
	Status   Status `json:"status"`
}

// Registry maps connection ids to users. It is the single authority for who
// is present; room membership is derived from it.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// Join binds a user to connID, replacing any session the connection already
// had. Blank or oversized names fall back to defaults or are truncated.
func (r *Registry) Join(connID, username, room string) User {
	user := &User{
		ID:       connID,
		Username: sanitizeOr(username, MaxUsernameLength, DefaultUsername),
		Room:     sanitizeOr(room, MaxRoomLength, DefaultRoom),
		Status:   StatusOnline,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[connID]; ok {
		r.removeLocked(connID)
	}
	r.users[connID] = user
	r.order = append(r.order, connID)
	return *user
}

// Current returns the user bound to connID.
func (r *Registry) Current(connID string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// Leave removes and returns the user bound to connID. A second Leave for the
// same connection reports false.
func (r *Registry) Leave(connID string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	r.removeLocked(connID)
	return *user, true
}

// UpdateStatus changes the presence of the user bound to connID in place.
func (r *Registry) UpdateStatus(connID string, status Status) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	user.Status = status
	return *user, true
}

// UsersIn returns a snapshot of the users in room, in join order.
func (r *Registry) UsersIn(room string) []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]User, 0)
	for _, id := range r.order {
		if user := r.users[id]; user.Room == room {
			users = append(users, *user)
		}
	}
	return users
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) removeLocked(connID string) {
	delete(r.users, connID)
	if i := slices.Index(r.order, connID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}
