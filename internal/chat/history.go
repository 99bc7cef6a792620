package chat

import (
	"slices"
	"sync"
	"time"
)

const (
	// DefaultHistoryLimit caps each room's log; the oldest entry goes first.
	DefaultHistoryLimit = 1000
	// DefaultRetention is how long a message survives the cleanup sweep.
	DefaultRetention = 24 * time.Hour

	statsClock = "2006-01-02 15:04:05"
)

// RoomStats summarizes a room's log for diagnostics.
type RoomStats struct {
	MessageCount int    `json:"messageCount"`
	LastActivity string `json:"lastActivity,omitempty"`
	IsActive     bool   `json:"isActive"`
}

// HistoryOption customizes a History.
type HistoryOption func(*History)

// WithHistoryLimit overrides the per-room message cap.
func WithHistoryLimit(limit int) HistoryOption {
	return func(h *History) {
		if limit > 0 {
			h.limit = limit
		}
	}
}

// WithRetention overrides the age after which the sweep drops messages.
func WithRetention(retention time.Duration) HistoryOption {
	return func(h *History) {
		if retention > 0 {
			h.retention = retention
		}
	}
}

// WithHistoryClock replaces time.Now, mainly for tests.
func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *History) {
		if now != nil {
			h.now = now
		}
	}
}

// History keeps a bounded, append-only log per room.
//
// Appends to different rooms run in parallel: they share the read lock on
// the room map and serialize on the room's own mutex. Creating a room and
// sweeping take the write lock, so a sweep never overlaps an append or a
// read of the same log.
type History struct {
	mu        sync.RWMutex
	logs      map[string]*roomLog
	limit     int
	retention time.Duration
	now       func() time.Time
}

type roomLog struct {
	mu       sync.Mutex
	messages []Message
}

// NewHistory returns an empty History.
func NewHistory(opts ...HistoryOption) *History {
	h := &History{
		logs:      make(map[string]*roomLog),
		limit:     DefaultHistoryLimit,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append stores msg at the end of room's log, assigning an id and creation
// time when missing, and returns the stored message.
func (h *History) Append(room string, msg Message) Message {
	msg.Room = room
	msg.stamp(h.now())

	h.mu.RLock()
	log, ok := h.logs[room]
	if ok {
		h.appendLocked(log, msg)
		h.mu.RUnlock()
		return msg
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	log, ok = h.logs[room]
	if !ok {
		log = &roomLog{}
		h.logs[room] = log
	}
	h.appendLocked(log, msg)
	return msg
}

func (h *History) appendLocked(log *roomLog, msg Message) {
	log.mu.Lock()
	defer log.mu.Unlock()

	log.messages = append(log.messages, msg)
	if over := len(log.messages) - h.limit; over > 0 {
		log.messages = append(log.messages[:0], log.messages[over:]...)
	}
}

// Recent returns up to limit of the newest messages in arrival order.
func (h *History) Recent(room string, limit int) []Message {
	result := make([]Message, 0)
	h.read(room, func(messages []Message) {
		if limit > 0 && len(messages) > limit {
			messages = messages[len(messages)-limit:]
		}
		result = append(result, messages...)
	})
	return result
}

// Since returns every message created strictly after t.
func (h *History) Since(room string, t time.Time) []Message {
	result := make([]Message, 0)
	h.read(room, func(messages []Message) {
		for _, msg := range messages {
			if msg.CreatedAt.After(t) {
				result = append(result, msg)
			}
		}
	})
	return result
}

// Len reports how many messages room currently holds.
func (h *History) Len(room string) int {
	n := 0
	h.read(room, func(messages []Message) { n = len(messages) })
	return n
}

// Stats reports the message count and last activity of room.
func (h *History) Stats(room string) RoomStats {
	var stats RoomStats
	h.read(room, func(messages []Message) {
		stats.MessageCount = len(messages)
		if len(messages) == 0 {
			return
		}
		last := messages[len(messages)-1].CreatedAt
		stats.LastActivity = last.Format(statsClock)
		stats.IsActive = last.After(h.now().Add(-h.retention))
	})
	return stats
}

// Rooms lists the rooms that currently have a log.
func (h *History) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]string, 0, len(h.logs))
	for room := range h.logs {
		rooms = append(rooms, room)
	}
	slices.Sort(rooms)
	return rooms
}

// Sweep drops messages older than the retention window and deletes logs
// that held nothing newer. It returns the names of the deleted logs.
func (h *History) Sweep() []string {
	cutoff := h.now().Add(-h.retention)

	h.mu.Lock()
	defer h.mu.Unlock()

	var deleted []string
	for room, log := range h.logs {
		log.mu.Lock()
		kept := log.messages[:0]
		for _, msg := range log.messages {
			if msg.CreatedAt.After(cutoff) {
				kept = append(kept, msg)
			}
		}
		clear(log.messages[len(kept):])
		log.messages = kept
		if len(kept) == 0 {
			delete(h.logs, room)
			deleted = append(deleted, room)
		}
		log.mu.Unlock()
	}
	slices.Sort(deleted)
	return deleted
}

func (h *History) read(room string, fn func([]Message)) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	log, ok := h.logs[room]
	if !ok {
		return
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	fn(log.messages)
}
