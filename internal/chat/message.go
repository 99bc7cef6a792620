package chat

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies how clients render a Message.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeFile       MessageType = "file"
	TypePoll       MessageType = "poll"
	TypePollUpdate MessageType = "poll-update"
)

// Role tells clients who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// displayClock is the short wall clock shown next to each message.
const displayClock = "3:04 pm"

// Meta carries optional authoring hints for a Message.
type Meta struct {
	Role    Role   `json:"role,omitempty"`
	Mode    string `json:"mode,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// FileAttachment is an inline file shared into a room.
type FileAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

// Message is a single entry of a room's history. Messages are never mutated
// once they have been appended; poll changes are carried by new messages.
type Message struct {
	ID        string          `json:"id"`
	Room      string          `json:"-"`
	Username  string          `json:"username"`
	Text      string          `json:"text"`
	Time      string          `json:"time"`
	Timestamp int64           `json:"timestamp"`
	Type      MessageType     `json:"type"`
	File      *FileAttachment `json:"file,omitempty"`
	Poll      *Poll           `json:"poll,omitempty"`
	Meta      *Meta           `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"-"`
}

// stamp fills the id and creation instant when they are missing.
func (m *Message) stamp(now time.Time) {
	if m.ID == "" {
		m.ID = newID(now)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.Timestamp = m.CreatedAt.UnixMilli()
	m.Time = m.CreatedAt.Format(displayClock)
}

// newID returns a base36 millisecond prefix followed by a short random
// suffix. Ids sort roughly by creation time and do not collide in practice.
func newID(now time.Time) string {
	id := uuid.New()
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + hex.EncodeToString(id[:4])
}
