package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Inbound event names.
const (
	EventJoinRoom        = "joinRoom"
	EventChatMessage     = "chatMessage"
	EventAssistantPrompt = "assistantPrompt"
	EventCreatePoll      = "createPoll"
	EventVotePoll        = "votePoll"
	EventFileUpload      = "fileUpload"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventUpdateStatus    = "updateStatus"
	EventDisconnect      = "disconnect"
)

// Outbound event names.
const (
	EventMessageHistory = "messageHistory"
	EventMessage        = "message"
	EventPollUpdate     = "pollUpdate"
	EventRoomUsers      = "roomUsers"
	EventUploadError    = "uploadError"
	EventPollError      = "pollError"
)

// Inbound is one event read from a client connection.
type Inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is one outbound event addressed to one or more connections.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// RoomUsers is the payload of a roomUsers event.
type RoomUsers struct {
	Room  string `json:"room"`
	Users []User `json:"users"`
}

// JoinRequest is the payload of joinRoom.
type JoinRequest struct {
	Username flexString `json:"username"`
	Room     flexString `json:"room"`
}

// AssistantRequest is the payload of assistantPrompt.
type AssistantRequest struct {
	Prompt flexString `json:"prompt"`
	Mode   flexString `json:"mode"`
}

// PollRequest is the payload of createPoll.
type PollRequest struct {
	Question flexString   `json:"question"`
	Options  []flexString `json:"options"`
}

// VoteRequest is the payload of votePoll.
type VoteRequest struct {
	PollID      flexString `json:"pollId"`
	OptionIndex flexInt    `json:"optionIndex"`
}

var errNotScalar = errors.New("expected a scalar value")

// flexString accepts any JSON scalar and keeps its textual form, the way
// loosely typed browser clients send form values.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		return errNotScalar
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	default:
		*f = flexString(data)
	}
	return nil
}

// flexInt accepts an integral JSON number or a numeric string. Anything else
// decodes without error but leaves Valid false.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	*f = flexInt{}
	n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
		return nil
	}
	if n > math.MaxInt64 || n < math.MinInt64 {
		return nil
	}
	f.Value, f.Valid = int64(n), true
	return nil
}

func (f flexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, f.Value, 10), nil
}

func flexStrings(values []flexString) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
