package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/observability"
)

const (
	DefaultHistoryReplay = 120
	DefaultAssistantName = "Chatify Assistant"
	DefaultSweepInterval = time.Hour
)

// Delivery hands encoded events to live connections. Implementations must
// not block: the coordinator delivers while holding a room's lock.
type Delivery interface {
	Deliver(ev Event, connIDs ...string)
}

// Config tunes the coordinator and the stores it owns.
type Config struct {
	HistoryLimit  int
	HistoryReplay int
	Retention     time.Duration
	MaxFileSize   int64
	AssistantName string
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:  DefaultHistoryLimit,
		HistoryReplay: DefaultHistoryReplay,
		Retention:     DefaultRetention,
		MaxFileSize:   DefaultMaxFileSize,
		AssistantName: DefaultAssistantName,
	}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now for the coordinator and its stores.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator turns inbound client events into store mutations and
// outbound deliveries. Events of one connection must be handed over in the
// order they were received; events of different connections may arrive
// concurrently.
type Coordinator struct {
	cfg      Config
	registry *Registry
	history  *History
	polls    *Polls
	rooms    *rooms
	delivery Delivery
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
	handlers map[string]eventHandler
}

// eventHandler is one row of the dispatch table.
type eventHandler struct {
	// session is true when the event is ignored without a joined user.
	session bool
	handle  func(c *Coordinator, connID string, data json.RawMessage) error
}

// NewCoordinator wires a coordinator with fresh stores.
func NewCoordinator(cfg Config, delivery Delivery, validate *validator.Validate, logger zerolog.Logger, opts ...Option) *Coordinator {
	defaults := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.HistoryReplay <= 0 {
		cfg.HistoryReplay = defaults.HistoryReplay
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaults.Retention
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaults.MaxFileSize
	}
	if strings.TrimSpace(cfg.AssistantName) == "" {
		cfg.AssistantName = defaults.AssistantName
	}
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: NewRegistry(),
		polls:    NewPolls(),
		rooms:    newRooms(),
		delivery: delivery,
		validate: validate,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		now:      time.Now,
		handlers: dispatchTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.polls.now = c.now
	c.history = NewHistory(
		WithHistoryLimit(cfg.HistoryLimit),
		WithRetention(cfg.Retention),
		WithHistoryClock(c.now),
	)
	return c
}

func dispatchTable() map[string]eventHandler {
	return map[string]eventHandler{
		EventJoinRoom: {handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var req JoinRequest
			if err := decode(data, &req); err != nil && !errors.Is(err, errMissingPayload) {
				return err
			}
			c.Join(connID, req)
			return nil
		}},
		EventChatMessage: {session: true, handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var text flexString
			if err := decode(data, &text); err != nil {
				return err
			}
			c.ChatMessage(connID, string(text))
			return nil
		}},
		EventAssistantPrompt: {session: true, handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var req AssistantRequest
			if err := decode(data, &req); err != nil {
				return err
			}
			c.AssistantPrompt(connID, req)
			return nil
		}},
		EventCreatePoll: {session: true, handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var req PollRequest
			if err := decode(data, &req); err != nil {
				return err
			}
			c.CreatePoll(connID, req)
			return nil
		}},
		EventVotePoll: {session: true, handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var req VoteRequest
			if err := decode(data, &req); err != nil {
				return err
			}
			c.VotePoll(connID, req)
			return nil
		}},
		EventFileUpload: {session: true, handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var upload FileUpload
			if err := decode(data, &upload); err != nil {
				return err
			}
			c.UploadFile(connID, upload)
			return nil
		}},
		EventTyping: {session: true, handle: func(c *Coordinator, connID string, _ json.RawMessage) error {
			c.Typing(connID, true)
			return nil
		}},
		EventStopTyping: {session: true, handle: func(c *Coordinator, connID string, _ json.RawMessage) error {
			c.Typing(connID, false)
			return nil
		}},
		EventUpdateStatus: {session: true, handle: func(c *Coordinator, connID string, data json.RawMessage) error {
			var status flexString
			if err := decode(data, &status); err != nil {
				return err
			}
			c.UpdateStatus(connID, string(status))
			return nil
		}},
		EventDisconnect: {session: true, handle: func(c *Coordinator, connID string, _ json.RawMessage) error {
			c.Disconnect(connID)
			return nil
		}},
	}
}

var errMissingPayload = errors.New("missing payload")

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errMissingPayload
	}
	return json.Unmarshal(data, v)
}

// Handle dispatches one inbound event. Unknown events, malformed payloads
// and events without a session are dropped; a panicking handler is logged
// and does not affect other connections.
func (c *Coordinator) Handle(connID string, in Inbound) {
	defer c.recoverEvent(connID, in.Name)

	h, ok := c.handlers[in.Name]
	if !ok {
		observability.Rejections().WithLabelValues("unknown_event").Inc()
		c.logger.Debug().Str("conn_id", connID).Str("event", in.Name).Msg("ignoring unknown event")
		return
	}
	observability.Events().WithLabelValues(in.Name).Inc()

	if h.session {
		if _, ok := c.registry.Current(connID); !ok {
			c.logger.Debug().Str("conn_id", connID).Str("event", in.Name).Msg("ignoring event without session")
			return
		}
	}

	if err := h.handle(c, connID, in.Data); err != nil {
		observability.Rejections().WithLabelValues("malformed").Inc()
		c.logger.Debug().Err(err).Str("conn_id", connID).Str("event", in.Name).Msg("dropping malformed event")
	}
}

func (c *Coordinator) recoverEvent(connID, event string) {
	if r := recover(); r != nil {
		observability.HandlerPanics().Inc()
		c.logger.Error().
			Str("conn_id", connID).
			Str("event", event).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic while handling event")
	}
}

// Join binds connID to a user in the requested room, replays the room's
// history to it and announces the arrival to everyone else.
func (c *Coordinator) Join(connID string, req JoinRequest) User {
	username := sanitizeOr(string(req.Username), MaxUsernameLength, DefaultUsername)
	roomName := sanitizeOr(string(req.Room), MaxRoomLength, DefaultRoom)
	previous, rejoined := c.registry.Current(connID)

	var user User
	c.inRoom(roomName, func() {
		user = c.registry.Join(connID, username, roomName)

		c.deliver(Event{Name: EventMessageHistory, Data: c.history.Recent(user.Room, c.cfg.HistoryReplay)}, connID)

		welcome := c.assistantMessage(fmt.Sprintf("Welcome to %s, %s. You can share files, create polls, and use the assistant tools from the top action bar.", user.Room, user.Username), RoleAssistant)
		welcome.stamp(c.now())
		c.deliver(Event{Name: EventMessage, Data: welcome}, connID)

		notice := c.record(user.Room, c.assistantMessage(user.Username+" joined the room", RoleSystem))
		c.deliver(Event{Name: EventMessage, Data: notice}, c.recipients(user.Room, connID)...)

		c.sendRoomUsers(user.Room)
	})

	if rejoined && previous.Room != user.Room {
		c.inRoom(previous.Room, func() {
			c.sendRoomUsers(previous.Room)
		})
	}

	c.logger.Info().Str("conn_id", connID).Str("room", user.Room).Str("username", user.Username).Msg("user joined")
	return user
}

// ChatMessage records and broadcasts a text message. Messages starting with
// the assistant prefix also get an assistant reply.
func (c *Coordinator) ChatMessage(connID, text string) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}
	text = Sanitize(text, MaxTextLength)
	if text == "" {
		observability.Rejections().WithLabelValues("empty_message").Inc()
		return
	}

	c.inRoom(user.Room, func() {
		msg := c.record(user.Room, Message{Username: user.Username, Text: text, Type: TypeText})
		c.deliver(Event{Name: EventMessage, Data: msg}, c.recipients(user.Room)...)

		if prompt, ok := strings.CutPrefix(text, AssistantPrefix); ok {
			reply := c.assistantMessage(AssistantReply(strings.TrimSpace(prompt), DefaultMode), RoleAssistant)
			reply.Meta.ReplyTo = text
			reply = c.record(user.Room, reply)
			c.deliver(Event{Name: EventMessage, Data: reply}, c.recipients(user.Room)...)
		}
	})
}

// AssistantPrompt broadcasts the assistant's reply to an explicit prompt.
func (c *Coordinator) AssistantPrompt(connID string, req AssistantRequest) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}
	prompt := Sanitize(string(req.Prompt), MaxTextLength)
	mode := sanitizeOr(string(req.Mode), MaxModeLength, DefaultMode)
	if prompt == "" {
		observability.Rejections().WithLabelValues("empty_prompt").Inc()
		return
	}

	c.inRoom(user.Room, func() {
		reply := c.assistantMessage(AssistantReply(prompt, mode), RoleAssistant)
		reply.Meta.Mode = mode
		reply = c.record(user.Room, reply)
		c.deliver(Event{Name: EventMessage, Data: reply}, c.recipients(user.Room)...)
	})
}

// CreatePoll opens a poll in the sender's room.
func (c *Coordinator) CreatePoll(connID string, req PollRequest) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}

	c.inRoom(user.Room, func() {
		poll, err := c.polls.Create(user.Room, user.Username, string(req.Question), flexStrings(req.Options))
		if err != nil {
			observability.Rejections().WithLabelValues("invalid_poll").Inc()
			c.logger.Debug().Err(err).Str("conn_id", connID).Msg("rejecting poll")
			c.deliver(Event{Name: EventPollError, Data: "A poll needs a question and at least 2 options."}, connID)
			return
		}

		msg := c.record(user.Room, Message{
			Username: user.Username,
			Text:     "Poll: " + poll.Question,
			Type:     TypePoll,
			Poll:     poll,
		})
		c.deliver(Event{Name: EventMessage, Data: msg}, c.recipients(user.Room)...)
	})
}

// VotePoll applies the sender's vote and broadcasts the live tally. Poll
// updates are not recorded in history.
func (c *Coordinator) VotePoll(connID string, req VoteRequest) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}
	pollID := Sanitize(string(req.PollID), MaxPollIDLength)

	c.inRoom(user.Room, func() {
		index := req.OptionIndex
		var (
			poll *Poll
			err  = ErrInvalidVote
		)
		if index.Valid && index.Value >= 0 && index.Value <= math.MaxInt32 {
			poll, err = c.polls.Vote(user.Room, pollID, connID, int(index.Value))
		}
		if err != nil {
			observability.Rejections().WithLabelValues("invalid_vote").Inc()
			c.deliver(Event{Name: EventPollError, Data: "Poll vote was invalid."}, connID)
			return
		}

		update := Message{
			Room:     user.Room,
			Username: c.cfg.AssistantName,
			Text:     fmt.Sprintf("%s voted on: %s", user.Username, poll.Question),
			Type:     TypePollUpdate,
			Poll:     poll,
		}
		update.stamp(c.now())
		c.deliver(Event{Name: EventPollUpdate, Data: update}, c.recipients(user.Room)...)
	})
}

// UploadFile validates an inline file and shares it into the sender's room.
func (c *Coordinator) UploadFile(connID string, upload FileUpload) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}

	file, err := buildAttachment(c.validate, upload, c.cfg.MaxFileSize)
	if err != nil {
		reason, text := "invalid_file", "Invalid file payload."
		if errors.Is(err, ErrFileTooLarge) {
			reason = "file_too_large"
			text = fmt.Sprintf("File is too large. Max size is %dMB.", int64(math.Round(float64(c.cfg.MaxFileSize)/(1024*1024))))
		}
		observability.Rejections().WithLabelValues(reason).Inc()
		c.logger.Debug().Err(err).Str("conn_id", connID).Msg("rejecting file upload")
		c.deliver(Event{Name: EventUploadError, Data: text}, connID)
		return
	}

	c.inRoom(user.Room, func() {
		msg := c.record(user.Room, Message{
			Username: user.Username,
			Text:     fmt.Sprintf("%s shared a file: %s", user.Username, file.Name),
			Type:     TypeFile,
			File:     &file,
		})
		c.deliver(Event{Name: EventMessage, Data: msg}, c.recipients(user.Room)...)
	})
}

// Typing relays the sender's typing indicator to the rest of the room.
func (c *Coordinator) Typing(connID string, typing bool) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}
	name := EventStopTyping
	if typing {
		name = EventTyping
	}

	c.inRoom(user.Room, func() {
		c.deliver(Event{Name: name, Data: user.Username}, c.recipients(user.Room, connID)...)
	})
}

// UpdateStatus changes the sender's presence and refreshes the user list.
func (c *Coordinator) UpdateStatus(connID, status string) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}
	status = strings.ToLower(Sanitize(status, MaxModeLength))
	if err := c.validate.Var(status, "required,oneof=online away offline"); err != nil {
		observability.Rejections().WithLabelValues("invalid_status").Inc()
		return
	}

	c.inRoom(user.Room, func() {
		if _, ok := c.registry.UpdateStatus(connID, Status(status)); ok {
			c.sendRoomUsers(user.Room)
		}
	})
}

// Disconnect ends connID's session and tells the room it left.
func (c *Coordinator) Disconnect(connID string) {
	user, ok := c.registry.Current(connID)
	if !ok {
		return
	}

	left := false
	c.inRoom(user.Room, func() {
		if user, left = c.registry.Leave(connID); !left {
			return
		}
		notice := c.record(user.Room, c.assistantMessage(user.Username+" left the room", RoleSystem))
		c.deliver(Event{Name: EventMessage, Data: notice}, c.recipients(user.Room)...)
		c.sendRoomUsers(user.Room)
	})

	if left {
		c.logger.Info().Str("conn_id", connID).Str("room", user.Room).Str("username", user.Username).Msg("user left")
	}
}

// Sweep applies the history retention window and evicts rooms that lost
// their whole log and have nobody connected.
func (c *Coordinator) Sweep() []string {
	var evicted []string
	for _, name := range c.history.Sweep() {
		idle := func() bool { return c.roomIdle(name) }
		if c.rooms.evict(name, idle, func() { c.polls.DropRoom(name) }) {
			observability.EvictedRooms().Inc()
			evicted = append(evicted, name)
		}
	}
	if len(evicted) > 0 {
		c.logger.Info().Strs("rooms", evicted).Msg("evicted inactive rooms")
	}
	return evicted
}

// roomIdle reports whether name has neither connected users nor logged
// messages. Callers hold the room's lock.
func (c *Coordinator) roomIdle(name string) bool {
	return len(c.registry.UsersIn(name)) == 0 && c.history.Len(name) == 0
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Registry exposes the connection registry for diagnostics.
func (c *Coordinator) Registry() *Registry { return c.registry }

// History exposes the message history store.
func (c *Coordinator) History() *History { return c.history }

// Polls exposes the poll engine.
func (c *Coordinator) Polls() *Polls { return c.polls }

// RoomCount reports how many rooms are currently tracked.
func (c *Coordinator) RoomCount() int { return c.rooms.count() }

func (c *Coordinator) inRoom(name string, fn func()) {
	rm := c.rooms.lock(name)
	defer rm.mu.Unlock()
	fn()
}

// record appends msg to room's history and returns the stored copy.
func (c *Coordinator) record(room string, msg Message) Message {
	stored := c.history.Append(room, msg)
	observability.Messages().WithLabelValues(string(stored.Type)).Inc()
	return stored
}

func (c *Coordinator) assistantMessage(text string, role Role) Message {
	return Message{
		Username: c.cfg.AssistantName,
		Text:     text,
		Type:     TypeText,
		Meta:     &Meta{Role: role},
	}
}

// recipients lists the connections in room, minus any excluded ids.
func (c *Coordinator) recipients(room string, exclude ...string) []string {
	users := c.registry.UsersIn(room)
	ids := make([]string, 0, len(users))
	for _, user := range users {
		if !slices.Contains(exclude, user.ID) {
			ids = append(ids, user.ID)
		}
	}
	return ids
}

func (c *Coordinator) sendRoomUsers(room string) {
	users := c.registry.UsersIn(room)
	ids := make([]string, len(users))
	for i, user := range users {
		ids[i] = user.ID
	}
	c.deliver(Event{Name: EventRoomUsers, Data: RoomUsers{Room: room, Users: users}}, ids...)
}

func (c *Coordinator) deliver(ev Event, connIDs ...string) {
	if c.delivery == nil || len(connIDs) == 0 {
		return
	}
	c.delivery.Deliver(ev, connIDs...)
}
