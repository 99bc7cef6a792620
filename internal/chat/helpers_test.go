package chat_test

import (
	"encoding/json"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

type delivery struct {
	Event chat.Event
	To    []string
}

// recorder is a chat.Delivery that keeps everything it was asked to send.
type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) Deliver(ev chat.Event, connIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{Event: ev, To: slices.Clone(connIDs)})
}

// received returns the events connID was addressed by, in delivery order.
func (r *recorder) received(connID string) []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []chat.Event
	for _, d := range r.deliveries {
		if slices.Contains(d.To, connID) {
			events = append(events, d.Event)
		}
	}
	return events
}

func (r *recorder) named(connID, name string) []chat.Event {
	var events []chat.Event
	for _, ev := range r.received(connID) {
		if ev.Name == name {
			events = append(events, ev)
		}
	}
	return events
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCoordinator(t *testing.T, opts ...chat.Option) (*chat.Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := chat.NewCoordinator(chat.DefaultConfig(), rec, nil, zerolog.New(io.Discard), opts...)
	return c, rec
}

func inbound(t *testing.T, name string, data any) chat.Inbound {
	t.Helper()
	if data == nil {
		return chat.Inbound{Name: name}
	}
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return chat.Inbound{Name: name, Data: raw}
}

func join(t *testing.T, c *chat.Coordinator, connID, username, room string) {
	t.Helper()
	c.Handle(connID, inbound(t, chat.EventJoinRoom, map[string]string{"username": username, "room": room}))
}

func messageOf(t *testing.T, ev chat.Event) chat.Message {
	t.Helper()
	msg, ok := ev.Data.(chat.Message)
	require.Truef(t, ok, "event %q carries %T, not a message", ev.Name, ev.Data)
	return msg
}

func texts(t *testing.T, events []chat.Event) []string {
	t.Helper()
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, messageOf(t, ev).Text)
	}
	return out
}
