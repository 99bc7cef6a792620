package chat

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discardDelivery struct{}

func (discardDelivery) Deliver(Event, ...string) {}

func TestRoomIdleRequiresEmptyLog(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	c := NewCoordinator(DefaultConfig(), discardDelivery{}, nil, zerolog.New(io.Discard),
		WithClock(func() time.Time { return now }))

	c.Join("ann", JoinRequest{Username: flexString("Ann"), Room: flexString("late")})
	c.CreatePoll("ann", PollRequest{Question: flexString("Q"), Options: []flexString{"a", "b"}})
	c.Disconnect("ann")

	require.Empty(t, c.Registry().UsersIn("late"))
	require.NotZero(t, c.History().Len("late"))
	assert.False(t, c.roomIdle("late"), "a room with logged messages is not idle")

	evicted := c.rooms.evict("late", func() bool { return c.roomIdle("late") }, func() { c.polls.DropRoom("late") })
	assert.False(t, evicted)
	assert.Len(t, c.Polls().List("late"), 1)
	assert.Equal(t, 1, c.RoomCount())
}
