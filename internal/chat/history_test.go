package chat_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
)

func textMessage(text string) chat.Message {
	return chat.Message{Username: "Ann", Text: text, Type: chat.TypeText}
}

func TestHistoryAppendStampsMessage(t *testing.T) {
	clk := newClock()
	h := chat.NewHistory(chat.WithHistoryClock(clk.Now))

	stored := h.Append("lobby", textMessage("hello"))
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "lobby", stored.Room)
	assert.Equal(t, clk.Now(), stored.CreatedAt)
	assert.Equal(t, clk.Now().UnixMilli(), stored.Timestamp)
	assert.Equal(t, "9:30 am", stored.Time)
}

func TestHistoryCapKeepsNewest(t *testing.T) {
	h := chat.NewHistory()
	for i := 0; i < chat.DefaultHistoryLimit+500; i++ {
		h.Append("lobby", textMessage(fmt.Sprintf("msg-%d", i)))
	}

	require.Equal(t, chat.DefaultHistoryLimit, h.Len("lobby"))
	all := h.Recent("lobby", chat.DefaultHistoryLimit)
	require.Len(t, all, chat.DefaultHistoryLimit)
	assert.Equal(t, "msg-500", all[0].Text)
	assert.Equal(t, fmt.Sprintf("msg-%d", chat.DefaultHistoryLimit+499), all[len(all)-1].Text)
}

func TestHistoryRecent(t *testing.T) {
	h := chat.NewHistory(chat.WithHistoryLimit(10))
	for i := 0; i < 5; i++ {
		h.Append("lobby", textMessage(fmt.Sprintf("msg-%d", i)))
	}

	recent := h.Recent("lobby", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg-3", recent[0].Text)
	assert.Equal(t, "msg-4", recent[1].Text)

	assert.Len(t, h.Recent("lobby", 0), 5)
	missing := h.Recent("nowhere", 10)
	assert.NotNil(t, missing)
	assert.Empty(t, missing)
}

func TestHistorySinceIsStrict(t *testing.T) {
	clk := newClock()
	h := chat.NewHistory(chat.WithHistoryClock(clk.Now))

	h.Append("lobby", textMessage("first"))
	mark := clk.Now()
	h.Append("lobby", textMessage("same instant"))
	clk.Advance(time.Second)
	h.Append("lobby", textMessage("later"))

	since := h.Since("lobby", mark)
	require.Len(t, since, 1)
	assert.Equal(t, "later", since[0].Text)
	assert.Empty(t, h.Since("nowhere", mark))
}

func TestHistorySweep(t *testing.T) {
	clk := newClock()
	h := chat.NewHistory(chat.WithHistoryClock(clk.Now), chat.WithRetention(time.Hour))

	h.Append("stale", textMessage("old"))
	h.Append("mixed", textMessage("old"))
	clk.Advance(50 * time.Minute)
	h.Append("mixed", textMessage("fresh"))
	clk.Advance(20 * time.Minute)

	deleted := h.Sweep()
	assert.Equal(t, []string{"stale"}, deleted)
	assert.Equal(t, []string{"mixed"}, h.Rooms())

	kept := h.Recent("mixed", 0)
	require.Len(t, kept, 1)
	assert.Equal(t, "fresh", kept[0].Text)

	clk.Advance(time.Hour)
	assert.Equal(t, []string{"mixed"}, h.Sweep())
	assert.Empty(t, h.Rooms())
	assert.Empty(t, h.Sweep())
}

func TestHistoryStats(t *testing.T) {
	clk := newClock()
	h := chat.NewHistory(chat.WithHistoryClock(clk.Now), chat.WithRetention(time.Hour))

	assert.Equal(t, chat.RoomStats{}, h.Stats("lobby"))

	h.Append("lobby", textMessage("one"))
	h.Append("lobby", textMessage("two"))
	stats := h.Stats("lobby")
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, "2026-03-14 09:30:00", stats.LastActivity)
	assert.True(t, stats.IsActive)

	clk.Advance(2 * time.Hour)
	assert.False(t, h.Stats("lobby").IsActive)
}

func TestHistoryConcurrentAppendAndSweep(t *testing.T) {
	h := chat.NewHistory(chat.WithHistoryLimit(100))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			room := fmt.Sprintf("room-%d", w%2)
			for i := 0; i < 200; i++ {
				h.Append(room, textMessage(fmt.Sprintf("%d-%d", w, i)))
				if i%50 == 0 {
					h.Sweep()
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 100, h.Len("room-0"))
	assert.Equal(t, 100, h.Len("room-1"))
}
