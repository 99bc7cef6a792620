// Package integration exercises the room chat server end to end over real
// WebSocket connections.
package integration

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

const (
	eventTimeout = 2 * time.Second
	quietPeriod  = 200 * time.Millisecond
)

func TestJoinRoomFlow(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann := testhelpers.MustConnect(t, wsURL)
	annEvents := testhelpers.NewEventReader(ann)
	require.NoError(t, testhelpers.Send(ann, chat.EventJoinRoom, map[string]string{"username": "Ann", "room": "general"}))

	history, err := annEvents.Next(eventTimeout)
	require.NoError(t, err)
	require.Equal(t, chat.EventMessageHistory, history.Event)
	assert.JSONEq(t, `[]`, string(history.Data))

	welcome, err := annEvents.Next(eventTimeout)
	require.NoError(t, err)
	require.Equal(t, chat.EventMessage, welcome.Event)
	welcomeMsg := welcome.Message(t)
	assert.Contains(t, welcomeMsg.Text, "Welcome to general, Ann.")
	require.NotNil(t, welcomeMsg.Meta)
	assert.Equal(t, chat.RoleAssistant, welcomeMsg.Meta.Role)

	roster, err := annEvents.Next(eventTimeout)
	require.NoError(t, err)
	require.Equal(t, chat.EventRoomUsers, roster.Event)
	users := roster.RoomUsers(t)
	assert.Equal(t, "general", users.Room)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "Ann", users.Users[0].Username)

	bob := testhelpers.MustConnect(t, wsURL)
	bobEvents := testhelpers.NewEventReader(bob)
	require.NoError(t, testhelpers.Send(bob, chat.EventJoinRoom, map[string]string{"username": "Bob", "room": "general"}))

	bobHistory := bobEvents.WaitFor(t, chat.EventMessageHistory, eventTimeout)
	var replay []chat.Message
	require.NoError(t, json.Unmarshal(bobHistory.Data, &replay))
	require.Len(t, replay, 1)
	assert.Equal(t, "Ann joined the room", replay[0].Text)

	bobRoster := bobEvents.WaitFor(t, chat.EventRoomUsers, eventTimeout).RoomUsers(t)
	require.Len(t, bobRoster.Users, 2)
	assert.Equal(t, "Ann", bobRoster.Users[0].Username)
	assert.Equal(t, "Bob", bobRoster.Users[1].Username)

	joined := annEvents.WaitFor(t, chat.EventMessage, eventTimeout).Message(t)
	assert.Equal(t, "Bob joined the room", joined.Text)
	require.NotNil(t, joined.Meta)
	assert.Equal(t, chat.RoleSystem, joined.Meta.Role)
	annRoster := annEvents.WaitFor(t, chat.EventRoomUsers, eventTimeout).RoomUsers(t)
	assert.Len(t, annRoster.Users, 2)

	for _, env := range annEvents.Collect(quietPeriod) {
		if env.Event == chat.EventMessage {
			assert.NotEqual(t, "Ann joined the room", env.Message(t).Text)
		}
	}
}

func TestChatMessageRoundTrip(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")
	_, bobEvents := testhelpers.Join(t, wsURL, "Bob", "general")

	require.NoError(t, testhelpers.Send(ann, chat.EventChatMessage, "  hello room  "))

	for _, reader := range []*testhelpers.EventReader{annEvents, bobEvents} {
		msg := reader.WaitForMessage(t, "hello room", eventTimeout)
		assert.Equal(t, "Ann", msg.Username)
		assert.Equal(t, chat.TypeText, msg.Type)
		assert.NotEmpty(t, msg.ID)
		assert.NotEmpty(t, msg.Time)
		assert.Positive(t, msg.Timestamp)
	}
}

func TestBatchedFrameKeepsOrder(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, _ := testhelpers.Join(t, wsURL, "Ann", "general")
	_, bobEvents := testhelpers.Join(t, wsURL, "Bob", "general")

	frame := `{"event":"chatMessage","data":"one"}` + "\n" + `{"event":"chatMessage","data":"two"}`
	require.NoError(t, testhelpers.SendRawMessage(ann, websocket.TextMessage, []byte(frame)))

	assert.Equal(t, "one", bobEvents.WaitFor(t, chat.EventMessage, eventTimeout).Message(t).Text)
	assert.Equal(t, "two", bobEvents.WaitFor(t, chat.EventMessage, eventTimeout).Message(t).Text)
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")

	frames := []string{
		"not json at all",
		`{"event":"launchRockets","data":1}`,
		`{"event":"createPoll","data":"nope"}`,
		`{"event":"chatMessage","data":{"text":"hi"}}`,
		`{"event":"disconnect"}`,
	}
	for _, frame := range frames {
		require.NoError(t, testhelpers.SendRawMessage(ann, websocket.TextMessage, []byte(frame)))
	}
	require.NoError(t, testhelpers.Send(ann, chat.EventChatMessage, "still alive"))

	msg := annEvents.WaitFor(t, chat.EventMessage, eventTimeout).Message(t)
	assert.Equal(t, "still alive", msg.Text)
}

func TestAssistantCommand(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")
	require.NoError(t, testhelpers.Send(ann, chat.EventChatMessage, "/ai give me a plan"))

	annEvents.WaitForMessage(t, "/ai give me a plan", eventTimeout)
	reply := annEvents.WaitFor(t, chat.EventMessage, eventTimeout).Message(t)
	assert.Equal(t, chat.DefaultAssistantName, reply.Username)
	assert.Contains(t, reply.Text, "Suggested plan")
	require.NotNil(t, reply.Meta)
	assert.Equal(t, "/ai give me a plan", reply.Meta.ReplyTo)

	require.NoError(t, testhelpers.Send(ann, chat.EventAssistantPrompt, map[string]string{"prompt": "help", "mode": "concise"}))
	prompted := annEvents.WaitFor(t, chat.EventMessage, eventTimeout).Message(t)
	assert.Contains(t, prompted.Text, "(mode: concise)")
	assert.Equal(t, "concise", prompted.Meta.Mode)
}

func TestPollLifecycle(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")
	bob, bobEvents := testhelpers.Join(t, wsURL, "Bob", "general")

	require.NoError(t, testhelpers.Send(ann, chat.EventCreatePoll, map[string]any{"question": "Lunch?", "options": []string{"Pizza", "Salad"}}))
	created := bobEvents.WaitForMessage(t, "Poll: Lunch?", eventTimeout)
	require.Equal(t, chat.TypePoll, created.Type)
	require.NotNil(t, created.Poll)
	require.Len(t, created.Poll.Options, 2)

	require.NoError(t, testhelpers.Send(bob, chat.EventVotePoll, map[string]any{"pollId": created.Poll.ID, "optionIndex": 1}))
	update := annEvents.WaitFor(t, chat.EventPollUpdate, eventTimeout).Message(t)
	assert.Equal(t, chat.TypePollUpdate, update.Type)
	assert.Equal(t, "Bob voted on: Lunch?", update.Text)
	assert.Equal(t, 0, update.Poll.Options[0].Votes)
	assert.Equal(t, 1, update.Poll.Options[1].Votes)

	require.NoError(t, testhelpers.Send(bob, chat.EventVotePoll, map[string]any{"pollId": created.Poll.ID, "optionIndex": 0}))
	update = annEvents.WaitFor(t, chat.EventPollUpdate, eventTimeout).Message(t)
	assert.Equal(t, 1, update.Poll.Options[0].Votes)
	assert.Equal(t, 0, update.Poll.Options[1].Votes)
	assert.Equal(t, 1, update.Poll.TotalVotes)

	require.NoError(t, testhelpers.Send(bob, chat.EventVotePoll, map[string]any{"pollId": created.Poll.ID, "optionIndex": 9}))
	assert.Equal(t, "Poll vote was invalid.", bobEvents.WaitFor(t, chat.EventPollError, eventTimeout).Text(t))

	require.NoError(t, testhelpers.Send(ann, chat.EventCreatePoll, map[string]any{"question": "Lonely?", "options": []string{"yes"}}))
	assert.Equal(t, "A poll needs a question and at least 2 options.", annEvents.WaitFor(t, chat.EventPollError, eventTimeout).Text(t))
	bobEvents.ExpectNone(t, chat.EventPollError, quietPeriod)
}

func TestFileUpload(t *testing.T) {
	srv, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")
	_, bobEvents := testhelpers.Join(t, wsURL, "Bob", "general")
	before := srv.Coordinator().History().Len("general")

	require.NoError(t, testhelpers.Send(ann, chat.EventFileUpload, map[string]any{
		"name": "huge.bin",
		"type": "application/octet-stream",
		"size": 6 * 1024 * 1024,
		"data": "data:application/octet-stream;base64,AAAAAAAAAAAAAAAAAAAAAAAA",
	}))
	assert.Equal(t, "File is too large. Max size is 5MB.", annEvents.WaitFor(t, chat.EventUploadError, eventTimeout).Text(t))
	bobEvents.ExpectNone(t, chat.EventMessage, quietPeriod)
	assert.Equal(t, before, srv.Coordinator().History().Len("general"))

	require.NoError(t, testhelpers.Send(ann, chat.EventFileUpload, map[string]any{
		"name": "hello.txt",
		"type": "text/plain",
		"size": 11,
		"data": "data:text/plain;base64,aGVsbG8gd29ybGQ=",
	}))
	shared := bobEvents.WaitForMessage(t, "Ann shared a file: hello.txt", eventTimeout)
	require.NotNil(t, shared.File)
	assert.Equal(t, int64(11), shared.File.Size)
	assert.Equal(t, "text/plain", shared.File.Type)
}

func TestTypingIndicator(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")
	_, bobEvents := testhelpers.Join(t, wsURL, "Bob", "general")

	require.NoError(t, testhelpers.Send(ann, chat.EventTyping, nil))
	assert.Equal(t, "Ann", bobEvents.WaitFor(t, chat.EventTyping, eventTimeout).Text(t))
	require.NoError(t, testhelpers.Send(ann, chat.EventStopTyping, nil))
	assert.Equal(t, "Ann", bobEvents.WaitFor(t, chat.EventStopTyping, eventTimeout).Text(t))

	annEvents.ExpectNone(t, chat.EventTyping, quietPeriod)
}

func TestUpdateStatus(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, nil)
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, _ := testhelpers.Join(t, wsURL, "Ann", "general")
	_, bobEvents := testhelpers.Join(t, wsURL, "Bob", "general")

	require.NoError(t, testhelpers.Send(ann, chat.EventUpdateStatus, "away"))
	roster := bobEvents.WaitFor(t, chat.EventRoomUsers, eventTimeout).RoomUsers(t)
	require.Len(t, roster.Users, 2)
	assert.Equal(t, chat.StatusAway, roster.Users[0].Status)
	assert.Equal(t, chat.StatusOnline, roster.Users[1].Status)
}

func TestHistoryReplayIsBounded(t *testing.T) {
	_, testServer := testhelpers.StartServer(t, func(cfg *server.Config) {
		cfg.History.Replay = 5
		cfg.RateLimit.Burst = 100
	})
	wsURL := testhelpers.WebSocketURL(testServer.URL)

	ann, annEvents := testhelpers.Join(t, wsURL, "Ann", "general")
	for i := 0; i < 10; i++ {
		require.NoError(t, testhelpers.Send(ann, chat.EventChatMessage, fmt.Sprintf("msg-%d", i)))
	}
	annEvents.WaitForMessage(t, "msg-9", eventTimeout)

	bob := testhelpers.MustConnect(t, wsURL)
	bobEvents := testhelpers.NewEventReader(bob)
	require.NoError(t, testhelpers.Send(bob, chat.EventJoinRoom, map[string]string{"username": "Bob", "room": "general"}))

	var replay []chat.Message
	require.NoError(t, json.Unmarshal(bobEvents.WaitFor(t, chat.EventMessageHistory, eventTimeout).Data, &replay))
	require.Len(t, replay, 5)
	assert.Equal(t, "msg-5", replay[0].Text)
	assert.Equal(t, "msg-9", replay[4].Text)
}
