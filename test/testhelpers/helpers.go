// Package testhelpers provides common utilities for the room chat integration
// tests: starting a server behind httptest, dialing it, and reading the
// newline-delimited event envelopes it writes.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/server"
)

// TestOrigin is the Origin header every helper dial presents.
const TestOrigin = "http://localhost:8080"

// StartServer runs a fully wired server behind httptest. configure may
// adjust the defaults before the server is built. Everything is torn down
// when the test ends.
func StartServer(t *testing.T, configure func(*server.Config)) (*server.Server, *httptest.Server) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.StaticDir = ""
	if configure != nil {
		configure(cfg)
	}

	srv := server.New(cfg, zerolog.Nop())
	srv.Start()
	testServer := httptest.NewServer(srv.SetupRoutes())

	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		testServer.Close()
	})
	return srv, testServer
}

// WebSocketURL converts an httptest URL into the /ws endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with the test origin.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	conn, resp, err := ConnectWithOrigin(url, TestOrigin)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ConnectWithOrigin dials url presenting origin, which may be empty.
func ConnectWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(url, headers)
}

// MustConnect dials url and closes the connection when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes a single event envelope.
func Send(conn *websocket.Conn, event string, data any) error {
	return conn.WriteJSON(map[string]any{"event": event, "data": data})
}

// SendRawMessage sends a raw frame over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Envelope is one outbound event as read off the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Message decodes the envelope's payload as a chat message.
func (e Envelope) Message(t *testing.T) chat.Message {
	t.Helper()
	var msg chat.Message
	require.NoError(t, json.Unmarshal(e.Data, &msg), "event %s", e.Event)
	return msg
}

// Text decodes the envelope's payload as a plain string.
func (e Envelope) Text(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(e.Data, &s), "event %s", e.Event)
	return s
}

// RoomUsers decodes the envelope's payload as a room roster.
func (e Envelope) RoomUsers(t *testing.T) chat.RoomUsers {
	t.Helper()
	var roster chat.RoomUsers
	require.NoError(t, json.Unmarshal(e.Data, &roster), "event %s", e.Event)
	return roster
}

// EventReader splits frames into envelopes and buffers the ones not yet
// consumed.
type EventReader struct {
	conn    *websocket.Conn
	pending []Envelope
}

// NewEventReader wraps conn.
func NewEventReader(conn *websocket.Conn) *EventReader {
	return &EventReader{conn: conn}
}

// Next returns the next envelope, waiting at most timeout for a frame.
func (r *EventReader) Next(timeout time.Duration) (Envelope, error) {
	for len(r.pending) == 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Envelope{}, err
		}
		_, frame, err := r.conn.ReadMessage()
		if err != nil {
			return Envelope{}, err
		}
		for _, line := range strings.Split(string(frame), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(line), &env); err != nil {
				return Envelope{}, err
			}
			r.pending = append(r.pending, env)
		}
	}

	env := r.pending[0]
	r.pending = r.pending[1:]
	return env, nil
}

// WaitFor skips envelopes until one named event arrives.
func (r *EventReader) WaitFor(t *testing.T, event string, timeout time.Duration) Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		require.True(t, remaining > 0, "timed out waiting for %s", event)
		env, err := r.Next(remaining)
		require.NoError(t, err, "waiting for %s", event)
		if env.Event == event {
			return env
		}
	}
}

// WaitForMessage skips envelopes until a message with text arrives.
func (r *EventReader) WaitForMessage(t *testing.T, text string, timeout time.Duration) chat.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		env := r.WaitFor(t, chat.EventMessage, time.Until(deadline))
		if msg := env.Message(t); msg.Text == text {
			return msg
		}
	}
}

// Collect reads envelopes until none arrives for quiet.
func (r *EventReader) Collect(quiet time.Duration) []Envelope {
	var envelopes []Envelope
	for {
		env, err := r.Next(quiet)
		if err != nil {
			return envelopes
		}
		envelopes = append(envelopes, env)
	}
}

// ExpectNone fails if event arrives within d. Any other envelopes read in
// the meantime are discarded.
func (r *EventReader) ExpectNone(t *testing.T, event string, d time.Duration) {
	t.Helper()
	for _, env := range r.Collect(d) {
		require.NotEqual(t, event, env.Event, "unexpected %s: %s", env.Event, env.Data)
	}
}

// IsTimeout reports whether err came from an expired read deadline.
func IsTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Join dials the server, joins room as username and consumes the join
// burst up to the roster that includes the new user.
func Join(t *testing.T, wsURL, username, room string) (*websocket.Conn, *EventReader) {
	t.Helper()
	conn := MustConnect(t, wsURL)
	reader := NewEventReader(conn)
	require.NoError(t, Send(conn, chat.EventJoinRoom, map[string]string{"username": username, "room": room}))

	reader.WaitFor(t, chat.EventMessageHistory, 2*time.Second)
	reader.WaitFor(t, chat.EventRoomUsers, 2*time.Second)
	return conn, reader
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and does not follow redirects.
func MakeRequest(t *testing.T, method, url string, body *strings.Reader) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequest(method, url, http.NoBody)
	} else {
		req, err = http.NewRequest(method, url, body)
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	require.NoError(t, err, "failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "failed to make request")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
