// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the join form redirect, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	Uptime      float64      `json:"uptime"`
	Memory      MemoryReport `json:"memory"`
	Goroutines  int          `json:"goroutines"`
	Connections int          `json:"connections"`
	Rooms       int          `json:"rooms"`
	Version     string       `json:"version"`
}

// MemoryReport is the subset of runtime.MemStats the health check reports.
type MemoryReport struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGC"`
}

// RoomStatsResponse is the body of GET /api/rooms/{room}/stats.
type RoomStatsResponse struct {
	Room  string         `json:"room"`
	Users int            `json:"users"`
	Polls int            `json:"polls"`
	Stats chat.RoomStats `json:"stats"`
}

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and hands it to the hub, which
// starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.coordinator, r.RemoteAddr, s.cfg)
	client.hub.register <- client
}

// HealthHandler reports process uptime, memory and connection counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Seconds(),
		Memory: MemoryReport{
			Alloc:      mem.Alloc,
			TotalAlloc: mem.TotalAlloc,
			Sys:        mem.Sys,
			NumGC:      mem.NumGC,
		},
		Goroutines:  runtime.NumGoroutine(),
		Connections: s.hub.ClientCount(),
		Rooms:       s.coordinator.RoomCount(),
		Version:     Version,
	})
}

// JoinHandler validates the landing page form and redirects into the chat
// view. The room session itself starts with the joinRoom event.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/?error=invalid", http.StatusSeeOther)
		return
	}

	name := strings.TrimSpace(r.PostForm.Get("name"))
	roomCode := strings.TrimSpace(r.PostForm.Get("roomCode"))
	if name == "" || roomCode == "" {
		http.Redirect(w, r, "/?error=invalid", http.StatusSeeOther)
		return
	}

	query := url.Values{}
	query.Set("name", name)
	query.Set("room", roomCode)
	http.Redirect(w, r, "/chat.html?"+query.Encode(), http.StatusSeeOther)
}

// RoomStatsHandler reports diagnostics for a single room.
func (s *Server) RoomStatsHandler(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.PathValue("room"))
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, RoomStatsResponse{
		Room:  room,
		Users: len(s.coordinator.Registry().UsersIn(room)),
		Polls: len(s.coordinator.Polls().List(room)),
		Stats: s.coordinator.History().Stats(room),
	})
}

// IndexHandler answers liveness probes on the root path when no static
// site is configured.
func IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Room chat server is running!")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// TestPageHandler serves an HTML page that speaks the event protocol, for
// poking at a running server from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn().Err(err).Msg("error writing test page")
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Room Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            white-space: pre-wrap;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Room Chat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="username" placeholder="Name" value="Guest">
        <input type="text" id="room" placeholder="Room" value="general">
        <button id="connectButton" onclick="toggleConnection()">Join</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message, or /ai help" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="users"></div>
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const usersDiv = document.getElementById('users');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'black';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function render(message) {
            const who = message.username + ' [' + message.time + ']';
            if (message.type === 'poll' || message.type === 'poll-update') {
                const options = message.poll.options.map(o => o.index + ') ' + o.option + ': ' + o.votes).join(', ');
                addLine(who + ' ' + message.text + ' {' + message.poll.id + '} ' + options, 'purple');
                return;
            }
            const role = message.meta && message.meta.role;
            addLine(who + ': ' + message.text, role === 'system' ? 'gray' : role === 'assistant' ? 'teal' : 'green');
        }

        function handle(envelope) {
            switch (envelope.event) {
                case 'messageHistory': (envelope.data || []).forEach(render); break;
                case 'message':
                case 'pollUpdate': render(envelope.data); break;
                case 'roomUsers':
                    usersDiv.textContent = 'In ' + envelope.data.room + ': ' +
                        envelope.data.users.map(u => u.username + ' (' + u.status + ')').join(', ');
                    break;
                case 'typing': addLine(envelope.data + ' is typing...', 'gray'); break;
                case 'uploadError':
                case 'pollError': addLine(envelope.data, 'red'); break;
            }
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Leave' : 'Join';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                updateStatus(true);
                emit('joinRoom', {
                    username: document.getElementById('username').value,
                    room: document.getElementById('room').value
                });
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(line => { if (line) handle(JSON.parse(line)); });
            };
            ws.onclose = function() {
                addLine('Connection closed', 'gray');
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (!text) return;
            if (text.startsWith('/poll ')) {
                const parts = text.slice(6).split('|').map(p => p.trim());
                emit('createPoll', { question: parts[0], options: parts.slice(1) });
            } else if (text.startsWith('/vote ')) {
                const parts = text.slice(6).split(' ');
                emit('votePoll', { pollId: parts[0], optionIndex: Number(parts[1]) });
            } else {
                emit('chatMessage', text);
            }
            messageInput.value = '';
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            } else {
                emit('typing');
            }
        });
    </script>
</body>
</html>`
