// Package server defines the wire envelope exchanged with clients and
// utility helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// decodeEnvelopes parses one inbound frame. Clients may batch several
// envelopes into a frame separated by newlines.
func decodeEnvelopes(frame []byte) ([]chat.Inbound, error) {
	var events []chat.Inbound
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var in chat.Inbound
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return events, err
		}
		in.Name = strings.TrimSpace(in.Name)
		events = append(events, in)
	}
	return events, nil
}

// encodeEnvelope renders an outbound event as a single JSON line.
func encodeEnvelope(ev chat.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
