// Package server implements the HTTP and WebSocket surface of the room chat
// service.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers. Room semantics live in
// internal/chat; this package only moves events between sockets and the
// chat.Coordinator.
package server
