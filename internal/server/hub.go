// Package server coordinates client registration, event delivery, and
// connection cleanup for the room chat WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/observability"
)

// Hub manages all WebSocket client connections, keyed by connection id, and
// delivers encoded events to them. It implements chat.Delivery.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// ClientCount reports how many connections are registered.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Deliver encodes ev once and queues it for every listed connection. It never
// blocks: a client whose queue is full is dropped and its connection closed.
func (h *Hub) Deliver(ev chat.Event, connIDs ...string) {
	payload, err := encodeEnvelope(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Name).Msg("failed to encode event")
		return
	}

	var failed []*Client
	h.mutex.RLock()
	for _, id := range connIDs {
		client, ok := h.clients[id]
		if !ok || client.closed {
			continue
		}
		select {
		case client.send <- payload:
		default:
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range failed {
		observability.DroppedDeliveries().Inc()
		h.remove(client, "send queue full; dropping client")
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It should be called in a separate goroutine as it runs
// until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			if client != nil {
				h.add(client)
			}

		case client := <-h.unregister:
			h.remove(client, "client unregistered")
		}
	}
}

// add registers client and starts its pumps. Only the Run loop calls it, so
// no pump can start after Shutdown has begun waiting.
func (h *Hub) add(client *Client) {
	h.mutex.Lock()
	h.clients[client.id] = client
	n := len(h.clients)
	h.mutex.Unlock()
	observability.ConnectionsActive().Inc()
	client.logger.Info().Int("clients", n).Msg("client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// unregisterClient hands client back to the Run loop, or removes it directly
// once the loop has stopped.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client, "client unregistered after shutdown")
	}
}

func (h *Hub) remove(client *Client, reason string) {
	if client == nil {
		return
	}
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	observability.ConnectionsActive().Dec()
	client.logger.Info().Int("clients", clientCount).Msg(reason)
}

// closeAll closes every registered connection. The read pumps notice and
// unregister themselves.
func (h *Hub) closeAll() {
	h.mutex.RLock()
	conns := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		conns = append(conns, client)
	}
	h.mutex.RUnlock()

	for _, client := range conns {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.logger.Warn().Err(err).Msg("close on shutdown failed")
		}
	}
	h.logger.Info().Int("clients", len(conns)).Msg("connections closed for shutdown")
}

// Shutdown stops the hub, closes every connection and waits up to timeout
// for the client pumps to exit.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	pumps := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(pumps)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-pumps:
		h.logger.Info().Msg("hub stopped")
		return nil
	case <-timer.C:
		h.logger.Warn().Dur("timeout", timeout).Msg("hub stopped with client pumps still running")
		return context.DeadlineExceeded
	}
}
