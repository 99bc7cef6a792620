// Package server assembles the room chat service: the session core, the hub
// that delivers its events, and the HTTP surface in front of them.
package server

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server owns the hub and the coordinator for one process.
type Server struct {
	cfg         *Config
	hub         *Hub
	coordinator *chat.Coordinator
	origins     *originPolicy
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
	started     time.Time
}

// New wires a Server from cfg. Call Start before serving requests.
func New(cfg *Config, logger zerolog.Logger, opts ...chat.Option) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}

	hub := NewHub(logger)
	validate := validator.New(validator.WithRequiredStructEnabled())
	coordinator := chat.NewCoordinator(cfg.ChatConfig(), hub, validate, logger, opts...)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger.With().Str("component", "origin").Logger())

	return &Server{
		cfg:         cfg,
		hub:         hub,
		coordinator: coordinator,
		origins:     origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger:  logger.With().Str("component", "server").Logger(),
		started: time.Now(),
	}
}

// Start launches the hub loop. It must run before the first WebSocket upgrade.
func (s *Server) Start() {
	go s.hub.Run()
	s.logger.Info().Msg("hub started and ready to manage WebSocket connections")
}

// RunSweeper applies history retention until ctx is cancelled.
func (s *Server) RunSweeper(ctx context.Context) error {
	return s.coordinator.RunSweeper(ctx, s.cfg.History.SweepInterval)
}

// Hub returns the connection hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Coordinator returns the session core.
func (s *Server) Coordinator() *chat.Coordinator {
	return s.coordinator
}

// Config returns the active configuration.
func (s *Server) Config() *Config {
	return s.cfg
}
