// Package server wires HTTP handlers into a ServeMux for the room chat
// application via routing helpers.
package server

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tyrowin/roomchat/internal/observability"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// Static assets are served from Config.StaticDir when that directory exists.
func (s *Server) SetupRoutes() *http.ServeMux {
	observability.RegisterMetrics()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/join", s.JoinHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	mux.HandleFunc("GET /api/rooms/{room}/stats", s.RoomStatsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	if dir := s.cfg.StaticDir; dir != "" && isDir(dir) {
		mux.Handle("/", http.FileServer(http.Dir(dir)))
	} else {
		mux.HandleFunc("/", IndexHandler)
	}
	return mux
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
