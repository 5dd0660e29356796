package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"selfLearningBot/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusFunc supplies the controller snapshot served at /status and pushed
// over the websocket hub.
type StatusFunc func(ctx context.Context) interface{}

// Config holds HTTP server parameters.
type Config struct {
	Addr   string
	Status StatusFunc
	Logger ports.Logger
}

// Server exposes the operational surface: /healthz, /status, /metrics and a
// /ws push hub that broadcasts controller snapshots to connected dashboards.
type Server struct {
	cfg  Config
	http *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewServer creates the HTTP server with its routes registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for web server")
	}
	if cfg.Status == nil {
		return nil, fmt.Errorf("status provider is required for web server")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		cfg:     cfg,
		clients: make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start serves in a background goroutine until Shutdown.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.cfg.Logger.Info(ctx, "web server listening", map[string]interface{}{
			"addr": s.cfg.Addr,
		})
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Error(ctx, err, "web server failed")
		}
	}()
}

// Shutdown drains the HTTP server and drops all websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.mu.Unlock()

	return s.http.Shutdown(ctx)
}

// Broadcast pushes a JSON-encoded snapshot to every connected client.
// Clients that fail a write are dropped.
func (s *Server) Broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.cfg.Logger.Error(context.Background(), err, "broadcast encode failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}

// ClientCount reports the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Status(r.Context())); err != nil {
		s.cfg.Logger.Error(r.Context(), err, "status encode failed")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Error(r.Context(), err, "websocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.cfg.Logger.Debug(r.Context(), "dashboard client connected", map[string]interface{}{
		"remote": conn.RemoteAddr().String(),
	})
}
