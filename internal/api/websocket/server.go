package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/fortuna/scoreline/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the hub over websocket.
type Server struct {
	port   string
	hub    *Hub
	server *http.Server
}

// NewServer creates a websocket server for hub.
func NewServer(hub *Hub, port string) *Server {
	return &Server{hub: hub, port: port}
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the server routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/matches/live", s.handleLiveMatches)
	mux.HandleFunc("/ws/health", s.handleHealth)
	return mux
}

// Serve listens until ctx is cancelled, then closes every subscriber. It
// satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("port", s.port).Msg("websocket server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.hub.CloseAll()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("websocket server shutdown")
	}
	return ctx.Err()
}

func (s *Server) handleLiveMatches(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}
	newClient(s.hub, conn).start()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := struct {
		Status string `json:"status"`
		Health
	}{Status: "healthy", Health: s.hub.Health()}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
