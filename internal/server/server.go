package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Server accepts WebSocket connections and feeds each inbound frame through
// the dispatcher. Responses are delivered on the same connection the request
// arrived on; a client that disconnects mid-flight simply has its pending
// responses discarded.
type Server struct {
	addr       string
	dispatcher *Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a query server listening on host:port.
func NewServer(host string, port int, dispatcher *Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		dispatcher: dispatcher,
		logger:     logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The archive is read-only over this endpoint; origin
			// checking is left to the deployment's reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails. Shutdown is graceful within shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket(ctx))

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Query server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down query server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Query server shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("query server failed: %w", err)
	}
}

// handleWebSocket upgrades the connection and runs its read loop. Each
// request is handled on its own goroutine so a slow query does not stall
// the connection; a per-connection mutex serializes writes.
func (s *Server) handleWebSocket(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		connID := uuid.NewString()
		log := s.logger.With("conn_id", connID, "remote", r.RemoteAddr)
		log.Info("Client connected")

		var (
			writeMu sync.Mutex
			wg      sync.WaitGroup
		)

		// Close the connection when the server shuts down so the read
		// loop unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
					log.Warn("Connection read error", "error", err)
				}
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}

			wg.Add(1)
			go func(frame []byte) {
				defer wg.Done()
				resp := s.dispatcher.HandleData(ctx, frame)

				writeMu.Lock()
				writeErr := conn.WriteMessage(websocket.TextMessage, resp)
				writeMu.Unlock()

				if writeErr != nil {
					// Client went away; the response is discarded.
					log.Debug("Dropping response for closed connection", "error", writeErr)
				}
			}(data)
		}

		close(done)
		wg.Wait()
		_ = conn.Close()
		log.Info("Client disconnected")
	}
}
