// Package ws serves the moderator console over WebSocket. Each connection
// gets its own read goroutine; the console sees few, long lived connections.
// Moderator identity comes from a header set by the authenticating gateway in
// front of the server.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
	"github.com/whisper/modguard/internal/ratelimit"
)

// ModeratorHeader carries the authenticated moderator id.
const ModeratorHeader = "X-Moderator-ID"

// ServerConfig holds tunable parameters for the console server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	MaxMessageSize int64         // largest accepted client frame in bytes
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 1000,
		MaxMessageSize: 64 << 10,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests on /ws to console connections and feeds
// their text frames to the message callback. It also serves /health and
// /metrics.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	limiter      ratelimit.Allower
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(conn *Connection, remaining int)
	httpServer   *http.Server
	logger       *zap.Logger
	wg           sync.WaitGroup
	mu           sync.Mutex // guards closed and wg.Add against Shutdown
	closed       bool
	done         chan struct{}
	closeOnce    sync.Once
	startedAt    time.Time
}

// NewServer creates a Server. limiter may be nil to disable connection rate
// limiting. onMessage is called from the connection's read goroutine for
// every complete text message.
func NewServer(config ServerConfig, limiter ratelimit.Allower, onMessage func(conn *Connection, data []byte), logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		limiter:   limiter,
		onMessage: onMessage,
		logger:    logger.Named("ws"),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP handler serving /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Run starts the heartbeat and serves HTTP until ctx is done, then shuts the
// server down.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	startHeartbeat(s, s.config.Heartbeat)

	s.logger.Info("console listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("max_conns", s.config.MaxConnections))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		_ = s.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ws: http server error: %w", err)
	}
}

// handleUpgrade authenticates, rate limits and upgrades a console request.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	moderatorID := r.Header.Get(ModeratorHeader)
	if moderatorID == "" {
		http.Error(w, "missing moderator identity", http.StatusUnauthorized)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), moderatorID, ratelimit.RuleConsoleConnect)
		if err != nil {
			s.logger.Warn("connect rate limit check failed", zap.Error(err))
		}
		if !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	c := newConnection(uuid.NewString(), moderatorID, conn)
	s.conns.Add(c)
	metrics.ConsoleConnections.Inc()

	s.logger.Info("console connected",
		zap.String("conn", c.ID),
		zap.String("moderator", moderatorID),
		zap.Int("total", s.conns.Count()))

	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// readLoop reads frames until the connection fails or closes. Control
// frames are answered under the write mutex so they never interleave with
// application writes.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	handleControl := func(h ws.Header, r io.Reader) error {
		c.Touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return wsutil.ControlHandler{
			Src:                 r,
			Dst:                 c.Conn,
			State:               ws.StateServerSide,
			DisableSrcCiphering: true,
		}.Handle(h)
	}

	rd := &wsutil.Reader{
		Source:         c.Conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   s.config.MaxMessageSize,
		OnIntermediate: handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		c.Touch()

		if hdr.OpCode.IsControl() {
			if err := handleControl(hdr, rd); err != nil {
				return
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return
		}
		if len(data) > 0 && s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// handleHealth responds with the server's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// SetOnDisconnect registers a callback invoked once per removed connection
// with the number of connections its moderator still has open.
func (s *Server) SetOnDisconnect(fn func(conn *Connection, remaining int)) {
	s.onDisconnect = fn
}

// RemoveConnection closes and forgets a connection. Concurrent removals of
// the same connection run the disconnect callback once.
func (s *Server) RemoveConnection(c *Connection) {
	remaining, ok := s.conns.Remove(c.ID)
	if !ok {
		return
	}
	metrics.ConsoleConnections.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c, remaining)
	}

	s.logger.Info("console disconnected",
		zap.String("conn", c.ID),
		zap.String("moderator", c.ModeratorID),
		zap.Int("total", s.conns.Count()))
}

// SendMessage writes a text frame to one connection.
func (s *Server) SendMessage(c *Connection, data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.WriteMessage(data)
}

// SendToModerator writes a text frame to every connection of a moderator
// and returns how many received it.
func (s *Server) SendToModerator(moderatorID string, data []byte) int {
	n := 0
	for _, c := range s.conns.ForModerator(moderatorID) {
		if err := s.SendMessage(c, data); err != nil {
			s.logger.Debug("send failed", zap.String("conn", c.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Done is closed when the server shuts down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown stops the HTTP listener, closes every connection and waits for
// the read goroutines and heartbeat to exit.
func (s *Server) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err = s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Warn("http shutdown", zap.Error(err))
			}
		}

		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		s.wg.Wait()
		s.logger.Info("console stopped")
	})
	return err
}
