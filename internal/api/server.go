package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sumirjha/hdmirx/internal/core"
)

// Kicker destroys viewer connections by name or ID.
type Kicker interface {
	Kick(ctx context.Context, nameOrID string) (bool, error)
}

// Options configures the API server.
type Options struct {
	Listen string
	Status core.StatusProvider
	Kicker Kicker
	// WebSocketPath mounts WebSocket when both are set
	WebSocketPath string
	WebSocket     http.Handler
}

// Server represents the status API server
type Server struct {
	opts    Options
	router  *gin.Engine
	srv     *http.Server
	addr    net.Addr
	started time.Time
	done    chan struct{}
}

// NewServer creates a new API server instance with its routes registered.
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		opts:    opts,
		router:  router,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.livenessHandler)
	s.router.GET("/readiness", s.readinessHandler)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.statusHandler)
		v1.GET("/connections", s.connectionsHandler)
		v1.DELETE("/connections/:name", s.kickHandler)
	}

	if s.opts.WebSocketPath != "" && s.opts.WebSocket != nil {
		s.router.GET(s.opts.WebSocketPath, gin.WrapH(s.opts.WebSocket))
	}
}

// Handler returns the router (for testing)
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr { return s.addr }

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.opts.Listen, err)
	}
	s.addr = ln.Addr()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("api: server started",
		"addr", ln.Addr().String(),
		"websocket", s.opts.WebSocketPath,
	)

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api: server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully within ctx. WebSocket viewers are
// hijacked connections and are closed by their source, not here.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	slog.Info("api: server stopped")
	return err
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"uptime": int64(time.Since(s.started).Seconds()),
	})
}

// readinessHandler reports 200 only while units are flowing.
func (s *Server) readinessHandler(c *gin.Context) {
	st := s.opts.Status.Status()
	code := http.StatusOK
	if !st.Ready(time.Now()) {
		code = http.StatusServiceUnavailable
	}
	resp := gin.H{"ready": code == http.StatusOK}
	if st != nil {
		resp["state"] = st.State
		resp["last_unit_at"] = st.LastUnitAt
		resp["connections"] = st.Fanout.Connections
	}
	c.JSON(code, resp)
}

func (s *Server) statusHandler(c *gin.Context) {
	st := s.opts.Status.Status()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no status yet"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) connectionsHandler(c *gin.Context) {
	st := s.opts.Status.Status()
	if st == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, st.Fanout.PerConnection)
}

func (s *Server) kickHandler(c *gin.Context) {
	if s.opts.Kicker == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "kick not available"})
		return
	}
	name := c.Param("name")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	ok, err := s.opts.Kicker.Kick(ctx, name)
	switch {
	case errors.Is(err, core.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case !ok:
		c.JSON(http.StatusNotFound, gin.H{"error": "no such connection", "name": name})
	default:
		slog.Info("api: connection kicked", "name", name)
		c.JSON(http.StatusOK, gin.H{"kicked": name})
	}
}
