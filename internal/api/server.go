// Package api provides the read-only diagnostics HTTP server described in
// SPEC_FULL.md §4.8: health, resource/resolver statistics, and a text dump
// of resolver state, via a Gin-based server adapted from the teacher's
// internal/api package.
//
// Security note: this has no authentication (the teacher's API-key
// middleware depended on a secret-management story out of scope for a
// resolver library demo — see DESIGN.md); do not expose it to untrusted
// networks.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/madns/internal/api/handlers"
	"github.com/jroosing/madns/internal/api/middleware"
)

// Server is the diagnostics API server.
type Server struct {
	logger     *slog.Logger
	handler    *handlers.Handler
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to host:port, backed by a fresh handlers.Handler.
// Call Update (via Handler) after each resolver cycle to keep /stats and
// /dump current; the handler starts out serving an empty snapshot.
func New(host string, port int, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(logger)
	RegisterRoutes(engine, h)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, handler: h, engine: engine, httpServer: httpServer}
}

// Handler returns the underlying handlers.Handler so the caller's event
// loop can push fresh snapshots via Update.
func (s *Server) Handler() *handlers.Handler {
	return s.handler
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
