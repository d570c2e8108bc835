// Package health answers the deployment platform's liveness probe.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// body is the literal probe answer. It is static by design: the probe
// checks process-level liveness, not per-worker state.
const body = `{"status":"ok","message":"Pipelines running"}`

// Server is a minimal HTTP responder with a single meaningful route,
// GET /health. Everything else is 404 with an empty body.
type Server struct {
	srv *http.Server
}

// New builds a server bound to all interfaces on the given port.
func New(port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	// gin.New, not gin.Default: no request logging middleware, the
	// platform probes every few seconds and would flood the log
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", handleHealth)
	engine.NoRoute(func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", port),
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func handleHealth(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", []byte(body))
}

// Serve blocks on the accept loop. It returns nil after a graceful
// Shutdown, so a supervised serve loop does not retry a wanted stop,
// and the listen/serve error otherwise.
func (s *Server) Serve() error {
	slog.Info("health server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown unblocks Serve without abruptly severing in-flight
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Addr returns the configured bind address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Handler exposes the HTTP surface, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
