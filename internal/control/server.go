// Package control implements the fabric's administrative HTTP+WebSocket
// surface: the "well-known control address" of spec §6, through which the
// five admin commands (RegisterAgent, RevokeAgent, RotateKey, Shutdown,
// DumpMetrics) are issued and metrics/audit events are streamed. It is a
// thin shell over internal/fabric — every command still goes through
// Fabric.HandleAdminCommand, which re-checks Admin permission against the
// same KIS binding any other message is authenticated against.
package control

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentfabric/fabric/internal/config"
	"github.com/agentfabric/fabric/internal/fabric"
	"github.com/agentfabric/fabric/pkg/logger"
)

// Server is the admin HTTP+WebSocket server.
type Server struct {
	router *gin.Engine
	fabric *fabric.Fabric
	hub    *hub
}

// NewServer builds a Server bound to f. cfg is accepted for parity with the
// rest of the boot sequence and future knobs (listen timeouts, CORS); none
// of its fields are read yet.
func NewServer(f *fabric.Fabric, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{router: r, fabric: f, hub: newHub()}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin.Engine, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/v1")
	v1.POST("/admin/command", s.handleCommand)
	v1.GET("/admin/metrics", s.handleMetricsSnapshot)
	v1.GET("/admin/audit", s.handleAuditRecent)
	v1.GET("/ws", s.handleWebSocket)
	s.router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
}

// bearerSubject extracts and verifies the caller's token, returning the
// subject AgentID the rest of the command path authorizes against.
func (s *Server) bearerSubject(c *gin.Context) (uint16, bool) {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing bearer token"})
		return 0, false
	}
	claims, err := s.fabric.Identity.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": err.Error()})
		return 0, false
	}
	return uint16(claims.Subject), true
}

// ListenAndServe starts the HTTP server, shutting down gracefully when ctx
// is cancelled (teacher's dashboard.Server.ListenAndServe idiom).
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Infow("control: shutdown trigger")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("control: shutdown error", "error", err)
		}
	}()

	logger.Infow("control: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
