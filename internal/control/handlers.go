package control

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentfabric/fabric/internal/fabric"
	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/util"
)

func (s *Server) handleCommand(c *gin.Context) {
	subject, ok := s.bearerSubject(c)
	if !ok {
		return
	}

	var cmd fabric.AdminCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	result, err := s.fabric.HandleAdminCommand(wire.AgentID(subject), cmd)
	if err != nil {
		status := http.StatusInternalServerError
		if err == fabric.ErrCommandDenied {
			status = http.StatusForbidden
		} else if err == fabric.ErrUnknownCommand {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}

	if cmd.Command == "DumpMetrics" || cmd.Command == "RegisterAgent" || cmd.Command == "RevokeAgent" {
		s.hub.broadcastEvent("command", result)
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMetricsSnapshot(c *gin.Context) {
	if _, ok := s.bearerSubject(c); !ok {
		return
	}
	c.JSON(http.StatusOK, s.fabric.Metrics.Dump())
}

// handleAuditRecent serves GET /v1/admin/audit, optionally narrowed with
// ?event_type=, ?actor=, ?target_like= and ?limit=.
func (s *Server) handleAuditRecent(c *gin.Context) {
	if _, ok := s.bearerSubject(c); !ok {
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = util.ClampInt(n, 1, 2000)
		}
	}

	eventType := c.Query("event_type")
	actor := c.Query("actor")
	targetLike := c.Query("target_like")

	if eventType == "" && actor == "" && targetLike == "" {
		c.JSON(http.StatusOK, gin.H{"events": s.fabric.Audit.Recent(limit)})
		return
	}

	events, err := s.fabric.Audit.Query(c.Request.Context(), eventType, actor, targetLike, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
