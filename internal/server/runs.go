package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	"github.com/smallbiznis/repricer/internal/orgcontext"
)

// TriggerRule schedules a run for the rule right now, ignoring schedule_at.
func (s *Server) TriggerRule(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ruleID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	run, err := s.scheduler.TriggerRule(c.Request.Context(), orgID, ruleID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if run == nil {
		// A non-terminal run for this rule already exists.
		c.JSON(http.StatusConflict, gin.H{"status": "already_scheduled"})
		return
	}

	targetID := ruleID.String()
	if err := s.auditSvc.AuditLog(c.Request.Context(), &orgID, auditdomain.ActorTypeUser, nil, auditdomain.ActionRuleTriggered, "pricing_rule", &targetID, map[string]any{
		"run_id": run.ID.String(),
	}); err != nil {
		s.log.Warn("audit write failed")
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": run.ID.String(),
		"status": string(run.Status),
	})
}

func (s *Server) GetRun(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	runID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	run, err := s.runRepo.FindRun(c.Request.Context(), s.db, orgID, runID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if run == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	targets, err := s.runRepo.FindTargets(c.Request.Context(), s.db, run.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":     run,
		"targets": targets,
	})
}

// RunStatus returns run counts grouped by state for the active org.
func (s *Server) RunStatus(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok || orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	summaries, err := s.runRepo.CountByStatus(c.Request.Context(), s.db, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	counts := gin.H{}
	for _, summary := range summaries {
		counts[string(summary.Status)] = summary.Count
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.Action = c.Query("action")
	req.TargetType = c.Query("target_type")
	req.TargetID = c.Query("target_id")
	if raw := strings.TrimSpace(c.Query("start_at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.StartAt = &parsed
	}
	if raw := strings.TrimSpace(c.Query("end_at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.EndAt = &parsed
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
