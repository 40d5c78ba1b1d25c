package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
)

func (s *Server) CreateRule(c *gin.Context) {
	var req ruledomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	rule, err := s.ruleSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditRuleAction(c, auditdomain.ActionRuleCreated, rule.ID.String(), map[string]any{
		"name": rule.Name,
	})
	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

func (s *Server) ListRules(c *gin.Context) {
	rules, err := s.ruleSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) GetRule(c *gin.Context) {
	rule, err := s.ruleSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

type updateRuleRequest struct {
	Enabled    *bool      `json:"enabled"`
	ScheduleAt *time.Time `json:"schedule_at"`
	// ClearSchedule distinguishes "unset the schedule" from an absent field.
	ClearSchedule bool `json:"clear_schedule"`
}

func (s *Server) UpdateRule(c *gin.Context) {
	var req updateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Enabled == nil && req.ScheduleAt == nil && !req.ClearSchedule {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id := c.Param("id")
	var rule *ruledomain.Response
	var err error

	if req.Enabled != nil {
		rule, err = s.ruleSvc.SetEnabled(c.Request.Context(), id, *req.Enabled)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}
	if req.ScheduleAt != nil || req.ClearSchedule {
		scheduleAt := req.ScheduleAt
		if req.ClearSchedule {
			scheduleAt = nil
		}
		rule, err = s.ruleSvc.SetSchedule(c.Request.Context(), id, scheduleAt)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	s.auditRuleAction(c, auditdomain.ActionRuleUpdated, id, map[string]any{
		"enabled_changed":  req.Enabled != nil,
		"schedule_changed": req.ScheduleAt != nil || req.ClearSchedule,
	})
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

func (s *Server) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if err := s.ruleSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditRuleAction(c, auditdomain.ActionRuleDeleted, id, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) auditRuleAction(c *gin.Context, action, ruleID string, metadata map[string]any) {
	targetID := strings.TrimSpace(ruleID)
	if err := s.auditSvc.AuditLog(c.Request.Context(), nil, auditdomain.ActorTypeUser, nil, action, "pricing_rule", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed")
	}
}
