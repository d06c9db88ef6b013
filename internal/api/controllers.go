package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"risk-core/internal/mode"
	"risk-core/internal/monitor"
	"risk-core/internal/risk"
)

func (s *Server) evaluateOrder(c *gin.Context) {
	var cand risk.OrderCandidate
	if err := c.BindJSON(&cand); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	res := s.Engine.Evaluate(c.Request.Context(), cand)
	status := http.StatusOK
	if !res.Admitted {
		// Rejections are data; 200 with admitted=false would also work, but
		// 422 lets thin clients branch on status alone.
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func (s *Server) recordFill(c *gin.Context) {
	var f risk.Fill
	if err := c.BindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if f.AccountID == "" || f.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "account_id and order_id are required",
		})
		return
	}

	st, err := s.Engine.RecordFill(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, risk.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		var inv *risk.InvariantViolation
		if errors.As(err, &inv) {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "INVARIANT_VIOLATION",
				"error": inv.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": st.ID,
		"equity":     st.Equity,
		"daily_pnl":  st.DailyPnL,
		"open_risk":  st.OpenRisk,
	})
}

func (s *Server) onboardAccount(c *gin.Context) {
	var req struct {
		ID     string  `json:"id"`
		Equity float64 `json:"equity"`
	}
	if err := c.BindJSON(&req); err != nil || req.ID == "" || req.Equity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "id and positive equity are required",
		})
		return
	}

	st, err := s.Accounts.Onboard(c.Request.Context(), req.ID, req.Equity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) getAccount(c *gin.Context) {
	id := c.Param("id")
	st, err := s.Accounts.Snapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, risk.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	rules := s.Accounts.Profiles().Monitor
	level := monitor.Classify(st.RollingDrawdown, rules.WarningLevel, rules.EmergencyLevel)

	locked := false
	lockReason := ""
	if s.DB != nil {
		if l, reason, err := s.DB.IsLocked(c.Request.Context(), id); err == nil {
			locked, lockReason = l, reason
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"state":       st,
		"risk_level":  level.String(),
		"locked":      locked,
		"lock_reason": lockReason,
	})
}

func (s *Server) getGraduation(c *gin.Context) {
	id := c.Param("id")
	st, err := s.Accounts.Snapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, risk.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	g := s.Accounts.Profiles().Graduation
	var cl mode.Checklist
	switch st.Mode {
	case risk.ModePaper:
		cl = mode.EvaluatePaperToMicro(st, g, time.Now())
	case risk.ModeMicro:
		cl = mode.EvaluateMicroToFull(st, g)
	default:
		c.JSON(http.StatusOK, gin.H{"mode": st.Mode, "graduation": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": st.Mode, "graduation": cl})
}

func (s *Server) listEmergencies(c *gin.Context) {
	evs, err := s.DB.ListEmergencyEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) listTargets(c *gin.Context) {
	targets, err := s.Targets.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

func (s *Server) createTarget(c *gin.Context) {
	var req struct {
		Type      string  `json:"type"`
		Timeframe string  `json:"timeframe"`
		Value     float64 `json:"value"`
	}
	if err := c.BindJSON(&req); err != nil || req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "type is required",
		})
		return
	}

	tg, err := s.Targets.Create(c.Request.Context(), c.Param("id"), req.Type, req.Timeframe, req.Value)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tg)
}

func (s *Server) setTargetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.BindJSON(&req); err != nil || !risk.TargetStatus(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "status must be a valid target status",
		})
		return
	}

	accountID, targetID := c.Param("id"), c.Param("tid")
	targets, err := s.Targets.List(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, tg := range targets {
		if tg.ID == targetID {
			if err := s.Targets.SetStatus(c.Request.Context(), tg, risk.TargetStatus(req.Status)); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"id": targetID, "status": req.Status})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
}

func (s *Server) listCanaries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"canaries": s.Engine.Canary.All()})
}

func (s *Server) blockAccount(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "reason is required",
		})
		return
	}

	if err := s.Modes.Block(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		if errors.Is(err, risk.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "mode": risk.ModeBlocked})
}

func (s *Server) unlockAccount(c *gin.Context) {
	actor := CurrentOperator(c)
	if err := s.Modes.Unlock(c.Request.Context(), c.Param("id"), actor); err != nil {
		if errors.Is(err, risk.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "mode": risk.ModePaper, "unlocked_by": actor})
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BindJSON(&req); err != nil || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "reason is required",
		})
		return
	}

	out := s.Stop.Trigger(c.Request.Context(), c.Param("id"), "operator: "+req.Reason)
	c.JSON(http.StatusOK, out)
}
