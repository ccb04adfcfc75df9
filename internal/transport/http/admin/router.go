package adminhttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"custos/internal/audit"
	"custos/internal/budget"
	"custos/internal/intent"
	"custos/internal/projection"
	"custos/internal/types"

	"github.com/gin-gonic/gin"
)

// Router mounts the operator API onto a gin group.
type Router struct {
	Gateway    *intent.Gateway
	Engine     *budget.Engine
	Projection *projection.Projection
	Audit      audit.Sink
}

func NewRouter(gw *intent.Gateway, eng *budget.Engine, proj *projection.Projection, auditor audit.Sink) *Router {
	return &Router{Gateway: gw, Engine: eng, Projection: proj, Audit: auditor}
}

// Register mounts the routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.Gateway != nil {
		group.POST("/intents", r.handleSubmit)
		group.POST("/intents/:id/approve", r.handleApprove)
		group.POST("/intents/:id/reject", r.handleReject)
		group.GET("/intents/:id", r.handleGetIntent)
		group.GET("/intents/pending/count", r.handlePendingCount)
	}
	if r.Engine != nil {
		group.POST("/quality", r.handleQuality)
	}
	if r.Projection != nil {
		group.GET("/state", r.handleState)
	}
	if queryable, ok := r.Audit.(auditReader); ok && queryable != nil {
		group.GET("/audit/recent", r.handleAuditRecent(queryable))
	}
}

type auditReader interface {
	Recent(limit int) ([]audit.Record, error)
}

func (r *Router) handleSubmit(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	in, err := intent.ParseWire(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dec := r.Gateway.SubmitIntent(c.Request.Context(), in)
	code := http.StatusOK
	if dec.Status == types.StatusRejectedSignature {
		code = http.StatusForbidden
	}
	c.JSON(code, dec)
}

type approvalRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Reason     string `json:"reason"`
}

func (r *Router) handleApprove(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	dec, err := r.Gateway.ApproveIntent(c.Request.Context(), c.Param("id"), req.ApproverID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "decision": dec})
}

func (r *Router) handleReject(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := r.Gateway.RejectIntent(c.Param("id"), req.ApproverID, req.Reason); err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (r *Router) handleGetIntent(c *gin.Context) {
	in, err := r.Gateway.GetIntent(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, in)
}

func (r *Router) handlePendingCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": r.Gateway.PendingApprovalCount()})
}

func (r *Router) handleQuality(c *gin.Context) {
	var report types.ExecutionQualityReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.Engine.SubmitQuality(report)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (r *Router) handleState(c *gin.Context) {
	includeIntents := c.Query("include_intents") == "true"
	c.JSON(http.StatusOK, r.Projection.Snapshot(includeIntents))
}

func (r *Router) handleAuditRecent(reader auditReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		records, err := reader.Recent(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, intent.ErrIntentNotFound):
		return http.StatusNotFound
	case errors.Is(err, intent.ErrInvalidStatus):
		return http.StatusConflict
	case errors.Is(err, intent.ErrReasonRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
