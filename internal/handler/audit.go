package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/correlation"
)

// AuditHandler serves correlation groups from a queryable sink.
type AuditHandler struct {
	querier audit.Querier
	logger  *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(q audit.Querier, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{querier: q, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/audit/correlation/:id", h.Group)
}

// Group handles GET /audit/correlation/:id: every entry of one logical
// operation, oldest first.
func (h *AuditHandler) Group(c *gin.Context) {
	id, ok := correlation.Normalize(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}

	g, err := h.querier.Group(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("query correlation group", zap.String("correlation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit trail"})
		return
	}
	if len(g.Entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no entries for correlation id"})
		return
	}
	c.JSON(http.StatusOK, g)
}
