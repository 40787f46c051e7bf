package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditchain/internal/chain"
	"github.com/jmerrifield20/auditchain/internal/metrics"
	"github.com/jmerrifield20/auditchain/internal/sweep"
)

// Ledger is the read side of *chain.Ledger used by the endpoints.
type Ledger interface {
	Chains(ctx context.Context) ([]chain.ChainHead, error)
	Get(ctx context.Context, id string) (*chain.Record, error)
	VerifyChain(ctx context.Context, chain string) error
	Export(ctx context.Context, chain string) (*chain.Export, error)
}

// SweepReporter exposes the most recent integrity sweep.
type SweepReporter interface {
	Last() *sweep.Report
}

// LedgerHandler exposes read-only HTTP endpoints for the record chains.
type LedgerHandler struct {
	ledger  Ledger
	sweeper SweepReporter
	logger  *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// SetSweeper enables GET /chains/sweep.
func (h *LedgerHandler) SetSweeper(s SweepReporter) { h.sweeper = s }

// Register mounts the chain routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	c := rg.Group("/chains")
	{
		c.GET("", h.List)
		c.GET("/verify", h.Verify)
		c.GET("/export", h.Export)
		c.GET("/sweep", h.Sweep)
	}
	rg.GET("/records/:id", h.GetRecord)
}

// List handles GET /chains: every chain with its head hash and length.
func (h *LedgerHandler) List(c *gin.Context) {
	heads, err := h.ledger.Chains(c.Request.Context())
	if err != nil {
		h.logger.Error("list chains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chains"})
		return
	}
	metrics.ObserveChains(heads)
	c.JSON(http.StatusOK, gin.H{
		"chains": heads,
		"count":  len(heads),
	})
}

// Verify handles GET /chains/verify?chain=: replays the chain from genesis.
// A broken chain is a successful request reporting valid=false.
func (h *LedgerHandler) Verify(c *gin.Context) {
	name, ok := chainParam(c)
	if !ok {
		return
	}

	err := h.ledger.VerifyChain(c.Request.Context(), name)
	var integrity *chain.IntegrityError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"chain": name, "valid": true})
	case errors.As(err, &integrity):
		h.logger.Warn("chain integrity check failed", zap.String("chain", name), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"chain":    name,
			"valid":    false,
			"position": integrity.Position,
			"reason":   integrity.Reason,
			"error":    err.Error(),
		})
	default:
		h.logger.Error("verify chain", zap.String("chain", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify chain"})
	}
}

// Export handles GET /chains/export?chain=: a self-verifiable copy of the chain.
func (h *LedgerHandler) Export(c *gin.Context) {
	name, ok := chainParam(c)
	if !ok {
		return
	}

	x, err := h.ledger.Export(c.Request.Context(), name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, x)
	case errors.Is(err, chain.ErrChainIntegrity):
		h.logger.Warn("refusing to export broken chain", zap.String("chain", name), zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("export chain", zap.String("chain", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export chain"})
	}
}

// GetRecord handles GET /records/:id.
func (h *LedgerHandler) GetRecord(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rec)
	case errors.Is(err, chain.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	default:
		h.logger.Error("get record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
	}
}

// Sweep handles GET /chains/sweep: the last background sweep report.
func (h *LedgerHandler) Sweep(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "integrity sweep not enabled"})
		return
	}
	r := h.sweeper.Last()
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sweep has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     r.OK(),
		"report": r,
	})
}

func chainParam(c *gin.Context) (string, bool) {
	name := c.Query("chain")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chain query parameter is required"})
		return "", false
	}
	return name, true
}
