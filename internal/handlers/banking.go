package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/mariscope/internal/middleware"
	"github.com/terminal-bench/mariscope/internal/services/banking"
	"go.uber.org/zap"
)

// BankingHandler handles banking requests
type BankingHandler struct {
	service *banking.Service
	logger  *zap.Logger
}

// NewBankingHandler creates a new banking handler
func NewBankingHandler(service *banking.Service, logger *zap.Logger) *BankingHandler {
	return &BankingHandler{service: service, logger: logger}
}

// BankRequest represents a bank request; a missing amount banks the whole
// surplus
type BankRequest struct {
	ShipID string   `json:"shipId" binding:"required"`
	Amount *float64 `json:"amount"`
}

// ApplyRequest represents an apply request
type ApplyRequest struct {
	ShipID string   `json:"shipId" binding:"required"`
	Amount *float64 `json:"amount" binding:"required"`
}

// Records lists ledger entries
func (h *BankingHandler) Records(c *gin.Context) {
	year, ok := queryInt(c, "year")
	if !ok {
		return
	}

	out, err := h.service.Records(c.Request.Context(), banking.RecordQuery{
		ShipID: c.Query("shipId"),
		Year:   year,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Bank banks surplus compliance balance
func (h *BankingHandler) Bank(c *gin.Context) {
	var req BankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := h.service.Bank(c.Request.Context(), banking.BankRequest{ShipID: req.ShipID, Amount: req.Amount})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Debug("bank request served", zap.String("operator", middleware.GetOperator(c)), zap.String("ship_id", req.ShipID))
	c.JSON(http.StatusOK, resp)
}

// Apply applies banked surplus to a deficit
func (h *BankingHandler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := h.service.Apply(c.Request.Context(), banking.ApplyRequest{ShipID: req.ShipID, Amount: *req.Amount})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Debug("apply request served", zap.String("operator", middleware.GetOperator(c)), zap.String("ship_id", req.ShipID))
	c.JSON(http.StatusOK, resp)
}
