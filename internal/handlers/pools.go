package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terminal-bench/mariscope/internal/services/pooling"
	"go.uber.org/zap"
)

// PoolHandler handles pool requests
type PoolHandler struct {
	service *pooling.Service
	logger  *zap.Logger
}

// NewPoolHandler creates a new pool handler
func NewPoolHandler(service *pooling.Service, logger *zap.Logger) *PoolHandler {
	return &PoolHandler{service: service, logger: logger}
}

// CreatePoolRequest represents a pool creation request
type CreatePoolRequest struct {
	Year    int      `json:"year"`
	ShipIDs []string `json:"shipIds"`
}

// Create forms a new pool
func (h *PoolHandler) Create(c *gin.Context) {
	var req CreatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.service.Create(c.Request.Context(), pooling.CreatePoolRequest{Year: req.Year, ShipIDs: req.ShipIDs})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func poolID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool ID"})
		return uuid.Nil, false
	}
	return id, true
}

// Get returns one pool
func (h *PoolHandler) Get(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}

	result, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Archive returns the archived copy of a pool after checking it against
// the stored record
func (h *PoolHandler) Archive(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}

	result, err := h.service.VerifyArchive(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// List returns pools, optionally for one year
func (h *PoolHandler) List(c *gin.Context) {
	year, ok := queryInt(c, "year")
	if !ok {
		return
	}

	results, err := h.service.List(c.Request.Context(), year)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
