package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/terminal-bench/mariscope/internal/models"
	"github.com/terminal-bench/mariscope/internal/services/compliance"
	"go.uber.org/zap"
)

// ComplianceHandler handles route and compliance requests
type ComplianceHandler struct {
	service *compliance.Service
	logger  *zap.Logger
}

// NewComplianceHandler creates a new compliance handler
func NewComplianceHandler(service *compliance.Service, logger *zap.Logger) *ComplianceHandler {
	return &ComplianceHandler{service: service, logger: logger}
}

// ListRoutes returns routes filtered by vesselType, fuelType and year
func (h *ComplianceHandler) ListRoutes(c *gin.Context) {
	year, ok := queryInt(c, "year")
	if !ok {
		return
	}

	routes, err := h.service.ListRoutes(c.Request.Context(), models.RouteFilter{
		VesselType: c.Query("vesselType"),
		FuelType:   c.Query("fuelType"),
		Year:       year,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, routes)
}

// Comparison compares a period against its baseline
func (h *ComplianceHandler) Comparison(c *gin.Context) {
	year, ok := queryInt(c, "year")
	if !ok {
		return
	}

	result, err := h.service.Compare(c.Request.Context(), year)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SetBaseline flags a route as its period's baseline
func (h *ComplianceHandler) SetBaseline(c *gin.Context) {
	route, err := h.service.SetBaseline(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

func (h *ComplianceHandler) cbQuery(c *gin.Context) (compliance.CBQuery, bool) {
	year, ok := queryInt(c, "year")
	if !ok {
		return compliance.CBQuery{}, false
	}
	return compliance.CBQuery{
		ShipIDs: queryList(c, "shipIds"),
		ShipID:  c.Query("shipId"),
		Year:    year,
	}, true
}

// ComputeCB computes compliance balances
func (h *ComplianceHandler) ComputeCB(c *gin.Context) {
	q, ok := h.cbQuery(c)
	if !ok {
		return
	}

	results, err := h.service.ComputeCB(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// AdjustedCB returns balances adjusted by applied banked amounts
func (h *ComplianceHandler) AdjustedCB(c *gin.Context) {
	q, ok := h.cbQuery(c)
	if !ok {
		return
	}

	results, err := h.service.AdjustedCB(c.Request.Context(), q)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
