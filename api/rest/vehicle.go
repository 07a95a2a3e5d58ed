package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
)

// VehicleShopHandler serves the read-only vehicle shop catalog.
type VehicleShopHandler struct {
	reg *vehicle.Registry
}

// NewVehicleShopHandler creates a new VehicleShopHandler.
func NewVehicleShopHandler(reg *vehicle.Registry) *VehicleShopHandler {
	return &VehicleShopHandler{reg: reg}
}

// List handles GET /api/vehicle-shops.
func (h *VehicleShopHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shops": h.reg.Shops()})
}

// Get handles GET /api/vehicle-shops/:id.
func (h *VehicleShopHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	shop, ok := h.reg.Shop(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "shop not found"})
		return
	}
	c.JSON(http.StatusOK, shop)
}
