package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/world"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"github.com/kasuganosora/roleplay/server/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CharacterHandler handles character REST endpoints.
type CharacterHandler struct {
	db   *gorm.DB
	sm   *player.SessionManager
	reg  *vehicle.Registry
	game config.GameConfig
}

// NewCharacterHandler creates a new CharacterHandler.
func NewCharacterHandler(db *gorm.DB, sm *player.SessionManager, reg *vehicle.Registry, game config.GameConfig) *CharacterHandler {
	if game.MaxCharacters <= 0 {
		game.MaxCharacters = config.DefaultGame().MaxCharacters
	}
	return &CharacterHandler{db: db, sm: sm, reg: reg, game: game}
}

// List handles GET /api/characters.
func (h *CharacterHandler) List(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	var chars []model.Character
	if err := h.db.Where("account_id = ?", accountID).Order("id").Find(&chars).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"characters": chars})
}

type createCharacterRequest struct {
	Name string `json:"name" binding:"required,min=1,max=32"`
}

// Create handles POST /api/characters. New characters start at the
// configured spawn point with the configured money.
func (h *CharacterHandler) Create(c *gin.Context) {
	accountID := mw.GetAccountID(c)

	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var n int64
	if err := h.db.Model(&model.Character{}).Where("account_id = ?", accountID).Count(&n).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if n >= int64(h.game.MaxCharacters) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max characters reached"})
		return
	}

	start := world.V3(h.game.StartPosition)
	char := &model.Character{
		AccountID: accountID,
		Name:      req.Name,
		Money:     h.game.StartMoney,
		PosX:      start.X,
		PosY:      start.Y,
		PosZ:      start.Z,
		Heading:   h.game.StartHeading,
	}
	if err := h.db.Create(char).Error; err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "character name already taken"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusCreated, char)
}

type deleteCharacterRequest struct {
	Password string `json:"password" binding:"required"`
}

// Delete handles DELETE /api/characters/:id. Vehicles are never deleted, so
// a character that still owns any cannot be deleted either.
func (h *CharacterHandler) Delete(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req deleteCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	var acc model.Account
	if err := h.db.First(&acc, accountID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong password"})
		return
	}

	var char model.Character
	err = h.db.Select("id").Where("id = ? AND account_id = ?", charID, accountID).First(&char).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	if h.sm.GetByChar(charID) != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "character is online"})
		return
	}
	if len(h.reg.GetVehiclesForOwner(charID)) > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "character owns vehicles"})
		return
	}

	// Delete only if the character belongs to this account.
	result := h.db.Where("id = ? AND account_id = ?", charID, accountID).Delete(&model.Character{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// Vehicles handles GET /api/characters/:id/vehicles for one of the caller's characters.
func (h *CharacterHandler) Vehicles(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	charID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var char model.Character
	err = h.db.Select("id").Where("id = ? AND account_id = ?", charID, accountID).First(&char).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}

	list := h.reg.GetVehiclesForOwner(charID)
	if list == nil {
		list = []vehicle.Vehicle{}
	}
	c.JSON(http.StatusOK, gin.H{"vehicles": list})
}
