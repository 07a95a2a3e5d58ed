package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/audit"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/weather"
	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/model"
	"github.com/kasuganosora/roleplay/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultAdminLimit = 50

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db      *gorm.DB
	sm      *player.SessionManager
	wm      *world.Manager
	reg     *vehicle.Registry
	sched   *scheduler.Scheduler
	weather *weather.Service
	audit   *audit.Service
	c       cache.Cache
	ps      cache.PubSub
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. weatherSvc and auditSvc may be nil.
func NewAdminHandler(
	db *gorm.DB,
	sm *player.SessionManager,
	wm *world.Manager,
	reg *vehicle.Registry,
	sched *scheduler.Scheduler,
	weatherSvc *weather.Service,
	auditSvc *audit.Service,
	c cache.Cache,
	ps cache.PubSub,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		db:      db,
		sm:      sm,
		wm:      wm,
		reg:     reg,
		sched:   sched,
		weather: weatherSvc,
		audit:   auditSvc,
		c:       c,
		ps:      ps,
		logger:  logger,
	}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	resp := gin.H{
		"online_players":   h.sm.Count(),
		"vehicles":         h.reg.Count(),
		"live_vehicles":    h.wm.VehicleCount(),
		"scheduler_tasks":  h.sched.ListTickers(),
		"scheduler_delays": h.sched.ListDelays(),
	}
	if h.weather != nil {
		resp["weather"] = h.weather.Current()
	}
	c.JSON(http.StatusOK, resp)
}

type playerInfo struct {
	AccountID int64        `json:"account_id"`
	CharID    int64        `json:"char_id"`
	CharName  string       `json:"char_name"`
	Pose      *world.Pose  `json:"pose,omitempty"`
	Vehicle   world.Handle `json:"vehicle,omitempty"`
}

// ListPlayers returns a snapshot of all online players.
// GET /api/admin/players
func (h *AdminHandler) ListPlayers(c *gin.Context) {
	sessions := h.sm.All()
	result := make([]playerInfo, 0, len(sessions))
	for _, s := range sessions {
		charID, name := s.Character()
		info := playerInfo{
			AccountID: s.AccountID,
			CharID:    charID,
			CharName:  name,
			Vehicle:   h.wm.OccupiedVehicle(s.AccountID),
		}
		if pose, ok := h.wm.CharacterPose(s.AccountID); ok {
			info.Pose = &pose
		}
		result = append(result, info)
	}
	c.JSON(http.StatusOK, gin.H{"players": result, "count": len(result)})
}

// KickPlayer forcibly disconnects a client by account ID.
// POST /api/admin/kick/:id
func (h *AdminHandler) KickPlayer(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	s := h.sm.Get(accountID)
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not online"})
		return
	}
	s.Close()
	h.logger.Info("admin kicked player", zap.Int64("account_id", accountID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// BanAccount bans or unbans a player account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	// Kick the player if currently online.
	if req.Ban {
		if s := h.sm.Get(accountID); s != nil {
			s.Close()
		}
	}
	h.logger.Info("admin changed account status",
		zap.Int64("account_id", accountID),
		zap.Bool("banned", req.Ban))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns the names of all scheduled tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tasks":  h.sched.ListTickers(),
		"delays": h.sched.ListDelays(),
	})
}

// AuditLog returns the newest audit entries.
// GET /api/admin/audit?action=&limit=
func (h *AdminHandler) AuditLog(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit disabled"})
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	logs, err := h.audit.Recent(c.Request.Context(), c.Query("action"), limit)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

// VehicleEvents returns the newest vehicle occupancy events, newest first.
// GET /api/admin/vehicle-events?limit=
func (h *AdminHandler) VehicleEvents(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	events, err := vehicle.RecentEvents(c.Request.Context(), h.c, int64(limit))
	if err != nil {
		h.logger.Error("recent vehicle events failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	if events == nil {
		events = []vehicle.RecentEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// RotateWeather forces a weather change now.
// POST /api/admin/weather/rotate
func (h *AdminHandler) RotateWeather(c *gin.Context) {
	if h.weather == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather disabled"})
		return
	}
	ch := h.weather.Rotate()
	h.logger.Info("admin rotated weather", zap.Int("weather", ch.Weather))
	c.JSON(http.StatusOK, ch)
}

// Announce publishes a message to every SSE subscriber.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=512"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	if err := h.ps.Publish(c.Request.Context(), cache.ChannelAnnounce, req.Message); err != nil {
		h.logger.Error("announce failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// queryLimit parses ?limit=, writing a 400 on bad input.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultAdminLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	return n, true
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints answer 503; set server.admin_key
// in config to enable them.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
