package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/world"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"go.uber.org/zap"
)

const disconnectSaveTimeout = 5 * time.Second

// Handler is the Gin handler for GET /ws.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	sm       *player.SessionManager
	wm       *world.Manager
	dir      *player.Directory
	reg      *vehicle.Registry
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	c cache.Cache,
	sec config.SecurityConfig,
	sm *player.SessionManager,
	wm *world.Manager,
	dir *player.Directory,
	reg *vehicle.Registry,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		sm:     sm,
		wm:     wm,
		dir:    dir,
		reg:    reg,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
	claims, err := mw.ValidateSession(c.Request.Context(), h.sec, h.cache, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	sess := player.NewPlayerSession(claims.AccountID, conn, h.logger)
	h.sm.Register(sess)
	h.readPump(sess)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *player.PlayerSession) {
	defer h.handleDisconnect(s)

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("account_id", s.AccountID),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// handleDisconnect takes the client's character out of the world. A driver
// leaving the server exits the vehicle first so subscribers see the exit.
func (h *Handler) handleDisconnect(s *player.PlayerSession) {
	s.Close()

	// A displaced session must not tear down its replacement's character.
	if h.sm.Get(s.AccountID) == s {
		if handle := h.wm.Exit(s.AccountID); handle != 0 {
			h.reg.VehicleExited(s.AccountID, handle)
		}

		ctx, cancel := context.WithTimeout(context.Background(), disconnectSaveTimeout)
		defer cancel()
		if err := h.dir.SavePosition(ctx, s); err != nil {
			h.logger.Error("save position on disconnect failed",
				zap.Int64("account_id", s.AccountID),
				zap.Error(err))
		}

		h.wm.RemoveCharacter(s.AccountID)
	}
	h.sm.Unregister(s)

	charID, _ := s.Character()
	h.logger.Info("player disconnected",
		zap.Int64("account_id", s.AccountID),
		zap.Int64("char_id", charID))
}
