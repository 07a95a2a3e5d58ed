package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/world"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PlayerHandlers handles character selection, movement and heartbeats.
type PlayerHandlers struct {
	dir    *player.Directory
	wm     *world.Manager
	logger *zap.Logger
}

// NewPlayerHandlers creates a new PlayerHandlers.
func NewPlayerHandlers(dir *player.Directory, wm *world.Manager, logger *zap.Logger) *PlayerHandlers {
	return &PlayerHandlers{dir: dir, wm: wm, logger: logger}
}

// RegisterHandlers registers the player handlers on the given Router.
func (ph *PlayerHandlers) RegisterHandlers(r *Router) {
	r.On("ping", ph.HandlePing)
	r.On("enter_game", ph.HandleEnterGame)
	r.On("player_move", ph.HandleMove)
}

type pingPayload struct {
	TS int64 `json:"ts"`
}

// HandlePing responds to client heartbeat pings.
func (ph *PlayerHandlers) HandlePing(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var p pingPayload
	_ = json.Unmarshal(raw, &p)
	s.SendHeartbeatPong(p.TS)
	return nil
}

type enterGameReq struct {
	CharID int64 `json:"char_id"`
}

// HandleEnterGame selects one of the account's characters and sends the
// client every vehicle currently in the world.
func (ph *PlayerHandlers) HandleEnterGame(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req enterGameReq
	if err := json.Unmarshal(raw, &req); err != nil {
		sendError(s, "invalid payload")
		return nil
	}

	char, err := ph.dir.SelectCharacter(ctx, s, req.CharID)
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, player.ErrCharacterNotOwned) {
		sendError(s, "invalid character")
		return nil
	}
	if err != nil {
		return err
	}

	s.SendJSON("enter_game", map[string]interface{}{
		"char_id":  char.ID,
		"name":     char.Name,
		"money":    char.Money,
		"position": world.Vec3{X: char.PosX, Y: char.PosY, Z: char.PosZ},
	})
	for _, v := range ph.wm.Vehicles() {
		s.SendJSON("vehicle_spawn", v)
	}
	return nil
}

type moveReq struct {
	Position []float64 `json:"position"`
	Heading  float64   `json:"heading"`
}

// HandleMove records the character's on-foot position. While driving, the
// character follows its vehicle and on-foot updates are ignored.
func (ph *PlayerHandlers) HandleMove(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	if id, _ := s.Character(); id == 0 {
		return nil
	}
	var req moveReq
	if err := json.Unmarshal(raw, &req); err != nil {
		sendError(s, "invalid payload")
		return nil
	}
	if ph.wm.OccupiedVehicle(s.AccountID) != 0 {
		return nil
	}
	ph.wm.SetCharacterPose(s.AccountID, world.Pose{
		Position: world.V3(req.Position),
		Rotation: world.Vec3{Z: req.Heading},
	})
	return nil
}
