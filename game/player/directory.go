package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrCharacterNotOwned is returned when a client selects a character that
// belongs to another account.
var ErrCharacterNotOwned = errors.New("character does not belong to this account")

// Directory resolves connected clients to their active characters. Money and
// faction data come from the database; positions come from the live world.
type Directory struct {
	db     *gorm.DB
	sm     *SessionManager
	world  *world.Manager
	logger *zap.Logger
}

// NewDirectory creates a Directory.
func NewDirectory(db *gorm.DB, sm *SessionManager, w *world.Manager, logger *zap.Logger) *Directory {
	return &Directory{db: db, sm: sm, world: w, logger: logger}
}

// ActiveCharacter implements vehicle.Characters.
func (d *Directory) ActiveCharacter(ctx context.Context, clientID int64) (vehicle.Character, bool) {
	s := d.sm.Get(clientID)
	if s == nil {
		return vehicle.Character{}, false
	}
	charID, _ := s.Character()
	if charID == 0 {
		return vehicle.Character{}, false
	}
	var c model.Character
	if err := d.db.WithContext(ctx).First(&c, charID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			d.logger.Error("load active character", zap.Int64("char_id", charID), zap.Error(err))
		}
		return vehicle.Character{}, false
	}
	pos := world.Vec3{X: c.PosX, Y: c.PosY, Z: c.PosZ}
	if p, ok := d.world.CharacterPose(clientID); ok {
		pos = p.Position
	}
	return vehicle.Character{
		ID:        c.ID,
		AccountID: c.AccountID,
		Name:      c.Name,
		Money:     c.Money,
		FactionID: c.FactionID,
		OnDuty:    c.OnDuty,
		Position:  pos,
	}, true
}

// AccountOf implements vehicle.Characters.
func (d *Directory) AccountOf(ctx context.Context, charID int64) (int64, bool) {
	var c model.Character
	err := d.db.WithContext(ctx).Select("id", "account_id").First(&c, charID).Error
	if err != nil {
		return 0, false
	}
	return c.AccountID, true
}

// AdjustMoney implements vehicle.Characters. The balance check and update
// run as one conditional UPDATE.
func (d *Directory) AdjustMoney(ctx context.Context, charID int64, delta int64) error {
	res := d.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ? AND money + ? >= 0", charID, delta).
		Update("money", gorm.Expr("money + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("%w: adjust money: %v", vehicle.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return vehicle.ErrInsufficientFunds
	}
	return nil
}

// SelectCharacter makes charID the session's active character and places it
// in the world at its saved position.
func (d *Directory) SelectCharacter(ctx context.Context, s *PlayerSession, charID int64) (*model.Character, error) {
	var c model.Character
	if err := d.db.WithContext(ctx).First(&c, charID).Error; err != nil {
		return nil, err
	}
	if c.AccountID != s.AccountID {
		return nil, ErrCharacterNotOwned
	}
	d.world.SetCharacterPose(s.AccountID, world.Pose{
		Position: world.Vec3{X: c.PosX, Y: c.PosY, Z: c.PosZ},
		Rotation: world.Vec3{Z: c.Heading},
	})
	s.SetCharacter(c.ID, c.Name)
	d.logger.Info("character selected",
		zap.Int64("account_id", s.AccountID),
		zap.Int64("char_id", c.ID),
		zap.String("name", c.Name))
	return &c, nil
}

// SavePosition writes the character's live world position back to the
// database. It is a no-op when the session has no character in the world.
func (d *Directory) SavePosition(ctx context.Context, s *PlayerSession) error {
	charID, _ := s.Character()
	if charID == 0 {
		return nil
	}
	pose, ok := d.world.CharacterPose(s.AccountID)
	if !ok {
		return nil
	}
	return d.db.WithContext(ctx).Model(&model.Character{}).
		Where("id = ?", charID).
		Updates(map[string]interface{}{
			"pos_x":   pose.Position.X,
			"pos_y":   pose.Position.Y,
			"pos_z":   pose.Position.Z,
			"heading": pose.Rotation.Z,
		}).Error
}
