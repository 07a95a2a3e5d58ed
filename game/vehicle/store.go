package vehicle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/model"
	"gorm.io/gorm"
)

// Store is the registry's only path to persistent storage.
type Store interface {
	IsEmpty(ctx context.Context) (bool, error)
	MaxID(ctx context.Context) (int, error)
	InsertVehicle(ctx context.Context, row *model.Vehicle) error
	UpdateParkPose(ctx context.Context, id int, pose world.Pose) error
	// LoadAllVehicles yields every row once. The sequence cannot be restarted.
	LoadAllVehicles(ctx context.Context) iter.Seq2[model.Vehicle, error]
}

var errSequenceConsumed = errors.New("sequence already consumed")

// GormStore implements Store on the vehicles table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func (s *GormStore) IsEmpty(ctx context.Context) (bool, error) {
	var row model.Vehicle
	err := s.db.WithContext(ctx).Select("id").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, persistenceErr("is empty", err)
	}
	return false, nil
}

func (s *GormStore) MaxID(ctx context.Context) (int, error) {
	var maxID sql.NullInt64
	err := s.db.WithContext(ctx).Model(&model.Vehicle{}).Select("MAX(id)").Row().Scan(&maxID)
	if err != nil {
		return 0, persistenceErr("max id", err)
	}
	return int(maxID.Int64), nil
}

func (s *GormStore) InsertVehicle(ctx context.Context, row *model.Vehicle) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return persistenceErr("insert vehicle", err)
	}
	return nil
}

func (s *GormStore) UpdateParkPose(ctx context.Context, id int, pose world.Pose) error {
	res := s.db.WithContext(ctx).Model(&model.Vehicle{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"park_x":     pose.Position.X,
			"park_y":     pose.Position.Y,
			"park_z":     pose.Position.Z,
			"park_rot_x": pose.Rotation.X,
			"park_rot_y": pose.Rotation.Y,
			"park_rot_z": pose.Rotation.Z,
		})
	if res.Error != nil {
		return persistenceErr("update park pose", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the values did not change.
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Vehicle{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return persistenceErr("update park pose", err)
	}
	if n == 0 {
		return persistenceErr("update park pose", fmt.Errorf("vehicle %d has no row", id))
	}
	return nil
}

func (s *GormStore) LoadAllVehicles(ctx context.Context) iter.Seq2[model.Vehicle, error] {
	var used atomic.Bool
	return func(yield func(model.Vehicle, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(model.Vehicle{}, persistenceErr("load vehicles", errSequenceConsumed))
			return
		}
		rows, err := s.db.WithContext(ctx).Model(&model.Vehicle{}).Order("id").Rows()
		if err != nil {
			yield(model.Vehicle{}, persistenceErr("load vehicles", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var v model.Vehicle
			if err := s.db.ScanRows(rows, &v); err != nil {
				yield(model.Vehicle{}, persistenceErr("scan vehicle", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Vehicle{}, persistenceErr("load vehicles", err))
		}
	}
}
