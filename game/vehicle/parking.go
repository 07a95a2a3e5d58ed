package vehicle

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// reject records a validation failure and, when msg is set, tells the client.
func (r *Registry) reject(op string, clientID int64, msg string, err error) error {
	if msg != "" {
		r.notify.Notify(clientID, msg)
	}
	r.metrics.Rejected(op)
	return err
}

// SpawnVehicle places the requester's parked vehicle into the world at its
// park pose.
func (r *Registry) SpawnVehicle(ctx context.Context, clientID int64, vehicleID int) error {
	char, ok := r.chars.ActiveCharacter(ctx, clientID)
	if !ok {
		return ErrNoCharacter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[vehicleID]
	if !ok {
		return ErrNotFound
	}
	if v.OwnerID != char.ID {
		return r.reject("spawn", clientID, "", ErrNotOwner)
	}
	if v.Spawned {
		return r.reject("spawn", clientID, msgAlreadyActive, ErrAlreadyActive)
	}

	v.Handle = r.world.SpawnVehicle(v.Model, v.Park, v.Plate, v.Color1, v.Color2, v.Locked)
	v.Spawned = true
	r.metrics.Spawned(false)
	r.logger.Debug("vehicle spawned",
		zap.Int("vehicle_id", v.ID),
		zap.Int64("char_id", char.ID),
		zap.Uint32("handle", uint32(v.Handle)))
	return nil
}

// ParkVehicle removes the requester's vehicle from the world. The requester
// must be driving it and it must be close to its park position.
func (r *Registry) ParkVehicle(ctx context.Context, clientID int64, vehicleID int) error {
	char, ok := r.chars.ActiveCharacter(ctx, clientID)
	if !ok {
		return ErrNoCharacter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[vehicleID]
	if !ok {
		return ErrNotFound
	}
	if v.OwnerID != char.ID {
		return r.reject("park", clientID, "", ErrNotOwner)
	}
	if !v.Spawned {
		return r.reject("park", clientID, "", ErrNotActive)
	}
	if r.world.OccupiedVehicle(clientID) != v.Handle {
		return r.reject("park", clientID, msgParkNotInVehicle, ErrNotInVehicle)
	}
	pose, ok := r.world.VehiclePose(v.Handle)
	if !ok {
		return r.reject("park", clientID, "", ErrNotActive)
	}
	if pose.Position.DistanceTo(v.Park.Position) > r.cfg.ParkDistance {
		return r.reject("park", clientID, msgParkTooFar, ErrTooFar)
	}

	r.world.Despawn(v.Handle)
	v.Spawned = false
	v.Handle = 0
	r.metrics.Despawned(true)
	r.logger.Debug("vehicle parked", zap.Int("vehicle_id", v.ID), zap.Int64("char_id", char.ID))
	return nil
}

// PurchaseParkingSpot makes the vehicle's current pose its park pose in
// exchange for the configured price.
func (r *Registry) PurchaseParkingSpot(ctx context.Context, clientID int64, vehicleID int) error {
	char, ok := r.chars.ActiveCharacter(ctx, clientID)
	if !ok {
		return ErrNoCharacter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[vehicleID]
	if !ok {
		return ErrNotFound
	}
	if v.OwnerID != char.ID {
		return r.reject("buy_park", clientID, msgNotOwner, ErrNotOwner)
	}
	if !v.Spawned || r.world.OccupiedVehicle(clientID) != v.Handle {
		return r.reject("buy_park", clientID, msgBuyNotInVehicle, ErrNotInVehicle)
	}
	pose, ok := r.world.VehiclePose(v.Handle)
	if !ok {
		return r.reject("buy_park", clientID, msgBuyNotInVehicle, ErrNotInVehicle)
	}
	price := r.cfg.ParkPrice
	if char.Money < price {
		return r.reject("buy_park", clientID, msgBuyNoMoney, ErrInsufficientFunds)
	}

	if err := r.chars.AdjustMoney(ctx, char.ID, -price); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return r.reject("buy_park", clientID, msgBuyNoMoney, ErrInsufficientFunds)
		}
		return err
	}
	if err := r.store.UpdateParkPose(ctx, v.ID, pose); err != nil {
		if rerr := r.chars.AdjustMoney(ctx, char.ID, price); rerr != nil {
			r.logger.Error("parking refund failed",
				zap.Int64("char_id", char.ID),
				zap.Int64("amount", price),
				zap.Error(rerr))
		}
		return err
	}

	v.Park = pose
	r.notify.Notify(clientID, msgSpotUpdated)
	r.metrics.ParkingPurchased()
	r.logger.Info("parking spot purchased",
		zap.Int("vehicle_id", v.ID),
		zap.Int64("char_id", char.ID),
		zap.Float64("x", pose.Position.X),
		zap.Float64("y", pose.Position.Y),
		zap.Float64("z", pose.Position.Z))
	return nil
}
