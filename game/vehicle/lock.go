package vehicle

import (
	"context"

	"go.uber.org/zap"
)

// ToggleLock flips the vehicle's door lock and returns the new state.
func (r *Registry) ToggleLock(vehicleID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[vehicleID]
	if !ok {
		return false, ErrNotFound
	}
	return r.toggleLocked(v), nil
}

func (r *Registry) toggleLocked(v *Vehicle) bool {
	v.Locked = !v.Locked
	if v.Spawned {
		r.world.SetLocked(v.Handle, v.Locked)
	}
	r.metrics.LockToggled()
	r.logger.Debug("vehicle lock toggled", zap.Int("vehicle_id", v.ID), zap.Bool("locked", v.Locked))
	return v.Locked
}

func (r *Registry) sendLockState(clientID int64, locked bool) {
	if locked {
		r.notify.Notify(clientID, msgLocked)
	} else {
		r.notify.Notify(clientID, msgUnlocked)
	}
}

// RequestLockNearest toggles the lock of the closest spawned vehicle if the
// requester stands next to it and holds its keys: either the vehicle belongs
// to the requester's account, or it belongs to the requester's faction and
// the requester is on duty. Every failure is silent.
func (r *Registry) RequestLockNearest(ctx context.Context, clientID int64) error {
	char, ok := r.chars.ActiveCharacter(ctx, clientID)
	if !ok {
		return ErrNoCharacter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, dist, ok := r.nearestLocked(char.Position)
	if !ok {
		return ErrNotFound
	}
	if dist >= r.cfg.LockDistance {
		return r.reject("lock", clientID, "", ErrTooFar)
	}
	if !r.holdsKeys(ctx, char, v) {
		return r.reject("lock", clientID, "", ErrNotOwner)
	}

	r.sendLockState(clientID, r.toggleLocked(v))
	return nil
}

func (r *Registry) holdsKeys(ctx context.Context, char Character, v *Vehicle) bool {
	if char.FactionID != 0 && char.FactionID == v.FactionID && char.OnDuty {
		return true
	}
	if v.OwnerID == char.ID {
		return true
	}
	account, ok := r.chars.AccountOf(ctx, v.OwnerID)
	return ok && account == char.AccountID
}

// RequestLockByID toggles the lock of one of the requester's own vehicles.
// Unlike the nearest-vehicle flow, faction duty grants nothing here.
func (r *Registry) RequestLockByID(ctx context.Context, clientID int64, vehicleID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[vehicleID]
	if !ok {
		r.notify.Notify(clientID, msgNeedsActive)
		return ErrNotFound
	}
	if !v.Spawned {
		return r.reject("lock", clientID, msgNeedsActive, ErrNotActive)
	}

	char, ok := r.chars.ActiveCharacter(ctx, clientID)
	if !ok {
		return ErrNoCharacter
	}
	if v.OwnerID != char.ID {
		return r.reject("lock", clientID, "", ErrNotOwner)
	}
	pose, ok := r.world.VehiclePose(v.Handle)
	if !ok || pose.Position.DistanceTo(char.Position) >= r.cfg.LockDistance {
		return r.reject("lock", clientID, msgLockTooFar, ErrTooFar)
	}

	r.sendLockState(clientID, r.toggleLocked(v))
	return nil
}
