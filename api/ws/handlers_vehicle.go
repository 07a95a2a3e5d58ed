package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kasuganosora/roleplay/server/audit"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/world"
	"go.uber.org/zap"
)

// VehicleHandlers turns client vehicle intents into registry operations and
// relays world-level vehicle notifications.
type VehicleHandlers struct {
	reg    *vehicle.Registry
	wm     *world.Manager
	audit  *audit.Service
	logger *zap.Logger
}

// NewVehicleHandlers creates a new VehicleHandlers. auditSvc may be nil.
func NewVehicleHandlers(reg *vehicle.Registry, wm *world.Manager, auditSvc *audit.Service, logger *zap.Logger) *VehicleHandlers {
	return &VehicleHandlers{reg: reg, wm: wm, audit: auditSvc, logger: logger}
}

// RegisterHandlers registers the vehicle handlers on the given Router.
func (vh *VehicleHandlers) RegisterHandlers(r *Router) {
	r.On("vehicle_enter", vh.HandleEnter)
	r.On("vehicle_exit", vh.HandleExit)
	r.On("vehicle_move", vh.HandleMove)
	r.On("vehicle_destroyed", vh.HandleDestroyed)
	r.On("vehicle_purchase", vh.HandlePurchase)
	r.On("vehicle_shop_enter", vh.HandleShopEnter)
	r.On("vehicle_shop_exit", vh.HandleShopExit)
	r.On("vehicle_spawn", vh.HandleSpawn)
	r.On("vehicle_park", vh.HandlePark)
	r.On("vehicle_buy_park", vh.HandleBuyPark)
	r.On("vehicle_lock", vh.HandleLock)
	r.On("vehicle_lock_nearest", vh.HandleLockNearest)
	r.On("vehicle_list", vh.HandleList)
}

type handleReq struct {
	Handle world.Handle `json:"handle"`
}

type vehicleIDReq struct {
	VehicleID int `json:"vehicle_id"`
}

type shopReq struct {
	ShopID int `json:"shop_id"`
}

type purchaseReq struct {
	ShopID int    `json:"shop_id"`
	Model  string `json:"model"`
	Color1 int    `json:"color1"`
	Color2 int    `json:"color2"`
}

type vehicleMoveReq struct {
	Handle   world.Handle `json:"handle"`
	Position []float64    `json:"position"`
	Rotation []float64    `json:"rotation"`
}

func decode(s *player.PlayerSession, raw json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		sendError(s, "invalid payload")
		return false
	}
	return true
}

// HandleEnter seats the client in a live vehicle.
func (vh *VehicleHandlers) HandleEnter(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req handleReq
	if !decode(s, raw, &req) {
		return nil
	}
	if id, _ := s.Character(); id == 0 {
		return nil
	}
	switch err := vh.wm.Enter(s.AccountID, req.Handle); {
	case errors.Is(err, world.ErrVehicleLocked):
		sendError(s, "vehicle is locked")
		return nil
	case err != nil:
		return nil
	}
	vh.reg.VehicleEntered(s.AccountID, req.Handle)
	return nil
}

// HandleExit takes the client out of its vehicle.
func (vh *VehicleHandlers) HandleExit(_ context.Context, s *player.PlayerSession, _ json.RawMessage) error {
	if h := vh.wm.Exit(s.AccountID); h != 0 {
		vh.reg.VehicleExited(s.AccountID, h)
	}
	return nil
}

// HandleMove updates the pose of the vehicle the client is driving.
func (vh *VehicleHandlers) HandleMove(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req vehicleMoveReq
	if !decode(s, raw, &req) {
		return nil
	}
	pose := world.Pose{Position: world.V3(req.Position), Rotation: world.V3(req.Rotation)}
	if err := vh.wm.MoveVehicle(s.AccountID, req.Handle, pose); err != nil {
		vh.logger.Debug("vehicle move ignored",
			zap.Int64("account_id", s.AccountID),
			zap.Uint32("handle", uint32(req.Handle)),
			zap.Error(err))
	}
	return nil
}

// HandleDestroyed is sent by the driver when the vehicle is wrecked.
func (vh *VehicleHandlers) HandleDestroyed(_ context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req handleReq
	if !decode(s, raw, &req) {
		return nil
	}
	if req.Handle == 0 || vh.wm.OccupiedVehicle(s.AccountID) != req.Handle {
		return nil
	}
	vh.reg.VehicleDestroyed(req.Handle)
	vh.wm.Despawn(req.Handle)
	return nil
}

// HandlePurchase buys a vehicle at a shop.
func (vh *VehicleHandlers) HandlePurchase(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req purchaseReq
	if !decode(s, raw, &req) {
		return nil
	}
	start := time.Now()
	v, err := vh.reg.TryPurchaseVehicle(ctx, s.AccountID, req.ShopID, req.Model, req.Color1, req.Color2)
	if errors.Is(err, vehicle.ErrNotFound) || errors.Is(err, vehicle.ErrNoCharacter) {
		return err
	}
	vehicleID := -1
	var resp interface{}
	if err == nil {
		vehicleID = v.ID
		resp = map[string]interface{}{"vehicle_id": v.ID, "plate": v.Plate}
	}
	vh.auditVehicle(ctx, s, audit.ActionVehiclePurchase, vehicleID, req, resp, err, start)
	return err
}

// HandleShopEnter moves the client into a shop's purchase screen.
func (vh *VehicleHandlers) HandleShopEnter(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req shopReq
	if !decode(s, raw, &req) {
		return nil
	}
	return vh.reg.TryEnterShop(ctx, s.AccountID, req.ShopID)
}

// HandleShopExit leaves a shop's purchase screen.
func (vh *VehicleHandlers) HandleShopExit(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req shopReq
	if !decode(s, raw, &req) {
		return nil
	}
	return vh.reg.TryExitShop(ctx, s.AccountID, req.ShopID)
}

// HandleSpawn brings one of the client's parked vehicles into the world.
func (vh *VehicleHandlers) HandleSpawn(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req vehicleIDReq
	if !decode(s, raw, &req) {
		return nil
	}
	return vh.reg.SpawnVehicle(ctx, s.AccountID, req.VehicleID)
}

// HandlePark parks the vehicle the client is driving.
func (vh *VehicleHandlers) HandlePark(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req vehicleIDReq
	if !decode(s, raw, &req) {
		return nil
	}
	return vh.reg.ParkVehicle(ctx, s.AccountID, req.VehicleID)
}

// HandleBuyPark buys the current spot as the vehicle's parking spot.
func (vh *VehicleHandlers) HandleBuyPark(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req vehicleIDReq
	if !decode(s, raw, &req) {
		return nil
	}
	start := time.Now()
	err := vh.reg.PurchaseParkingSpot(ctx, s.AccountID, req.VehicleID)
	if errors.Is(err, vehicle.ErrNotFound) || errors.Is(err, vehicle.ErrNoCharacter) {
		return err
	}
	var resp interface{}
	if err == nil {
		if v, ok := vh.reg.GetVehicleByID(req.VehicleID); ok {
			resp = v.Park
		}
	}
	vh.auditVehicle(ctx, s, audit.ActionParkingPurchase, req.VehicleID, req, resp, err, start)
	return err
}

// HandleLock toggles the lock of one of the client's vehicles by id.
func (vh *VehicleHandlers) HandleLock(ctx context.Context, s *player.PlayerSession, raw json.RawMessage) error {
	var req vehicleIDReq
	if !decode(s, raw, &req) {
		return nil
	}
	return vh.reg.RequestLockByID(ctx, s.AccountID, req.VehicleID)
}

// HandleLockNearest toggles the lock of the vehicle next to the client.
func (vh *VehicleHandlers) HandleLockNearest(ctx context.Context, s *player.PlayerSession, _ json.RawMessage) error {
	return vh.reg.RequestLockNearest(ctx, s.AccountID)
}

// HandleList sends the client the vehicles its character owns.
func (vh *VehicleHandlers) HandleList(_ context.Context, s *player.PlayerSession, _ json.RawMessage) error {
	charID, _ := s.Character()
	if charID == 0 {
		return nil
	}
	list := vh.reg.GetVehiclesForOwner(charID)
	if list == nil {
		list = []vehicle.Vehicle{}
	}
	s.SendJSON("vehicle_list", map[string]interface{}{"vehicles": list})
	return nil
}

func (vh *VehicleHandlers) auditVehicle(ctx context.Context, s *player.PlayerSession, action string, vehicleID int, req, resp interface{}, err error, start time.Time) {
	charID, charName := s.Character()
	vh.audit.Vehicle(TraceIDFromCtx(ctx), s.AccountID, charID, charName, action, vehicleID, req, resp, err, time.Since(start))
}
