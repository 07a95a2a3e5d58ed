package vehicle

import (
	"context"

	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/model"
)

// Vehicle is a snapshot of one registry entry. Handle is only meaningful
// while Spawned is true.
type Vehicle struct {
	ID        int          `json:"id"`
	OwnerID   int64        `json:"owner_id"`
	FactionID int          `json:"faction_id"`
	Model     uint32       `json:"model"`
	Park      world.Pose   `json:"park"`
	Color1    int          `json:"color1"`
	Color2    int          `json:"color2"`
	Plate     string       `json:"plate"`
	Locked    bool         `json:"locked"`
	Spawned   bool         `json:"spawned"`
	Handle    world.Handle `json:"handle,omitempty"`
}

func fromRow(r model.Vehicle) *Vehicle {
	return &Vehicle{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		FactionID: r.FactionID,
		Model:     r.Model,
		Park: world.Pose{
			Position: world.Vec3{X: r.ParkX, Y: r.ParkY, Z: r.ParkZ},
			Rotation: world.Vec3{X: r.ParkRotX, Y: r.ParkRotY, Z: r.ParkRotZ},
		},
		Color1: r.Color1,
		Color2: r.Color2,
		Plate:  r.PlateText,
	}
}

func (v *Vehicle) row() model.Vehicle {
	return model.Vehicle{
		ID:        v.ID,
		OwnerID:   v.OwnerID,
		FactionID: v.FactionID,
		Model:     v.Model,
		ParkX:     v.Park.Position.X,
		ParkY:     v.Park.Position.Y,
		ParkZ:     v.Park.Position.Z,
		ParkRotX:  v.Park.Rotation.X,
		ParkRotY:  v.Park.Rotation.Y,
		ParkRotZ:  v.Park.Rotation.Z,
		PlateText: v.Plate,
		Color1:    v.Color1,
		Color2:    v.Color2,
	}
}

// Character is the identity collaborator's view of the character a client
// is currently playing.
type Character struct {
	ID        int64
	AccountID int64
	Name      string
	Money     int64
	FactionID int
	OnDuty    bool
	Position  world.Vec3
}

// Characters resolves clients to characters and moves money.
type Characters interface {
	// ActiveCharacter returns the character clientID is playing, if any.
	ActiveCharacter(ctx context.Context, clientID int64) (Character, bool)
	// AccountOf returns the account that owns charID.
	AccountOf(ctx context.Context, charID int64) (int64, bool)
	// AdjustMoney adds delta to the character's money. It returns
	// ErrInsufficientFunds if the balance would go negative.
	AdjustMoney(ctx context.Context, charID int64, delta int64) error
}

// World is the live game world.
type World interface {
	SpawnVehicle(model uint32, pose world.Pose, plate string, color1, color2 int, locked bool) world.Handle
	Despawn(h world.Handle)
	VehiclePose(h world.Handle) (world.Pose, bool)
	OccupiedVehicle(clientID int64) world.Handle
	SetLocked(h world.Handle, locked bool)
	SetCharacterPose(clientID int64, pose world.Pose)
}

// Notifier delivers messages to a client.
type Notifier interface {
	Notify(clientID int64, message string)
	SendEvent(clientID int64, event string, args ...interface{})
}

// Client events.
const (
	EventNewVehicleAdded  = "EVENT_NEW_VEHICLE_ADDED"
	EventEnterVehicleShop = "EVENT_ENTER_VEHICLE_SHOP"
	EventExitVehicleShop  = "EVENT_EXIT_VEHICLE_SHOP"
)

// Notification texts.
const (
	msgAlreadyActive    = "This vehicle is already active!"
	msgParkNotInVehicle = "You need to be in the vehicle you want to park!"
	msgParkTooFar       = "You have to be close to the parking spot in order to park the vehicle!"
	msgNotOwner         = "You are not the owner of the vehicle!"
	msgBuyNotInVehicle  = "You have to be inside the vehicle to buy a parking spot!"
	msgBuyNoMoney       = "You don't have enough money to buy a parking spot!"
	msgSpotUpdated      = "Parking spot updated!"
	msgNeedsActive      = "Vehicle needs to be active!"
	msgLockTooFar       = "You need to be closer to the vehicle"
	msgLocked           = "Vehicle locked"
	msgUnlocked         = "Vehicle unlocked"
	msgShopNoMoney      = "You don't have enough money to buy this vehicle!"
	msgShopNotSold      = "This vehicle is not sold here!"
	msgShopTooFar       = "You need to be at the shop entrance!"
)
