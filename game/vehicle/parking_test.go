package vehicle

import (
	"context"
	"testing"

	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnVehicle_TwiceReportsAlreadyActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 0)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})
	spawns := f.world.spawns

	err := f.reg.SpawnVehicle(ctx, 10, v.ID)
	assert.ErrorIs(t, err, ErrAlreadyActive)
	assert.Equal(t, msgAlreadyActive, f.note.last(10))
	assert.Equal(t, spawns, f.world.spawns, "no second handle")

	cur, _ := f.reg.GetVehicleByID(v.ID)
	assert.Equal(t, v.Handle, cur.Handle)
}

func TestSpawnVehicle_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 0)
	f.chars.add(20, 200, 0)
	id, err := f.reg.CreateVehicle(ctx, 100, 0, 1, world.Pose{}, "LSOWNED0", 0, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, f.reg.SpawnVehicle(ctx, 99, id), ErrNoCharacter)
	assert.ErrorIs(t, f.reg.SpawnVehicle(ctx, 10, 12345), ErrNotFound)
	assert.ErrorIs(t, f.reg.SpawnVehicle(ctx, 20, id), ErrNotOwner)
	assert.Zero(t, f.note.count(20), "not-owner spawn is silent")
	assert.Zero(t, f.world.live())
}

func TestSpawnThenPark_RestoresParked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 0)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{X: 10, Y: 10})
	f.world.enter(10, v.Handle)
	f.world.move(v.Handle, world.Vec3{X: 12, Y: 10})

	require.NoError(t, f.reg.ParkVehicle(ctx, 10, v.ID))
	cur, _ := f.reg.GetVehicleByID(v.ID)
	assert.False(t, cur.Spawned)
	assert.Zero(t, cur.Handle)
	assert.Equal(t, int64(100), cur.OwnerID)
	assert.Zero(t, f.world.live())

	require.NoError(t, f.reg.SpawnVehicle(ctx, 10, v.ID))
	cur, _ = f.reg.GetVehicleByID(v.ID)
	assert.True(t, cur.Spawned)
}

func TestParkVehicle_AtExactDistance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 0)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})
	f.world.enter(10, v.Handle)
	f.world.move(v.Handle, world.Vec3{X: 3})

	assert.NoError(t, f.reg.ParkVehicle(ctx, 10, v.ID))
}

func TestParkVehicle_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 0)
	f.chars.add(20, 200, 0)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})

	err := f.reg.ParkVehicle(ctx, 10, v.ID)
	assert.ErrorIs(t, err, ErrNotInVehicle)
	assert.Equal(t, msgParkNotInVehicle, f.note.last(10))

	f.world.enter(10, v.Handle)
	f.world.move(v.Handle, world.Vec3{X: 3.5})
	err = f.reg.ParkVehicle(ctx, 10, v.ID)
	assert.ErrorIs(t, err, ErrTooFar)
	assert.Equal(t, msgParkTooFar, f.note.last(10))

	f.world.enter(20, v.Handle)
	assert.ErrorIs(t, f.reg.ParkVehicle(ctx, 20, v.ID), ErrNotOwner)
	assert.Zero(t, f.note.count(20))

	cur, _ := f.reg.GetVehicleByID(v.ID)
	assert.True(t, cur.Spawned)
}

func TestPurchaseParkingSpot_ExactFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 10000)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})
	f.world.enter(10, v.Handle)
	newSpot := world.Vec3{X: 300, Y: -20, Z: 4}
	f.world.move(v.Handle, newSpot)

	require.NoError(t, f.reg.PurchaseParkingSpot(ctx, 10, v.ID))
	assert.Equal(t, int64(0), f.chars.money(10))
	assert.Equal(t, msgSpotUpdated, f.note.last(10))

	cur, _ := f.reg.GetVehicleByID(v.ID)
	assert.Equal(t, newSpot, cur.Park.Position)
	row, ok := f.store.row(v.ID)
	require.True(t, ok)
	assert.Equal(t, 300.0, row.ParkX)
	assert.Equal(t, -20.0, row.ParkY)
}

func TestPurchaseParkingSpot_OneShort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 9999)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})
	f.world.enter(10, v.Handle)
	f.world.move(v.Handle, world.Vec3{X: 300})

	err := f.reg.PurchaseParkingSpot(ctx, 10, v.ID)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(9999), f.chars.money(10))
	assert.Equal(t, msgBuyNoMoney, f.note.last(10))

	cur, _ := f.reg.GetVehicleByID(v.ID)
	assert.Equal(t, world.Vec3{}, cur.Park.Position)
}

func TestPurchaseParkingSpot_NotOwnerAndNotInside(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 50000)
	f.chars.add(20, 200, 50000)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})

	err := f.reg.PurchaseParkingSpot(ctx, 10, v.ID)
	assert.ErrorIs(t, err, ErrNotInVehicle)
	assert.Equal(t, msgBuyNotInVehicle, f.note.last(10))

	f.world.enter(20, v.Handle)
	err = f.reg.PurchaseParkingSpot(ctx, 20, v.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Equal(t, msgNotOwner, f.note.last(20))

	assert.Equal(t, int64(50000), f.chars.money(10))
	assert.Equal(t, int64(50000), f.chars.money(20))
}

func TestPurchaseParkingSpot_PersistenceFailureRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chars.add(10, 100, 20000)
	v := f.ownedSpawned(t, 10, 100, world.Vec3{})
	f.world.enter(10, v.Handle)
	f.world.move(v.Handle, world.Vec3{X: 300})
	f.store.failUpdate = true

	err := f.reg.PurchaseParkingSpot(ctx, 10, v.ID)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.False(t, IsRejection(err))
	assert.Equal(t, int64(20000), f.chars.money(10))

	cur, _ := f.reg.GetVehicleByID(v.ID)
	assert.Equal(t, world.Vec3{}, cur.Park.Position)
	assert.NotEqual(t, msgSpotUpdated, f.note.last(10))
}
