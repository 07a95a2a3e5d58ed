package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kasuganosora/roleplay/server/audit"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/model"
	"github.com/kasuganosora/roleplay/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	sm     *player.SessionManager
	wm     *world.Manager
	reg    *vehicle.Registry
	router *Router
}

func setupEnv(t *testing.T, auditSvc *audit.Service) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	sm := player.NewSessionManager(nop())
	wm := world.NewManager(sm, nop())
	dir := player.NewDirectory(db, sm, wm, nop())
	reg := vehicle.NewRegistry(vehicle.NewGormStore(db), wm, dir, sm, nil, config.DefaultVehicle(), nil, nop())
	require.NoError(t, reg.Load(context.Background()))
	for _, sc := range config.DefaultShops() {
		reg.AddShop(vehicle.NewShop(sc))
	}

	r := NewRouter(nop())
	NewPlayerHandlers(dir, wm, nop()).RegisterHandlers(r)
	NewVehicleHandlers(reg, wm, auditSvc, nop()).RegisterHandlers(r)
	return &testEnv{db: db, sm: sm, wm: wm, reg: reg, router: r}
}

// join connects a new client and selects a freshly created character.
func (e *testEnv) join(t *testing.T, username string, money int64) (*player.PlayerSession, *model.Character) {
	t.Helper()
	acc, char := testutil.CreateCharacter(t, e.db, username, username+"_char", money)
	s := newSession(acc.ID, 0)
	e.sm.Register(s)
	e.send(t, s, "enter_game", map[string]interface{}{"char_id": char.ID})
	drain(s)
	return s, char
}

func (e *testEnv) send(t *testing.T, s *player.PlayerSession, msgType string, payload interface{}) {
	t.Helper()
	e.router.Dispatch(s, makePacket(t, 0, msgType, payload))
}

func drain(s *player.PlayerSession) []player.Packet {
	var out []player.Packet
	for {
		select {
		case data := <-s.SendChan:
			var pkt player.Packet
			if json.Unmarshal(data, &pkt) == nil {
				out = append(out, pkt)
			}
		default:
			return out
		}
	}
}

func packetsOf(pkts []player.Packet, msgType string) []player.Packet {
	var out []player.Packet
	for _, p := range pkts {
		if p.Type == msgType {
			out = append(out, p)
		}
	}
	return out
}

func notices(pkts []player.Packet) []string {
	var out []string
	for _, p := range packetsOf(pkts, "notify") {
		var body map[string]string
		_ = json.Unmarshal(p.Payload, &body)
		out = append(out, body["message"])
	}
	return out
}

func TestEnterGame_InvalidCharacter(t *testing.T) {
	e := setupEnv(t, nil)
	_, other := testutil.CreateCharacter(t, e.db, "owner", "Owner", 0)
	acc, _ := testutil.CreateCharacter(t, e.db, "intruder", "Intruder", 0)
	s := newSession(acc.ID, 0)
	e.sm.Register(s)

	e.send(t, s, "enter_game", map[string]interface{}{"char_id": other.ID})
	pkts := drain(s)
	require.Len(t, packetsOf(pkts, "error"), 1)
	id, _ := s.Character()
	assert.Zero(t, id)
}

func TestEnterGame_SendsLiveVehicles(t *testing.T) {
	e := setupEnv(t, nil)
	e.wm.SpawnVehicle(world.ModelHash("taxi"), world.Pose{}, "LSTAXI00", 0, 0, false)

	acc, char := testutil.CreateCharacter(t, e.db, "late", "Late", 0)
	s := newSession(acc.ID, 0)
	e.sm.Register(s)
	e.send(t, s, "enter_game", map[string]interface{}{"char_id": char.ID})

	pkts := drain(s)
	require.Len(t, packetsOf(pkts, "enter_game"), 1)
	spawns := packetsOf(pkts, "vehicle_spawn")
	require.Len(t, spawns, 1)
	var st world.VehicleState
	require.NoError(t, json.Unmarshal(spawns[0].Payload, &st))
	assert.Equal(t, "LSTAXI00", st.Plate)
}

func TestVehicleFlow_PurchaseSpawnBuyParkPark(t *testing.T) {
	e := setupEnv(t, nil)
	s, char := e.join(t, "alice", 0)

	// Purchase.
	e.send(t, s, "vehicle_purchase", map[string]interface{}{"shop_id": 0, "model": "sultan", "color1": 1, "color2": 2})
	events := packetsOf(drain(s), "client_event")
	require.Len(t, events, 1)
	var ev struct {
		Event string        `json:"event"`
		Args  []interface{} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &ev))
	assert.Equal(t, vehicle.EventNewVehicleAdded, ev.Event)
	require.Len(t, ev.Args, 3)
	assert.Equal(t, float64(0), ev.Args[0])
	assert.Equal(t, false, ev.Args[2])

	var row model.Vehicle
	require.NoError(t, e.db.Where("id = ?", 0).First(&row).Error)
	assert.Equal(t, char.ID, row.OwnerID)

	// Spawn.
	e.send(t, s, "vehicle_spawn", map[string]interface{}{"vehicle_id": 0})
	spawns := packetsOf(drain(s), "vehicle_spawn")
	require.Len(t, spawns, 1)
	v, ok := e.reg.GetVehicleByID(0)
	require.True(t, ok)
	require.True(t, v.Spawned)

	e.send(t, s, "vehicle_spawn", map[string]interface{}{"vehicle_id": 0})
	assert.Equal(t, []string{"This vehicle is already active!"}, notices(drain(s)))

	// Buy a parking spot: not inside, then broke, then paid.
	e.send(t, s, "vehicle_buy_park", map[string]interface{}{"vehicle_id": 0})
	assert.Equal(t, []string{"You have to be inside the vehicle to buy a parking spot!"}, notices(drain(s)))

	e.send(t, s, "vehicle_enter", map[string]interface{}{"handle": v.Handle})
	assert.Equal(t, v.Handle, e.wm.OccupiedVehicle(s.AccountID))
	e.send(t, s, "vehicle_move", map[string]interface{}{"handle": v.Handle, "position": []float64{50, 60, 70}, "rotation": []float64{0, 0, 90}})

	e.send(t, s, "vehicle_buy_park", map[string]interface{}{"vehicle_id": 0})
	assert.Equal(t, []string{"You don't have enough money to buy a parking spot!"}, notices(drain(s)))

	require.NoError(t, e.db.Model(&model.Character{}).Where("id = ?", char.ID).Update("money", 10000).Error)
	e.send(t, s, "vehicle_buy_park", map[string]interface{}{"vehicle_id": 0})
	assert.Equal(t, []string{"Parking spot updated!"}, notices(drain(s)))

	var reloaded model.Character
	require.NoError(t, e.db.First(&reloaded, char.ID).Error)
	assert.Equal(t, int64(0), reloaded.Money)
	require.NoError(t, e.db.Where("id = ?", 0).First(&row).Error)
	assert.Equal(t, 50.0, row.ParkX)
	assert.Equal(t, 90.0, row.ParkRotZ)

	// Park where the spot now is.
	e.send(t, s, "vehicle_park", map[string]interface{}{"vehicle_id": 0})
	assert.Len(t, packetsOf(drain(s), "vehicle_despawn"), 1)
	v, _ = e.reg.GetVehicleByID(0)
	assert.False(t, v.Spawned)
	assert.Zero(t, e.wm.OccupiedVehicle(s.AccountID))
}

func TestVehicleLock_ByIDBlocksEntry(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	owner, char := e.join(t, "bob", 0)
	thief, _ := e.join(t, "eve", 0)

	id, err := e.reg.CreateVehicle(ctx, char.ID, 0, world.ModelHash("adder"), world.Pose{Position: world.Vec3{X: 1}}, "LSBOB000", 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.reg.SpawnVehicle(ctx, owner.AccountID, id))
	drain(owner)
	drain(thief)

	e.send(t, owner, "vehicle_lock", map[string]interface{}{"vehicle_id": id})
	pkts := drain(owner)
	assert.Equal(t, []string{"Vehicle locked"}, notices(pkts))
	assert.Len(t, packetsOf(pkts, "vehicle_lock_state"), 1)

	v, _ := e.reg.GetVehicleByID(id)
	e.send(t, thief, "vehicle_enter", map[string]interface{}{"handle": v.Handle})
	assert.Len(t, packetsOf(drain(thief), "error"), 1)
	assert.Zero(t, e.wm.OccupiedVehicle(thief.AccountID))

	// The thief cannot unlock it either, and hears nothing.
	e.send(t, thief, "vehicle_lock_nearest", nil)
	assert.Empty(t, notices(drain(thief)))
	v, _ = e.reg.GetVehicleByID(id)
	assert.True(t, v.Locked)

	e.send(t, owner, "vehicle_lock_nearest", nil)
	assert.Equal(t, []string{"Vehicle unlocked"}, notices(drain(owner)))
}

func TestVehicleDestroyed_DriverOnly(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	s, char := e.join(t, "carl", 0)
	other, _ := e.join(t, "dan", 0)

	id, err := e.reg.CreateVehicle(ctx, char.ID, 0, 1, world.Pose{}, "LSCARL00", 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.reg.SpawnVehicle(ctx, s.AccountID, id))
	v, _ := e.reg.GetVehicleByID(id)

	e.send(t, other, "vehicle_destroyed", map[string]interface{}{"handle": v.Handle})
	v, _ = e.reg.GetVehicleByID(id)
	assert.True(t, v.Spawned)

	e.send(t, s, "vehicle_enter", map[string]interface{}{"handle": v.Handle})
	e.send(t, s, "vehicle_destroyed", map[string]interface{}{"handle": v.Handle})
	v, _ = e.reg.GetVehicleByID(id)
	assert.False(t, v.Spawned)
	assert.Equal(t, 0, e.wm.VehicleCount())
}

func TestVehicleEnterExit_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	s, char := e.join(t, "fay", 0)
	id, err := e.reg.CreateVehicle(ctx, char.ID, 0, 1, world.Pose{}, "LSFAY000", 0, 0)
	require.NoError(t, err)
	require.NoError(t, e.reg.SpawnVehicle(ctx, s.AccountID, id))
	v, _ := e.reg.GetVehicleByID(id)

	var got []string
	e.reg.Bus().Entered.Subscribe(func(ev vehicle.Entered) { got = append(got, "entered") })
	e.reg.Bus().Exited.Subscribe(func(ev vehicle.Exited) { got = append(got, "exited") })

	e.send(t, s, "vehicle_enter", map[string]interface{}{"handle": v.Handle})
	e.send(t, s, "vehicle_exit", nil)
	e.send(t, s, "vehicle_exit", nil)
	assert.Equal(t, []string{"entered", "exited"}, got)
}

func TestVehicleList(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	s, char := e.join(t, "gus", 0)
	_, err := e.reg.CreateVehicle(ctx, char.ID, 0, 1, world.Pose{}, "LSGUS000", 0, 0)
	require.NoError(t, err)
	_, err = e.reg.CreateVehicle(ctx, char.ID+100, 0, 1, world.Pose{}, "LSNOTGUS", 0, 0)
	require.NoError(t, err)

	e.send(t, s, "vehicle_list", nil)
	lists := packetsOf(drain(s), "vehicle_list")
	require.Len(t, lists, 1)
	var body struct {
		Vehicles []vehicle.Vehicle `json:"vehicles"`
	}
	require.NoError(t, json.Unmarshal(lists[0].Payload, &body))
	require.Len(t, body.Vehicles, 1)
	assert.Equal(t, "LSGUS000", body.Vehicles[0].Plate)
}

func TestVehiclePurchase_Audited(t *testing.T) {
	db := testutil.SetupTestDB(t)
	auditSvc := audit.New(db, nop())
	e := setupEnv(t, auditSvc)
	s, _ := e.join(t, "hal", 0)

	e.send(t, s, "vehicle_purchase", map[string]interface{}{"shop_id": 0, "model": "sultan"})
	e.send(t, s, "vehicle_purchase", map[string]interface{}{"shop_id": 99, "model": "sultan"})
	auditSvc.Stop(context.Background())

	var logs []model.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1, "unknown shop is a no-op")
	assert.Equal(t, audit.ActionVehiclePurchase, logs[0].Action)
	require.NotNil(t, logs[0].VehicleID)
	assert.Equal(t, 0, *logs[0].VehicleID)
	assert.NotEmpty(t, logs[0].TraceID)
}

func TestShopEnterExit(t *testing.T) {
	e := setupEnv(t, nil)
	s, _ := e.join(t, "ivy", 0)
	shop, ok := e.reg.Shop(0)
	require.True(t, ok)

	e.send(t, s, "vehicle_shop_enter", map[string]interface{}{"shop_id": 0})
	assert.Equal(t, []string{"You need to be at the shop entrance!"}, notices(drain(s)))

	e.wm.SetCharacterPose(s.AccountID, world.Pose{Position: shop.Entrance})
	e.send(t, s, "vehicle_shop_enter", map[string]interface{}{"shop_id": 0})
	assert.Len(t, packetsOf(drain(s), "client_event"), 1)
	pose, _ := e.wm.CharacterPose(s.AccountID)
	assert.Equal(t, shop.Stand, pose)

	e.send(t, s, "vehicle_shop_exit", map[string]interface{}{"shop_id": 0})
	pose, _ = e.wm.CharacterPose(s.AccountID)
	assert.Equal(t, shop.Exit, pose)
}
