package vehicle

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"testing"

	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/model"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

type memStore struct {
	mu         sync.Mutex
	rows       map[int]model.Vehicle
	failInsert bool
	failUpdate bool
	failLoadAt int // fail after yielding this many rows; -1 disables
	loads      int
}

func newMemStore(rows ...model.Vehicle) *memStore {
	s := &memStore{rows: make(map[int]model.Vehicle), failLoadAt: -1}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *memStore) IsEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows) == 0, nil
}

func (s *memStore) MaxID(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxID := 0
	for id := range s.rows {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (s *memStore) InsertVehicle(ctx context.Context, row *model.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return persistenceErr("insert vehicle", errStoreDown)
	}
	if _, dup := s.rows[row.ID]; dup {
		return persistenceErr("insert vehicle", errors.New("primary key"))
	}
	s.rows[row.ID] = *row
	return nil
}

func (s *memStore) UpdateParkPose(ctx context.Context, id int, pose world.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return persistenceErr("update park pose", errStoreDown)
	}
	r, ok := s.rows[id]
	if !ok {
		return persistenceErr("update park pose", errors.New("no row"))
	}
	r.ParkX, r.ParkY, r.ParkZ = pose.Position.X, pose.Position.Y, pose.Position.Z
	r.ParkRotX, r.ParkRotY, r.ParkRotZ = pose.Rotation.X, pose.Rotation.Y, pose.Rotation.Z
	s.rows[id] = r
	return nil
}

func (s *memStore) LoadAllVehicles(ctx context.Context) iter.Seq2[model.Vehicle, error] {
	s.mu.Lock()
	s.loads++
	rows := make([]model.Vehicle, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	failAt := s.failLoadAt
	s.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return func(yield func(model.Vehicle, error) bool) {
		for i, r := range rows {
			if i == failAt {
				yield(model.Vehicle{}, persistenceErr("load vehicles", errStoreDown))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *memStore) row(id int) (model.Vehicle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

type fakeWorld struct {
	mu        sync.Mutex
	next      world.Handle
	vehicles  map[world.Handle]world.Pose
	locked    map[world.Handle]bool
	occupants map[int64]world.Handle
	chars     map[int64]world.Pose
	spawns    int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		vehicles:  make(map[world.Handle]world.Pose),
		locked:    make(map[world.Handle]bool),
		occupants: make(map[int64]world.Handle),
		chars:     make(map[int64]world.Pose),
	}
}

func (w *fakeWorld) SpawnVehicle(model uint32, pose world.Pose, plate string, c1, c2 int, locked bool) world.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	w.spawns++
	w.vehicles[w.next] = pose
	w.locked[w.next] = locked
	return w.next
}

func (w *fakeWorld) Despawn(h world.Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.vehicles, h)
	delete(w.locked, h)
	for c, occ := range w.occupants {
		if occ == h {
			delete(w.occupants, c)
		}
	}
}

func (w *fakeWorld) VehiclePose(h world.Handle) (world.Pose, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.vehicles[h]
	return p, ok
}

func (w *fakeWorld) OccupiedVehicle(clientID int64) world.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.occupants[clientID]
}

func (w *fakeWorld) SetLocked(h world.Handle, locked bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked[h] = locked
}

func (w *fakeWorld) SetCharacterPose(clientID int64, pose world.Pose) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chars[clientID] = pose
}

func (w *fakeWorld) enter(clientID int64, h world.Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.occupants[clientID] = h
}

func (w *fakeWorld) move(h world.Handle, pos world.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p := w.vehicles[h]
	p.Position = pos
	w.vehicles[h] = p
}

func (w *fakeWorld) live() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.vehicles)
}

type fakeChars struct {
	mu       sync.Mutex
	byClient map[int64]*Character
	failPay  bool
}

func newFakeChars() *fakeChars {
	return &fakeChars{byClient: make(map[int64]*Character)}
}

// add registers a character for clientID; the client id doubles as the account id.
func (f *fakeChars) add(clientID, charID int64, money int64) *Character {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Character{ID: charID, AccountID: clientID, Name: "char", Money: money}
	f.byClient[clientID] = c
	return c
}

func (f *fakeChars) ActiveCharacter(ctx context.Context, clientID int64) (Character, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byClient[clientID]
	if !ok {
		return Character{}, false
	}
	return *c, true
}

func (f *fakeChars) AccountOf(ctx context.Context, charID int64) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byClient {
		if c.ID == charID {
			return c.AccountID, true
		}
	}
	return 0, false
}

func (f *fakeChars) AdjustMoney(ctx context.Context, charID int64, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPay {
		return persistenceErr("adjust money", errStoreDown)
	}
	for _, c := range f.byClient {
		if c.ID == charID {
			if c.Money+delta < 0 {
				return ErrInsufficientFunds
			}
			c.Money += delta
			return nil
		}
	}
	return ErrInsufficientFunds
}

func (f *fakeChars) money(clientID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byClient[clientID].Money
}

func (f *fakeChars) setPosition(clientID int64, pos world.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byClient[clientID].Position = pos
}

type sentEvent struct {
	clientID int64
	event    string
	args     []interface{}
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
	events   []sentEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: make(map[int64][]string)}
}

func (n *fakeNotifier) Notify(clientID int64, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[clientID] = append(n.messages[clientID], message)
}

func (n *fakeNotifier) SendEvent(clientID int64, event string, args ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{clientID, event, args})
}

func (n *fakeNotifier) last(clientID int64) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	msgs := n.messages[clientID]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func (n *fakeNotifier) count(clientID int64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages[clientID])
}

type fixture struct {
	reg   *Registry
	store *memStore
	world *fakeWorld
	chars *fakeChars
	note  *fakeNotifier
}

func newFixture(t *testing.T, rows ...model.Vehicle) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(rows...),
		world: newFakeWorld(),
		chars: newFakeChars(),
		note:  newFakeNotifier(),
	}
	f.reg = NewRegistry(f.store, f.world, f.chars, f.note, nil, config.DefaultVehicle(), nil, zap.NewNop())
	if err := f.reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return f
}

// ownedSpawned creates a vehicle for charID parked at park and spawns it.
func (f *fixture) ownedSpawned(t *testing.T, clientID, charID int64, park world.Vec3) Vehicle {
	t.Helper()
	ctx := context.Background()
	plate := f.reg.GenerateUnusedLicensePlate()
	id, err := f.reg.CreateVehicle(ctx, charID, 0, world.ModelHash("sultan"), world.Pose{Position: park}, plate, 1, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.reg.SpawnVehicle(ctx, clientID, id); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	v, _ := f.reg.GetVehicleByID(id)
	return v
}
