package vehicle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/metrics"
	"go.uber.org/zap"
)

const plateAlphabet = "QWERTYUIOPASDFGHJKLZXCVBNM1234567890"

// Registry owns every vehicle and vehicle shop. All vehicle mutation goes
// through it; one mutex serializes id allocation, plate checks and state
// transitions.
type Registry struct {
	mu       sync.Mutex
	vehicles []*Vehicle
	byID     map[int]*Vehicle
	byPlate  map[string]*Vehicle
	reserved map[string]struct{}
	shops    map[int]*Shop
	nextID   int

	store   Store
	world   World
	chars   Characters
	notify  Notifier
	bus     *Bus
	cfg     config.VehicleConfig
	rng     *rand.Rand
	metrics *metrics.Vehicles
	logger  *zap.Logger
}

// NewRegistry creates an empty Registry. Call Load before serving requests.
// bus and m may be nil.
func NewRegistry(
	store Store,
	w World,
	chars Characters,
	notify Notifier,
	bus *Bus,
	cfg config.VehicleConfig,
	m *metrics.Vehicles,
	logger *zap.Logger,
) *Registry {
	if bus == nil {
		bus = NewBus()
	}
	if cfg.PlateLength <= 0 {
		cfg.PlateLength = config.DefaultVehicle().PlateLength
	}
	return &Registry{
		byID:     make(map[int]*Vehicle),
		byPlate:  make(map[string]*Vehicle),
		reserved: make(map[string]struct{}),
		shops:    make(map[int]*Shop),
		store:    store,
		world:    w,
		chars:    chars,
		notify:   notify,
		bus:      bus,
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		metrics:  m,
		logger:   logger,
	}
}

// Bus returns the event bus the registry publishes to.
func (r *Registry) Bus() *Bus { return r.bus }

// Load reads every persisted vehicle, places it in the world and computes the
// next id. Nothing is registered if storage fails part way.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := 0
	empty, err := r.store.IsEmpty(ctx)
	if err != nil {
		return err
	}
	if !empty {
		maxID, err := r.store.MaxID(ctx)
		if err != nil {
			return err
		}
		next = maxID + 1
	}

	var loaded []*Vehicle
	seenID := make(map[int]bool)
	seenPlate := make(map[string]bool)
	for row, err := range r.store.LoadAllVehicles(ctx) {
		if err != nil {
			return err
		}
		v := fromRow(row)
		if seenID[v.ID] || r.byID[v.ID] != nil {
			return fmt.Errorf("%w: id %d", ErrDuplicateID, v.ID)
		}
		if seenPlate[v.Plate] || r.byPlate[v.Plate] != nil {
			return fmt.Errorf("%w: %q", ErrDuplicatePlate, v.Plate)
		}
		seenID[v.ID] = true
		seenPlate[v.Plate] = true
		if v.ID >= next {
			next = v.ID + 1
		}
		loaded = append(loaded, v)
	}

	for _, v := range loaded {
		v.Handle = r.world.SpawnVehicle(v.Model, v.Park, v.Plate, v.Color1, v.Color2, v.Locked)
		v.Spawned = true
		r.insertLocked(v)
		r.metrics.Spawned(true)
	}
	if next > r.nextID {
		r.nextID = next
	}
	r.logger.Info("vehicles loaded", zap.Int("count", len(loaded)), zap.Int("next_id", r.nextID))
	return nil
}

func (r *Registry) insertLocked(v *Vehicle) {
	r.vehicles = append(r.vehicles, v)
	r.byID[v.ID] = v
	r.byPlate[v.Plate] = v
}

// NextID returns the id the next CreateVehicle call will use.
func (r *Registry) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// Count returns the number of registered vehicles.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vehicles)
}

// CreateVehicle persists and registers a new, unspawned vehicle and returns its id.
func (r *Registry) CreateVehicle(ctx context.Context, ownerID int64, factionID int, model uint32, park world.Pose, plate string, color1, color2 int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.createLocked(ctx, ownerID, factionID, model, park, plate, color1, color2, true)
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

// createLocked registers a new vehicle. With claim set, a reserved plate is
// consumed; otherwise a reserved plate is refused like a used one.
func (r *Registry) createLocked(ctx context.Context, ownerID int64, factionID int, model uint32, park world.Pose, plate string, color1, color2 int, claim bool) (*Vehicle, error) {
	if _, taken := r.byPlate[plate]; taken {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePlate, plate)
	}
	if _, held := r.reserved[plate]; held && !claim {
		return nil, fmt.Errorf("%w: %q is reserved", ErrDuplicatePlate, plate)
	}
	id := r.nextID
	if _, taken := r.byID[id]; taken {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}

	v := &Vehicle{
		ID:        id,
		OwnerID:   ownerID,
		FactionID: factionID,
		Model:     model,
		Park:      park,
		Color1:    color1,
		Color2:    color2,
		Plate:     plate,
	}
	row := v.row()
	if err := r.store.InsertVehicle(ctx, &row); err != nil {
		return nil, err
	}

	r.insertLocked(v)
	delete(r.reserved, plate)
	r.nextID++
	r.metrics.Created()
	r.logger.Info("vehicle created",
		zap.Int("vehicle_id", id),
		zap.Int64("owner_id", ownerID),
		zap.String("plate", plate))
	return v, nil
}

// GenerateUnusedLicensePlate returns a plate no vehicle uses. The plate stays
// reserved until CreateVehicle consumes it or ReleasePlate frees it.
func (r *Registry) GenerateUnusedLicensePlate() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	plate := r.unusedPlateLocked()
	r.reserved[plate] = struct{}{}
	return plate
}

// unusedPlateLocked picks a plate that is neither used nor reserved.
func (r *Registry) unusedPlateLocked() string {
	for {
		plate := r.randomPlate()
		if _, taken := r.byPlate[plate]; taken {
			continue
		}
		if _, taken := r.reserved[plate]; taken {
			continue
		}
		return plate
	}
}

// ReleasePlate frees a plate reserved by GenerateUnusedLicensePlate.
func (r *Registry) ReleasePlate(plate string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, plate)
}

func (r *Registry) randomPlate() string {
	var b strings.Builder
	b.Grow(len(r.cfg.PlatePrefix) + r.cfg.PlateLength)
	b.WriteString(r.cfg.PlatePrefix)
	for i := 0; i < r.cfg.PlateLength; i++ {
		b.WriteByte(plateAlphabet[r.rng.IntN(len(plateAlphabet))])
	}
	return b.String()
}

// GetVehicleByID returns the vehicle with id.
func (r *Registry) GetVehicleByID(id int) (Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}

// GetVehicleByPlate returns the vehicle carrying plate.
func (r *Registry) GetVehicleByPlate(plate string) (Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byPlate[plate]
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}

// GetVehiclesForOwner returns every vehicle owned by charID, by id.
func (r *Registry) GetVehiclesForOwner(charID int64) []Vehicle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Vehicle
	for _, v := range r.vehicles {
		if v.OwnerID == charID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetNearestVehicle returns the spawned vehicle closest to pos. Parked
// vehicles have no world presence and are skipped.
func (r *Registry) GetNearestVehicle(pos world.Vec3) (Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, _, ok := r.nearestLocked(pos)
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}

func (r *Registry) nearestLocked(pos world.Vec3) (*Vehicle, float64, bool) {
	var best *Vehicle
	bestDist := 0.0
	for _, v := range r.vehicles {
		if !v.Spawned {
			continue
		}
		p, ok := r.world.VehiclePose(v.Handle)
		if !ok {
			continue
		}
		if d := pos.DistanceTo(p.Position); best == nil || d < bestDist {
			best, bestDist = v, d
		}
	}
	return best, bestDist, best != nil
}

// VehicleForClient returns the registered vehicle clientID is sitting in.
func (r *Registry) VehicleForClient(clientID int64) (Vehicle, bool) {
	h := r.world.OccupiedVehicle(clientID)
	if h == 0 {
		return Vehicle{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v := r.byHandleLocked(h); v != nil {
		return *v, true
	}
	return Vehicle{}, false
}

func (r *Registry) byHandleLocked(h world.Handle) *Vehicle {
	for _, v := range r.vehicles {
		if v.Spawned && v.Handle == h {
			return v
		}
	}
	return nil
}

// VehicleEntered relays a world notification that clientID got into h.
func (r *Registry) VehicleEntered(clientID int64, h world.Handle) {
	r.bus.Entered.Publish(Entered{ClientID: clientID, Handle: h})
}

// VehicleExited relays a world notification that clientID left h.
func (r *Registry) VehicleExited(clientID int64, h world.Handle) {
	r.bus.Exited.Publish(Exited{ClientID: clientID, Handle: h})
}

// VehicleDestroyed relays a world notification that h was destroyed. The
// owning vehicle, if any, becomes unspawned so it can be requested again.
func (r *Registry) VehicleDestroyed(h world.Handle) {
	r.mu.Lock()
	if v := r.byHandleLocked(h); v != nil {
		v.Spawned = false
		v.Handle = 0
		r.metrics.Despawned(false)
		r.logger.Info("vehicle destroyed", zap.Int("vehicle_id", v.ID))
	}
	r.mu.Unlock()
	r.bus.Destroyed.Publish(Destroyed{Handle: h})
}
