package world

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Handle references a live vehicle object in the world. Zero means none.
type Handle uint32

var (
	ErrNoSuchHandle  = errors.New("world: no such vehicle")
	ErrVehicleLocked = errors.New("world: vehicle is locked")
	ErrNotDriver     = errors.New("world: not inside that vehicle")
)

// Broadcaster pushes a packet to every connected client.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// VehicleState is the public snapshot of one live vehicle.
type VehicleState struct {
	Handle Handle `json:"handle"`
	Model  uint32 `json:"model"`
	Pose   Pose   `json:"pose"`
	Plate  string `json:"plate"`
	Color1 int    `json:"color1"`
	Color2 int    `json:"color2"`
	Locked bool   `json:"locked"`
}

// Manager is the server-side model of the game world: live vehicle handles,
// character poses and who is sitting in what.
type Manager struct {
	mu        sync.RWMutex
	next      Handle
	vehicles  map[Handle]*VehicleState
	occupants map[int64]Handle // clientID → vehicle
	poses     map[int64]Pose   // clientID → character pose
	bc        Broadcaster
	logger    *zap.Logger
}

// NewManager creates a Manager. bc may be nil.
func NewManager(bc Broadcaster, logger *zap.Logger) *Manager {
	return &Manager{
		vehicles:  make(map[Handle]*VehicleState),
		occupants: make(map[int64]Handle),
		poses:     make(map[int64]Pose),
		bc:        bc,
		logger:    logger,
	}
}

func (m *Manager) broadcast(msgType string, payload interface{}) {
	if m.bc != nil {
		m.bc.Broadcast(msgType, payload)
	}
}

// SpawnVehicle materializes a vehicle and returns its handle.
func (m *Manager) SpawnVehicle(model uint32, pose Pose, plate string, color1, color2 int, locked bool) Handle {
	m.mu.Lock()
	m.next++
	st := &VehicleState{
		Handle: m.next,
		Model:  model,
		Pose:   pose,
		Plate:  plate,
		Color1: color1,
		Color2: color2,
		Locked: locked,
	}
	m.vehicles[st.Handle] = st
	snap := *st
	m.mu.Unlock()

	m.logger.Debug("vehicle spawned", zap.Uint32("handle", uint32(snap.Handle)), zap.String("plate", plate))
	m.broadcast("vehicle_spawn", snap)
	return snap.Handle
}

// Despawn removes a vehicle. Occupants are ejected. Unknown handles are ignored.
func (m *Manager) Despawn(h Handle) {
	m.mu.Lock()
	if _, ok := m.vehicles[h]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.vehicles, h)
	for cid, occ := range m.occupants {
		if occ == h {
			delete(m.occupants, cid)
		}
	}
	m.mu.Unlock()

	m.broadcast("vehicle_despawn", map[string]interface{}{"handle": h})
}

// VehiclePose returns the current pose of a live vehicle.
func (m *Manager) VehiclePose(h Handle) (Pose, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.vehicles[h]
	if !ok {
		return Pose{}, false
	}
	return st.Pose, true
}

// SetLocked updates the door lock state of a live vehicle.
func (m *Manager) SetLocked(h Handle, locked bool) {
	m.mu.Lock()
	st, ok := m.vehicles[h]
	if ok {
		st.Locked = locked
	}
	m.mu.Unlock()
	if ok {
		m.broadcast("vehicle_lock_state", map[string]interface{}{"handle": h, "locked": locked})
	}
}

// Enter seats clientID in vehicle h. Locked vehicles cannot be entered.
func (m *Manager) Enter(clientID int64, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.vehicles[h]
	if !ok {
		return ErrNoSuchHandle
	}
	if st.Locked {
		return ErrVehicleLocked
	}
	m.occupants[clientID] = h
	m.poses[clientID] = st.Pose
	return nil
}

// Exit removes clientID from whatever vehicle it occupies and returns that handle.
func (m *Manager) Exit(clientID int64) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.occupants[clientID]
	delete(m.occupants, clientID)
	return h
}

// OccupiedVehicle returns the vehicle clientID is sitting in, or zero.
func (m *Manager) OccupiedVehicle(clientID int64) Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.occupants[clientID]
}

// MoveVehicle updates a vehicle pose on behalf of its occupant. The occupant's
// own pose follows the vehicle.
func (m *Manager) MoveVehicle(clientID int64, h Handle, pose Pose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.vehicles[h]
	if !ok {
		return ErrNoSuchHandle
	}
	if m.occupants[clientID] != h {
		return ErrNotDriver
	}
	st.Pose = pose
	for cid, occ := range m.occupants {
		if occ == h {
			m.poses[cid] = pose
		}
	}
	return nil
}

// CharacterPose returns the last known pose of clientID's character.
func (m *Manager) CharacterPose(clientID int64) (Pose, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.poses[clientID]
	return p, ok
}

// SetCharacterPose places clientID's character at pose.
func (m *Manager) SetCharacterPose(clientID int64, pose Pose) {
	m.mu.Lock()
	m.poses[clientID] = pose
	m.mu.Unlock()
}

// RemoveCharacter forgets clientID (disconnect).
func (m *Manager) RemoveCharacter(clientID int64) {
	m.mu.Lock()
	delete(m.poses, clientID)
	delete(m.occupants, clientID)
	m.mu.Unlock()
}

// Vehicles returns a snapshot of every live vehicle.
func (m *Manager) Vehicles() []VehicleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VehicleState, 0, len(m.vehicles))
	for _, st := range m.vehicles {
		out = append(out, *st)
	}
	return out
}

// VehicleCount returns the number of live vehicles.
func (m *Manager) VehicleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vehicles)
}
