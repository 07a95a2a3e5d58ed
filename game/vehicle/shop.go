package vehicle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/world"
	"go.uber.org/zap"
)

// Shop is a fixed-location purchase kiosk. Its geometry never changes; all
// vehicle state lives in the Registry it is attached to.
type Shop struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Entrance world.Vec3       `json:"entrance"`
	Exit     world.Pose       `json:"exit"`
	Camera   world.Pose       `json:"camera"`
	Stand    world.Pose       `json:"stand"`
	Showcase world.Pose       `json:"showcase"`
	Catalog  map[string]int64 `json:"catalog,omitempty"`

	reg *Registry
}

// NewShop builds a shop from its configured geometry.
func NewShop(cfg config.ShopConfig) *Shop {
	catalog := make(map[string]int64, len(cfg.Catalog))
	for name, price := range cfg.Catalog {
		catalog[strings.ToLower(name)] = price
	}
	return &Shop{
		ID:       cfg.ID,
		Name:     cfg.Name,
		Entrance: world.V3(cfg.Entrance),
		Exit:     world.Pose{Position: world.V3(cfg.Exit), Rotation: world.V3(cfg.ExitRot)},
		Camera:   world.Pose{Position: world.V3(cfg.Camera), Rotation: world.V3(cfg.CameraRot)},
		Stand:    world.Pose{Position: world.V3(cfg.Character)},
		Showcase: world.Pose{Position: world.V3(cfg.Vehicle), Rotation: world.V3(cfg.VehicleRot)},
		Catalog:  catalog,
	}
}

// Price returns what model costs here. An empty catalog sells every model for free.
func (s *Shop) Price(model string) (int64, bool) {
	if model == "" {
		return 0, false
	}
	if len(s.Catalog) == 0 {
		return 0, true
	}
	price, ok := s.Catalog[strings.ToLower(model)]
	return price, ok
}

// errUnregisteredShop is returned by shops that were never passed to
// Registry.AddShop.
func errUnregisteredShop(id int) error {
	return fmt.Errorf("%w: shop %d is not registered", ErrNotFound, id)
}

// PurchaseVehicle creates a new vehicle owned by char at the shop's showcase
// pose and tells the buyer's client about it.
func (s *Shop) PurchaseVehicle(ctx context.Context, char Character, model string, color1, color2 int) (Vehicle, error) {
	r := s.reg
	if r == nil {
		return Vehicle{}, errUnregisteredShop(s.ID)
	}
	clientID := char.AccountID

	price, ok := s.Price(model)
	if !ok {
		return Vehicle{}, r.reject("purchase", clientID, msgShopNotSold, ErrNotSold)
	}
	if price > 0 {
		if char.Money < price {
			return Vehicle{}, r.reject("purchase", clientID, msgShopNoMoney, ErrInsufficientFunds)
		}
		if err := r.chars.AdjustMoney(ctx, char.ID, -price); err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return Vehicle{}, r.reject("purchase", clientID, msgShopNoMoney, ErrInsufficientFunds)
			}
			return Vehicle{}, err
		}
	}

	// The plate is picked and used under one lock so no other caller can
	// register it in between.
	r.mu.Lock()
	plate := r.unusedPlateLocked()
	v, err := r.createLocked(ctx, char.ID, 0, world.ModelHash(model), s.Showcase, plate, color1, color2, false)
	var snap Vehicle
	if err == nil {
		snap = *v
	}
	r.mu.Unlock()

	if err != nil {
		if price > 0 {
			if rerr := r.chars.AdjustMoney(ctx, char.ID, price); rerr != nil {
				r.logger.Error("purchase refund failed",
					zap.Int64("char_id", char.ID),
					zap.Int64("amount", price),
					zap.Error(rerr))
			}
		}
		return Vehicle{}, err
	}

	r.notify.SendEvent(clientID, EventNewVehicleAdded, snap.ID, snap.Plate, false)
	r.logger.Info("vehicle purchased",
		zap.Int("shop_id", s.ID),
		zap.Int("vehicle_id", snap.ID),
		zap.Int64("char_id", char.ID),
		zap.String("model", model),
		zap.Int64("price", price))
	return snap, nil
}

// EnterShop moves char from the entrance into the purchase screen.
func (s *Shop) EnterShop(ctx context.Context, char Character) error {
	r := s.reg
	if r == nil {
		return errUnregisteredShop(s.ID)
	}
	clientID := char.AccountID
	if char.Position.DistanceTo(s.Entrance) > r.cfg.ShopEntryDistance {
		return r.reject("shop_enter", clientID, msgShopTooFar, ErrTooFar)
	}
	r.world.SetCharacterPose(clientID, s.Stand)
	r.notify.SendEvent(clientID, EventEnterVehicleShop,
		s.ID, s.Camera.Position, s.Camera.Rotation, s.Showcase.Position, s.Showcase.Rotation)
	return nil
}

// ExitShop returns char from the purchase screen to the shop's exit.
func (s *Shop) ExitShop(ctx context.Context, char Character) error {
	r := s.reg
	if r == nil {
		return errUnregisteredShop(s.ID)
	}
	clientID := char.AccountID
	r.world.SetCharacterPose(clientID, s.Exit)
	r.notify.SendEvent(clientID, EventExitVehicleShop, s.ID)
	return nil
}

// AddShop attaches shop to the registry. A second shop with the same id is
// ignored; AddShop reports whether shop was added.
func (r *Registry) AddShop(shop *Shop) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.shops[shop.ID]; exists {
		return false
	}
	shop.reg = r
	r.shops[shop.ID] = shop
	return true
}

// Shop returns the shop with id.
func (r *Registry) Shop(id int) (*Shop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shops[id]
	return s, ok
}

// Shops returns every shop ordered by id.
func (r *Registry) Shops() []*Shop {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Shop, 0, len(r.shops))
	for _, s := range r.shops {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) shopFor(ctx context.Context, clientID int64, shopID int) (*Shop, Character, error) {
	char, ok := r.chars.ActiveCharacter(ctx, clientID)
	if !ok {
		return nil, Character{}, ErrNoCharacter
	}
	shop, ok := r.Shop(shopID)
	if !ok {
		return nil, Character{}, ErrNotFound
	}
	return shop, char, nil
}

// TryPurchaseVehicle buys model at shopID for the client's active character.
func (r *Registry) TryPurchaseVehicle(ctx context.Context, clientID int64, shopID int, model string, color1, color2 int) (Vehicle, error) {
	shop, char, err := r.shopFor(ctx, clientID, shopID)
	if err != nil {
		return Vehicle{}, err
	}
	return shop.PurchaseVehicle(ctx, char, model, color1, color2)
}

func (r *Registry) TryEnterShop(ctx context.Context, clientID int64, shopID int) error {
	shop, char, err := r.shopFor(ctx, clientID, shopID)
	if err != nil {
		return err
	}
	return shop.EnterShop(ctx, char)
}

func (r *Registry) TryExitShop(ctx context.Context, clientID int64, shopID int) error {
	shop, char, err := r.shopFor(ctx, clientID, shopID)
	if err != nil {
		return err
	}
	return shop.ExitShop(ctx, char)
}
