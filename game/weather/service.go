// Package weather rotates the server-wide weather at random intervals.
package weather

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/scheduler"
	"go.uber.org/zap"
)

// Count is the number of weather ids; valid ids are 0..Count-1.
const Count = 9

const (
	taskName           = "weather"
	publishTimeout     = 2 * time.Second
	defaultMinInterval = 30 * time.Minute
)

// Heavy weathers (6, 7, 8) only clear up gradually: each is followed by one
// of the other heavy ones or by one of the calm ids 0, 1, 2.
var followUps = map[int][]int{
	6: {7, 8, 0, 1, 2},
	7: {6, 8, 0, 1, 2},
	8: {7, 6, 0, 1, 2},
}

// Broadcaster pushes a packet to every connected client.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{})
}

// Change is the payload of the weather packet and announcement.
type Change struct {
	Weather  int `json:"weather"`
	Previous int `json:"previous"`
}

// Service owns the current weather.
type Service struct {
	mu      sync.Mutex
	current int
	rng     *rand.Rand
	stopped bool

	cfg    config.WeatherConfig
	sched  *scheduler.Scheduler
	bc     Broadcaster
	ps     cache.PubSub
	logger *zap.Logger
}

// NewService creates a Service. bc and ps may be nil.
func NewService(cfg config.WeatherConfig, sched *scheduler.Scheduler, bc Broadcaster, ps cache.PubSub, logger *zap.Logger) *Service {
	seed := uint64(time.Now().UnixNano())
	return newService(cfg, sched, bc, ps, logger, rand.New(rand.NewPCG(seed, seed>>1)))
}

func newService(cfg config.WeatherConfig, sched *scheduler.Scheduler, bc Broadcaster, ps cache.PubSub, logger *zap.Logger, rng *rand.Rand) *Service {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	return &Service{cfg: cfg, sched: sched, bc: bc, ps: ps, logger: logger, rng: rng}
}

// Start picks an initial weather and arms the rotation.
func (s *Service) Start() {
	s.Rotate()
	s.arm()
}

// Stop cancels the pending rotation. A rotation already running does not re-arm.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.sched.Remove(taskName)
}

// Current returns the current weather id.
func (s *Service) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Service) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	d := s.interval()
	s.sched.AddDelay(taskName, d, func() {
		s.Rotate()
		s.arm()
	})
	s.logger.Debug("weather rotation armed", zap.Duration("in", d))
}

// interval returns a random duration in [MinInterval, MaxInterval].
// s.mu must be held.
func (s *Service) interval() time.Duration {
	span := s.cfg.MaxInterval - s.cfg.MinInterval
	if span <= 0 {
		return s.cfg.MinInterval
	}
	return s.cfg.MinInterval + time.Duration(s.rng.Int64N(int64(span)+1))
}

// Rotate moves to the next weather, tells every client and announces it.
func (s *Service) Rotate() Change {
	s.mu.Lock()
	ch := Change{Previous: s.current, Weather: s.next(s.current)}
	s.current = ch.Weather
	s.mu.Unlock()

	if s.bc != nil {
		s.bc.Broadcast("weather", ch)
	}
	s.announce(ch)
	s.logger.Info("weather changed", zap.Int("weather", ch.Weather), zap.Int("previous", ch.Previous))
	return ch
}

func (s *Service) announce(ch Change) {
	if s.ps == nil {
		return
	}
	data, err := json.Marshal(map[string]interface{}{"type": "weather", "weather": ch.Weather})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.ps.Publish(ctx, cache.ChannelAnnounce, string(data)); err != nil {
		s.logger.Warn("weather announce failed", zap.Error(err))
	}
}

// next picks the weather that follows current. s.mu must be held.
func (s *Service) next(current int) int {
	if ids, ok := followUps[current]; ok {
		return ids[s.rng.IntN(len(ids))]
	}
	for {
		if id := s.rng.IntN(Count); id != current {
			return id
		}
	}
}
