package vehicle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/roleplay/server/cache"
	"go.uber.org/zap"
)

// Pub/sub channels carrying vehicle events for other subsystems.
const (
	ChannelEntered   = "vehicle:entered"
	ChannelExited    = "vehicle:exited"
	ChannelDestroyed = "vehicle:destroyed"
)

const publishTimeout = 2 * time.Second

// BridgePubSub republishes every bus event as JSON on ps. The returned
// function detaches the bridge.
func BridgePubSub(bus *Bus, ps cache.PubSub, logger *zap.Logger) func() {
	publish := func(channel string, ev interface{}) {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("vehicle event marshal failed", zap.String("channel", channel), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := ps.Publish(ctx, channel, string(data)); err != nil {
			logger.Warn("vehicle event publish failed", zap.String("channel", channel), zap.Error(err))
		}
	}

	entered := bus.Entered.Subscribe(func(ev Entered) { publish(ChannelEntered, ev) })
	exited := bus.Exited.Subscribe(func(ev Exited) { publish(ChannelExited, ev) })
	destroyed := bus.Destroyed.Subscribe(func(ev Destroyed) { publish(ChannelDestroyed, ev) })

	return func() {
		bus.Entered.Unsubscribe(entered)
		bus.Exited.Unsubscribe(exited)
		bus.Destroyed.Unsubscribe(destroyed)
	}
}

// RecentKey is the cache list holding the newest vehicle events first.
const RecentKey = "vehicle:recent"

// RecentEvent is one entry of the recent event feed.
type RecentEvent struct {
	Channel string          `json:"channel"`
	Event   json.RawMessage `json:"event"`
	At      time.Time       `json:"at"`
}

// KeepRecent records every bus event in c under RecentKey, capped at limit
// entries. The returned function detaches it.
func KeepRecent(bus *Bus, c cache.Cache, limit int64, logger *zap.Logger) func() {
	if limit <= 0 {
		limit = 100
	}
	record := func(channel string, ev interface{}) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		entry, _ := json.Marshal(RecentEvent{Channel: channel, Event: data, At: time.Now().UTC()})
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.LPush(ctx, RecentKey, string(entry)); err != nil {
			logger.Warn("vehicle event record failed", zap.String("channel", channel), zap.Error(err))
			return
		}
		_ = c.LTrim(ctx, RecentKey, 0, limit-1)
	}

	entered := bus.Entered.Subscribe(func(ev Entered) { record(ChannelEntered, ev) })
	exited := bus.Exited.Subscribe(func(ev Exited) { record(ChannelExited, ev) })
	destroyed := bus.Destroyed.Subscribe(func(ev Destroyed) { record(ChannelDestroyed, ev) })

	return func() {
		bus.Entered.Unsubscribe(entered)
		bus.Exited.Unsubscribe(exited)
		bus.Destroyed.Unsubscribe(destroyed)
	}
}

// RecentEvents returns up to n recorded events, newest first. Entries that
// fail to decode are skipped.
func RecentEvents(ctx context.Context, c cache.Cache, n int64) ([]RecentEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := c.LRange(ctx, RecentKey, 0, n-1)
	if err != nil {
		return nil, err
	}
	out := make([]RecentEvent, 0, len(raw))
	for _, s := range raw {
		var ev RecentEvent
		if json.Unmarshal([]byte(s), &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}
