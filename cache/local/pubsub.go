package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

type subscriber struct {
	ch     chan *LocalMessage
	closed bool
}

// LocalPubSub is an in-process fan-out pub/sub. Slow subscribers lose
// messages instead of blocking publishers.
type LocalPubSub struct {
	mu       sync.RWMutex
	channels map[string][]*subscriber
	bufSize  int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		channels: make(map[string][]*subscriber),
		bufSize:  bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	// Sends happen under the read lock so cancel cannot close a channel mid-send.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, s := range ps.channels[channel] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns one message channel fed by every named channel, and a
// cancel function that detaches and closes it. cancel is idempotent.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	sub := &subscriber{ch: make(chan *LocalMessage, ps.bufSize)}

	ps.mu.Lock()
	for _, c := range channels {
		ps.channels[c] = append(ps.channels[c], sub)
	}
	ps.mu.Unlock()

	cancel := func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		for _, c := range channels {
			list := ps.channels[c]
			for j, s := range list {
				if s == sub {
					ps.channels[c] = append(list[:j:j], list[j+1:]...)
					break
				}
			}
			if len(ps.channels[c]) == 0 {
				delete(ps.channels, c)
			}
		}
		close(sub.ch)
	}
	return sub.ch, cancel, nil
}
