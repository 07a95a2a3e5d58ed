package sse

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"go.uber.org/zap"
)

const keepaliveInterval = 30 * time.Second

// Channels lists every pub/sub channel a client may stream.
var Channels = []string{
	cache.ChannelAnnounce,
	vehicle.ChannelEntered,
	vehicle.ChannelExited,
	vehicle.ChannelDestroyed,
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	c         cache.Cache
	sec       config.SecurityConfig
	logger    *zap.Logger
	keepalive time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{
		pubsub:    pubsub,
		c:         c,
		sec:       sec,
		logger:    logger,
		keepalive: keepaliveInterval,
		done:      make(chan struct{}),
	}
}

// Shutdown ends every open stream. http.Server.Shutdown does not cancel the
// contexts of in-flight requests, so register this with RegisterOnShutdown.
func (h *Handler) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
}

// ServeSSE handles GET /sse?token=<jwt>[&channels=a,b].
// Each pub/sub message is sent as an event named after its channel.
func (h *Handler) ServeSSE(c *gin.Context) {
	claims, err := mw.ValidateSession(c.Request.Context(), h.sec, h.c, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	channels, ok := selectChannels(c.Query("channels"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel"})
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, channels...)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"account_id": claims.AccountID, "channels": channels})
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			c.SSEvent(msg.Channel, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment for proxies.
			_, _ = c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return

		case <-h.done:
			return
		}
	}
}

// Announce publishes an announcement message to all SSE subscribers.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return h.pubsub.Publish(ctx, cache.ChannelAnnounce, message)
}

// selectChannels parses a comma separated channel filter. Empty means all.
func selectChannels(q string) ([]string, bool) {
	if q == "" {
		return Channels, true
	}
	var out []string
	for _, name := range strings.Split(q, ",") {
		name = strings.TrimSpace(name)
		if !slices.Contains(Channels, name) {
			return nil, false
		}
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out, len(out) > 0
}
