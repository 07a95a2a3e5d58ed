package sse

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"github.com/kasuganosora/roleplay/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sseEvent struct {
	name string
	data string
}

func setupSSE(t *testing.T) (*httptest.Server, *Handler, string) {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	h := NewHandler(ps, c, sec, zap.NewNop())

	token, err := mw.GenerateToken(7, sec.JWTSecret, sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "session:"+token, "7", time.Hour))

	r := gin.New()
	r.GET("/sse", h.ServeSSE)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h, token
}

func readEvent(t *testing.T, rd *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "" && ev.name != "":
			return ev
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func open(t *testing.T, url string) (*bufio.Reader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"),
		"content type %q", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body), func() {
		cancel()
		_ = resp.Body.Close()
	}
}

func TestServeSSE_StreamsVehicleAndAnnounce(t *testing.T) {
	srv, h, token := setupSSE(t)
	rd, done := open(t, srv.URL+"/sse?token="+token)
	defer done()

	hello := readEvent(t, rd)
	assert.Equal(t, "connected", hello.name)
	assert.Contains(t, hello.data, `"account_id":7`)

	require.NoError(t, h.pubsub.Publish(context.Background(), vehicle.ChannelEntered, `{"client_id":7,"handle":1}`))
	ev := readEvent(t, rd)
	assert.Equal(t, vehicle.ChannelEntered, ev.name)
	assert.JSONEq(t, `{"client_id":7,"handle":1}`, ev.data)

	require.NoError(t, h.Announce(context.Background(), `{"weather":3}`))
	ev = readEvent(t, rd)
	assert.Equal(t, cache.ChannelAnnounce, ev.name)
	assert.JSONEq(t, `{"weather":3}`, ev.data)
}

func TestServeSSE_ChannelFilter(t *testing.T) {
	srv, h, token := setupSSE(t)
	rd, done := open(t, srv.URL+"/sse?token="+token+"&channels="+vehicle.ChannelDestroyed)
	defer done()
	readEvent(t, rd)

	ctx := context.Background()
	require.NoError(t, h.Announce(ctx, `"skipped"`))
	require.NoError(t, h.pubsub.Publish(ctx, vehicle.ChannelDestroyed, `{"handle":4}`))

	ev := readEvent(t, rd)
	assert.Equal(t, vehicle.ChannelDestroyed, ev.name)
}

func TestServeSSE_ShutdownEndsStream(t *testing.T) {
	srv, h, token := setupSSE(t)
	rd, done := open(t, srv.URL+"/sse?token="+token)
	defer done()
	readEvent(t, rd)

	h.Shutdown()
	h.Shutdown()

	ended := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(rd)
		ended <- err
	}()
	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after Shutdown")
	}

	// Streams opened after shutdown end right after the greeting.
	rd2, done2 := open(t, srv.URL+"/sse?token="+token)
	defer done2()
	assert.Equal(t, "connected", readEvent(t, rd2).name)
	_, err := io.ReadAll(rd2)
	assert.NoError(t, err)
}

func TestServeSSE_Rejections(t *testing.T) {
	srv, _, token := setupSSE(t)
	forged, _ := mw.GenerateToken(7, "other-secret", time.Hour)
	orphan, _ := mw.GenerateToken(8, "test-secret", time.Hour)

	check := func(path string, want int) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, path)
	}
	check("/sse", http.StatusUnauthorized)
	check("/sse?token="+forged, http.StatusUnauthorized)
	check("/sse?token="+orphan, http.StatusUnauthorized)
	check("/sse?token="+token+"&channels=trade:x", http.StatusBadRequest)
	check("/sse?token="+token+"&channels=announce,", http.StatusBadRequest)
}

func TestSelectChannels(t *testing.T) {
	all, ok := selectChannels("")
	assert.True(t, ok)
	assert.Equal(t, Channels, all)

	got, ok := selectChannels("vehicle:exited, announce,vehicle:exited")
	assert.True(t, ok)
	assert.Equal(t, []string{vehicle.ChannelExited, cache.ChannelAnnounce}, got)
}
