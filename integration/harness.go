package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/roleplay/server/api/rest"
	"github.com/kasuganosora/roleplay/server/api/sse"
	apows "github.com/kasuganosora/roleplay/server/api/ws"
	"github.com/kasuganosora/roleplay/server/audit"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/weather"
	"github.com/kasuganosora/roleplay/server/game/world"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"github.com/kasuganosora/roleplay/server/scheduler"
	"github.com/kasuganosora/roleplay/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// AdminKey is the admin key the test server accepts.
const AdminKey = "integration-admin"

// TestServer wraps a real HTTP server with all subsystems wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	SM     *player.SessionManager
	WM     *world.Manager
	Reg    *vehicle.Registry
	Audit  *audit.Service
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
	Sec    config.SecurityConfig

	sched    *scheduler.Scheduler
	sse      *sse.Handler
	streams  []context.CancelFunc
	teardown []func()
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)

	// ---- Game Systems ----
	sm := player.NewSessionManager(logger)
	wm := world.NewManager(sm, logger)
	dir := player.NewDirectory(db, sm, wm, logger)
	reg := vehicle.NewRegistry(vehicle.NewGormStore(db), wm, dir, sm, nil, config.DefaultVehicle(), nil, logger)
	require.NoError(t, reg.Load(context.Background()))
	for _, sc := range config.DefaultShops() {
		reg.AddShop(vehicle.NewShop(sc))
	}
	unbridge := vehicle.BridgePubSub(reg.Bus(), pubsub, logger)
	unkeep := vehicle.KeepRecent(reg.Bus(), c, 100, logger)
	weatherSvc := weather.NewService(config.WeatherConfig{Enabled: true}, sched, sm, pubsub, logger)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.NewPlayerHandlers(dir, wm, logger).RegisterHandlers(wsRouter)
	apows.NewVehicleHandlers(reg, wm, auditSvc, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(db, c, sec, auditSvc)
	charH := apirest.NewCharacterHandler(db, sm, reg, config.DefaultGame())
	shopH := apirest.NewVehicleShopHandler(reg)
	adminH := apirest.NewAdminHandler(db, sm, wm, reg, sched, weatherSvc, auditSvc, c, pubsub, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		charsG := api.Group("/characters")
		charsG.Use(mw.Auth(sec, c))
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.DELETE("/:id", charH.Delete)
		charsG.GET("/:id/vehicles", charH.Vehicles)

		shopsG := api.Group("/vehicle-shops")
		shopsG.Use(mw.Auth(sec, c))
		shopsG.GET("", shopH.List)
		shopsG.GET("/:id", shopH.Get)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/audit", adminH.AuditLog)
		adminG.GET("/vehicle-events", adminH.VehicleEvents)
		adminG.POST("/announce", adminH.Announce)
	}

	// ---- WebSocket / SSE ----
	wsH := apows.NewHandler(c, sec, sm, wm, dir, reg, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)
	sseH := sse.NewHandler(pubsub, c, sec, logger)
	r.GET("/sse", sseH.ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	wsURL := "ws" + url[len("http"):] + "/ws"

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		SM:       sm,
		WM:       wm,
		Reg:      reg,
		Audit:    auditSvc,
		Server:   server,
		URL:      url,
		WSURL:    wsURL,
		Sec:      sec,
		sched:    sched,
		sse:      sseH,
		teardown: []func(){unbridge, unkeep},
	}
}

// Close shuts down the test server and all game systems. Open event streams
// are ended first: httptest.Server.Close waits for in-flight requests.
func (ts *TestServer) Close() {
	for _, cancel := range ts.streams {
		cancel()
	}
	ts.sse.Shutdown()
	ts.SM.CloseAllSessions()
	ts.Server.Close()
	for _, fn := range ts.teardown {
		fn()
	}
	ts.sched.Stop()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func bearer(token string) []string {
	if token == "" {
		return nil
	}
	return []string{"Authorization", "Bearer " + token}
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, bearer(token)...)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, bearer(token)...)
}

// Delete sends a DELETE request with JSON body and optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, body, bearer(token)...)
}

// AdminGet sends a GET request carrying the admin key.
func (ts *TestServer) AdminGet(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, "X-Admin-Key", AdminKey)
}

// AdminPost sends a POST request carrying the admin key.
func (ts *TestServer) AdminPost(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, "X-Admin-Key", AdminKey)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Login logs in (auto-registers on first call) and returns the token and account ID.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, accountID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	token = result["token"].(string)
	accountID = int64(result["account_id"].(float64))
	return
}

// CreateCharacter creates a character and returns its ID.
func (ts *TestServer) CreateCharacter(t *testing.T, token, name string) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/characters", map[string]interface{}{"name": name}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return int64(result["id"].(float64))
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds readCh so a receive timeout never touches the
// connection's read deadline.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the test server's WS endpoint with the given JWT token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a JSON message packet to the WebSocket.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// Packet is a received WS message.
type Packet struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (p Packet) Decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(p.Payload, v), "payload: %s", string(p.Payload))
}

// RecvAny reads one message with a timeout.
func (wc *WSClient) RecvAny(timeout time.Duration) (Packet, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return Packet{}, res.err
		}
		var pkt Packet
		err := json.Unmarshal(res.data, &pkt)
		return pkt, err
	case <-time.After(timeout):
		return Packet{}, errTimeout
	}
}

var errTimeout = fmt.Errorf("read timeout")

// RecvType reads messages until one with the given type arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) Packet {
	wc.t.Helper()
	return wc.RecvMatch(msgType, timeout, func(Packet) bool { return true })
}

// RecvMatch reads messages until one of msgType satisfies match.
func (wc *WSClient) RecvMatch(msgType string, timeout time.Duration, match func(Packet) bool) Packet {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt.Type == msgType && match(pkt) {
			return pkt
		}
	}
}

// RecvEvent waits for a client_event packet naming event and returns its args.
func (wc *WSClient) RecvEvent(event string, timeout time.Duration) []interface{} {
	wc.t.Helper()
	var body struct {
		Event string        `json:"event"`
		Args  []interface{} `json:"args"`
	}
	wc.RecvMatch("client_event", timeout, func(p Packet) bool {
		return json.Unmarshal(p.Payload, &body) == nil && body.Event == event
	})
	return body.Args
}

// RecvNotice waits for a notify packet and returns its message.
func (wc *WSClient) RecvNotice(timeout time.Duration) string {
	wc.t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	wc.RecvType("notify", timeout).Decode(wc.t, &body)
	return body.Message
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// --- SSE client ---

// SSEEvent is one server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// ConnectSSE opens the event stream and returns a channel of parsed events.
// The stream closes when the server is closed.
func (ts *TestServer) ConnectSSE(t *testing.T, token, channels string) <-chan SSEEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ts.streams = append(ts.streams, cancel)
	url := ts.URL + "/sse?token=" + token
	if channels != "" {
		url += "&channels=" + channels
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := make(chan SSEEvent, 64)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		var ev SSEEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && ev.Name != "":
				out <- ev
				ev = SSEEvent{}
			}
		}
	}()
	return out
}

// --- Composite helper ---

// LoginAndEnter logs in, creates a character, connects the WS and enters the
// game with it.
func (ts *TestServer) LoginAndEnter(t *testing.T, username string) (token string, charID int64, ws *WSClient) {
	t.Helper()
	token, _ = ts.Login(t, username, "pass1234")
	charID = ts.CreateCharacter(t, token, UniqueID("C"))
	ws = ts.ConnectWS(t, token)
	ws.Send("enter_game", map[string]interface{}{"char_id": charID})
	ws.RecvType("enter_game", 5*time.Second)
	return token, charID, ws
}

var testCounter uint64

// UniqueID returns a short unique string suitable for usernames/character names.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}
