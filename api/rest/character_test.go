package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/roleplay/server/api/rest"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/world"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"github.com/kasuganosora/roleplay/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const charPass = "delpass456"

type restEnv struct {
	db  *gorm.DB
	c   cache.Cache
	ps  cache.PubSub
	sm  *player.SessionManager
	wm  *world.Manager
	reg *vehicle.Registry
	sec config.SecurityConfig
	r   *gin.Engine
}

func newRestEnv(t *testing.T) *restEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sm := player.NewSessionManager(zap.NewNop())
	wm := world.NewManager(sm, zap.NewNop())
	dir := player.NewDirectory(db, sm, wm, zap.NewNop())
	reg := vehicle.NewRegistry(vehicle.NewGormStore(db), wm, dir, sm, nil, config.DefaultVehicle(), nil, zap.NewNop())
	require.NoError(t, reg.Load(context.Background()))
	for _, sc := range config.DefaultShops() {
		reg.AddShop(vehicle.NewShop(sc))
	}
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}

	authH := rest.NewAuthHandler(db, c, sec, nil)
	charH := rest.NewCharacterHandler(db, sm, reg, config.DefaultGame())

	r := gin.New()
	r.POST("/api/auth/login", authH.Login)
	chars := r.Group("/api/characters", mw.Auth(sec, c))
	chars.GET("", charH.List)
	chars.POST("", charH.Create)
	chars.DELETE("/:id", charH.Delete)
	chars.GET("/:id/vehicles", charH.Vehicles)

	return &restEnv{db: db, c: c, ps: ps, sm: sm, wm: wm, reg: reg, sec: sec, r: r}
}

// loginAndGetToken registers/logs in and returns the JWT and account id.
func loginAndGetToken(t *testing.T, r *gin.Engine, user, pass string) (string, int64) {
	t.Helper()
	w := postJSON(r, "/api/auth/login", map[string]string{"username": user, "password": pass})
	require.Equal(t, http.StatusOK, w.Code, "login failed: %s", w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["token"].(string), int64(resp["account_id"].(float64))
}

func doRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createCharacter(t *testing.T, r *gin.Engine, token, name string) int64 {
	t.Helper()
	w := doRequest(r, http.MethodPost, "/api/characters", map[string]string{"name": name}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ch map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ch))
	return int64(ch["id"].(float64))
}

func TestCreateCharacter_StartsAtSpawn(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "chartest", charPass)

	w := doRequest(e.r, http.MethodPost, "/api/characters", map[string]string{"name": "Hero"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var char map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &char))
	game := config.DefaultGame()
	assert.Equal(t, "Hero", char["name"])
	assert.EqualValues(t, game.StartMoney, char["money"])
	assert.InDelta(t, game.StartPosition[0], char["pos_x"], 1e-9)
	assert.InDelta(t, game.StartPosition[2], char["pos_z"], 1e-9)
}

func TestCreateCharacter_DuplicateName(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "chartest", charPass)

	createCharacter(t, e.r, token, "Unique")
	w := doRequest(e.r, http.MethodPost, "/api/characters", map[string]string{"name": "Unique"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCharacter_MaxReached(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "chartest", charPass)

	for i := 1; i <= config.DefaultGame().MaxCharacters; i++ {
		createCharacter(t, e.r, token, fmt.Sprintf("Char%d", i))
	}
	w := doRequest(e.r, http.MethodPost, "/api/characters", map[string]string{"name": "OneTooMany"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCharacter_MissingName(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "chartest", charPass)

	w := doRequest(e.r, http.MethodPost, "/api/characters", map[string]string{}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCharacters_OnlyOwn(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "chartest", charPass)
	other, _ := loginAndGetToken(t, e.r, "someone", charPass)
	createCharacter(t, e.r, token, "First")
	createCharacter(t, e.r, token, "Second")
	createCharacter(t, e.r, other, "Elsewhere")

	w := doRequest(e.r, http.MethodGet, "/api/characters", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Characters []struct {
			Name string `json:"name"`
		} `json:"characters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Characters, 2)
	assert.Equal(t, "First", resp.Characters[0].Name)
	assert.Equal(t, "Second", resp.Characters[1].Name)
}

func TestNoTokenReturns401(t *testing.T) {
	e := newRestEnv(t)
	w := doRequest(e.r, http.MethodGet, "/api/characters", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeleteCharacter(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "delcharuser", charPass)
	charID := createCharacter(t, e.r, token, "DelHero")
	path := fmt.Sprintf("/api/characters/%d", charID)

	w := doRequest(e.r, http.MethodDelete, path, map[string]string{"password": "wrongpass"}, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(e.r, http.MethodDelete, path, map[string]string{"password": charPass}, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(e.r, http.MethodDelete, path, map[string]string{"password": charPass}, token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteCharacter_BadRequests(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "delcharuser", charPass)

	w := doRequest(e.r, http.MethodDelete, "/api/characters/notanid", map[string]string{"password": charPass}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(e.r, http.MethodDelete, "/api/characters/1", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteCharacter_OtherAccount(t *testing.T) {
	e := newRestEnv(t)
	owner, _ := loginAndGetToken(t, e.r, "owner", charPass)
	thief, _ := loginAndGetToken(t, e.r, "thief", charPass)
	charID := createCharacter(t, e.r, owner, "Victim")

	w := doRequest(e.r, http.MethodDelete, fmt.Sprintf("/api/characters/%d", charID),
		map[string]string{"password": charPass}, thief)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteCharacter_OwnsVehicles(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "driver", charPass)
	charID := createCharacter(t, e.r, token, "Driver")
	_, err := e.reg.CreateVehicle(context.Background(), charID, 0, world.ModelHash("blista"),
		world.Pose{}, e.reg.GenerateUnusedLicensePlate(), 0, 0)
	require.NoError(t, err)

	w := doRequest(e.r, http.MethodDelete, fmt.Sprintf("/api/characters/%d", charID),
		map[string]string{"password": charPass}, token)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "owns vehicles")
}

func TestDeleteCharacter_Online(t *testing.T) {
	e := newRestEnv(t)
	token, accountID := loginAndGetToken(t, e.r, "online", charPass)
	charID := createCharacter(t, e.r, token, "Playing")
	e.sm.Register(&player.PlayerSession{
		AccountID: accountID,
		CharID:    charID,
		SendChan:  make(chan []byte, 16),
		Done:      make(chan struct{}),
	})

	w := doRequest(e.r, http.MethodDelete, fmt.Sprintf("/api/characters/%d", charID),
		map[string]string{"password": charPass}, token)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "online")
}

func TestDeleteCharacter_OtherAccountHidesState(t *testing.T) {
	e := newRestEnv(t)
	owner, ownerAccount := loginAndGetToken(t, e.r, "owner", charPass)
	thief, _ := loginAndGetToken(t, e.r, "thief", charPass)
	online := createCharacter(t, e.r, owner, "Online")
	driver := createCharacter(t, e.r, owner, "Driver")

	e.sm.Register(&player.PlayerSession{
		AccountID: ownerAccount,
		CharID:    online,
		SendChan:  make(chan []byte, 16),
		Done:      make(chan struct{}),
	})
	_, err := e.reg.CreateVehicle(context.Background(), driver, 0, world.ModelHash("blista"),
		world.Pose{}, e.reg.GenerateUnusedLicensePlate(), 0, 0)
	require.NoError(t, err)

	for _, charID := range []int64{online, driver} {
		w := doRequest(e.r, http.MethodDelete, fmt.Sprintf("/api/characters/%d", charID),
			map[string]string{"password": charPass}, thief)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "character not found")
	}
}

func TestCharacterVehicles(t *testing.T) {
	e := newRestEnv(t)
	token, _ := loginAndGetToken(t, e.r, "collector", charPass)
	other, _ := loginAndGetToken(t, e.r, "nosy", charPass)
	charID := createCharacter(t, e.r, token, "Collector")
	path := fmt.Sprintf("/api/characters/%d/vehicles", charID)

	var resp struct {
		Vehicles []vehicle.Vehicle `json:"vehicles"`
	}
	w := doRequest(e.r, http.MethodGet, path, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Vehicles)

	plate := e.reg.GenerateUnusedLicensePlate()
	id, err := e.reg.CreateVehicle(context.Background(), charID, 0, world.ModelHash("blista"), world.Pose{}, plate, 3, 4)
	require.NoError(t, err)

	w = doRequest(e.r, http.MethodGet, path, nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Vehicles, 1)
	assert.Equal(t, id, resp.Vehicles[0].ID)
	assert.Equal(t, plate, resp.Vehicles[0].Plate)
	assert.False(t, resp.Vehicles[0].Spawned)

	w = doRequest(e.r, http.MethodGet, path, nil, other)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
