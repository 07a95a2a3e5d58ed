package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/roleplay/server/api/rest"
	"github.com/kasuganosora/roleplay/server/api/sse"
	apows "github.com/kasuganosora/roleplay/server/api/ws"
	"github.com/kasuganosora/roleplay/server/audit"
	"github.com/kasuganosora/roleplay/server/cache"
	"github.com/kasuganosora/roleplay/server/config"
	dbadapter "github.com/kasuganosora/roleplay/server/db"
	"github.com/kasuganosora/roleplay/server/game/player"
	"github.com/kasuganosora/roleplay/server/game/vehicle"
	"github.com/kasuganosora/roleplay/server/game/weather"
	"github.com/kasuganosora/roleplay/server/game/world"
	"github.com/kasuganosora/roleplay/server/metrics"
	mw "github.com/kasuganosora/roleplay/server/middleware"
	"github.com/kasuganosora/roleplay/server/model"
	"github.com/kasuganosora/roleplay/server/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	recentVehicleEvents = 100
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		logger.Fatal("pubsub init failed", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Metrics ----
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	vehicleMetrics := metrics.NewVehicles(promReg)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Game Systems ----
	sm := player.NewSessionManager(logger)
	wm := world.NewManager(sm, logger)
	dir := player.NewDirectory(db, sm, wm, logger)

	reg := vehicle.NewRegistry(vehicle.NewGormStore(db), wm, dir, sm, nil, cfg.Vehicle, vehicleMetrics, logger)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	err = reg.Load(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Fatal("vehicle load failed", zap.Error(err))
	}
	for _, sc := range cfg.Shops {
		if !reg.AddShop(vehicle.NewShop(sc)) {
			logger.Warn("duplicate vehicle shop ignored", zap.Int("shop_id", sc.ID))
		}
	}
	defer vehicle.BridgePubSub(reg.Bus(), pubsub, logger)()
	defer vehicle.KeepRecent(reg.Bus(), c, recentVehicleEvents, logger)()
	logger.Info("Vehicles loaded",
		zap.Int("vehicles", reg.Count()),
		zap.Int("shops", len(cfg.Shops)))

	weatherSvc := weather.NewService(cfg.Weather, sched, sm, pubsub, logger)
	if cfg.Weather.Enabled {
		weatherSvc.Start()
		defer weatherSvc.Stop()
	}
	metrics.RegisterServer(promReg, sm.Count, weatherSvc.Current)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.NewPlayerHandlers(dir, wm, logger).RegisterHandlers(wsRouter)
	apows.NewVehicleHandlers(reg, wm, auditSvc, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health", "/metrics"), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security, auditSvc)
	charH := apirest.NewCharacterHandler(db, sm, reg, cfg.Game)
	shopH := apirest.NewVehicleShopHandler(reg)
	adminH := apirest.NewAdminHandler(db, sm, wm, reg, sched, weatherSvc, auditSvc, c, pubsub, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		charsG := api.Group("/characters")
		charsG.Use(mw.Auth(cfg.Security, c))
		charsG.GET("", charH.List)
		charsG.POST("", charH.Create)
		charsG.DELETE("/:id", charH.Delete)
		charsG.GET("/:id/vehicles", charH.Vehicles)

		shopsG := api.Group("/vehicle-shops")
		shopsG.Use(mw.Auth(cfg.Security, c))
		shopsG.GET("", shopH.List)
		shopsG.GET("/:id", shopH.Get)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/players", adminH.ListPlayers)
		adminG.POST("/kick/:id", adminH.KickPlayer)
		adminG.POST("/accounts/:id/ban", adminH.BanAccount)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/audit", adminH.AuditLog)
		adminG.GET("/vehicle-events", adminH.VehicleEvents)
		adminG.POST("/weather/rotate", adminH.RotateWeather)
		adminG.POST("/announce", adminH.Announce)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, cfg.Security, sm, wm, dir, reg, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	srv.RegisterOnShutdown(sseH.Shutdown)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("Shutting down")
	sm.CloseAllSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
