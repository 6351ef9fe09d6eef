package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/hub/bus"
	hubconfig "github.com/cliremote/cliremote/internal/hub/config"
	"github.com/cliremote/cliremote/internal/hub/dispatcher"
	"github.com/cliremote/cliremote/internal/hub/httpapi"
	"github.com/cliremote/cliremote/internal/hub/pairing"
	"github.com/cliremote/cliremote/internal/hub/ratelimit"
	"github.com/cliremote/cliremote/internal/hub/reaper"
	"github.com/cliremote/cliremote/internal/hub/registry"
	"github.com/cliremote/cliremote/internal/hub/room"
	"github.com/cliremote/cliremote/internal/hub/tracing"
	"github.com/cliremote/cliremote/internal/logging"
	"github.com/redis/go-redis/v9"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	development := os.Getenv("GO_ENV") != "production"
	if err := logging.Initialize(development); err != nil {
		panic(err)
	}

	cfg, err := hubconfig.Load(os.Getenv)
	if err != nil {
		logging.Error(nil, "configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	var busService *bus.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		busService, err = bus.New(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(nil, "failed to connect to redis bus, continuing single-instance", zap.Error(err))
		} else {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			defer busService.Close()
			defer redisClient.Close()
		}
	}

	shutdownTracing, err := tracing.Init(context.Background(), "cliremote-hub", cfg.OTLPEndpoint)
	if err != nil {
		logging.Warn(nil, "tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	reg := registry.New()
	rooms := room.New(cfg.RoomIdleTimeout)
	pending := pairing.NewStore()

	var allowedOrigins []string
	if cfg.AllowedOrigins != "" {
		allowedOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}

	hub := dispatcher.New(reg, rooms, pending, busService, cfg.HeartbeatInterval, allowedOrigins)

	limiter, err := ratelimit.New(cfg.RateLimitAPIPublic, cfg.RateLimitWSIP, redisClient)
	if err != nil {
		logging.Error(nil, "rate limiter init failed", zap.Error(err))
		os.Exit(1)
	}
	hub.SetWSRateLimiter(limiter)

	api := httpapi.New(pending, rooms, hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("cliremote-hub"))
	corsCfg := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsCfg.AllowOrigins = allowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	api.RegisterRoutes(router, "", limiter.PairingMiddleware())

	router.GET("/ws", gin.WrapF(hub.ServeWS))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r := reaper.New(reg, pending, rooms, 30*time.Second, func() []reaper.StaleConn {
		conns := reg.Snapshot()
		out := make([]reaper.StaleConn, 0, len(conns))
		for _, c := range conns {
			if sc, ok := c.(reaper.StaleConn); ok {
				out = append(out, sc)
			}
		}
		return out
	})
	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()
	go r.Run(reaperCtx, cfg.HeartbeatInterval)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(nil, "hub listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(nil, "hub server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(nil, "hub shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(nil, "hub forced shutdown", zap.Error(err))
	}
}
