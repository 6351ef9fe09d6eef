package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	agentconfig "github.com/cliremote/cliremote/internal/agent/config"
	"github.com/cliremote/cliremote/internal/agent/guard"
	"github.com/cliremote/cliremote/internal/agent/hubclient"
	"github.com/cliremote/cliremote/internal/agent/relay"
	"github.com/cliremote/cliremote/internal/agent/session"
	"github.com/cliremote/cliremote/internal/agent/state"
	"github.com/cliremote/cliremote/internal/logging"
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

	cfg, err := agentconfig.Load(os.Getenv)
	if err != nil {
		logging.Error(nil, "configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	st, err := state.Load(cfg.StatePath)
	if err != nil {
		logging.Warn(nil, "could not load persisted state, starting fresh", zap.Error(err))
	}

	g := guard.New(cfg.AllowedWorkingDirs)
	mux := session.New(cfg.SessionCap, cfg.CLIBinaryPath, cfg.WorkerRestartDelay, g)

	client := hubclient.New(cfg.HubURL, cfg.DeviceID, cfg.DeviceName, hubclient.RoleDesktop, cfg.HeartbeatInterval)
	if st.RoomID != "" {
		client.SetRoomID(st.RoomID)
	}
	client.OnPaired = func(roomID string) {
		logging.Info(nil, "paired", zap.String("room_id", roomID))
		if err := state.Save(cfg.StatePath, state.State{DeviceID: cfg.DeviceID, RoomID: roomID}); err != nil {
			logging.Warn(nil, "failed to persist pairing state", zap.Error(err))
		}
	}
	client.OnPeerOffline = func() {
		logging.Info(nil, "peer went offline")
	}
	client.OnUnpaired = func() {
		logging.Info(nil, "unpaired, a new pair code is required")
		_ = state.Save(cfg.StatePath, state.State{DeviceID: cfg.DeviceID})
	}
	client.OnAuthError = func(reason string) {
		logging.Error(nil, "hub rejected authentication", zap.String("reason", reason))
	}

	router := relay.New(mux, client)

	ctx, cancel := context.WithCancel(context.Background())
	go router.Run(client.Incoming())
	go client.ConnectWithReconnect(ctx)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logging.Info(nil, "agent metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn(nil, "agent metrics server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(nil, "agent shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
