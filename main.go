// Port Daddy is a local coordination daemon for multi-agent development: port
// allocation, locks, pub/sub, agent registry and resurrection, sessions, and
// webhooks, all served over a Unix socket and a loopback HTTP port.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portdaddy/daemon/internal/activity"
	"github.com/portdaddy/daemon/internal/agents"
	"github.com/portdaddy/daemon/internal/config"
	"github.com/portdaddy/daemon/internal/hub"
	"github.com/portdaddy/daemon/internal/inbox"
	"github.com/portdaddy/daemon/internal/janitor"
	"github.com/portdaddy/daemon/internal/locks"
	"github.com/portdaddy/daemon/internal/logging"
	"github.com/portdaddy/daemon/internal/pubsub"
	"github.com/portdaddy/daemon/internal/resurrection"
	"github.com/portdaddy/daemon/internal/server"
	"github.com/portdaddy/daemon/internal/services"
	"github.com/portdaddy/daemon/internal/sessions"
	"github.com/portdaddy/daemon/internal/store"
	"github.com/portdaddy/daemon/internal/webhooks"
)

func main() {
	logging.Setup()
	cfg := config.Load()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	db := st.DB()

	resurrectionStore := resurrection.NewStore(db)
	activityLog := activity.NewLog(db)
	webhookDispatcher := webhooks.NewDispatcher(db)
	defer webhookDispatcher.Shutdown()
	if err := webhookDispatcher.StartupRequeue(); err != nil {
		slog.Error("requeue pending webhook deliveries", "error", err)
	}

	eventHub := hub.New(activityLog, webhookDispatcher)

	deps := server.Deps{
		Services:     services.NewManager(db, cfg.ReservedPorts, cfg.HTTPPort),
		Locks:        locks.NewManager(db),
		PubSub:       pubsub.NewBroker(db),
		Inbox:        inbox.NewStore(db),
		Sessions:     sessions.NewManager(db),
		Agents:       agents.NewManager(db, resurrectionStore),
		Resurrection: resurrectionStore,
		Webhooks:     webhookDispatcher,
		Activity:     activityLog,
		Hub:          eventHub,
	}

	j := janitor.New(janitor.Config{
		DB:                    db,
		Services:              deps.Services,
		Locks:                 deps.Locks,
		PubSub:                deps.PubSub,
		Agents:                deps.Agents,
		Resurrection:          deps.Resurrection,
		Webhooks:              deps.Webhooks,
		Activity:              deps.Activity,
		Hub:                   deps.Hub,
		AgentTTL:              cfg.AgentTTL,
		StaleAfter:            cfg.StaleAfter,
		DeadAfter:             cfg.DeadAfter,
		ResurrectionRetention: cfg.ResurrectionRetention,
	})
	j.Start()
	defer j.Stop()

	srv := server.New(cfg, deps)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("port-daddy started", "socket", cfg.SocketPath, "http", cfg.HTTPHost, "port", cfg.HTTPPort)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case <-sigCtx.Done():
		slog.Info("shutdown signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
}
