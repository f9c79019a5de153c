package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"wahub/internal/backup"
	"wahub/internal/health"
	"wahub/internal/infra/config"
	"wahub/internal/infra/logger"
	"wahub/internal/service"
	"wahub/internal/session"
	"wahub/internal/store"
	"wahub/internal/webhook"
)

// App is the main application orchestrator.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Store    *store.Store
	Sessions *session.Manager
	Webhooks *webhook.Engine
	Backups  *backup.Service
	Health   *health.Service

	services *service.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new App instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New("wahub", cfg.LogLevel)
	log.Infof("Initializing wahub...")

	if err := cfg.EnsureStorePath(); err != nil {
		return nil, fmt.Errorf("failed to ensure store path: %w", err)
	}

	dbPath := filepath.Join(cfg.StorePath, "wahub.db")
	st, err := store.New(dbPath, cfg.CacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	sessions := session.NewManager(cfg, st, nil, log)
	webhooks := webhook.NewEngine(cfg, st, log)
	backups := backup.NewService(cfg, st, log)
	healthSvc := health.NewService(cfg, st, sessions, webhooks, log)

	services := service.NewManager(log)
	services.Register("webhooks", webhooks)
	services.Register("backups", backups)
	services.Register("health", healthSvc)

	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    st,
		Sessions: sessions,
		Webhooks: webhooks,
		Backups:  backups,
		Health:   healthSvc,
		services: services,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Run starts everything and blocks until a shutdown signal.
func (a *App) Run() error {
	a.Log.Infof("Starting wahub...")

	if err := a.services.StartAll(a.ctx); err != nil {
		a.Store.Close()
		return err
	}

	if err := a.Sessions.Restore(a.ctx); err != nil {
		a.Log.Warnf("Session restore incomplete: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		a.Log.Infof("Received %v, initiating shutdown...", sig)
		a.cancel()
	}()

	a.Log.Infof("wahub is running with %d sessions. Press Ctrl+C to stop.", a.Sessions.Count())

	<-a.ctx.Done()
	return a.Shutdown()
}

// Shutdown stops services, disconnects sessions, and closes the store.
func (a *App) Shutdown() error {
	a.cancel()
	a.Sessions.CloseAll()
	a.services.StopAll()
	return a.Store.Close()
}
