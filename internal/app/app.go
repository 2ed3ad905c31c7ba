// Package app wires the database, stores, remote client and sync engine
// into one runnable client.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xelth-com/taskchat-sync/internal/config"
	"github.com/xelth-com/taskchat-sync/internal/database"
	"github.com/xelth-com/taskchat-sync/internal/entities"
	"github.com/xelth-com/taskchat-sync/internal/handlers"
	"github.com/xelth-com/taskchat-sync/internal/models"
	"github.com/xelth-com/taskchat-sync/internal/remote"
	"github.com/xelth-com/taskchat-sync/internal/store"
	syncengine "github.com/xelth-com/taskchat-sync/internal/sync"
	"github.com/xelth-com/taskchat-sync/internal/websocket"
)

// App is the assembled sync client
type App struct {
	Config     *config.Config
	SyncConfig *config.SyncConfig
	DB         *database.DB
	Conn       *syncengine.ConnectionManager
	Engine     *syncengine.Engine
	History    *store.GormHistory
	Hub        *websocket.Hub

	Messages    *syncengine.Repository[models.Message]
	Tasks       *syncengine.Repository[models.Task]
	Teams       *syncengine.Repository[models.Team]
	TeamMembers *syncengine.Repository[models.TeamMember]
	Documents   *syncengine.Repository[models.Document]
	Users       *syncengine.Repository[models.User]

	log     *log.Logger
	cancel  context.CancelFunc
	syncers []syncengine.Syncer
}

// New builds the client over an already migrated database. Nothing runs
// until Start.
func New(cfg *config.Config, syncCfg *config.SyncConfig, db *database.DB, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	a := &App{
		Config:     cfg,
		SyncConfig: syncCfg,
		DB:         db,
		History:    store.NewGormHistory(db.DB),
		Hub:        websocket.NewHub(),
		log:        logger,
	}

	// Without routes the manager never goes online; local mutations still work
	a.Conn = syncengine.NewConnectionManager(syncCfg.RouteConfigs(), logger)
	if syncCfg.HealthCheckInterval > 0 {
		a.Conn.SetHealthCheckInterval(time.Duration(syncCfg.HealthCheckInterval) * time.Second)
	}

	a.Engine = syncengine.NewEngine(syncCfg.EngineConfig(), a.Conn, a.History, logger)
	a.Conn.OnReconnect(a.Engine.OnReconnect)

	opts := syncengine.Options{
		Retry:        syncCfg.RetryPolicy(),
		CallTimeout:  syncCfg.CallTimeoutDuration(),
		Logger:       logger,
		Connectivity: a.Conn,
		OnReport:     a.Engine.Observe,
	}

	var err error
	if a.Messages, err = register[models.Message](a, entities.Messages{}, opts); err != nil {
		return nil, err
	}
	if a.Tasks, err = register[models.Task](a, entities.Tasks, opts); err != nil {
		return nil, err
	}
	if a.Teams, err = register[models.Team](a, entities.Teams, opts); err != nil {
		return nil, err
	}
	if a.TeamMembers, err = register[models.TeamMember](a, entities.TeamMembers, opts); err != nil {
		return nil, err
	}
	if a.Documents, err = register[models.Document](a, entities.Documents{}, opts); err != nil {
		return nil, err
	}
	if a.Users, err = register[models.User](a, entities.Users{}, opts); err != nil {
		return nil, err
	}

	for _, scope := range syncCfg.Scopes() {
		if err := a.Engine.AddScope(scope); err != nil {
			return nil, fmt.Errorf("failed to add scope %s: %w", scope, err)
		}
	}
	logger.Printf("✅ Sync client ready (%d scopes)", len(a.Engine.Scopes()))
	return a, nil
}

// register builds the gorm-backed coordinator and repository of one entity
// family. Disabled families get a repository but no engine registration, so
// their local mutations are kept until the family is enabled.
func register[P any](a *App, entity syncengine.Entity[P], opts syncengine.Options) (*syncengine.Repository[P], error) {
	client := remote.NewHTTPClient[P](a.Conn.BaseURL, remote.StaticToken(a.Config.RemoteToken), remote.NewTransport())
	coord := syncengine.NewCoordinator[P](
		entity,
		store.NewGormStore[P](a.DB.DB),
		store.NewGormCursorStore(a.DB.DB),
		client,
		opts,
	)
	a.syncers = append(a.syncers, coord)
	if !a.SyncConfig.EntityEnabled(entity.Type()) {
		a.log.Printf("⏭️ Sync disabled for %s", entity.Type())
		return syncengine.NewLocalRepository(coord), nil
	}
	if err := a.Engine.Register(coord); err != nil {
		return nil, err
	}
	return syncengine.NewRepository(coord), nil
}

// Router returns the control API
func (a *App) Router() *handlers.Router {
	return handlers.NewRouter(a.Engine, a.Hub, a.Conn, a.Config.APISecret)
}

// Start begins route probing, the engine timers and the report stream
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.Hub.Run(ctx)
	reports, unsubscribe := a.Engine.Subscribe(64)
	go func() {
		defer unsubscribe()
		a.Hub.ForwardReports(ctx, reports)
	}()

	a.Conn.Start()
	if err := a.Engine.Start(); err != nil {
		cancel()
		a.Conn.Stop()
		return err
	}
	return nil
}

// Stop stops the engine and route probing. The database stays open.
func (a *App) Stop() {
	a.Engine.Stop()
	a.Conn.Stop()
	for _, s := range a.syncers {
		s.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

// WaitOnline probes the routes once; the CLI uses it before a one-shot cycle
func (a *App) WaitOnline(ctx context.Context) bool {
	return a.Conn.CheckNow(ctx) != syncengine.Offline
}
