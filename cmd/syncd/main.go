package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xelth-com/taskchat-sync/internal/app"
	"github.com/xelth-com/taskchat-sync/internal/config"
	"github.com/xelth-com/taskchat-sync/internal/database"
	syncengine "github.com/xelth-com/taskchat-sync/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Offline-first sync client for messages, tasks, teams and documents",
	Long: "syncd keeps the local store of the team chat / task client in sync with the remote store.\n" +
		"Run `syncd serve` for the daemon, or the other commands for one-shot maintenance.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger routes log output to stderr, or to a rotating file when LOG_FILE is set
func newLogger(cfg config.LogConfig) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}
	log.SetOutput(out)
	return log.New(out, "[sync] ", log.LstdFlags)
}

// openApp loads the configuration, opens and migrates the database and wires
// the client. The returned cleanup stops the client and closes the database.
func openApp() (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg.Log)

	syncCfg, err := config.LoadSyncConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load sync configuration: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}

	a, err := app.New(cfg, syncCfg, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		a.Stop()
		if err := db.Close(); err != nil {
			logger.Printf("Database close error: %v", err)
		}
	}
	return a, cleanup, nil
}

// parseScope reads "<entity> <scope-key>" arguments
func parseScope(entity, key string) (syncengine.Scope, error) {
	scope := syncengine.NewScope(syncengine.EntityType(entity), key)
	if key == "" {
		return scope, fmt.Errorf("empty scope key for %s", entity)
	}
	return scope, nil
}
