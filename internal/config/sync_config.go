package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xelth-com/taskchat-sync/internal/sync"
)

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	// ============ SCHEDULING ============
	AutoSyncEnabled  bool `json:"auto_sync_enabled" yaml:"auto_sync_enabled"`
	AutoSyncInterval int  `json:"auto_sync_interval" yaml:"auto_sync_interval"` // seconds
	SyncOnStartup    bool `json:"sync_on_startup" yaml:"sync_on_startup"`

	// ============ LIMITS ============
	CallTimeout         int `json:"call_timeout" yaml:"call_timeout"` // seconds, per remote call
	MaxAttempts         int `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase         int `json:"backoff_base" yaml:"backoff_base"` // seconds
	BackoffMax          int `json:"backoff_max" yaml:"backoff_max"`   // seconds
	HealthCheckInterval int `json:"health_check_interval" yaml:"health_check_interval"`

	// ============ ENTITIES ============
	Entities map[string]EntitySyncConfig `json:"entities" yaml:"entities"`

	// ============ ROUTES ============
	Routes []SyncRouteConfig `json:"routes" yaml:"routes"`
}

// EntitySyncConfig holds sync configuration for a specific entity type
type EntitySyncConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Scopes  []string `json:"scopes" yaml:"scopes"` // scope keys, e.g. team ids
}

// SyncRouteConfig represents a sync route
type SyncRouteConfig struct {
	URL      string `json:"url" yaml:"url"`
	Type     string `json:"type" yaml:"type"`         // primary, fallback
	Timeout  int    `json:"timeout" yaml:"timeout"`   // seconds
	Priority int    `json:"priority" yaml:"priority"` // lower = higher priority
}

// LoadSyncConfig loads the sync configuration from SYNC_CONFIG_PATH (JSON,
// or YAML for .yaml/.yml files) or from environment defaults
func LoadSyncConfig() (*SyncConfig, error) {
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		cfg, err := LoadSyncConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		log.Printf("📄 Sync config loaded from %s", configPath)
		return cfg, nil
	}
	return getDefaultSyncConfig(), nil
}

// LoadSyncConfigFile reads a config file on top of the defaults
func LoadSyncConfigFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync config: %w", err)
	}

	cfg := getDefaultSyncConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse sync config %s: %w", path, err)
	}
	return cfg, nil
}

// getDefaultSyncConfig returns default sync configuration
func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		AutoSyncEnabled:     getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval:    getIntEnv("SYNC_AUTO_INTERVAL", 300),
		SyncOnStartup:       getBoolEnv("SYNC_ON_STARTUP", true),
		CallTimeout:         int(getDurationEnv("SYNC_CALL_TIMEOUT", 30*time.Second) / time.Second),
		MaxAttempts:         getIntEnv("SYNC_MAX_ATTEMPTS", sync.DefaultMaxAttempts),
		BackoffBase:         int(getDurationEnv("SYNC_BACKOFF_BASE", sync.DefaultBaseDelay) / time.Second),
		BackoffMax:          int(getDurationEnv("SYNC_BACKOFF_MAX", sync.DefaultMaxDelay) / time.Second),
		HealthCheckInterval: getIntEnv("SYNC_HEALTH_INTERVAL", 30),
		Entities:            getDefaultEntityConfigs(),
		Routes:              getDefaultRoutes(),
	}
}

// getDefaultEntityConfigs enables every entity family. Scopes come from
// SYNC_SCOPES ("messages:team-1,tasks:team-1").
func getDefaultEntityConfigs() map[string]EntitySyncConfig {
	entities := map[string]EntitySyncConfig{}
	for _, t := range []sync.EntityType{
		sync.EntityTypeMessage, sync.EntityTypeTask, sync.EntityTypeTeam,
		sync.EntityTypeTeamMember, sync.EntityTypeDocument, sync.EntityTypeUser,
	} {
		entities[string(t)] = EntitySyncConfig{Enabled: true}
	}

	for _, raw := range getListEnv("SYNC_SCOPES") {
		scope, err := sync.ParseScope(raw)
		if err != nil {
			log.Printf("⚠️ Ignoring SYNC_SCOPES entry: %v", err)
			continue
		}
		ec := entities[string(scope.Entity)]
		ec.Enabled = true
		ec.Scopes = append(ec.Scopes, scope.Key)
		entities[string(scope.Entity)] = ec
	}
	return entities
}

// getDefaultRoutes reads SYNC_ROUTES, a comma separated list of base URLs in
// priority order
func getDefaultRoutes() []SyncRouteConfig {
	routes := []SyncRouteConfig{}
	for i, u := range getListEnv("SYNC_ROUTES") {
		routeType := "fallback"
		if i == 0 {
			routeType = "primary"
		}
		log.Printf("🔗 Adding %s sync route: %s", routeType, u)
		routes = append(routes, SyncRouteConfig{URL: u, Type: routeType, Timeout: 10, Priority: i + 1})
	}
	if len(routes) == 0 {
		log.Println("⚠️ No sync routes configured (SYNC_ROUTES not set)")
	}
	return routes
}

// RetryPolicy converts the limits into the engine's policy
func (c *SyncConfig) RetryPolicy() sync.RetryPolicy {
	return sync.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.BackoffBase) * time.Second,
		MaxDelay:    time.Duration(c.BackoffMax) * time.Second,
	}
}

// CallTimeoutDuration is the per remote call deadline
func (c *SyncConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// EngineConfig converts the scheduling section
func (c *SyncConfig) EngineConfig() sync.EngineConfig {
	return sync.EngineConfig{
		AutoSyncEnabled:  c.AutoSyncEnabled,
		AutoSyncInterval: time.Duration(c.AutoSyncInterval) * time.Second,
		SyncOnStartup:    c.SyncOnStartup,
		StartupDelay:     2 * time.Second,
	}
}

// RouteConfigs converts the routes for the connection manager
func (c *SyncConfig) RouteConfigs() []sync.RouteConfig {
	out := make([]sync.RouteConfig, 0, len(c.Routes))
	for _, r := range c.Routes {
		out = append(out, sync.RouteConfig{
			URL:      strings.TrimRight(r.URL, "/"),
			Type:     sync.RouteType(r.Type),
			Timeout:  time.Duration(r.Timeout) * time.Second,
			Priority: r.Priority,
		})
	}
	return out
}

// EntityEnabled reports whether an entity family is synchronized
func (c *SyncConfig) EntityEnabled(t sync.EntityType) bool {
	ec, ok := c.Entities[string(t)]
	return ok && ec.Enabled
}

// Scopes returns every configured scope of the enabled entity families
func (c *SyncConfig) Scopes() []sync.Scope {
	var out []sync.Scope
	for name, ec := range c.Entities {
		if !ec.Enabled {
			continue
		}
		for _, key := range ec.Scopes {
			out = append(out, sync.NewScope(sync.EntityType(name), key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
