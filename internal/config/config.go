// Package config loads process settings from the environment, an optional
// .env file and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"taskgraph/pkg/cache"
	"taskgraph/pkg/engine"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the resolved configuration.
type Config struct {
	Port          string
	DatabaseURL   string
	MaxConns      int32
	Driver        string
	CacheTTLs     cache.TTLs
	MaxDepth      int
	MaxNodes      int
	RetryAttempts int
	RetryDelay    time.Duration
	CascadeName   string
}

// Engine returns the engine settings. CascadeActorID is left for the caller.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		MaxDepth:       c.MaxDepth,
		MaxNodes:       c.MaxNodes,
		RetryAttempts:  c.RetryAttempts,
		RetryBaseDelay: c.RetryDelay,
	}
}

// Load reads configuration. Environment variables use the TASKGRAPH_ prefix
// with dots replaced by underscores (TASKGRAPH_DATABASE_URL). DATABASE_URL
// and PORT are honored unprefixed. configFile may be empty.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env: %v", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("TASKGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "TASKGRAPH_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("port", "TASKGRAPH_PORT", "PORT")

	v.SetDefault("port", "8080")
	v.SetDefault("database.url", "postgres://localhost:5432/taskgraph?sslmode=disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("cache.task_ttl", cache.DefaultTTLs.Task)
	v.SetDefault("cache.list_ttl", cache.DefaultTTLs.List)
	v.SetDefault("cache.mine_ttl", cache.DefaultTTLs.Mine)
	v.SetDefault("cache.trashed_ttl", cache.DefaultTTLs.Trashed)
	v.SetDefault("cache.report_ttl", cache.DefaultTTLs.Report)
	d := engine.DefaultConfig()
	v.SetDefault("propagation.max_depth", d.MaxDepth)
	v.SetDefault("propagation.max_nodes", d.MaxNodes)
	v.SetDefault("retry.attempts", d.RetryAttempts)
	v.SetDefault("retry.base_delay", d.RetryBaseDelay)
	v.SetDefault("actor.cascade_name", "cascade")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	c := &Config{
		Port:        v.GetString("port"),
		DatabaseURL: v.GetString("database.url"),
		MaxConns:    v.GetInt32("database.max_conns"),
		Driver:      strings.ToLower(v.GetString("storage.driver")),
		CacheTTLs: cache.TTLs{
			Task:    v.GetDuration("cache.task_ttl"),
			List:    v.GetDuration("cache.list_ttl"),
			Mine:    v.GetDuration("cache.mine_ttl"),
			Trashed: v.GetDuration("cache.trashed_ttl"),
			Report:  v.GetDuration("cache.report_ttl"),
		},
		MaxDepth:      v.GetInt("propagation.max_depth"),
		MaxNodes:      v.GetInt("propagation.max_nodes"),
		RetryAttempts: v.GetInt("retry.attempts"),
		RetryDelay:    v.GetDuration("retry.base_delay"),
		CascadeName:   v.GetString("actor.cascade_name"),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Driver)
	}
	if c.MaxDepth <= 0 || c.MaxNodes <= 0 {
		return fmt.Errorf("config: propagation limits must be positive")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("config: retry.attempts must be positive")
	}
	if strings.TrimSpace(c.CascadeName) == "" {
		return fmt.Errorf("config: actor.cascade_name is required")
	}
	return nil
}
