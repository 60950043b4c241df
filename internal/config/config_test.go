package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != "8080" || c.Driver != DriverPostgres || c.MaxConns != 10 {
		t.Errorf("unexpected defaults %+v", c)
	}
	if c.CacheTTLs.List != 2*time.Minute || c.CacheTTLs.Report != 24*time.Hour {
		t.Errorf("unexpected cache ttls %+v", c.CacheTTLs)
	}
	e := c.Engine()
	if e.MaxDepth != 100 || e.RetryAttempts != 3 || e.RetryBaseDelay != 20*time.Millisecond {
		t.Errorf("unexpected engine config %+v", e)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TASKGRAPH_STORAGE_DRIVER", "memory")
	t.Setenv("TASKGRAPH_PROPAGATION_MAX_DEPTH", "7")
	t.Setenv("TASKGRAPH_CACHE_LIST_TTL", "30s")
	t.Setenv("DATABASE_URL", "postgres://db/other")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.Driver != DriverMemory || c.MaxDepth != 7 || c.CacheTTLs.List != 30*time.Second {
		t.Errorf("env not applied: %+v", c)
	}
	if c.DatabaseURL != "postgres://db/other" {
		t.Errorf("expected DATABASE_URL fallback, got %q", c.DatabaseURL)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "taskgraph.yaml")
	yaml := "port: \"9090\"\nretry:\n  attempts: 5\nactor:\n  cascade_name: bot\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != "9090" || c.RetryAttempts != 5 || c.CascadeName != "bot" {
		t.Errorf("file not applied: %+v", c)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for explicit missing file")
	}
}

func TestLoadInvalidDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TASKGRAPH_STORAGE_DRIVER", "sqlite")
	if _, err := Load(""); err == nil {
		t.Error("expected error for unknown driver")
	}
}
