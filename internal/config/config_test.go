package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvOverlay(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/scholar")
	t.Setenv("QUERY_CACHE_TTL", "15m")
	t.Setenv("GRAPH_MAX_DEPTH", "3")
	t.Setenv("AI_ADAPTER", "ollama")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Query.CacheTTL != 15*time.Minute {
		t.Errorf("CacheTTL = %v, want 15m", cfg.Query.CacheTTL)
	}
	if cfg.Query.GraphMaxDepth != 3 {
		t.Errorf("GraphMaxDepth = %d, want 3", cfg.Query.GraphMaxDepth)
	}
	if cfg.Query.ExternalCallTimeout != 30*time.Second {
		t.Errorf("ExternalCallTimeout = %v, want default 30s", cfg.Query.ExternalCallTimeout)
	}
	if cfg.AI.Adapter != "ollama" {
		t.Errorf("Adapter = %q", cfg.AI.Adapter)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
}

func TestLoadFileExpandsVariablesAndEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
database_url: ${TEST_DB_URL}
storage_backend: postgres
redis:
  addr: redis:6379
  db: 2
query:
  cache_ttl: 2h
  graph_seed_limit: 4
port: "9000"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_DB_URL", "postgres://db/papers")
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://db/papers" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Query.CacheTTL != 2*time.Hour || cfg.Query.GraphSeedLimit != 4 {
		t.Errorf("Query = %+v", cfg.Query)
	}
	if cfg.Port != "9100" {
		t.Errorf("Port = %q, env should override the file", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory needs no database", mutate: func(c *Config) { c.StorageBackend = StorageMemory }},
		{name: "postgres needs database", mutate: func(c *Config) {}, wantErr: "DATABASE_URL"},
		{name: "unknown backend", mutate: func(c *Config) { c.StorageBackend = "sqlite" }, wantErr: "StorageBackend"},
		{name: "unknown adapter", mutate: func(c *Config) {
			c.StorageBackend = StorageMemory
			c.AI.Adapter = "bedrock"
		}, wantErr: "Adapter"},
		{name: "depth out of range", mutate: func(c *Config) {
			c.StorageBackend = StorageMemory
			c.Query.GraphMaxDepth = 9
		}, wantErr: "GraphMaxDepth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestRabbitMQURL(t *testing.T) {
	r := RabbitMQConfig{User: "guest", Password: "pw", Host: "mq", Port: "5672"}
	if got := r.URL(); got != "amqp://guest:pw@mq:5672/" {
		t.Errorf("URL() = %q", got)
	}
}
