package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Backend != BackendCouchDB {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Sync.Interval != time.Hour {
		t.Errorf("sync interval = %v", cfg.Sync.Interval)
	}
	if cfg.Sync.ChunkMaxTokens != 8192 {
		t.Errorf("chunk max tokens = %d", cfg.Sync.ChunkMaxTokens)
	}
	if cfg.ICloud.Environment != "test" {
		t.Errorf("environment = %q, want ENV fallback", cfg.ICloud.Environment)
	}
	if cfg.Embedding.Dimensions != 3072 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.WebSocket.OperatorID != "operator" {
		t.Errorf("operator id = %q", cfg.WebSocket.OperatorID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("SYNC_INTERVAL", "0")
	t.Setenv("SYNC_WORKERS", "4")
	t.Setenv("EMBEDDING_RPS", "2.5")
	t.Setenv("SECOND_FACTOR_TIMEOUT", "90s")
	t.Setenv("OPERATOR_ID", "admin")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendMongo {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Sync.Interval != 0 {
		t.Errorf("expected ticker disabled, got %v", cfg.Sync.Interval)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("workers = %d", cfg.Sync.Workers)
	}
	if cfg.Embedding.RequestsPerSecond != 2.5 {
		t.Errorf("embedding rps = %v", cfg.Embedding.RequestsPerSecond)
	}
	if cfg.Sync.SecondFactorTimeout != 90*time.Second {
		t.Errorf("second factor timeout = %v", cfg.Sync.SecondFactorTimeout)
	}
	if cfg.WebSocket.OperatorID != "admin" {
		t.Errorf("operator id = %q", cfg.WebSocket.OperatorID)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown backend", "STORE_BACKEND", "sqlite"},
		{"bad duration", "SYNC_INTERVAL", "hourly"},
		{"bad rps", "EMBEDDING_RPS", "fast"},
		{"bad database scope", "ICLOUD_DATABASE", "public"},
		{"bad server url", "SERVER_URL", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected %s=%q to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestRequireSync(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: BackendMongo}}
	err := cfg.RequireSync()
	if err == nil {
		t.Fatal("expected missing settings")
	}
	for _, key := range []string{"ICLOUD_USERNAME", "ICLOUD_PASSWORD", "OPENAI_API_KEY", "MONGODB_URI"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("expected %s in %q", key, err)
		}
	}

	cfg.ICloud = ICloudConfig{Username: "u", Password: "p"}
	cfg.Embedding.APIKey = "k"
	cfg.Mongo.URI = "mongodb://localhost"
	if err := cfg.RequireSync(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{CORS: CORSConfig{AllowedOrigins: "https://a.example, ,https://b.example"}}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("AllowedOrigins() = %v", got)
	}
}
