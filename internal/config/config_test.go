package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKET_OWNER", "alice")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("logging defaults: %+v", cfg.Logging)
	}
	if cfg.Platform.Owner != "alice" {
		t.Fatalf("owner: %+v", cfg.Platform)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketplace.yaml")
	data := `
server:
  host: 127.0.0.1
  port: 9090
  auth_secret: sekrit
database:
  dsn: postgres://localhost/market
logging:
  level: debug
platform:
  owner: alice
  platform_fee: 25
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 || cfg.Server.AuthSecret != "sekrit" {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if cfg.Database.DSN != "postgres://localhost/market" {
		t.Fatalf("database: %+v", cfg.Database)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Platform.Owner != "alice" || cfg.Platform.PlatformFee != 25 {
		t.Fatalf("platform: %+v", cfg.Platform)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketplace.yaml")
	data := `
server:
  port: 9090
platform:
  owner: alice
  platform_fee: 25
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("MARKET_PORT", "7070")
	t.Setenv("MARKET_OWNER", "bob")
	t.Setenv("MARKET_PLATFORM_FEE", "50")
	t.Setenv("MARKET_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Fatalf("port: %d", cfg.Server.Port)
	}
	if cfg.Platform.Owner != "bob" || cfg.Platform.PlatformFee != 50 {
		t.Fatalf("platform: %+v", cfg.Platform)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[0] != "https://a.example" {
		t.Fatalf("origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadRequiresOwner(t *testing.T) {
	t.Setenv("MARKET_OWNER", "")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error without an owner")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
