package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServer(t *testing.T) {
	t.Setenv("SEATCON_LISTEN_ADDR", ":9090")
	t.Setenv("SEATCON_DB_URL", "postgres://user@localhost/db")
	t.Setenv("SEATCON_TLS_CERT", "/tmp/cert.pem")
	t.Setenv("SEATCON_TLS_KEY", "/tmp/key.pem")
	t.Setenv("SEATCON_SERVICE_KEY", "0123456789abcdef")

	cfg, err := LoadServer(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.ListenAddr != os.Getenv("SEATCON_LISTEN_ADDR") {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DBURL != os.Getenv("SEATCON_DB_URL") {
		t.Fatalf("DBURL = %q", cfg.DBURL)
	}
	if cfg.TLSCertPath != "/tmp/cert.pem" || cfg.TLSKeyPath != "/tmp/key.pem" {
		t.Fatalf("tls paths = %q %q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestServerValidate_RequiredFields(t *testing.T) {
	cfg := ServerConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing fields")
	}

	cfg = ServerConfig{ListenAddr: ":8080"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing db url")
	}

	cfg = ServerConfig{ListenAddr: ":8080", DBURL: "postgres://"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing service key")
	}

	cfg = ServerConfig{ListenAddr: ":8080", DBURL: "postgres://", ServiceKey: "short"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short service key")
	}
}

func TestServerValidate_TLSPair(t *testing.T) {
	cfg := ServerConfig{ListenAddr: ":8080", DBURL: "postgres://", ServiceKey: "0123456789abcdef", TLSCertPath: "/tmp/cert.pem"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cert without key")
	}
	cfg.TLSKeyPath = "/tmp/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("SEATCON_USER_ID", "u1")
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.CacheTTL != 24*time.Hour || cfg.PageSize != 50 || cfg.StoreKind != "file" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AnnouncerRole != "speaker" || cfg.DefaultLanguage != "en" || cfg.TranslatorRPS != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadClientFromDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.env")
	data := "SEATCON_USER_ID=from-file\nSEATCON_PAGE_SIZE=20\nSEATCON_CACHE_TTL=1h\nSEATCON_STORE_KIND=pebble\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	for _, k := range []string{"SEATCON_USER_ID", "SEATCON_PAGE_SIZE", "SEATCON_CACHE_TTL", "SEATCON_STORE_KIND"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.UserID != "from-file" || cfg.PageSize != 20 || cfg.CacheTTL != time.Hour || cfg.StoreKind != "pebble" {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}
}

func TestClientValidate(t *testing.T) {
	valid := ClientConfig{
		BackendURL:      "http://localhost:8080",
		TranslatorURL:   "http://localhost:5000",
		TranslatorBurst: 1,
		CacheTTL:        time.Hour,
		PageSize:        50,
		AnnouncerRole:   "speaker",
		DefaultLanguage: "ko",
		StoreKind:       "memory",
		UserID:          "u1",
		UserRole:        "attendee",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	withMetrics := valid
	withMetrics.MetricsAddr = "127.0.0.1:9464"
	if err := withMetrics.Validate(); err != nil {
		t.Fatalf("Validate() with metrics addr error = %v", err)
	}

	for name, mutate := range map[string]func(*ClientConfig){
		"missing user":    func(c *ClientConfig) { c.UserID = "" },
		"bad backend url": func(c *ClientConfig) { c.BackendURL = "not a url" },
		"zero page size":  func(c *ClientConfig) { c.PageSize = 0 },
		"bad store kind":  func(c *ClientConfig) { c.StoreKind = "redis" },
		"zero ttl":        func(c *ClientConfig) { c.CacheTTL = 0 },
		"bad role":        func(c *ClientConfig) { c.UserRole = "root" },
		"bad metrics":     func(c *ClientConfig) { c.MetricsAddr = "nope" },
	} {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
