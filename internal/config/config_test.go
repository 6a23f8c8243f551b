package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

// unsetEnv removes keys for the duration of the test.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadDefaultsWithSecret(t *testing.T) {
	chdirTemp(t)
	unsetEnv(t, ConfigPathEnvVar, "SECRET_KEY")
	t.Setenv("AGRI_AUTH_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Fatalf("expected 2h token ttl, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.BcryptCost != 10 {
		t.Fatalf("expected bcrypt cost 10, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.Queue.Topic != "submissions.analyze" || cfg.Queue.DLQTopic != "submissions.dlq" {
		t.Fatalf("unexpected topics: %+v", cfg.Queue)
	}
	if cfg.Storage.Backend != "disk" || cfg.Storage.Dir != "uploads" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

func TestLoadMissingSecretFails(t *testing.T) {
	chdirTemp(t)
	unsetEnv(t, ConfigPathEnvVar, "AGRI_AUTH_SECRET", "SECRET_KEY")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "auth.secret") {
		t.Fatalf("expected auth.secret error, got %v", err)
	}
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "agri.yaml")
	yaml := `
auth:
  secret: from-file
queue:
  max_retries: 7
  ack_wait: 45s
server:
  addr: ":9000"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	unsetEnv(t, "AGRI_AUTH_SECRET", "SECRET_KEY")
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("AGRI_QUEUE_MAX_RETRIES", "2")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/agri")
	t.Setenv("AGRI_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Secret != "from-file" {
		t.Fatalf("expected secret from file, got %q", cfg.Auth.Secret)
	}
	if cfg.Queue.MaxRetries != 2 {
		t.Fatalf("env should override file, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.AckWait != 45*time.Second {
		t.Fatalf("expected ack wait from file, got %v", cfg.Queue.AckWait)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "postgres://u:p@db/agri" {
		t.Fatalf("legacy DATABASE_URL not mapped: %q", cfg.Database.DSN)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.Server.CORSOrigins)
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"AGRI_DATABASE_DSN":       "database.dsn",
		"AGRI_QUEUE_DLQ_TOPIC":    "queue.dlq_topic",
		"SECRET_KEY":              "auth.secret",
		"ML_API_URL":              "worker.ml_url",
		"AGRI_":                   "",
		"AGRI_LOGGING":            "",
		"HOME":                    "",
		"RECONCILE_INTERVAL":      "",
		"AGRI_RECONCILE_INTERVAL": "reconcile.interval",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Fatalf("envTransform(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Auth.Secret = "x"
	cfg.Storage.Backend = "ftp"
	cfg.Queue.DLQTopic = cfg.Queue.Topic
	cfg.Queue.MaxRetries = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, frag := range []string{"storage.backend", "dlq_topic", "max_retries"} {
		if !strings.Contains(err.Error(), frag) {
			t.Fatalf("expected %q in %v", frag, err)
		}
	}

	cfg = defaultConfig()
	cfg.Auth.Secret = "x"
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "storage.bucket") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestTrustedProxies(t *testing.T) {
	chdirTemp(t)
	unsetEnv(t, ConfigPathEnvVar, "SECRET_KEY")
	t.Setenv("AGRI_AUTH_SECRET", "s3cret")
	t.Setenv("AGRI_SERVER_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	prefixes, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes: %v", err)
	}
	if len(prefixes) != 2 || prefixes[0].String() != "10.0.0.0/8" || prefixes[1].String() != "192.0.2.1/32" {
		t.Fatalf("unexpected prefixes %v", prefixes)
	}

	t.Setenv("AGRI_SERVER_TRUSTED_PROXIES", "proxy.internal")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "trusted_proxies") {
		t.Fatalf("expected trusted_proxies error, got %v", err)
	}
}
