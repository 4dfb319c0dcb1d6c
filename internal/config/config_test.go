package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// clearEnv wipes ChatFlow env vars so a test sees only what it sets.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"CHATFLOW_DATA_DIR", "CHATFLOW_HTTP_PORT", "CHATFLOW_TLS_CERT",
		"CHATFLOW_TLS_KEY", "CHATFLOW_LOG_LEVEL", "CHATFLOW_RING_TIMEOUT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"chatflow"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.TLSCert != "" || cfg.TLSKey != "" {
		t.Errorf("TLS paths = %q/%q, want empty", cfg.TLSCert, cfg.TLSKey)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.RingTimeout != defaultRingTimeout {
		t.Errorf("RingTimeout = %d, want %d", cfg.RingTimeout, defaultRingTimeout)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"chatflow"}
	t.Setenv("CHATFLOW_HTTP_PORT", "9090")
	t.Setenv("CHATFLOW_DATA_DIR", "/tmp/chatflow-test")
	t.Setenv("CHATFLOW_LOG_LEVEL", "debug")
	t.Setenv("CHATFLOW_RING_TIMEOUT", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/chatflow-test" {
		t.Errorf("DataDir = %q, want /tmp/chatflow-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.RingTimeout != 10 {
		t.Errorf("RingTimeout = %d, want 10", cfg.RingTimeout)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	os.Args = []string{"chatflow", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("CHATFLOW_HTTP_PORT", "9090")
	t.Setenv("CHATFLOW_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"port out of range", []string{"--http-port", "99999"}},
		{"unknown log level", []string{"--log-level", "verbose"}},
		{"negative ring timeout", []string{"--ring-timeout", "-5"}},
		{"tls cert without key", []string{"--tls-cert", "cert.pem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = append([]string{"chatflow"}, tt.args...)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() accepted %v, want error", tt.args)
			}
		})
	}
}

func TestRingTimeoutDuration(t *testing.T) {
	cfg := &Config{RingTimeout: 30}
	if got := cfg.RingTimeoutDuration(); got != 30*time.Second {
		t.Errorf("RingTimeoutDuration = %v, want 30s", got)
	}

	cfg.RingTimeout = 0
	if got := cfg.RingTimeoutDuration(); got != 0 {
		t.Errorf("RingTimeoutDuration = %v, want 0", got)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestJWTSecretBytes(t *testing.T) {
	// Configured secret round-trips.
	cfg := &Config{JWTSecret: "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f"}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}

	// Empty secret generates an ephemeral key and stores it back.
	cfg = &Config{}
	key, err = cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("generated key length = %d, want 32", len(key))
	}
	if cfg.JWTSecret == "" {
		t.Fatal("expected generated secret to be stored back in config")
	}

	// Wrong length fails.
	cfg = &Config{JWTSecret: "abcd"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Fatal("expected error for short secret")
	}
}
