package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRequiresSigningSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "8011")
	t.Setenv("REST_REQUEST_LIMIT_PER_SECOND", "25")
	t.Setenv("GIS_HOST_GRPC", "gis.local")
	t.Setenv("GIS_PORT_GRPC", "50051")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8011 {
		t.Errorf("port = %d, want 8011", cfg.Server.Port)
	}
	if cfg.Admission.RequestsPerSecond != 25 || cfg.Admission.Burst != 25 {
		t.Errorf("rate = %d/%d, want 25/25", cfg.Admission.RequestsPerSecond, cfg.Admission.Burst)
	}
	if cfg.Auth.TokenLifetime != 360*time.Second {
		t.Errorf("token lifetime = %v, want 360s", cfg.Auth.TokenLifetime)
	}
	if cfg.Dedup.Namespaces["adsb"].Prefix != "tlm:adsb" {
		t.Errorf("adsb prefix = %q", cfg.Dedup.Namespaces["adsb"].Prefix)
	}
	gis, ok := cfg.Backends["gis"]
	if !ok || gis.Host != "gis.local" || gis.Port != "50051" {
		t.Errorf("gis backend = %+v", gis)
	}
}

func TestLoadRejectsMalformedEnvNumbers(t *testing.T) {
	cases := map[string]string{
		"PORT":                               "80a0",
		"REST_REQUEST_LIMIT_PER_SECOND":      "lots",
		"REST_CONCURRENCY_LIMIT_PER_SERVICE": "1e3",
		"BUFFER_SIZE":                        " 100",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv(key, value)

			_, err := Load("")
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("%s=%q: expected ErrConfig, got %v", key, value, err)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error should name %s: %v", key, err)
			}
		})
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
auth:
  jwt_secret: from-file
buffer:
  type: sliding_window
  size: 50
  max_age: 5s
dedup:
  namespaces:
    adsb:
      prefix: custom:adsb
      ttl: 1s
backends:
  storage:
    host: storage.local
    port: "50052"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Auth.JWTSecret != "from-file" {
		t.Errorf("unexpected server/auth config: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Buffer.Type != "sliding_window" || cfg.Buffer.MaxAge != 5*time.Second {
		t.Errorf("unexpected buffer config: %+v", cfg.Buffer)
	}
	if cfg.Dedup.Namespaces["adsb"].Prefix != "custom:adsb" {
		t.Errorf("adsb namespace not overridden: %+v", cfg.Dedup.Namespaces["adsb"])
	}
	if cfg.Dedup.Namespaces["netrid"].Prefix != "tlm:netrid" {
		t.Errorf("netrid namespace should keep its default: %+v", cfg.Dedup.Namespaces["netrid"])
	}
	if cfg.Backends["storage"].Host != "storage.local" {
		t.Errorf("storage backend = %+v", cfg.Backends["storage"])
	}
}

func TestValidateRejectsHalfConfiguredBackend(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORAGE_HOST_GRPC", "storage.local")

	_, err := Load("")
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for backend without port, got %v", err)
	}
}

func TestValidateRejectsUnknownStore(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Auth.JWTSecret = "x"
	cfg.Dedup.Store = "etcd"

	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for unknown dedup store")
	}
}
