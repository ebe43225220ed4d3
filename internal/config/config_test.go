package config

import (
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// clearAllEnv blanks every ATLASGRID_* variable for the duration of the test.
func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "ATLASGRID_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "MemoryLedgerNeedsNoDatabase",
			env:          map[string]string{"ATLASGRID_LEDGER": "memory"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name:    "UnknownLedger",
			env:     map[string]string{"ATLASGRID_LEDGER": "sqlite"},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"ATLASGRID_DATABASE_URL": "postgres://localhost/atlasgrid"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"ATLASGRID_DATABASE_URL": "postgres://localhost/atlasgrid",
				"ATLASGRID_GRPC_ADDR":    ":7070",
				"ATLASGRID_HTTP_ADDR":    ":3000",
				"ATLASGRID_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":7070",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !model.IsKind(err, model.ConfigurationError) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadPipelineDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ATLASGRID_LEDGER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SampleEvery != 3 || cfg.QueueSize != 4 || cfg.DebounceSamples != 2 || cfg.PersistAttempts != 3 {
		t.Errorf("unexpected pipeline defaults: every=%d queue=%d debounce=%d attempts=%d",
			cfg.SampleEvery, cfg.QueueSize, cfg.DebounceSamples, cfg.PersistAttempts)
	}
	if cfg.MinConfidence != 0.5 || cfg.MatchThreshold != 0.3 {
		t.Errorf("MinConfidence = %v, MatchThreshold = %v", cfg.MinConfidence, cfg.MatchThreshold)
	}
	if cfg.MatchMode != "centroid" || cfg.ClassChange != "split" {
		t.Errorf("MatchMode = %q, ClassChange = %q", cfg.MatchMode, cfg.ClassChange)
	}
	if !slices.Equal(cfg.VehicleLabels, []string{"car", "vehicle"}) {
		t.Errorf("VehicleLabels = %v", cfg.VehicleLabels)
	}
	if cfg.StaleAfter != 30*time.Second || cfg.DetectorTimeout != 5*time.Second {
		t.Errorf("StaleAfter = %v, DetectorTimeout = %v", cfg.StaleAfter, cfg.DetectorTimeout)
	}
	if cfg.ZonesFile != "zones.toml" {
		t.Errorf("ZonesFile = %q", cfg.ZonesFile)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.KafkaTopic != "atlasgrid.occupancy" || len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaTopic = %q, KafkaBrokers = %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	}
}

func TestLoadPipelineCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ATLASGRID_LEDGER", "memory")
	t.Setenv("ATLASGRID_SAMPLE_EVERY", "5")
	t.Setenv("ATLASGRID_DEBOUNCE_SAMPLES", "4")
	t.Setenv("ATLASGRID_MIN_CONFIDENCE", "0.75")
	t.Setenv("ATLASGRID_VEHICLE_LABELS", " car, truck ,,bus ")
	t.Setenv("ATLASGRID_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ATLASGRID_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SampleEvery != 5 || cfg.DebounceSamples != 4 {
		t.Errorf("SampleEvery = %d, DebounceSamples = %d", cfg.SampleEvery, cfg.DebounceSamples)
	}
	if cfg.MinConfidence != 0.75 {
		t.Errorf("MinConfidence = %v", cfg.MinConfidence)
	}
	if !slices.Equal(cfg.VehicleLabels, []string{"car", "truck", "bus"}) {
		t.Errorf("VehicleLabels = %v", cfg.VehicleLabels)
	}
	if !slices.Equal(cfg.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
}

func TestLoadMalformed(t *testing.T) {
	for _, tc := range []struct {
		key, value string
	}{
		{"ATLASGRID_SAMPLE_EVERY", "three"},
		{"ATLASGRID_SAMPLE_EVERY", "0"},
		{"ATLASGRID_QUEUE_SIZE", "-1"},
		{"ATLASGRID_DEBOUNCE_SAMPLES", "1.5"},
		{"ATLASGRID_MIN_CONFIDENCE", "high"},
		{"ATLASGRID_MATCH_THRESHOLD", "1.2"},
		{"ATLASGRID_STALE_AFTER", "soon"},
		{"ATLASGRID_DETECTOR_TIMEOUT", "-5s"},
		{"ATLASGRID_LOG_LEVEL", "loud"},
		{"ATLASGRID_VEHICLE_LABELS", " , "},
	} {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv("ATLASGRID_LEDGER", "memory")
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
			if !model.IsKind(err, model.ConfigurationError) {
				t.Errorf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("error %q should name %s", err, tc.key)
			}
		})
	}
}

func TestLoadSyncDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ATLASGRID_DATABASE_URL", "postgres://localhost/atlasgrid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", cfg.SyncInterval)
	}
	if cfg.SyncS3Region != "us-east-1" {
		t.Errorf("SyncS3Region = %q, want %q", cfg.SyncS3Region, "us-east-1")
	}
	if cfg.SyncS3Key != "atlasgrid/ledger.jsonl" {
		t.Errorf("SyncS3Key = %q, want %q", cfg.SyncS3Key, "atlasgrid/ledger.jsonl")
	}
	if cfg.SyncGitFile != "ledger.jsonl" {
		t.Errorf("SyncGitFile = %q, want %q", cfg.SyncGitFile, "ledger.jsonl")
	}
	if cfg.SyncGitBranch != "main" {
		t.Errorf("SyncGitBranch = %q, want %q", cfg.SyncGitBranch, "main")
	}
}

func TestLoadSyncCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ATLASGRID_DATABASE_URL", "postgres://localhost/atlasgrid")
	t.Setenv("ATLASGRID_SYNC_INTERVAL", "10m")
	t.Setenv("ATLASGRID_SYNC_S3_BUCKET", "my-bucket")
	t.Setenv("ATLASGRID_SYNC_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("ATLASGRID_SYNC_GIT_REPO", "/tmp/repo")
	t.Setenv("ATLASGRID_SYNC_GIT_BRANCH", "backup")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 10*time.Minute {
		t.Errorf("SyncInterval = %v, want 10m", cfg.SyncInterval)
	}
	if cfg.SyncS3Bucket != "my-bucket" {
		t.Errorf("SyncS3Bucket = %q", cfg.SyncS3Bucket)
	}
	if cfg.SyncS3Endpoint != "http://minio:9000" {
		t.Errorf("SyncS3Endpoint = %q", cfg.SyncS3Endpoint)
	}
	if cfg.SyncGitRepo != "/tmp/repo" {
		t.Errorf("SyncGitRepo = %q", cfg.SyncGitRepo)
	}
	if cfg.SyncGitBranch != "backup" {
		t.Errorf("SyncGitBranch = %q", cfg.SyncGitBranch)
	}
}

func TestLoadSyncDisabled(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("ATLASGRID_DATABASE_URL", "postgres://localhost/atlasgrid")
	t.Setenv("ATLASGRID_SYNC_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want 0 (disabled)", cfg.SyncInterval)
	}
}

func TestLoadClient(t *testing.T) {
	clearAllEnv(t)
	c := LoadClient()
	if c.ServerURL != "http://localhost:8080" || c.NATSURL != "nats://localhost:4222" {
		t.Errorf("unexpected client defaults %+v", c)
	}
	t.Setenv("ATLASGRID_SERVER", "http://lot:9000")
	if c := LoadClient(); c.ServerURL != "http://lot:9000" {
		t.Errorf("ServerURL = %q", c.ServerURL)
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}
