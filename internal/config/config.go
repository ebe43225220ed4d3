package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// DefaultZonesFile is the layout read when ATLASGRID_ZONES_FILE is unset.
const DefaultZonesFile = "zones.toml"

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

type Config struct {
	Ledger      string // ATLASGRID_LEDGER (postgres|memory, default "postgres")
	DatabaseURL string // ATLASGRID_DATABASE_URL (required for the postgres ledger)
	GRPCAddr    string // ATLASGRID_GRPC_ADDR (default ":9090")
	HTTPAddr    string // ATLASGRID_HTTP_ADDR (default ":8080")
	AuthToken   string // ATLASGRID_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    slog.Level

	// Pipeline
	ZonesFile       string        // ATLASGRID_ZONES_FILE (default "zones.toml")
	StreamURL       string        // ATLASGRID_STREAM_URL (MJPEG camera stream)
	DetectorURL     string        // ATLASGRID_DETECTOR_URL (inference endpoint)
	DetectorToken   string        // ATLASGRID_DETECTOR_TOKEN
	DetectorTimeout time.Duration // ATLASGRID_DETECTOR_TIMEOUT (default 5s)
	SampleEvery     int           // ATLASGRID_SAMPLE_EVERY (default 3)
	QueueSize       int           // ATLASGRID_QUEUE_SIZE (default 4)
	ReconnectDelay  time.Duration // ATLASGRID_RECONNECT_DELAY (default 2s)

	// Reconciliation
	DebounceSamples int           // ATLASGRID_DEBOUNCE_SAMPLES (default 2)
	MinConfidence   float64       // ATLASGRID_MIN_CONFIDENCE (default 0.5)
	VehicleLabels   []string      // ATLASGRID_VEHICLE_LABELS (default "car,vehicle")
	MatchMode       string        // ATLASGRID_MATCH_MODE (centroid|overlap, default "centroid")
	MatchThreshold  float64       // ATLASGRID_MATCH_THRESHOLD (default 0.3)
	ClassChange     string        // ATLASGRID_CLASS_CHANGE (split|merge, default "split")
	PersistAttempts int           // ATLASGRID_PERSIST_ATTEMPTS (default 3)
	StaleAfter      time.Duration // ATLASGRID_STALE_AFTER (default 30s)

	// Event sinks (each optional)
	NATSURL      string   // ATLASGRID_NATS_URL
	KafkaBrokers []string // ATLASGRID_KAFKA_BROKERS (comma-separated)
	KafkaTopic   string   // ATLASGRID_KAFKA_TOPIC (default "atlasgrid.occupancy")
	MQTTBroker   string   // ATLASGRID_MQTT_BROKER (e.g. tcp://localhost:1883)
	MQTTClientID string   // ATLASGRID_MQTT_CLIENT_ID (default "atlasgrid")
	MQTTPrefix   string   // ATLASGRID_MQTT_PREFIX (default "atlasgrid")

	// Sync settings
	SyncInterval   time.Duration // ATLASGRID_SYNC_INTERVAL (default 5m; 0 = disabled)
	SyncS3Bucket   string        // ATLASGRID_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // ATLASGRID_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // ATLASGRID_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // ATLASGRID_SYNC_S3_KEY (default "atlasgrid/ledger.jsonl")
	SyncGitRepo    string        // ATLASGRID_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // ATLASGRID_SYNC_GIT_FILE (default "ledger.jsonl")
	SyncGitBranch  string        // ATLASGRID_SYNC_GIT_BRANCH (default "main")
}

// Load reads the configuration from the environment. Malformed values are
// reported together as a ConfigurationError.
func Load() (*Config, error) {
	c := &Config{
		Ledger:         envOrDefault("ATLASGRID_LEDGER", LedgerPostgres),
		DatabaseURL:    os.Getenv("ATLASGRID_DATABASE_URL"),
		GRPCAddr:       envOrDefault("ATLASGRID_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("ATLASGRID_HTTP_ADDR", ":8080"),
		AuthToken:      os.Getenv("ATLASGRID_AUTH_TOKEN"),
		ZonesFile:      envOrDefault("ATLASGRID_ZONES_FILE", DefaultZonesFile),
		StreamURL:      os.Getenv("ATLASGRID_STREAM_URL"),
		DetectorURL:    os.Getenv("ATLASGRID_DETECTOR_URL"),
		DetectorToken:  os.Getenv("ATLASGRID_DETECTOR_TOKEN"),
		MatchMode:      envOrDefault("ATLASGRID_MATCH_MODE", "centroid"),
		ClassChange:    envOrDefault("ATLASGRID_CLASS_CHANGE", "split"),
		VehicleLabels:  splitList(envOrDefault("ATLASGRID_VEHICLE_LABELS", "car,vehicle")),
		NATSURL:        os.Getenv("ATLASGRID_NATS_URL"),
		KafkaBrokers:   splitList(os.Getenv("ATLASGRID_KAFKA_BROKERS")),
		KafkaTopic:     envOrDefault("ATLASGRID_KAFKA_TOPIC", "atlasgrid.occupancy"),
		MQTTBroker:     os.Getenv("ATLASGRID_MQTT_BROKER"),
		MQTTClientID:   envOrDefault("ATLASGRID_MQTT_CLIENT_ID", "atlasgrid"),
		MQTTPrefix:     envOrDefault("ATLASGRID_MQTT_PREFIX", "atlasgrid"),
		SyncS3Bucket:   os.Getenv("ATLASGRID_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("ATLASGRID_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("ATLASGRID_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("ATLASGRID_SYNC_S3_KEY", "atlasgrid/ledger.jsonl"),
		SyncGitRepo:    os.Getenv("ATLASGRID_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("ATLASGRID_SYNC_GIT_FILE", "ledger.jsonl"),
		SyncGitBranch:  envOrDefault("ATLASGRID_SYNC_GIT_BRANCH", "main"),
	}

	var p parser
	c.LogLevel = p.level("ATLASGRID_LOG_LEVEL", "info")
	c.DetectorTimeout = p.duration("ATLASGRID_DETECTOR_TIMEOUT", "5s")
	c.SampleEvery = p.positiveInt("ATLASGRID_SAMPLE_EVERY", "3")
	c.QueueSize = p.positiveInt("ATLASGRID_QUEUE_SIZE", "4")
	c.ReconnectDelay = p.duration("ATLASGRID_RECONNECT_DELAY", "2s")
	c.DebounceSamples = p.positiveInt("ATLASGRID_DEBOUNCE_SAMPLES", "2")
	c.MinConfidence = p.fraction("ATLASGRID_MIN_CONFIDENCE", "0.5")
	c.MatchThreshold = p.fraction("ATLASGRID_MATCH_THRESHOLD", "0.3")
	c.PersistAttempts = p.positiveInt("ATLASGRID_PERSIST_ATTEMPTS", "3")
	c.StaleAfter = p.duration("ATLASGRID_STALE_AFTER", "30s")
	c.SyncInterval = p.duration("ATLASGRID_SYNC_INTERVAL", "5m")

	switch c.Ledger {
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			p.errs = append(p.errs, errors.New("ATLASGRID_DATABASE_URL is required"))
		}
	case LedgerMemory:
	default:
		p.errs = append(p.errs, fmt.Errorf("ATLASGRID_LEDGER: unknown ledger %q (want postgres or memory)", c.Ledger))
	}
	if len(c.VehicleLabels) == 0 {
		p.errs = append(p.errs, errors.New("ATLASGRID_VEHICLE_LABELS: at least one label is required"))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, model.NewFailure(model.ConfigurationError, "load config", err)
	}
	return c, nil
}

// ClientConfig is the subset used by CLI commands that talk to a running
// server.
type ClientConfig struct {
	ServerURL string // ATLASGRID_SERVER (default "http://localhost:8080")
	AuthToken string // ATLASGRID_AUTH_TOKEN
	NATSURL   string // ATLASGRID_NATS_URL
}

// LoadClient reads the client configuration from the environment.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		ServerURL: envOrDefault("ATLASGRID_SERVER", "http://localhost:8080"),
		AuthToken: os.Getenv("ATLASGRID_AUTH_TOKEN"),
		NATSURL:   envOrDefault("ATLASGRID_NATS_URL", "nats://localhost:4222"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
}

func (p *parser) duration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err == nil && d < 0 {
		err = errors.New("must not be negative")
	}
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) positiveInt(key, fallback string) int {
	n, err := strconv.Atoi(envOrDefault(key, fallback))
	if err == nil && n < 1 {
		err = errors.New("must be at least 1")
	}
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) fraction(key, fallback string) float64 {
	f, err := strconv.ParseFloat(envOrDefault(key, fallback), 64)
	if err == nil && (f < 0 || f > 1) {
		err = errors.New("must be between 0 and 1")
	}
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) level(key, fallback string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(envOrDefault(key, fallback))); err != nil {
		p.fail(key, err)
	}
	return l
}
