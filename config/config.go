// Package config centralises runtime configuration for back-office services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the service operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Backend names a storage backend implementation.
type Backend string

const (
	// BackendPostgres stores ledger state in PostgreSQL.
	BackendPostgres Backend = "postgres"
	// BackendMemory stores ledger state in process memory.
	BackendMemory Backend = "memory"
)

// ServerSettings configures the HTTP intake and report surface.
type ServerSettings struct {
	Addr string `yaml:"addr"`
}

// DatabaseSettings controls PostgreSQL connectivity and migration behaviour.
type DatabaseSettings struct {
	Backend       Backend `yaml:"backend"`
	DSN           string  `yaml:"dsn"`
	RunMigrations bool    `yaml:"runMigrations"`
}

// SeedSettings points at the reference-data CSV directory.
type SeedSettings struct {
	DataDir string `yaml:"dataDir"`
}

// ReportSettings configures bulk report output.
type ReportSettings struct {
	OutDir string `yaml:"outDir"`
}

// TelemetrySettings configures OTLP metric export.
type TelemetrySettings struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// PublisherSettings configures the event feed publisher.
type PublisherSettings struct {
	FeedPath      string        `yaml:"feedPath"`
	IntakeURL     string        `yaml:"intakeURL"`
	Interval      time.Duration `yaml:"interval"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Burst         int           `yaml:"burst"`
}

// Settings contains the back-office configuration tree loaded from defaults,
// an optional YAML file and environment overrides.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Server      ServerSettings    `yaml:"server"`
	Database    DatabaseSettings  `yaml:"database"`
	Seed        SeedSettings      `yaml:"seed"`
	Reports     ReportSettings    `yaml:"reports"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
	Publisher   PublisherSettings `yaml:"publisher"`
}

// Default returns the default back-office configuration.
func Default() Settings {
	return Settings{
		Environment: EnvDev,
		Server:      ServerSettings{Addr: ":8000"},
		Database: DatabaseSettings{
			Backend:       BackendPostgres,
			DSN:           "postgresql://localhost:5432/backoffice",
			RunMigrations: true,
		},
		Seed:    SeedSettings{DataDir: "data"},
		Reports: ReportSettings{OutDir: "out"},
		Telemetry: TelemetrySettings{
			OTLPEndpoint:  "",
			ServiceName:   "backoffice",
			OTLPInsecure:  false,
			EnableMetrics: false,
		},
		Publisher: PublisherSettings{
			FeedPath:      "data/events.json",
			IntakeURL:     "http://localhost:8000",
			Interval:      time.Second,
			RatePerSecond: 10,
			Burst:         1,
		},
	}
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path skips the file step.
func Load(path string) (Settings, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is operator controlled.
		if err != nil {
			return Settings{}, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg = applyEnv(cfg)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// FromEnv loads configuration from environment variables over the defaults.
func FromEnv() Settings {
	cfg := applyEnv(Default())
	cfg.normalise()
	return cfg
}

func applyEnv(cfg Settings) Settings {
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_LISTEN_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_DB_BACKEND")); v != "" {
		cfg.Database.Backend = Backend(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_DB_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_DB_MIGRATE")); v != "" {
		if run, err := strconv.ParseBool(v); err == nil {
			cfg.Database.RunMigrations = run
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_SEED_DIR")); v != "" {
		cfg.Seed.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_REPORT_DIR")); v != "" {
		cfg.Reports.OutDir = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.EnableMetrics = true
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_FEED_PATH")); v != "" {
		cfg.Publisher.FeedPath = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_INTAKE_URL")); v != "" {
		cfg.Publisher.IntakeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BACKOFFICE_PUBLISH_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Publisher.Interval = dur
		}
	}
	return cfg
}

func (s *Settings) normalise() {
	s.Environment = Environment(strings.ToLower(strings.TrimSpace(string(s.Environment))))
	s.Database.Backend = Backend(strings.ToLower(strings.TrimSpace(string(s.Database.Backend))))
	s.Server.Addr = strings.TrimSpace(s.Server.Addr)
	s.Database.DSN = strings.TrimSpace(s.Database.DSN)
	s.Telemetry.OTLPEndpoint = strings.TrimSpace(s.Telemetry.OTLPEndpoint)
	s.Telemetry.ServiceName = strings.TrimSpace(s.Telemetry.ServiceName)
	if dir := strings.TrimSpace(s.Seed.DataDir); dir != "" {
		s.Seed.DataDir = filepath.Clean(dir)
	}
	if dir := strings.TrimSpace(s.Reports.OutDir); dir != "" {
		s.Reports.OutDir = filepath.Clean(dir)
	}
	if s.Publisher.Burst <= 0 {
		s.Publisher.Burst = 1
	}
}

// Validate performs semantic validation on the configuration.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if s.Server.Addr == "" {
		return fmt.Errorf("server addr required")
	}
	switch s.Database.Backend {
	case BackendPostgres:
		if s.Database.DSN == "" {
			return fmt.Errorf("database dsn required for postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("database backend must be postgres or memory")
	}
	if s.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if s.Publisher.RatePerSecond <= 0 {
		return fmt.Errorf("publisher ratePerSecond must be > 0")
	}
	if s.Publisher.Interval <= 0 {
		return fmt.Errorf("publisher interval must be > 0")
	}
	return nil
}
