package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Auctions       AuctionsConfig       `yaml:"auctions"`
	Notify         NotifyConfig         `yaml:"notify"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuctionsConfig holds auction engine and scheduler settings.
type AuctionsConfig struct {
	// TickInterval is the scheduler period for lifecycle transitions.
	TickInterval time.Duration `yaml:"tick_interval"`
	// Retention is how long terminal auctions are kept before the
	// scheduler flags them for archival.
	Retention time.Duration `yaml:"retention"`
	// CloseOnAcceptedOffer makes accepting an offer also close the
	// auction as a sale at the offer amount.
	CloseOnAcceptedOffer bool `yaml:"close_on_accepted_offer"`
	// AdminIDs may act as owner on any auction.
	AdminIDs []string `yaml:"admin_ids"`
}

// NotifyConfig holds outbound notifier settings. Backends with empty
// settings are simply not constructed.
type NotifyConfig struct {
	Redis   RedisNotifyConfig   `yaml:"redis"`
	Discord DiscordNotifyConfig `yaml:"discord"`
}

// RedisNotifyConfig holds Redis pub/sub notifier settings.
type RedisNotifyConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// DiscordNotifyConfig holds Discord channel notifier settings.
type DiscordNotifyConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Auctions: AuctionsConfig{
			TickInterval: time.Minute,
			Retention:    720 * time.Hour,
		},
		Notify: NotifyConfig{
			Redis: RedisNotifyConfig{
				Channel: "auctions.events",
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auction-house",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auction-house-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Auctions.TickInterval <= 0 {
		return fmt.Errorf("auctions.tick_interval must be positive, got %s", c.Auctions.TickInterval)
	}
	if c.Auctions.Retention <= 0 {
		return fmt.Errorf("auctions.retention must be positive, got %s", c.Auctions.Retention)
	}
	return nil
}
