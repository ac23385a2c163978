// Package config defines all configuration for the seaport-gossip node.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via SEAPORT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, loaded directly from the YAML file;
// each field's key is given by its mapstructure tag.
type Config struct {
	ChainProvider string `mapstructure:"chain_provider"`
	DataDir       string `mapstructure:"datadir"`

	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`

	Bootnodes []string `mapstructure:"bootnodes"`

	MinConnections int `mapstructure:"min_connections"`
	MaxConnections int `mapstructure:"max_connections"`

	CollectionAddresses []string `mapstructure:"collection_addresses"`

	MaxOrders          int           `mapstructure:"max_orders"`
	MaxOrdersPerOfferer int          `mapstructure:"max_orders_per_offerer"`
	MaxOrderStartTime  time.Duration `mapstructure:"max_order_start_time"`
	MaxOrderEndTime    time.Duration `mapstructure:"max_order_end_time"`
	MaxOrderHistory    time.Duration `mapstructure:"max_order_history"`

	RevalidateInterval     time.Duration `mapstructure:"revalidate_interval"`
	RevalidateBlockDistance uint64       `mapstructure:"revalidate_block_distance"`

	IngestExternalOrders bool   `mapstructure:"ingest_external_orders"`
	ExternalAPIKey       string `mapstructure:"external_api_key"`
	ExternalAPIBaseURL   string `mapstructure:"external_api_base_url"`
	ExternalFetchRatePerSec float64 `mapstructure:"external_fetch_rate_per_sec"`

	SettlementContractAddress string `mapstructure:"settlement_contract_address"`
	ValidateFeeRecipient      bool   `mapstructure:"validate_fee_recipient"`
	ClientMode                bool   `mapstructure:"client_mode"`

	// RevalidateOnRead is an opt-in, off-by-default setting that re-validates
	// an order synchronously before a query-layer read returns it, instead of
	// relying solely on the background revalidation loop.
	RevalidateOnRead bool `mapstructure:"revalidate_on_read"`

	// CustomNetworkConfig is an opaque pass-through to whichever Network
	// implementation is wired in; the node never interprets it itself.
	CustomNetworkConfig map[string]any `mapstructure:"custom_network_config"`

	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	API      APIConfig      `mapstructure:"api"`
}

// LoggingConfig controls log/slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// APIConfig controls the read-side query HTTP API (internal/api).
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Default returns the node's configuration defaults.
func Default() Config {
	return Config{
		DataDir:                 "./datadir",
		Hostname:                "0.0.0.0",
		Port:                    8998,
		Bootnodes:               []string{},
		MinConnections:          5,
		MaxConnections:          15,
		CollectionAddresses:     []string{},
		MaxOrders:               100_000,
		MaxOrdersPerOfferer:     100,
		MaxOrderStartTime:       14 * 24 * time.Hour,
		MaxOrderEndTime:         180 * 24 * time.Hour,
		MaxOrderHistory:         7 * 24 * time.Hour,
		RevalidateInterval:      60 * time.Second,
		RevalidateBlockDistance: 25,
		IngestExternalOrders:    false,
		ExternalAPIKey:          "",
		ExternalFetchRatePerSec: 5,
		ValidateFeeRecipient:    true,
		ClientMode:              true,
		Logging:                 LoggingConfig{Level: "info", Format: "text"},
		Metrics:                 MetricsConfig{Enabled: false, Port: 9998},
		API:                     APIConfig{Enabled: false, Port: 8999},
	}
}

// Load reads config from a YAML file, applying defaults first, with env var
// overrides for sensitive fields: SEAPORT_CHAIN_PROVIDER, SEAPORT_EXTERNAL_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SEAPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if provider := os.Getenv("SEAPORT_CHAIN_PROVIDER"); provider != "" {
		cfg.ChainProvider = provider
	}
	if key := os.Getenv("SEAPORT_EXTERNAL_API_KEY"); key != "" {
		cfg.ExternalAPIKey = key
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("datadir", def.DataDir)
	v.SetDefault("hostname", def.Hostname)
	v.SetDefault("port", def.Port)
	v.SetDefault("min_connections", def.MinConnections)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("max_orders", def.MaxOrders)
	v.SetDefault("max_orders_per_offerer", def.MaxOrdersPerOfferer)
	v.SetDefault("max_order_start_time", def.MaxOrderStartTime)
	v.SetDefault("max_order_end_time", def.MaxOrderEndTime)
	v.SetDefault("max_order_history", def.MaxOrderHistory)
	v.SetDefault("revalidate_interval", def.RevalidateInterval)
	v.SetDefault("revalidate_block_distance", def.RevalidateBlockDistance)
	v.SetDefault("ingest_external_orders", def.IngestExternalOrders)
	v.SetDefault("external_fetch_rate_per_sec", def.ExternalFetchRatePerSec)
	v.SetDefault("validate_fee_recipient", def.ValidateFeeRecipient)
	v.SetDefault("client_mode", def.ClientMode)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.port", def.Metrics.Port)
	v.SetDefault("api.enabled", def.API.Enabled)
	v.SetDefault("api.port", def.API.Port)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.ChainProvider == "" {
		return fmt.Errorf("chain_provider is required (set SEAPORT_CHAIN_PROVIDER)")
	}
	if c.MaxOrders <= 0 {
		return fmt.Errorf("max_orders must be > 0")
	}
	if c.MaxOrdersPerOfferer <= 0 {
		return fmt.Errorf("max_orders_per_offerer must be > 0")
	}
	if c.MinConnections <= 0 || c.MaxConnections < c.MinConnections {
		return fmt.Errorf("max_connections must be >= min_connections > 0")
	}
	if c.RevalidateInterval <= 0 {
		return fmt.Errorf("revalidate_interval must be > 0")
	}
	if c.IngestExternalOrders && c.ExternalAPIKey == "" {
		return fmt.Errorf("external_api_key is required when ingest_external_orders is true")
	}
	return nil
}
