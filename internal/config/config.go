package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures runtime settings for the Verum indexer daemon.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Ledger struct {
		NodeURL        string `yaml:"node_url"`
		BearerToken    string `yaml:"bearer_token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"ledger"`

	Indexer struct {
		BatchSize               int    `yaml:"batch_size"`
		MaxBatches              int    `yaml:"max_batches"`
		EpochCutoff             string `yaml:"epoch_cutoff"`
		MaxSearchDepth          int    `yaml:"max_search_depth"`
		WindowHardCap           int    `yaml:"window_hard_cap"`
		CacheTTLSeconds         int    `yaml:"cache_ttl_seconds"`
		SegmentTimeSlackSeconds int    `yaml:"segment_time_slack_seconds"`
	} `yaml:"indexer"`

	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	Security struct {
		BearerToken      string   `yaml:"bearer_token"`
		TrustedCIDRs     []string `yaml:"trusted_cidrs"`
		EnableIPAllow    *bool    `yaml:"enable_ip_allow_list"`
		EnableBearerAuth *bool    `yaml:"enable_bearer_auth"`
	} `yaml:"security"`

	Logging struct {
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
		Network string `yaml:"network"`
	} `yaml:"logging"`

	epochCutoffUnix int64
}

// Load reads and validates config from disk.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EpochCutoffUnix is the block time before which no Verum transaction can
// exist; traversal stops scanning below it.
func (c *Config) EpochCutoffUnix() int64 {
	return c.epochCutoffUnix
}

func (c *Config) StorageEnabled() bool {
	return strings.TrimSpace(c.Storage.PostgresDSN) != ""
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		c.Ledger.TimeoutSeconds = 10
	}
	if c.Indexer.BatchSize <= 0 {
		c.Indexer.BatchSize = 50
	}
	if c.Indexer.MaxBatches <= 0 {
		c.Indexer.MaxBatches = 10
	}
	if c.Indexer.EpochCutoff == "" {
		c.Indexer.EpochCutoff = "2023-06-01T00:00:00Z"
	}
	if c.Indexer.MaxSearchDepth <= 0 {
		c.Indexer.MaxSearchDepth = 500
	}
	if c.Indexer.WindowHardCap <= 0 {
		c.Indexer.WindowHardCap = 1000
	}
	if c.Indexer.CacheTTLSeconds <= 0 {
		c.Indexer.CacheTTLSeconds = 30
	}
	if c.Indexer.SegmentTimeSlackSeconds <= 0 {
		c.Indexer.SegmentTimeSlackSeconds = 60
	}
	if c.Security.EnableBearerAuth == nil {
		c.Security.EnableBearerAuth = boolPtr(false)
	}
	if c.Security.EnableIPAllow == nil {
		c.Security.EnableIPAllow = boolPtr(false)
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 8
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "verum-indexer"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Region == "" {
		c.Logging.Region = "local"
	}
	if c.Logging.Network == "" {
		c.Logging.Network = "mainnet"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Ledger.NodeURL) == "" {
		return errors.New("ledger.node_url is required")
	}
	if !strings.HasPrefix(c.Ledger.NodeURL, "http://") && !strings.HasPrefix(c.Ledger.NodeURL, "https://") {
		return errors.New("ledger.node_url must be an http(s) url")
	}
	cutoff, err := time.Parse(time.RFC3339, c.Indexer.EpochCutoff)
	if err != nil {
		return fmt.Errorf("indexer.epoch_cutoff must be RFC3339: %w", err)
	}
	c.epochCutoffUnix = cutoff.Unix()
	if c.Indexer.MaxSearchDepth > c.Indexer.WindowHardCap {
		c.Indexer.MaxSearchDepth = c.Indexer.WindowHardCap
	}
	if *c.Security.EnableBearerAuth && strings.TrimSpace(c.Security.BearerToken) == "" {
		return errors.New("security.bearer_token is required when bearer auth is enabled")
	}
	if *c.Security.EnableIPAllow && len(c.Security.TrustedCIDRs) == 0 {
		return errors.New("security.trusted_cidrs is required when ip allow list is enabled")
	}
	for i, cidr := range c.Security.TrustedCIDRs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("security.trusted_cidrs[%d] is invalid: %w", i, err)
		}
	}
	return nil
}

func (c *Config) expandEnv() {
	c.Ledger.NodeURL = os.ExpandEnv(strings.TrimSpace(c.Ledger.NodeURL))
	c.Ledger.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Ledger.BearerToken))
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Security.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Security.BearerToken))
}

func boolPtr(v bool) *bool {
	return &v
}
