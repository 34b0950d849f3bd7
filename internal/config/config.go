// Package config loads settlement engine configuration from YAML and the
// environment. Environment variables override file values so deployments can
// keep secrets out of config files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Chain    ChainConfig    `yaml:"chain"`
	Logging  LoggingConfig  `yaml:"logging"`
	Lottery  LotteryConfig  `yaml:"lottery"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	ReadTimeout  int      `yaml:"read_timeout_seconds"`
	WriteTimeout int      `yaml:"write_timeout_seconds"`
	AdminTokens  []string `yaml:"admin_tokens"`
}

// DatabaseConfig configures the transactional store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// ChainConfig configures the on-chain payment sender.
type ChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	NetworkID       uint32 `yaml:"network_id"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	TreasuryAddress string `yaml:"treasury_address"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// LotteryConfig carries draw and allocation policy.
type LotteryConfig struct {
	TicketPrice        float64 `yaml:"ticket_price"`
	WinnerShare        float64 `yaml:"winner_share"`
	EligibilityDays    int     `yaml:"eligibility_days"`
	ResiduePolicy      string  `yaml:"residue_policy"` // rollover or retain
	DrawSchedule       string  `yaml:"draw_schedule"`  // cron expression
	PayoutConcurrency  int     `yaml:"payout_concurrency"`
	PayoutTimeout      int     `yaml:"payout_timeout_seconds"`
	PayoutRatePerSec   float64 `yaml:"payout_rate_per_second"`
	AnnouncerURL       string  `yaml:"announcer_url"`
	AnnouncerAuthToken string  `yaml:"announcer_auth_token"`
}

// ResiduePolicy values for unspent winner-pool funds after the cascade.
const (
	ResidueRollover = "rollover"
	ResidueRetain   = "retain"
)

// Defaults applied when values are absent.
const (
	DefaultTicketPrice       = 2.5
	DefaultWinnerShare       = 0.85
	DefaultEligibilityDays   = 7
	DefaultDrawSchedule      = "0 21 * * 2,5" // Tuesday and Friday at 21:00
	DefaultPayoutConcurrency = 4
	DefaultPayoutTimeout     = 30
	DefaultPayoutRate        = 5.0
)

// Load reads configuration from the path in CONFIG_PATH (default
// config/config.yaml), then applies environment overrides and defaults.
// A missing file is not an error; env and defaults alone are enough to run.
func Load() (*Config, error) {
	path := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if path == "" {
		path = "config/config.yaml"
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env and defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ADMIN_TOKENS"); v != "" {
		c.Server.AdminTokens = splitAndTrim(v)
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("CHAIN_TREASURY_ADDRESS"); v != "" {
		c.Chain.TreasuryAddress = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DRAW_SCHEDULE"); v != "" {
		c.Lottery.DrawSchedule = v
	}
	if v := os.Getenv("RESIDUE_POLICY"); v != "" {
		c.Lottery.ResiduePolicy = v
	}
	if v := os.Getenv("ANNOUNCER_URL"); v != "" {
		c.Lottery.AnnouncerURL = v
	}
	if v := os.Getenv("ANNOUNCER_AUTH_TOKEN"); v != "" {
		c.Lottery.AnnouncerAuthToken = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30
	}
	if c.Lottery.TicketPrice == 0 {
		c.Lottery.TicketPrice = DefaultTicketPrice
	}
	if c.Lottery.WinnerShare == 0 {
		c.Lottery.WinnerShare = DefaultWinnerShare
	}
	if c.Lottery.EligibilityDays == 0 {
		c.Lottery.EligibilityDays = DefaultEligibilityDays
	}
	if c.Lottery.ResiduePolicy == "" {
		c.Lottery.ResiduePolicy = ResidueRollover
	}
	if c.Lottery.DrawSchedule == "" {
		c.Lottery.DrawSchedule = DefaultDrawSchedule
	}
	if c.Lottery.PayoutConcurrency == 0 {
		c.Lottery.PayoutConcurrency = DefaultPayoutConcurrency
	}
	if c.Lottery.PayoutTimeout == 0 {
		c.Lottery.PayoutTimeout = DefaultPayoutTimeout
	}
	if c.Lottery.PayoutRatePerSec == 0 {
		c.Lottery.PayoutRatePerSec = DefaultPayoutRate
	}
	if c.Chain.TimeoutSeconds == 0 {
		c.Chain.TimeoutSeconds = 30
	}
}

func (c *Config) validate() error {
	if c.Lottery.WinnerShare <= 0 || c.Lottery.WinnerShare > 1 {
		return fmt.Errorf("lottery.winner_share must be in (0,1], got %v", c.Lottery.WinnerShare)
	}
	switch c.Lottery.ResiduePolicy {
	case ResidueRollover, ResidueRetain:
	default:
		return fmt.Errorf("lottery.residue_policy must be %q or %q, got %q",
			ResidueRollover, ResidueRetain, c.Lottery.ResiduePolicy)
	}
	return nil
}

// ChainTimeout returns the RPC timeout as a duration.
func (c ChainConfig) ChainTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
