package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/broker/capital"
	"github.com/rustyeddy/riskengine/limits"
	"github.com/rustyeddy/riskengine/orders"
	"github.com/rustyeddy/riskengine/risk"
)

// Config is the complete engine configuration.
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Broker  BrokerConfig  `json:"broker" yaml:"broker"`
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`
	Limits  LimitsConfig  `json:"limits" yaml:"limits"`
	Sizing  SizingConfig  `json:"sizing" yaml:"sizing"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// AccountConfig seeds the simulated broker's account.
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// BrokerConfig selects the broker. Capital.com credentials come from the
// environment, never from this file: CAPITAL_API_KEY plus either
// CAPITAL_IDENTIFIER and CAPITAL_PASSWORD, or CAPITAL_CST and
// CAPITAL_SECURITY_TOKEN.
type BrokerConfig struct {
	// Kind is "sim" or "capital"; Env is "demo" or "live".
	Kind        string   `json:"kind" yaml:"kind"`
	Env         string   `json:"env,omitempty" yaml:"env,omitempty"`
	StreamURL   string   `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	CallTimeout string   `json:"call_timeout" yaml:"call_timeout"` // e.g. "10s"
	Instruments []string `json:"instruments,omitempty" yaml:"instruments,omitempty"`
}

type MonitorConfig struct {
	PollInterval     string `json:"poll_interval" yaml:"poll_interval"`
	MaxAge           string `json:"max_age" yaml:"max_age"`
	MaxPendingPerBot int    `json:"max_pending_per_bot" yaml:"max_pending_per_bot"`
}

type LimitsConfig struct {
	CacheTTL string `json:"cache_ttl" yaml:"cache_ttl"`
}

// SizingConfig percentages are in percent (2 means 2%).
type SizingConfig struct {
	Method          string  `json:"method" yaml:"method"` // "baseline" or "professional"
	RiskPercent     float64 `json:"risk_percent" yaml:"risk_percent"`
	MaxPositionSize float64 `json:"max_position_size" yaml:"max_position_size"`
	MinRR           float64 `json:"min_rr" yaml:"min_rr"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type         string `json:"type" yaml:"type"` // "none", "csv", "sqlite" or "both"
	DBPath       string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	OrdersFile   string `json:"orders_file,omitempty" yaml:"orders_file,omitempty"`
	BracketsFile string `json:"brackets_file,omitempty" yaml:"brackets_file,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
}

type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // empty disables the endpoint
}

// LoadFromFile loads configuration from a file (YAML, or JSON as a fallback)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		cfg = Default()
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, else JSON)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}

	switch c.Broker.Kind {
	case "sim":
	case "capital":
		if c.Broker.Env != "demo" && c.Broker.Env != "live" {
			return fmt.Errorf("broker.env must be 'demo' or 'live'")
		}
	default:
		return fmt.Errorf("broker.kind must be 'sim' or 'capital'")
	}

	for name, s := range map[string]string{
		"broker.call_timeout":   c.Broker.CallTimeout,
		"monitor.poll_interval": c.Monitor.PollInterval,
		"monitor.max_age":       c.Monitor.MaxAge,
		"limits.cache_ttl":      c.Limits.CacheTTL,
	} {
		if s == "" {
			continue
		}
		if d, err := time.ParseDuration(s); err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", name, s)
		}
	}
	if c.Monitor.MaxPendingPerBot < 0 {
		return fmt.Errorf("monitor.max_pending_per_bot must not be negative")
	}

	if c.Sizing.Method != "baseline" && c.Sizing.Method != "professional" {
		return fmt.Errorf("sizing.method must be 'baseline' or 'professional'")
	}
	if c.Sizing.RiskPercent <= 0 || c.Sizing.RiskPercent > risk.MaxRiskPercent {
		return fmt.Errorf("sizing.risk_percent must be in (0, %g]", risk.MaxRiskPercent)
	}
	if c.Sizing.MaxPositionSize < 0 {
		return fmt.Errorf("sizing.max_position_size must not be negative")
	}

	switch c.Journal.Type {
	case "none", "":
	case "sqlite", "csv", "both":
		if c.Journal.Type != "csv" && c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
		if c.Journal.Type != "sqlite" && (c.Journal.OrdersFile == "" || c.Journal.BracketsFile == "") {
			return fmt.Errorf("journal orders_file and brackets_file required for CSV type")
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv', 'sqlite' or 'both'")
	}

	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	oc := orders.DefaultConfig()
	pol := risk.DefaultPolicy()
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  10000,
		},
		Broker: BrokerConfig{
			Kind:        "sim",
			Env:         "demo",
			CallTimeout: broker.DefaultCallTimeout.String(),
		},
		Monitor: MonitorConfig{
			PollInterval:     oc.PollInterval.String(),
			MaxAge:           oc.MaxAge.String(),
			MaxPendingPerBot: oc.MaxPendingPerBot,
		},
		Limits: LimitsConfig{
			CacheTTL: limits.DefaultTTL.String(),
		},
		Sizing: SizingConfig{
			Method:          "baseline",
			RiskPercent:     1,
			MaxPositionSize: risk.DefaultMaxPositionSize,
			MinRR:           pol.MinRR,
			MaxDailyLossPct: pol.MaxDailyLossPct * 100,
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./riskengine.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) CallTimeout() time.Duration {
	return duration(c.Broker.CallTimeout, broker.DefaultCallTimeout)
}

func (c *Config) CacheTTL() time.Duration {
	return duration(c.Limits.CacheTTL, limits.DefaultTTL)
}

// Orders converts the monitor section.
func (c *Config) Orders() orders.Config {
	d := orders.DefaultConfig()
	return orders.Config{
		PollInterval:     duration(c.Monitor.PollInterval, d.PollInterval),
		MaxAge:           duration(c.Monitor.MaxAge, d.MaxAge),
		MaxPendingPerBot: c.Monitor.MaxPendingPerBot,
	}
}

// Policy converts the sizing section into pre-trade review limits.
func (c *Config) Policy() risk.Policy {
	p := risk.DefaultPolicy()
	if c.Sizing.RiskPercent > 0 {
		p.MaxRiskPct = c.Sizing.RiskPercent / 100
	}
	if c.Sizing.MinRR > 0 {
		p.MinRR = c.Sizing.MinRR
	}
	if c.Sizing.MaxDailyLossPct > 0 {
		p.MaxDailyLossPct = c.Sizing.MaxDailyLossPct / 100
	}
	return p
}

// Sizer returns the sizing variant named by sizing.method.
func (c *Config) Sizer() risk.Sizer {
	if c.Sizing.Method == "professional" {
		return risk.Professional
	}
	return risk.Baseline
}

// StreamURL is the configured stream endpoint or the Capital.com default.
func (c *Config) StreamURL() string {
	if c.Broker.StreamURL != "" {
		return c.Broker.StreamURL
	}
	return capital.StreamURL
}
