package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradesync/internal/core"
)

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Sync     SyncConfig     `yaml:"sync"`
	Market   MarketConfig   `yaml:"market"`
	History  HistoryConfig  `yaml:"history"`
	State    StateConfig    `yaml:"state"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ExchangeConfig struct {
	BaseURL        string  `yaml:"base_url"`
	PublicKey      string  `yaml:"public_key"`
	PrivateKey     string  `yaml:"private_key"`
	HTTPTimeoutSec int64   `yaml:"http_timeout_sec"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
}

type SyncConfig struct {
	PollIntervalSec          int64    `yaml:"poll_interval_sec"`
	Pairs                    []string `yaml:"pairs"`
	PublishingMaxMissedPolls int      `yaml:"publishing_max_missed_polls"`
}

type MarketConfig struct {
	// MinNotional filters dust deals out of the displayed price range.
	MinNotional Decimal `yaml:"min_notional"`
}

type HistoryConfig struct {
	// AnchorDate is the oldest date deal-history paging will walk back to.
	AnchorDate string `yaml:"anchor_date"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Exchange.BaseURL = strings.TrimRight(strings.TrimSpace(c.Exchange.BaseURL), "/")
	c.Exchange.PublicKey = strings.TrimSpace(c.Exchange.PublicKey)
	c.Exchange.PrivateKey = strings.TrimSpace(c.Exchange.PrivateKey)
	c.History.AnchorDate = strings.TrimSpace(c.History.AnchorDate)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	for i, p := range c.Sync.Pairs {
		c.Sync.Pairs[i] = strings.TrimSpace(p)
	}
}

func (c *Config) applyDefaults() {
	if c.Exchange.HTTPTimeoutSec <= 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.RateLimitRPS <= 0 {
		c.Exchange.RateLimitRPS = 8
	}
	if c.Sync.PollIntervalSec <= 0 {
		c.Sync.PollIntervalSec = 10
	}
	if c.Sync.PublishingMaxMissedPolls <= 0 {
		c.Sync.PublishingMaxMissedPolls = 3
	}
	if len(c.Sync.Pairs) == 0 {
		c.Sync.Pairs = []string{"BTC/UAH"}
	}
	if c.Market.MinNotional.IsZero() {
		c.Market.MinNotional = Decimal{decimal.NewFromInt(20)}
	}
	if c.History.AnchorDate == "" {
		c.History.AnchorDate = "2014-01-01"
	}
	if c.Alerts.Telegram.TimeoutSec <= 0 {
		c.Alerts.Telegram.TimeoutSec = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
}

func (c Config) Validate() error {
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	u, err := url.Parse(c.Exchange.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("exchange.base_url %q is not a valid URL", c.Exchange.BaseURL)
	}
	if (c.Exchange.PublicKey == "") != (c.Exchange.PrivateKey == "") {
		return fmt.Errorf("exchange.public_key and exchange.private_key must be set together")
	}
	if _, err := c.Pairs(); err != nil {
		return err
	}
	if _, err := c.AnchorDate(); err != nil {
		return err
	}
	if c.Market.MinNotional.Sign() < 0 {
		return fmt.Errorf("market.min_notional must not be negative")
	}
	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" || c.Alerts.Telegram.ChatID == "" {
			return fmt.Errorf("alerts.telegram requires bot_token and chat_id when enabled")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug/info/warn/error", c.Logging.Level)
	}
	return nil
}

// Pairs parses sync.pairs into currency pairs, rejecting duplicates.
func (c Config) Pairs() ([]core.CurrencyPair, error) {
	pairs := make([]core.CurrencyPair, 0, len(c.Sync.Pairs))
	seen := make(map[core.CurrencyPair]struct{}, len(c.Sync.Pairs))
	for _, raw := range c.Sync.Pairs {
		pair, err := core.ParsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("sync.pairs: %w", err)
		}
		if _, dup := seen[pair]; dup {
			return nil, fmt.Errorf("sync.pairs: duplicate pair %s", pair)
		}
		seen[pair] = struct{}{}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (c Config) AnchorDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.History.AnchorDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("history.anchor_date %q: want YYYY-MM-DD", c.History.AnchorDate)
	}
	return t.UTC(), nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalSec) * time.Second
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Exchange.HTTPTimeoutSec) * time.Second
}

func (c Config) Credentials() core.Credentials {
	return core.Credentials{
		PublicKey:  c.Exchange.PublicKey,
		PrivateKey: c.Exchange.PrivateKey,
	}
}
