// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/graduation-sniper/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. GRAD_BOT_THRESHOLD.
const EnvPrefix = "GRAD_BOT"

type StrategyConfig struct {
	BuyAmount           float64       `mapstructure:"buy_amount"`
	SellThreshold       float64       `mapstructure:"sell_threshold"`
	StopLossThreshold   float64       `mapstructure:"stop_loss_threshold"`
	MaxHoldDuration     time.Duration `mapstructure:"max_hold_duration"`
	PartialSellLadder   []float64     `mapstructure:"partial_sell_ladder"`
	PartialSellFraction float64       `mapstructure:"partial_sell_fraction"`
	SlippagePercent     float64       `mapstructure:"slippage_percent"`
}

type RiskConfig struct {
	Window           time.Duration `mapstructure:"window"`
	DrawdownMedium   float64       `mapstructure:"drawdown_medium"`
	DrawdownHigh     float64       `mapstructure:"drawdown_high"`
	DrawdownCritical float64       `mapstructure:"drawdown_critical"`
	FailuresMedium   int           `mapstructure:"failures_medium"`
	FailuresHigh     int           `mapstructure:"failures_high"`
	FailuresCritical int           `mapstructure:"failures_critical"`
}

type PumpFunConfig struct {
	ProgramID     string `mapstructure:"program_id"`
	InitialTokens uint64 `mapstructure:"initial_real_token_reserves"`
	Commitment    string `mapstructure:"commitment"`
}

type PaperConfig struct {
	FeeBps  int64         `mapstructure:"fee_bps"`
	Latency time.Duration `mapstructure:"latency"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type LicenseConfig struct {
	Key       string `mapstructure:"key"`
	Account   string `mapstructure:"account"`
	Product   string `mapstructure:"product"`
	PublicKey string `mapstructure:"public_key"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Debug      bool   `mapstructure:"debug"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Threshold          float64       `mapstructure:"threshold"`
	Buffer             float64       `mapstructure:"buffer"`
	ConfirmationWindow int           `mapstructure:"confirmation_window"`
	HistorySize        int           `mapstructure:"history_size"`
	MinimumEstimate    time.Duration `mapstructure:"minimum_estimate"`
	MinProgressRate    float64       `mapstructure:"min_progress_rate"`

	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	SampleTimeout     time.Duration `mapstructure:"sample_timeout"`
	SampleMaxAttempts int           `mapstructure:"sample_max_attempts"`
	SampleBackoff     time.Duration `mapstructure:"sample_backoff"`
	MaxTokens         int           `mapstructure:"max_tokens_to_monitor"`
	Workers           int           `mapstructure:"workers"`

	MonitorInterval     time.Duration `mapstructure:"monitor_interval"`
	MaxConcurrentTrades int           `mapstructure:"max_concurrent_trades"`
	MaxTotalExposure    float64       `mapstructure:"max_total_exposure"`
	MaxExitAttempts     int           `mapstructure:"max_exit_attempts"`
	SwapTimeout         time.Duration `mapstructure:"swap_timeout"`
	QuoteTimeout        time.Duration `mapstructure:"quote_timeout"`
	ShutdownGrace       time.Duration `mapstructure:"shutdown_grace"`

	DispatcherQueueSize int    `mapstructure:"dispatcher_queue_size"`
	DispatcherPolicy    string `mapstructure:"dispatcher_policy"`

	DefaultStrategy string                    `mapstructure:"default_strategy"`
	Strategies      map[string]StrategyConfig `mapstructure:"strategies"`
	Risk            RiskConfig                `mapstructure:"risk"`

	Assets      []string       `mapstructure:"assets"`
	RPCList     []string       `mapstructure:"rpc_list"`
	PumpFun     PumpFunConfig  `mapstructure:"pumpfun"`
	Paper       PaperConfig    `mapstructure:"paper"`
	PostgresURL string         `mapstructure:"postgres_url"`
	MetricsAddr string         `mapstructure:"metrics_addr"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	License     LicenseConfig  `mapstructure:"license"`
	Log         LogConfig      `mapstructure:"log"`
}

const (
	DefaultThreshold          = 400.0
	DefaultBuffer             = 20.0
	DefaultConfirmationWindow = 3
	DefaultSampleInterval     = 2 * time.Second
	DefaultMonitorInterval    = time.Second
	DefaultMaxTokens          = 50
	DefaultMaxExitAttempts    = 3
	DefaultShutdownGrace      = 10 * time.Second
	DefaultPumpFunProgram     = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

	// DefaultInitialTokens is the real token reserve of a fresh pump.fun curve, in base units.
	DefaultInitialTokens uint64 = 793_100_000_000_000
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"threshold":           DefaultThreshold,
		"buffer":              DefaultBuffer,
		"confirmation_window": DefaultConfirmationWindow,
		"history_size":        10,
		"minimum_estimate":    "1s",
		"min_progress_rate":   0.0001,

		"sample_interval":       DefaultSampleInterval.String(),
		"sample_timeout":        "3s",
		"sample_max_attempts":   3,
		"sample_backoff":        "200ms",
		"max_tokens_to_monitor": DefaultMaxTokens,
		"workers":               0,

		"monitor_interval":      DefaultMonitorInterval.String(),
		"max_concurrent_trades": 3,
		"max_total_exposure":    1.0,
		"max_exit_attempts":     DefaultMaxExitAttempts,
		"swap_timeout":          "15s",
		"quote_timeout":         "3s",
		"shutdown_grace":        DefaultShutdownGrace.String(),
		"dispatcher_queue_size": 256,
		"dispatcher_policy":     "drop_oldest",

		"risk.window":            "24h",
		"risk.drawdown_medium":   10.0,
		"risk.drawdown_high":     25.0,
		"risk.drawdown_critical": 50.0,
		"risk.failures_medium":   1,
		"risk.failures_high":     2,
		"risk.failures_critical": 3,

		"pumpfun.program_id":                  DefaultPumpFunProgram,
		"pumpfun.initial_real_token_reserves": DefaultInitialTokens,
		"pumpfun.commitment":                  "confirmed",

		"paper.fee_bps":    100,
		"log.file":         "logs/graduation-sniper.log",
		"log.max_size_mb":  100,
		"log.max_backups":  5,
		"log.max_age_days": 30,
	}
}

// LoadConfig reads path, applies defaults and GRAD_BOT_* environment overrides,
// then validates the result. Every validation failure is a *domain.ConfigurationError.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("decode %s: %v", path, err)}
	}

	loadEnvironmentLists(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvironmentLists lets comma separated env values replace list keys.
func loadEnvironmentLists(v *viper.Viper, cfg *Config) {
	if list := splitList(v.GetString("rpc_list")); len(list) > 0 {
		cfg.RPCList = list
	}
	if list := splitList(v.GetString("assets")); len(list) > 0 {
		cfg.Assets = list
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if clean := strings.TrimSpace(part); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// Validate checks every option and the strategy table.
func (c *Config) Validate() error {
	if err := validateNumericParams(c); err != nil {
		return err
	}
	if c.DispatcherPolicy != "drop_oldest" && c.DispatcherPolicy != "block" {
		return &domain.ConfigurationError{Field: "dispatcher_policy", Reason: "must be drop_oldest or block"}
	}
	for _, rpcURL := range c.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return &domain.ConfigurationError{Field: "rpc_list", Reason: fmt.Sprintf("%s: %v", rpcURL, err)}
		}
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return &domain.ConfigurationError{Field: "telegram.chat_id", Reason: "required when telegram.token is set"}
	}
	if len(c.Strategies) == 0 {
		return &domain.ConfigurationError{Field: "strategies", Reason: "at least one strategy is required"}
	}
	if _, err := c.BuildStrategies(); err != nil {
		return err
	}
	if _, ok := c.Strategies[strings.ToLower(c.DefaultStrategy)]; !ok {
		return &domain.ConfigurationError{Field: "default_strategy", Reason: fmt.Sprintf("unknown strategy %q", c.DefaultStrategy)}
	}
	return nil
}

func validateNumericParams(c *Config) error {
	positive := []struct {
		field string
		ok    bool
	}{
		{"threshold", c.Threshold > 0},
		{"confirmation_window", c.ConfirmationWindow > 0},
		{"min_progress_rate", c.MinProgressRate > 0},
		{"sample_interval", c.SampleInterval > 0},
		{"sample_timeout", c.SampleTimeout > 0},
		{"sample_max_attempts", c.SampleMaxAttempts > 0},
		{"monitor_interval", c.MonitorInterval > 0},
		{"max_tokens_to_monitor", c.MaxTokens > 0},
		{"max_concurrent_trades", c.MaxConcurrentTrades > 0},
		{"max_total_exposure", c.MaxTotalExposure > 0},
		{"max_exit_attempts", c.MaxExitAttempts > 0},
		{"swap_timeout", c.SwapTimeout > 0},
		{"quote_timeout", c.QuoteTimeout > 0},
		{"dispatcher_queue_size", c.DispatcherQueueSize > 0},
		{"risk.window", c.Risk.Window > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return &domain.ConfigurationError{Field: p.field, Reason: "must be positive"}
		}
	}

	if c.Buffer < 0 || c.Buffer > c.Threshold {
		return &domain.ConfigurationError{Field: "buffer", Reason: "must be in [0, threshold]"}
	}
	if c.Workers < 0 {
		return &domain.ConfigurationError{Field: "workers", Reason: "must not be negative"}
	}
	if c.SampleBackoff < 0 || c.ShutdownGrace < 0 || c.MinimumEstimate < 0 {
		return &domain.ConfigurationError{Field: "durations", Reason: "must not be negative"}
	}
	if c.Paper.FeeBps < 0 || c.Paper.FeeBps >= 10_000 {
		return &domain.ConfigurationError{Field: "paper.fee_bps", Reason: "must be in [0,10000)"}
	}
	r := c.Risk
	if !(r.DrawdownMedium <= r.DrawdownHigh && r.DrawdownHigh <= r.DrawdownCritical) {
		return &domain.ConfigurationError{Field: "risk", Reason: "drawdown thresholds must be ascending"}
	}
	if !(r.FailuresMedium <= r.FailuresHigh && r.FailuresHigh <= r.FailuresCritical) {
		return &domain.ConfigurationError{Field: "risk", Reason: "failure thresholds must be ascending"}
	}
	return nil
}

// BuildStrategies converts the strategy table into validated domain strategies
// keyed by name.
func (c *Config) BuildStrategies() (map[string]domain.Strategy, error) {
	names := make([]string, 0, len(c.Strategies))
	for name := range c.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]domain.Strategy, len(names))
	for _, name := range names {
		sc := c.Strategies[name]
		s := domain.Strategy{
			Name:                name,
			BuyAmount:           decimal.NewFromFloat(sc.BuyAmount),
			SellThreshold:       decimal.NewFromFloat(sc.SellThreshold),
			StopLossThreshold:   decimal.NewFromFloat(sc.StopLossThreshold),
			MaxHoldDuration:     sc.MaxHoldDuration,
			PartialSellFraction: decimal.NewFromFloat(sc.PartialSellFraction),
			SlippagePercent:     decimal.NewFromFloat(sc.SlippagePercent),
		}
		for _, rung := range sc.PartialSellLadder {
			s.PartialSellLadder = append(s.PartialSellLadder, decimal.NewFromFloat(rung))
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

// DefaultStrategyName returns the default strategy key as stored by viper.
func (c *Config) DefaultStrategyName() string {
	return strings.ToLower(c.DefaultStrategy)
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return fmt.Errorf("invalid URL protocol %q", parsed.Scheme)
	}
	urlCache.Store(rawURL, parsed)
	return nil
}
