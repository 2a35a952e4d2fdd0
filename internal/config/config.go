// Package config loads and validates the engine's runtime configuration
// from defaults, an optional config file, and environment overrides,
// using viper the way the rest of the corpus wires it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// StableCurrencies default set: native SOL, wrapped SOL, USDC, USDT
// (spec §6). Configurable via stable_currencies.
var defaultStableCurrencies = []string{
	"So11111111111111111111111111111111111111112", // wrapped SOL
	"11111111111111111111111111111111",            // native SOL sentinel
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", // USDT
}

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	MaxConcurrentJobs    int             `mapstructure:"max_concurrent_jobs"`
	MaxConcurrentWallets int             `mapstructure:"max_concurrent_wallets"`
	WalletDeadline       time.Duration   `mapstructure:"wallet_deadline_seconds"`
	ConnectionPoolSize   int32           `mapstructure:"connection_pool_size"`
	BatchSize            int             `mapstructure:"batch_size"`
	NetQtyThreshold      decimal.Decimal `mapstructure:"-"`
	NetValueThresholdUSD decimal.Decimal `mapstructure:"-"`
	DustThreshold        decimal.Decimal `mapstructure:"-"`
	StableCurrencies     map[string]bool `mapstructure:"-"`
	TimeframeMode        string          `mapstructure:"timeframe_mode"`
	MaxPages             int             `mapstructure:"max_pages"`

	PostgresDSN  string `mapstructure:"postgres_dsn"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB      int    `mapstructure:"redis_db"`
	Aggregator   HTTPClientConfig `mapstructure:"aggregator"`
	Oracle       HTTPClientConfig `mapstructure:"oracle"`
	ListenAddr   string `mapstructure:"listen_addr"`
	BearerToken  string `mapstructure:"bearer_token"`
	WebhookURL   string `mapstructure:"webhook_url"`
	AllowedOrigins string `mapstructure:"allowed_origins"`

	WrappedNativeAddress   string        `mapstructure:"wrapped_native_address"`
	DefaultChain           string        `mapstructure:"default_chain"`
	DiscoveryFeedURL       string        `mapstructure:"discovery_feed_url"`
	DiscoveryPollSeconds   int           `mapstructure:"discovery_poll_seconds"`
	QueuePollSeconds       int           `mapstructure:"queue_poll_seconds"`
	Development            bool          `mapstructure:"development"`
}

// DiscoveryPollInterval converts DiscoveryPollSeconds into a Duration
// for the scraper's ticker.
func (c *Config) DiscoveryPollInterval() time.Duration {
	return time.Duration(c.DiscoveryPollSeconds) * time.Second
}

// QueuePollInterval converts QueuePollSeconds into a Duration for the
// orchestrator's discovery-queue consumer loop.
func (c *Config) QueuePollInterval() time.Duration {
	return time.Duration(c.QueuePollSeconds) * time.Second
}

// HTTPClientConfig covers the aggregator/oracle base URL + API key +
// retry knobs shared by both external collaborators.
type HTTPClientConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout_seconds"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// TimeframeMode constants named in spec §6.
const (
	TimeframeNone     = "none"
	TimeframeGeneral  = "general"
	TimeframeSpecific = "specific"
)

// Load reads defaults, an optional config file (searched in ./configs,
// ./, /etc/wallet-pnl-engine), then environment variables prefixed
// WPE_ (e.g. WPE_MAX_CONCURRENT_JOBS), and validates the result.
// A local .env is loaded first (development convenience, never
// required in production) matching the corpus's godotenv convention.
func Load(configName string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(configName)
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/wallet-pnl-engine")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("WPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.WalletDeadline = time.Duration(v.GetInt64("wallet_deadline_seconds")) * time.Second
	cfg.Aggregator.Timeout = time.Duration(v.GetInt64("aggregator.timeout_seconds")) * time.Second
	cfg.Oracle.Timeout = time.Duration(v.GetInt64("oracle.timeout_seconds")) * time.Second

	qty, err := decimal.NewFromString(v.GetString("net_qty_threshold"))
	if err != nil {
		return nil, fmt.Errorf("config: net_qty_threshold: %w", err)
	}
	cfg.NetQtyThreshold = qty

	val, err := decimal.NewFromString(v.GetString("net_value_threshold_usd"))
	if err != nil {
		return nil, fmt.Errorf("config: net_value_threshold_usd: %w", err)
	}
	cfg.NetValueThresholdUSD = val

	dust, err := decimal.NewFromString(v.GetString("dust_threshold"))
	if err != nil {
		return nil, fmt.Errorf("config: dust_threshold: %w", err)
	}
	cfg.DustThreshold = dust

	stables := v.GetStringSlice("stable_currencies")
	if len(stables) == 0 {
		stables = defaultStableCurrencies
	}
	cfg.StableCurrencies = make(map[string]bool, len(stables))
	for _, addr := range stables {
		cfg.StableCurrencies[addr] = true
	}

	return &cfg, cfg.validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent_jobs", 3)
	v.SetDefault("max_concurrent_wallets", 5)
	v.SetDefault("wallet_deadline_seconds", 180)
	v.SetDefault("connection_pool_size", 100)
	v.SetDefault("batch_size", 20)
	v.SetDefault("net_qty_threshold", "0.001")
	v.SetDefault("net_value_threshold_usd", "1.00")
	v.SetDefault("dust_threshold", "0.000000000000000001")
	v.SetDefault("timeframe_mode", TimeframeNone)
	v.SetDefault("max_pages", 500)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("redis_db", 0)
	v.SetDefault("aggregator.timeout_seconds", 15)
	v.SetDefault("aggregator.max_retries", 5)
	v.SetDefault("oracle.timeout_seconds", 10)
	v.SetDefault("oracle.max_retries", 5)
	v.SetDefault("wrapped_native_address", "So11111111111111111111111111111111111111112")
	v.SetDefault("default_chain", "solana")
	v.SetDefault("discovery_poll_seconds", 60)
	v.SetDefault("queue_poll_seconds", 5)
	v.SetDefault("allowed_origins", "*")
}

func (c *Config) validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("config: max_concurrent_jobs must be > 0")
	}
	if c.MaxConcurrentWallets <= 0 {
		return fmt.Errorf("config: max_concurrent_wallets must be > 0")
	}
	if c.ConnectionPoolSize <= 0 {
		return fmt.Errorf("config: connection_pool_size must be > 0")
	}
	switch c.TimeframeMode {
	case TimeframeNone, TimeframeGeneral, TimeframeSpecific:
	default:
		return fmt.Errorf("config: invalid timeframe_mode %q", c.TimeframeMode)
	}
	return nil
}

// IsStable reports whether tokenAddress is configured as a valuation
// anchor (spec §6's stable-currency set).
func (c *Config) IsStable(tokenAddress string) bool {
	return c.StableCurrencies[tokenAddress]
}

