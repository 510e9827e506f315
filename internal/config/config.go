package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig           `mapstructure:"server"`
	Redis   RedisConfig            `mapstructure:"redis"`
	Chains  map[string]ChainConfig `mapstructure:"chains"`
	Fetch   FetchConfig            `mapstructure:"fetch"`
	Cache   CacheConfig            `mapstructure:"cache"`
	Health  HealthConfig           `mapstructure:"health"`
	Poller  PollerConfig           `mapstructure:"poller"`
	Logging LoggingConfig          `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int   `mapstructure:"port"`
	ReadTimeoutMs  int64 `mapstructure:"read_timeout_ms"`
	WriteTimeoutMs int64 `mapstructure:"write_timeout_ms"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ChainConfig struct {
	ChainID    int64         `mapstructure:"chain_id"`
	KeeperURLs []string      `mapstructure:"keeper_urls"`
	DevMode    bool          `mapstructure:"dev_mode"` // dev chains get synthetic fallback data
	Tokens     []TokenConfig `mapstructure:"tokens"`
}

type TokenConfig struct {
	Symbol         string `mapstructure:"symbol"`
	Address        string `mapstructure:"address"`
	Decimals       int    `mapstructure:"decimals"`
	OracleDecimals int    `mapstructure:"oracle_decimals"`
	Synthetic      bool   `mapstructure:"synthetic"`
}

type FetchConfig struct {
	TimeoutMs     int64 `mapstructure:"timeout_ms"`
	MaxRetries    int   `mapstructure:"max_retries"`
	BackoffBaseMs int64 `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int64 `mapstructure:"backoff_max_ms"`
}

type CacheConfig struct {
	FreshTTLMs int64 `mapstructure:"fresh_ttl_ms"`
	StaleTTLMs int64 `mapstructure:"stale_ttl_ms"`
}

type HealthConfig struct {
	IntervalMs int64 `mapstructure:"interval_ms"`
	TimeoutMs  int64 `mapstructure:"timeout_ms"`
}

type PollerConfig struct {
	Enabled    bool  `mapstructure:"enabled"`
	IntervalMs int64 `mapstructure:"interval_ms"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Production bool   `mapstructure:"production"`  // Production mode - only errors
	FetchDebug bool   `mapstructure:"fetch_debug"` // Log each fetch attempt (verbose)
}

func (c ServerConfig) ReadTimeout() time.Duration  { return time.Duration(c.ReadTimeoutMs) * time.Millisecond }
func (c ServerConfig) WriteTimeout() time.Duration { return time.Duration(c.WriteTimeoutMs) * time.Millisecond }

func (c FetchConfig) Timeout() time.Duration     { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c FetchConfig) BackoffBase() time.Duration { return time.Duration(c.BackoffBaseMs) * time.Millisecond }
func (c FetchConfig) BackoffMax() time.Duration  { return time.Duration(c.BackoffMaxMs) * time.Millisecond }

func (c CacheConfig) FreshTTL() time.Duration { return time.Duration(c.FreshTTLMs) * time.Millisecond }
func (c CacheConfig) StaleTTL() time.Duration { return time.Duration(c.StaleTTLMs) * time.Millisecond }

func (c HealthConfig) Interval() time.Duration { return time.Duration(c.IntervalMs) * time.Millisecond }
func (c HealthConfig) Timeout() time.Duration  { return time.Duration(c.TimeoutMs) * time.Millisecond }

func (c PollerConfig) Interval() time.Duration { return time.Duration(c.IntervalMs) * time.Millisecond }

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_ms", 10000)
	v.SetDefault("server.write_timeout_ms", 15000)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("fetch.timeout_ms", 5000)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_base_ms", 1000)
	v.SetDefault("fetch.backoff_max_ms", 10000)
	v.SetDefault("cache.fresh_ttl_ms", 60000)
	v.SetDefault("cache.stale_ttl_ms", 300000)
	v.SetDefault("health.interval_ms", 30000)
	v.SetDefault("health.timeout_ms", 5000)
	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.interval_ms", 15000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.production", false)
	v.SetDefault("logging.fetch_debug", false)

	// Default chain deployments
	v.SetDefault("chains.worldchain.chain_id", 480)
	v.SetDefault("chains.worldchain.keeper_urls", []string{
		"https://keeper.perpdex.exchange",
		"https://keeper-fallback.perpdex.exchange",
	})
	v.SetDefault("chains.worldchain.dev_mode", false)
	v.SetDefault("chains.worldchain.tokens", defaultMainnetTokens())

	v.SetDefault("chains.worldchain-sepolia.chain_id", 4801)
	v.SetDefault("chains.worldchain-sepolia.keeper_urls", []string{
		"https://keeper.testnet.perpdex.exchange",
	})
	v.SetDefault("chains.worldchain-sepolia.dev_mode", true)
	v.SetDefault("chains.worldchain-sepolia.tokens", defaultTestnetTokens())

	// Read from environment variables
	v.SetEnvPrefix("KEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	for name, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %s: chain_id is required", name)
		}
		if len(chain.KeeperURLs) == 0 {
			return fmt.Errorf("chain %s: at least one keeper url is required", name)
		}
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must not be negative")
	}
	if c.Cache.StaleTTLMs < c.Cache.FreshTTLMs {
		return fmt.Errorf("cache.stale_ttl_ms must be >= cache.fresh_ttl_ms")
	}
	return nil
}

func defaultMainnetTokens() []map[string]interface{} {
	return []map[string]interface{}{
		{"symbol": "WLD", "address": "0x2cFc85d8E48F8EAB294be644d9E25C3030863003", "decimals": 18, "oracle_decimals": 12},
		{"symbol": "ETH", "address": "0x4200000000000000000000000000000000000006", "decimals": 18, "oracle_decimals": 12},
		{"symbol": "BTC", "address": "0x03C7054BCB39f7b2E5B2c7AcB37583e32D70cFa3", "decimals": 8, "oracle_decimals": 22, "synthetic": true},
		{"symbol": "USDC", "address": "0x79A02482A880bCE3F13e09Da970dC34db4CD24d1", "decimals": 6, "oracle_decimals": 24},
	}
}

func defaultTestnetTokens() []map[string]interface{} {
	return []map[string]interface{}{
		{"symbol": "WLD", "address": "0x8803e47fD253915F9c860837f391Aa71B3e03c5A", "decimals": 18, "oracle_decimals": 12},
		{"symbol": "ETH", "address": "0x4200000000000000000000000000000000000006", "decimals": 18, "oracle_decimals": 12},
		{"symbol": "USDC", "address": "0x66145f38cBAC35Ca6F1Dfb4914dF98F1614aeA88", "decimals": 6, "oracle_decimals": 24},
	}
}
