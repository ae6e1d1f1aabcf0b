package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Broker     BrokerConfig     `mapstructure:"broker"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Autonomous AutonomousConfig `mapstructure:"autonomous"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MarkRefresh       string `mapstructure:"mark_refresh"`
	PortfolioSnapshot string `mapstructure:"portfolio_snapshot"`
}

type BrokerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	StreamURL string        `mapstructure:"stream_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Paper     bool          `mapstructure:"paper"`
}

type MarketDataConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	StreamBackoffMin time.Duration `mapstructure:"stream_backoff_min"`
	StreamBackoffMax time.Duration `mapstructure:"stream_backoff_max"`
}

type RiskConfig struct {
	MaxPositionSizeUSD float64 `mapstructure:"max_position_size_usd"`
	MaxOrderQtyCrypto  float64 `mapstructure:"max_order_qty_crypto"`
	MaxOrderQtyStock   float64 `mapstructure:"max_order_qty_stock"`
	EnforceMarketHours bool    `mapstructure:"enforce_market_hours"`
}

type AutonomousConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	Watchlist     []string      `mapstructure:"watchlist"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.mark_refresh", "@every 5s")
	v.SetDefault("cron.portfolio_snapshot", "@every 1h")
	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.stream_url", "wss://paper-api.alpaca.markets/stream")
	v.SetDefault("broker.timeout", "15s")
	v.SetDefault("broker.paper", true)
	v.SetDefault("market_data.base_url", "https://data.alpaca.markets")
	v.SetDefault("market_data.timeout", "10s")
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.stream_backoff_min", "1s")
	v.SetDefault("engine.stream_backoff_max", "30s")
	v.SetDefault("risk.max_position_size_usd", 10000)
	v.SetDefault("risk.max_order_qty_crypto", 1.0)
	v.SetDefault("risk.max_order_qty_stock", 100)
	v.SetDefault("risk.enforce_market_hours", true)
	v.SetDefault("autonomous.enabled", false)
	v.SetDefault("autonomous.cycle_interval", "60s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
