package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Feed    FeedConfig    `mapstructure:"feed"`
	Trading TradingConfig `mapstructure:"trading"`
	Risk    RiskConfig    `mapstructure:"risk"`
	OKX     OKXConfig     `mapstructure:"okx"`
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
	Enabled            bool   `mapstructure:"enabled"`
	SignalSweep        string `mapstructure:"signal_sweep"`
	Reconcile          string `mapstructure:"reconcile"`
	PerformanceRollup  string `mapstructure:"performance_rollup"`
	DailyRolloverCheck string `mapstructure:"daily_rollover_check"`
}

type FeedConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	SignalTTL time.Duration `mapstructure:"signal_ttl"`
}

type TradingConfig struct {
	Mode             string        `mapstructure:"mode"`
	Instrument       string        `mapstructure:"instrument"`
	PositionSizeUSDT float64       `mapstructure:"position_size_usdt"`
	FeePct           float64       `mapstructure:"fee_pct"`
	SlippagePct      float64       `mapstructure:"slippage_pct"`
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout"`
	SubmitRetries    int           `mapstructure:"submit_retries"`
	SubmitBackoff    time.Duration `mapstructure:"submit_backoff"`
}

type RiskConfig struct {
	MaxPositionSizeUSDT  float64 `mapstructure:"max_position_size_usdt"`
	MaxDailyLossUSDT     float64 `mapstructure:"max_daily_loss_usdt"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`
	MaxSignalsPerMinute  int     `mapstructure:"max_signals_per_minute"`
}

type OKXConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	WSURL      string        `mapstructure:"ws_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Passphrase string        `mapstructure:"passphrase"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Sandbox    bool          `mapstructure:"sandbox"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OKXBOT")
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
	v.SetDefault("cron.signal_sweep", "@every 30s")
	v.SetDefault("cron.reconcile", "@every 15s")
	v.SetDefault("cron.performance_rollup", "@every 5m")
	v.SetDefault("cron.daily_rollover_check", "@every 1m")

	v.SetDefault("feed.workers", 4)
	v.SetDefault("feed.queue_size", 1024)
	v.SetDefault("feed.signal_ttl", "5m")

	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.instrument", "BTC-USDT")
	v.SetDefault("trading.position_size_usdt", 100)
	v.SetDefault("trading.fee_pct", 0.001)
	v.SetDefault("trading.slippage_pct", 0.001)
	v.SetDefault("trading.submit_timeout", "10s")
	v.SetDefault("trading.submit_retries", 3)
	v.SetDefault("trading.submit_backoff", "500ms")

	v.SetDefault("risk.max_position_size_usdt", 1000)
	v.SetDefault("risk.max_daily_loss_usdt", 200)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.max_signals_per_minute", 5)

	v.SetDefault("okx.base_url", "https://www.okx.com")
	v.SetDefault("okx.ws_url", "wss://ws.okx.com:8443/ws/v5/private")
	v.SetDefault("okx.timeout", "30s")
	v.SetDefault("okx.sandbox", false)

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
