package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"required"`
	Symbols     []string `yaml:"symbols" validate:"required,min=1,dive,required"`

	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
	Input      InputConfig      `yaml:"input"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	History    HistoryConfig    `yaml:"history"`
	State      StateConfig      `yaml:"state"`
	Model      ModelConfig      `yaml:"model"`
	Features   FeaturesConfig   `yaml:"features"`
	CUSUM      CUSUMConfig      `yaml:"cusum"`
	Confirm    ConfirmConfig    `yaml:"confirm"`
	Risk       RiskConfig       `yaml:"risk"`
	Engine     EngineConfig     `yaml:"engine"`
	API        APIConfig        `yaml:"api"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"14"`
	Compress   bool   `yaml:"compress"`
}

// InputConfig selects where closed bars come from.
type InputConfig struct {
	Source           string        `yaml:"source" default:"kafka" validate:"oneof=kafka websocket"`
	WebSocketURL     string        `yaml:"websocket_url" default:"wss://stream.binance.com:9443/stream"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval     time.Duration `yaml:"ping_interval" default:"30s"`
	MaxBarsPerSecond int           `yaml:"max_bars_per_second" default:"20" validate:"gte=0"`
	BufferSize       int           `yaml:"buffer_size" default:"1024" validate:"gt=0"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	Topics       struct {
		Bars     string `yaml:"bars" default:"bars.closed"`
		Signals  string `yaml:"signals" default:"signals.intents"`
		Degraded string `yaml:"degraded" default:"signals.degraded"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchSize    int           `yaml:"batch_size" default:"1"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		AutoCreate   bool          `yaml:"auto_create_topics"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID     string        `yaml:"group_id" default:"trendconfirm"`
		StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
		Workers     int           `yaml:"workers" default:"4" validate:"gt=0"`
		BufferSize  int           `yaml:"buffer_size" default:"64" validate:"gt=0"`
		RetryMax    int           `yaml:"retry_max" default:"3"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic    string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"market"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	CandlesTable     string        `yaml:"candles_table" default:"candles"`
	IntentsTable     string        `yaml:"intents_table" default:"order_intents"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr" default:"localhost:6379"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix" default:"trendconfirm"`
	TTL       time.Duration `yaml:"ttl" default:"24h"`
}

// HistoryConfig selects the candle source used for warmup and replay.
type HistoryConfig struct {
	Source            string  `yaml:"source" default:"clickhouse" validate:"oneof=clickhouse binance"`
	BinanceBaseURL    string  `yaml:"binance_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"10" validate:"gt=0"`
}

// StateConfig selects where symbol state snapshots live.
type StateConfig struct {
	Backend    string `yaml:"backend" default:"redis" validate:"oneof=redis badger"`
	BadgerPath string `yaml:"badger_path" default:"data/state"`
}

type ModelConfig struct {
	Path    string        `yaml:"path" default:"models/trend_v1.json"`
	Timeout time.Duration `yaml:"timeout" default:"200ms" validate:"gt=0"`
	Breaker struct {
		Failures         uint32        `yaml:"failures" default:"3" validate:"gt=0"`
		OpenFor          time.Duration `yaml:"open_for" default:"30s"`
		HalfOpenRequests uint32        `yaml:"half_open_requests" default:"1"`
	} `yaml:"breaker"`
}

type FeaturesConfig struct {
	Window int `yaml:"window" default:"60" validate:"gte=30"`
}

type CUSUMParams struct {
	K float64 `yaml:"k" validate:"gte=0"`
	H float64 `yaml:"h" validate:"gt=0"`
}

// CUSUMConfig holds per-timeframe parameters; observations are log returns
// in basis points.
type CUSUMConfig struct {
	TF5m      CUSUMParams `yaml:"5m"`
	TF1m      CUSUMParams `yaml:"1m"`
	MeanAlpha float64     `yaml:"mean_alpha" validate:"gte=0,lte=1"`
}

type ConfirmConfig struct {
	Window        time.Duration `yaml:"window" default:"5m" validate:"gt=0"`
	CombineWeight float64       `yaml:"combine_weight" default:"0.7" validate:"gte=0.5,lte=1"`
	Cooldown      time.Duration `yaml:"cooldown" validate:"gte=0"`
}

type RiskConfig struct {
	MinActionableConfidence float64 `yaml:"min_actionable_confidence" default:"0.55" validate:"gte=0,lte=1"`
	MinSize                 float64 `yaml:"min_size" validate:"gte=0,ltefield=MaxSize"`
	MaxSize                 float64 `yaml:"max_size" default:"1" validate:"gt=0"`
	SizeStep                float64 `yaml:"size_step" default:"0.001" validate:"gte=0"`
	TargetVolatility        float64 `yaml:"target_volatility" default:"0.002" validate:"gt=0"`
	VolatilityFloor         float64 `yaml:"volatility_floor" default:"0.0005" validate:"gt=0"`
	StopLossATR             float64 `yaml:"stop_loss_atr" default:"2" validate:"gte=0"`
	TakeProfitATR           float64 `yaml:"take_profit_atr" default:"3" validate:"gte=0"`
	MaxDailyLoss            float64 `yaml:"max_daily_loss" default:"0.05" validate:"gte=0,lte=1"`
	AccountBalance          float64 `yaml:"account_balance" default:"100000" validate:"gte=0"`
}

type EngineConfig struct {
	QueueSize      int  `yaml:"queue_size" default:"256" validate:"gt=0"`
	Warmup         bool `yaml:"warmup"`
	Snapshot       bool `yaml:"snapshot"`
	ReplayParallel int  `yaml:"replay_parallel" default:"4" validate:"gt=0"`
	// Replay switches staleness checks to bar time. Set by the replay command.
	Replay bool `yaml:"-"`
}

type APIConfig struct {
	RateLimit float64       `yaml:"rate_limit" default:"20" validate:"gte=0"`
	Burst     int           `yaml:"burst" default:"40" validate:"gte=0"`
	CacheTTL  time.Duration `yaml:"cache_ttl" default:"5s" validate:"gte=0"`
}

var validate = validator.New()

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks struct tags and the cross-section rules. Any error here
// must stop startup.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Input.Source == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when input.source is kafka")
	}
	if c.History.Source == "clickhouse" && c.Engine.Warmup && !c.ClickHouse.Enabled {
		return fmt.Errorf("engine.warmup from clickhouse needs clickhouse.enabled")
	}
	if c.State.Backend == "redis" && c.Engine.Snapshot && !c.Redis.Enabled {
		return fmt.Errorf("engine.snapshot to redis needs redis.enabled")
	}
	return nil
}
