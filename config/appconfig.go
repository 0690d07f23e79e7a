package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	URL string `mapstructure:"url"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	JaegerURL   string `mapstructure:"jaeger_url"`
}

type ProcessorsConfig struct {
	DefaultURL  string `mapstructure:"default_url"`
	FallbackURL string `mapstructure:"fallback_url"`
}

type ProcessingConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	RetryCapacity int           `mapstructure:"retry_capacity"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

type AppConfig struct {
	Server     *ServerConfig     `mapstructure:"server"`
	Postgres   *PostgresConfig   `mapstructure:"postgres"`
	Cache      *CacheConfig      `mapstructure:"cache"`
	Telemetry  *TelemetryConfig  `mapstructure:"telemetry"`
	Processors *ProcessorsConfig `mapstructure:"processors"`
	Processing *ProcessingConfig `mapstructure:"processing"`
}

func LoadConfig() (*AppConfig, error) {

	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("postgres.url", "postgres://payrelay:payrelay@db:5432/payrelay?sslmode=disable")
	viper.SetDefault("cache.url", "redis://cache:6379")
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.service_name", "payrelay")
	viper.SetDefault("telemetry.jaeger_url", "http://jaeger:14268/api/traces")
	viper.SetDefault("processors.default_url", "http://payment-processor-default:8080")
	viper.SetDefault("processors.fallback_url", "http://payment-processor-fallback:8080")
	viper.SetDefault("processing.workers", 10)
	viper.SetDefault("processing.queue_capacity", 10000)
	viper.SetDefault("processing.retry_capacity", 1000)
	viper.SetDefault("processing.retry_backoff", 500*time.Millisecond)
	viper.SetDefault("processing.batch_size", 50)
	viper.SetDefault("processing.flush_interval", 1500*time.Millisecond)
	viper.SetDefault("processing.probe_interval", 5*time.Second)

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.host", "SERVER_HOST")
	_ = viper.BindEnv("postgres.url", "DATABASE_URL")
	_ = viper.BindEnv("cache.url", "CACHE_URL")
	_ = viper.BindEnv("telemetry.enabled", "TELEMETRY_ENABLED")
	_ = viper.BindEnv("telemetry.service_name", "TELEMETRY_SERVICE_NAME")
	_ = viper.BindEnv("telemetry.jaeger_url", "JAEGER_URL")
	_ = viper.BindEnv("processors.default_url", "DEFAULT_PAYMENT_PROCESSOR")
	_ = viper.BindEnv("processors.fallback_url", "FALLBACK_PAYMENT_PROCESSOR")
	_ = viper.BindEnv("processing.workers", "WORKER_COUNT")
	_ = viper.BindEnv("processing.queue_capacity", "QUEUE_CAPACITY")
	_ = viper.BindEnv("processing.retry_capacity", "RETRY_QUEUE_CAPACITY")
	_ = viper.BindEnv("processing.retry_backoff", "RETRY_BACKOFF")
	_ = viper.BindEnv("processing.batch_size", "BUFFER_BATCH_SIZE")
	_ = viper.BindEnv("processing.flush_interval", "BUFFER_FLUSH_INTERVAL")
	_ = viper.BindEnv("processing.probe_interval", "HEALTH_PROBE_INTERVAL")

	var config AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}
