package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Limiter    LimiterConfig    `mapstructure:"limiter"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	RequestsTopic    string `mapstructure:"requests_topic"`
	ThrottledTopic   string `mapstructure:"throttled_topic"`
	ConsumerGroup    string `mapstructure:"consumer_group"`
}

type AuthConfig struct {
	// CacheTTLSeconds bounds the revocation-propagation delay of the
	// credential cache. An accepted consistency window, not a defect.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

// RoutePolicy overrides the limiter defaults for a single endpoint.
type RoutePolicy struct {
	Algorithm         string `mapstructure:"algorithm"`
	RequestsPerWindow int    `mapstructure:"requests_per_window"`
	WindowSeconds     int    `mapstructure:"window_seconds"`
	BurstCapacity     int    `mapstructure:"burst_capacity"`
}

type LimiterConfig struct {
	Algorithm         string                 `mapstructure:"algorithm"`
	RequestsPerWindow int                    `mapstructure:"requests_per_window"`
	WindowSeconds     int                    `mapstructure:"window_seconds"`
	BurstCapacity     int                    `mapstructure:"burst_capacity"`
	FailOpen          bool                   `mapstructure:"fail_open"`
	Routes            map[string]RoutePolicy `mapstructure:"routes"`
}

type ConsumerConfig struct {
	BatchSize            int `mapstructure:"batch_size"`
	FlushIntervalSeconds int `mapstructure:"flush_interval_seconds"`
	PollTimeoutMillis    int `mapstructure:"poll_timeout_millis"`
}

func (c ConsumerConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

func (c ConsumerConfig) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMillis) * time.Millisecond
}

type AggregatorConfig struct {
	// Granularities are aggregation intervals in minutes.
	Granularities      []int `mapstructure:"granularities"`
	CyclePeriodSeconds int   `mapstructure:"cycle_period_seconds"`
}

func (a AggregatorConfig) CyclePeriod() time.Duration {
	return time.Duration(a.CyclePeriodSeconds) * time.Second
}

var globalConfig Config

func Load(configPath string) error {
	if err := loadConfigFile(configPath, "config", &globalConfig); err != nil {
		return fmt.Errorf("could not load main config file: %w", err)
	}
	setDefaultValues()
	return nil
}

func loadConfigFile(configPath, fileName string, out interface{}) error {
	viper.SetConfigName(fileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file %s.yaml: %w", fileName, err)
		}
		// config file is optional, environment variables still apply
	}

	if err := viper.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", fileName, err)
	}

	return nil
}

func setDefaultValues() {
	if globalConfig.Server.Port == 0 {
		globalConfig.Server.Port = 8080
	}
	if globalConfig.Server.MetricsPort == 0 {
		globalConfig.Server.MetricsPort = 9090
	}
	if globalConfig.Database.SSLMode == "" {
		globalConfig.Database.SSLMode = "disable"
	}
	if globalConfig.Redis.Port == 0 {
		globalConfig.Redis.Port = 6379
	}
	if globalConfig.Kafka.BootstrapServers == "" {
		globalConfig.Kafka.BootstrapServers = "localhost:9092"
	}
	if globalConfig.Kafka.RequestsTopic == "" {
		globalConfig.Kafka.RequestsTopic = "api-requests"
	}
	if globalConfig.Kafka.ThrottledTopic == "" {
		globalConfig.Kafka.ThrottledTopic = "rate-limited-events"
	}
	if globalConfig.Kafka.ConsumerGroup == "" {
		globalConfig.Kafka.ConsumerGroup = "analytics-aggregator"
	}
	if globalConfig.Auth.CacheTTLSeconds == 0 {
		globalConfig.Auth.CacheTTLSeconds = 3600
	}
	if globalConfig.Limiter.Algorithm == "" {
		globalConfig.Limiter.Algorithm = "sliding_window"
	}
	if globalConfig.Limiter.RequestsPerWindow == 0 {
		globalConfig.Limiter.RequestsPerWindow = 60
	}
	if globalConfig.Limiter.WindowSeconds == 0 {
		globalConfig.Limiter.WindowSeconds = 60
	}
	if globalConfig.Limiter.BurstCapacity == 0 {
		globalConfig.Limiter.BurstCapacity = 10
	}
	if globalConfig.Consumer.BatchSize == 0 {
		globalConfig.Consumer.BatchSize = 1000
	}
	if globalConfig.Consumer.FlushIntervalSeconds == 0 {
		globalConfig.Consumer.FlushIntervalSeconds = 5
	}
	if globalConfig.Consumer.PollTimeoutMillis == 0 {
		globalConfig.Consumer.PollTimeoutMillis = 250
	}
	if len(globalConfig.Aggregator.Granularities) == 0 {
		globalConfig.Aggregator.Granularities = []int{1, 5, 60}
	}
	if globalConfig.Aggregator.CyclePeriodSeconds == 0 {
		globalConfig.Aggregator.CyclePeriodSeconds = 60
	}
}

func GetConfig() *Config {
	return &globalConfig
}
