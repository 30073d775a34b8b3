package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/mqs"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/redis"
)

func getConfigLocations() []string {
	return []string{
		// Relative paths
		".env",
		".gateway.yaml",
		"config/gateway.yaml",
		"config/gateway/config.yaml",
		"config/gateway/.env",

		// Container-friendly absolute paths
		"/config/gateway.yaml",
		"/config/gateway/config.yaml",
		"/config/gateway/.env",
	}
}

type Flags struct {
	Config  string
	Service string
}

type Config struct {
	Service  ServiceType `yaml:"service" env:"SERVICE"`
	LogLevel string      `yaml:"log_level" env:"LOG_LEVEL"`

	// API
	Port   int    `yaml:"port" env:"PORT"`
	APIKey string `yaml:"api_key" env:"API_KEY"`

	// Infrastructure
	Redis       *RedisConfig `yaml:"redis"`
	PostgresURL string       `yaml:"postgres_url" env:"POSTGRES_URL"`
	MQs         *MQsConfig   `yaml:"mqs"`

	// Ingestion
	IngestPollIntervalSeconds int      `yaml:"ingest_poll_interval_seconds" env:"INGEST_POLL_INTERVAL_SECONDS"`
	IngestBatchSize           int      `yaml:"ingest_batch_size" env:"INGEST_BATCH_SIZE"`
	AuditSummaryFields        []string `yaml:"audit_summary_fields" env:"AUDIT_SUMMARY_FIELDS" envSeparator:","`

	// Relational source
	SQLSourceTable      string `yaml:"sql_source_table" env:"SQL_SOURCE_TABLE"`
	MaxEventAgeDays     int    `yaml:"max_event_age_days" env:"MAX_EVENT_AGE_DAYS"`
	BootstrapCheckpoint bool   `yaml:"bootstrap_checkpoint" env:"BOOTSTRAP_CHECKPOINT"`
	RestrictToKnownOrgs bool   `yaml:"restrict_to_known_orgs" env:"RESTRICT_TO_KNOWN_ORGS"`

	// Stream source
	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
	KafkaGroupID string   `yaml:"kafka_group_id" env:"KAFKA_GROUP_ID"`

	// Push source
	PushSourceEnabled bool `yaml:"push_source_enabled" env:"PUSH_SOURCE_ENABLED"`

	// Delivery
	DeliveryMaxConcurrency int `yaml:"delivery_max_concurrency" env:"DELIVERY_MAX_CONCURRENCY"`
	DeliveryTimeoutSeconds int `yaml:"delivery_timeout_seconds" env:"DELIVERY_TIMEOUT_SECONDS"`

	// Circuit breaker
	BreakerThreshold       int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerRecoverySeconds int `yaml:"breaker_recovery_seconds" env:"BREAKER_RECOVERY_SECONDS"`

	// Retry engine
	RetryIntervalSeconds int `yaml:"retry_interval_seconds" env:"RETRY_INTERVAL_SECONDS"`
	RetryWindowHours     int `yaml:"retry_window_hours" env:"RETRY_WINDOW_HOURS"`

	// Scheduler
	SchedulerTickSeconds int `yaml:"scheduler_tick_seconds" env:"SCHEDULER_TICK_SECONDS"`

	// Retention window for execution logs and audit records.
	RetentionDays int `yaml:"retention_days" env:"RETENTION_DAYS"`
}

var ErrMismatchedServiceType = errors.New("service type mismatch")

func (c *Config) initDefaults() {
	c.Port = 3333
	c.Redis = &RedisConfig{
		Host: "127.0.0.1",
		Port: 6379,
	}
	c.MQs = &MQsConfig{
		RabbitMQ: &RabbitMQConfig{
			Exchange:      "gateway",
			DeliveryQueue: "gateway-delivery",
		},
	}
	c.IngestPollIntervalSeconds = 1
	c.IngestBatchSize = 10
	c.SQLSourceTable = "notification_queue"
	c.MaxEventAgeDays = 7
	c.DeliveryMaxConcurrency = 1
	c.DeliveryTimeoutSeconds = 30
	c.BreakerThreshold = 10
	c.BreakerRecoverySeconds = 300
	c.RetryIntervalSeconds = 30
	c.RetryWindowHours = 4
	c.SchedulerTickSeconds = 30
	c.RetentionDays = 90
}

func (c *Config) parseConfigFile(flagPath string, osInterface OSInterface) error {
	configPath := flagPath
	if envPath := osInterface.Getenv("CONFIG"); envPath != "" {
		if configPath != "" && configPath != envPath {
			return fmt.Errorf("conflicting config paths: flag=%s env=%s", configPath, envPath)
		}
		configPath = envPath
	}

	if configPath == "" {
		for _, loc := range getConfigLocations() {
			if _, err := osInterface.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}

	if configPath == "" {
		return nil
	}

	data, err := osInterface.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(configPath), ".env") {
		envMap, err := godotenv.UnmarshalBytes(data)
		if err != nil {
			return fmt.Errorf("error loading .env file: %w", err)
		}
		if err := env.ParseWithOptions(c, env.Options{
			Environment: envMap,
		}); err != nil {
			return fmt.Errorf("error parsing .env file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("error parsing yaml config: %w", err)
		}
	}
	return nil
}

func (c *Config) parseEnvVariables() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("error parsing environment variables: %w", err)
	}
	return nil
}

func (c *Config) validate(flags Flags) error {
	service, err := ServiceTypeFromString(flags.Service)
	if err != nil {
		return err
	}
	var zeroService ServiceType
	if c.Service == zeroService {
		c.Service = service
	} else if flags.Service != "" && c.Service != service {
		return ErrMismatchedServiceType
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("kafka_topic is required when kafka_brokers is set")
	}
	return nil
}

func Parse(flags Flags) (*Config, error) {
	return ParseWithOS(flags, defaultOS)
}

func ParseWithOS(flags Flags, osInterface OSInterface) (*Config, error) {
	var config Config

	config.initDefaults()

	if err := config.parseConfigFile(flags.Config, osInterface); err != nil {
		return nil, err
	}

	// Environment variables take priority over the config file.
	if err := config.parseEnvVariables(); err != nil {
		return nil, err
	}

	if err := config.validate(flags); err != nil {
		return nil, err
	}

	return &config, nil
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST"`
	Port     int    `yaml:"port" env:"REDIS_PORT"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	Database int    `yaml:"database" env:"REDIS_DATABASE"`
}

func (c *RedisConfig) ToConfig() *redis.RedisConfig {
	return &redis.RedisConfig{
		Host:     c.Host,
		Port:     c.Port,
		Password: c.Password,
		Database: c.Database,
	}
}

type MQsConfig struct {
	InMemory *InMemoryConfig `yaml:"in_memory"`
	RabbitMQ *RabbitMQConfig `yaml:"rabbitmq"`
}

type InMemoryConfig struct {
	Name string `yaml:"name" env:"MQ_MEMORY_NAME"`
}

type RabbitMQConfig struct {
	ServerURL     string `yaml:"server_url" env:"RABBITMQ_SERVER_URL"`
	Exchange      string `yaml:"exchange" env:"RABBITMQ_EXCHANGE"`
	DeliveryQueue string `yaml:"delivery_queue" env:"RABBITMQ_DELIVERY_QUEUE"`
}

// DeliveryQueueConfig selects the delivery queue backend. An in-memory
// queue wins over RabbitMQ; without a RabbitMQ server URL the in-memory
// queue is the fallback so single-process setups work with zero config.
func (c *MQsConfig) DeliveryQueueConfig() *mqs.QueueConfig {
	if c == nil {
		return &mqs.QueueConfig{InMemory: &mqs.InMemoryConfig{}}
	}
	if c.InMemory != nil {
		return &mqs.QueueConfig{InMemory: &mqs.InMemoryConfig{Name: c.InMemory.Name}}
	}
	if c.RabbitMQ != nil && c.RabbitMQ.ServerURL != "" {
		return &mqs.QueueConfig{RabbitMQ: &mqs.RabbitMQConfig{
			ServerURL: c.RabbitMQ.ServerURL,
			Exchange:  c.RabbitMQ.Exchange,
			Queue:     c.RabbitMQ.DeliveryQueue,
		}}
	}
	return &mqs.QueueConfig{InMemory: &mqs.InMemoryConfig{}}
}
