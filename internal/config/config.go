package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/notification"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Transport sinks
const (
	SinkRabbitMQ = "rabbitmq"
	SinkLog      = "log"
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Transport    TransportConfig    `yaml:"transport"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Booking      BookingConfig      `yaml:"booking"`
	Notification NotificationConfig `yaml:"notification"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowOrigins    []string      `yaml:"allow_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	TxAttempts      int           `yaml:"tx_attempts"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
	// Type is classic or quorum
	Type               string `yaml:"type"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Confirm           bool          `yaml:"confirm"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// TransportConfig selects where outbound notifications go
type TransportConfig struct {
	Sink          string  `yaml:"sink"`
	Exchange      string  `yaml:"exchange"`
	ExchangeType  string  `yaml:"exchange_type"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                  string        `yaml:"id"`
	Concurrency         int           `yaml:"concurrency"`
	EventTimeout        time.Duration `yaml:"event_timeout"`
	JobTimeout          time.Duration `yaml:"job_timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
	ReleaseSchedule     string        `yaml:"release_schedule"`
	ExpirySchedule      string        `yaml:"expiry_schedule"`
	ReleaseBatch        int           `yaml:"release_batch"`
	ReleaseLease        time.Duration `yaml:"release_lease"`
	DeliveryConcurrency int           `yaml:"delivery_concurrency"`
}

// BookingConfig holds booking rule settings
type BookingConfig struct {
	ImmediateLeadTime   time.Duration `yaml:"immediate_lead_time"`
	ImmediateDuration   time.Duration `yaml:"immediate_duration"`
	CancellationWindow  time.Duration `yaml:"cancellation_window"`
	MatchingConcurrency int           `yaml:"matching_concurrency"`
	ExpiryBatch         int           `yaml:"expiry_batch"`
	PublishTimeout      time.Duration `yaml:"publish_timeout"`
}

// NotificationConfig holds dispatcher and delivery settings
type NotificationConfig struct {
	Timezone        string        `yaml:"timezone"`
	NightStart      string        `yaml:"night_start"`
	NightEnd        string        `yaml:"night_end"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`
	Locale          string        `yaml:"locale"`
	PushTitle       string        `yaml:"push_title"`
}

// Load reads and parses the configuration file. Unset fields take their
// defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Transport.Sink == "" {
		c.Transport.Sink = SinkLog
	}
	if c.Transport.ExchangeType == "" {
		c.Transport.ExchangeType = "direct"
	}
	if c.Notification.Timezone == "" {
		c.Notification.Timezone = "Europe/Stockholm"
	}
	if c.Notification.NightStart == "" && c.Notification.NightEnd == "" {
		c.Notification.NightStart = "20:00"
		c.Notification.NightEnd = "07:00"
	}
	if c.Notification.Locale == "" {
		c.Notification.Locale = "en"
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks the sections both services share
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	switch c.RabbitMQ.Queue.Type {
	case "", "classic", "quorum":
	default:
		return fmt.Errorf("unknown rabbitmq queue type: %q", c.RabbitMQ.Queue.Type)
	}

	if c.Booking.ImmediateLeadTime < 0 || c.Booking.ImmediateDuration < 0 || c.Booking.CancellationWindow < 0 {
		return fmt.Errorf("booking durations must not be negative")
	}

	return nil
}

// ValidateAPIConfig checks the api-service configuration
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return c.Validate()
}

// ValidateWorkerConfig checks the worker-service configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.EventTimeout <= 0 {
		return fmt.Errorf("worker event_timeout must be greater than 0")
	}

	for name, spec := range map[string]string{
		"release_schedule": c.Worker.ReleaseSchedule,
		"expiry_schedule":  c.Worker.ExpirySchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid worker %s: %w", name, err)
		}
	}

	switch c.Transport.Sink {
	case SinkLog:
	case SinkRabbitMQ:
		if c.Transport.Exchange == "" {
			return fmt.Errorf("transport exchange is required for the rabbitmq sink")
		}
	default:
		return fmt.Errorf("unknown transport sink: %q", c.Transport.Sink)
	}

	if c.Transport.RatePerSecond < 0 {
		return fmt.Errorf("transport rate_per_second must not be negative")
	}

	if _, err := c.Notification.Location(); err != nil {
		return err
	}

	if _, err := c.Notification.Window(); err != nil {
		return err
	}

	if _, err := language.Parse(c.Notification.Locale); err != nil {
		return fmt.Errorf("invalid notification locale %q: %w", c.Notification.Locale, err)
	}

	return nil
}

// Location loads the notification time zone
func (n NotificationConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(n.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown notification timezone %q: %w", n.Timezone, err)
	}
	return loc, nil
}

// Window builds the night window in the notification time zone
func (n NotificationConfig) Window() (notification.NightWindow, error) {
	loc, err := n.Location()
	if err != nil {
		return notification.NightWindow{}, err
	}
	window, err := notification.NewNightWindow(n.NightStart, n.NightEnd, loc)
	if err != nil {
		return notification.NightWindow{}, fmt.Errorf("invalid night window: %w", err)
	}
	return window, nil
}
