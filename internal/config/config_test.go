package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.AllowOrigins)
				assert.Equal(t, DriverPostgres, cfg.Database.Driver)
				assert.Equal(t, "booking_db", cfg.Database.Database)
				assert.Equal(t, "booking_events", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, 8, cfg.RabbitMQ.Consumer.PrefetchCount)
				assert.Equal(t, "quorum", cfg.RabbitMQ.Queue.Type)
				assert.True(t, cfg.RabbitMQ.Publish.Confirm)
				assert.True(t, cfg.Database.AutoMigrate)
				assert.Equal(t, SinkRabbitMQ, cfg.Transport.Sink)
				assert.Equal(t, "direct", cfg.Transport.ExchangeType)
				assert.Equal(t, 24*time.Hour, cfg.Booking.CancellationWindow)
				assert.Equal(t, time.Hour, cfg.Booking.ImmediateDuration)
				assert.Equal(t, "@every 1m", cfg.Worker.ReleaseSchedule)
				assert.Equal(t, "sv", cfg.Notification.Locale)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, SinkLog, cfg.Transport.Sink)
	assert.Equal(t, "Europe/Stockholm", cfg.Notification.Timezone)
	assert.Equal(t, "20:00", cfg.Notification.NightStart)
	assert.Equal(t, "07:00", cfg.Notification.NightEnd)
	assert.Equal(t, "en", cfg.Notification.Locale)
	assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)

	require.NoError(t, cfg.ValidateAPIConfig())
	require.NoError(t, cfg.ValidateWorkerConfig())
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "booking_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "booking_events"},
			Queue:    QueueConfig{Name: "booking_events_notifications"},
		},
		Worker: WorkerConfig{
			Concurrency:  2,
			EventTimeout: 10 * time.Second,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "memory driver needs no database", mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} }},
		{name: "invalid server port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "invalid server port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "invalid database port", mutate: func(c *Config) { c.Database.Port = -1 }, errString: "invalid database port"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, errString: "unknown database driver"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty queue name", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{name: "unknown queue type", mutate: func(c *Config) { c.RabbitMQ.Queue.Type = "stream" }, errString: "unknown rabbitmq queue type"},
		{name: "negative lead time", mutate: func(c *Config) { c.Booking.ImmediateLeadTime = -time.Minute }, errString: "must not be negative"},
		{name: "negative immediate duration", mutate: func(c *Config) { c.Booking.ImmediateDuration = -time.Minute }, errString: "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "server port not required", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "worker concurrency"},
		{name: "zero event timeout", mutate: func(c *Config) { c.Worker.EventTimeout = 0 }, errString: "event_timeout"},
		{name: "bad release schedule", mutate: func(c *Config) { c.Worker.ReleaseSchedule = "every minute" }, errString: "release_schedule"},
		{name: "bad expiry schedule", mutate: func(c *Config) { c.Worker.ExpirySchedule = "61 * * * *" }, errString: "expiry_schedule"},
		{name: "rabbitmq sink without exchange", mutate: func(c *Config) { c.Transport.Sink = SinkRabbitMQ }, errString: "transport exchange is required"},
		{name: "unknown sink", mutate: func(c *Config) { c.Transport.Sink = "carrier-pigeon" }, errString: "unknown transport sink"},
		{name: "negative rate", mutate: func(c *Config) { c.Transport.RatePerSecond = -1 }, errString: "rate_per_second"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Notification.Timezone = "Mars/Olympus" }, errString: "unknown notification timezone"},
		{name: "bad night window", mutate: func(c *Config) { c.Notification.NightStart = "8pm" }, errString: "invalid night window"},
		{name: "bad locale", mutate: func(c *Config) { c.Notification.Locale = "not a locale!" }, errString: "invalid notification locale"},
		{name: "shared checks still apply", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())

		window, err := cfg.Notification.Window()
		require.NoError(t, err)
		assert.Equal(t, "Europe/Stockholm", window.Location.String())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
