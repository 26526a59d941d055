package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/cuongbtq/booking-dispatch/internal/api/handler"
	"github.com/cuongbtq/booking-dispatch/internal/api/router"
	"github.com/cuongbtq/booking-dispatch/internal/booking/lifecycle"
	"github.com/cuongbtq/booking-dispatch/internal/booking/service"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/memory"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/postgres"
	"github.com/cuongbtq/booking-dispatch/internal/config"
	"github.com/cuongbtq/booking-dispatch/migrations"
	"github.com/cuongbtq/booking-dispatch/shared/logger"
	"github.com/cuongbtq/booking-dispatch/shared/postgresql"
	"github.com/cuongbtq/booking-dispatch/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Database.Driver),
	)

	// Initialize storage
	store, directory, dbClient, err := initStorage(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if dbClient != nil {
		defer dbClient.Close()
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Events leave on a background goroutine once their transaction commits
	publisher := service.NewAsyncPublisher(
		service.NewBusPublisher(rabbitClient, appLogger.Logger),
		cfg.Booking.PublishTimeout,
		appLogger.Logger,
	)
	defer publisher.Close()

	machine := lifecycle.NewMachine(directory, lifecycle.Config{
		ImmediateLeadTime:  cfg.Booking.ImmediateLeadTime,
		ImmediateDuration:  cfg.Booking.ImmediateDuration,
		CancellationWindow: cfg.Booking.CancellationWindow,
	}, nil, appLogger.Logger)

	svc := service.New(store, directory, machine, publisher, appLogger.Component("booking"),
		service.WithExpiryBatch(cfg.Booking.ExpiryBatch),
	)

	checks := map[string]router.HealthCheck{
		"rabbitmq": func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		},
	}
	if dbClient != nil {
		checks["postgres"] = dbClient.HealthCheck
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Component("http"), svc, checks)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initStorage opens the record store and user directory for the configured
// driver. The postgres client is nil for the memory driver.
func initStorage(cfg *config.DatabaseConfig, logger *slog.Logger) (storage.RecordStore, storage.Directory, *postgresql.Client, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory storage; data is lost on restart")
		return memory.NewStore(), memory.NewDirectory(), nil, nil
	}

	dbClient, err := initPostgreSQL(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("Database connection established")

	return postgres.NewStore(dbClient, logger), postgres.NewDirectory(dbClient, logger), dbClient, nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		TxAttempts:      cfg.TxAttempts,
	}

	dbClient, err := postgresql.NewClient(dbConfig, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := dbClient.Migrate(ctx, migrations.FS); err != nil {
			dbClient.Close()
			return nil, err
		}
	}
	return dbClient, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		QueueType:          cfg.Queue.Type,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PublisherConfirms:  cfg.Publish.Confirm,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, svc handler.BookingService, checks map[string]router.HealthCheck) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:  logger,
		Service: svc,
	}

	return router.SetupRouter(handlerDeps, router.Options{
		ServiceName:  cfg.App.Name,
		AllowOrigins: cfg.Server.AllowOrigins,
		HealthChecks: checks,
	})
}
