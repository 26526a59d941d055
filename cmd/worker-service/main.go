package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"github.com/cuongbtq/booking-dispatch/internal/booking/lifecycle"
	"github.com/cuongbtq/booking-dispatch/internal/booking/matching"
	"github.com/cuongbtq/booking-dispatch/internal/booking/service"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/memory"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/postgres"
	"github.com/cuongbtq/booking-dispatch/internal/config"
	"github.com/cuongbtq/booking-dispatch/internal/notification"
	"github.com/cuongbtq/booking-dispatch/internal/notification/delivery"
	"github.com/cuongbtq/booking-dispatch/internal/notification/sink"
	"github.com/cuongbtq/booking-dispatch/internal/worker"
	"github.com/cuongbtq/booking-dispatch/migrations"
	"github.com/cuongbtq/booking-dispatch/shared/logger"
	"github.com/cuongbtq/booking-dispatch/shared/postgresql"
	"github.com/cuongbtq/booking-dispatch/shared/rabbitmq"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// stores groups what the configured storage driver provides
type stores struct {
	records   storage.RecordStore
	directory storage.Directory
	ledger    ledger.Store
	log       delivery.Log
	queue     delivery.Queue
	db        *postgresql.Client
}

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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Database.Driver),
		slog.String("sink", cfg.Transport.Sink),
	)

	// Initialize storage
	st, err := initStorage(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Outbound transport
	out, err := initSink(&cfg.Transport, rabbitClient, appLogger.Component("sink"))
	if err != nil {
		return fmt.Errorf("failed to initialize transport sink: %w", err)
	}

	deliveryLogger := appLogger.Component("delivery")
	sender := delivery.NewSender(out, st.log, delivery.SenderConfig{
		Attempts:      cfg.Notification.RetryAttempts,
		Interval:      cfg.Notification.RetryInterval,
		Multiplier:    cfg.Notification.RetryMultiplier,
		RatePerSecond: cfg.Transport.RatePerSecond,
		Burst:         cfg.Transport.Burst,
	}, deliveryLogger)
	pipeline := delivery.NewPipeline(sender, st.queue, cfg.Worker.DeliveryConcurrency, nil, deliveryLogger)
	releaser := delivery.NewReleaser(st.queue, sender, cfg.Worker.ReleaseBatch, cfg.Worker.ReleaseLease, nil, deliveryLogger)

	// Notification dispatcher
	texts, err := notification.NewTexts(cfg.Notification.Locale)
	if err != nil {
		return fmt.Errorf("failed to load notification texts: %w", err)
	}
	window, err := cfg.Notification.Window()
	if err != nil {
		return fmt.Errorf("invalid notification window: %w", err)
	}

	engine := matching.NewEngine(st.directory, ledger.New(st.ledger, nil), cfg.Booking.MatchingConcurrency, appLogger.Component("matching"))
	dispatcher := notification.NewDispatcher(st.directory, engine, pipeline, texts, notification.Config{
		Night:     window,
		PushTitle: cfg.Notification.PushTitle,
	}, appLogger.Component("dispatcher"))

	// The expiry sweep runs through the booking service so timed-out jobs
	// produce events like any other transition
	machine := lifecycle.NewMachine(st.directory, lifecycle.Config{
		ImmediateLeadTime:  cfg.Booking.ImmediateLeadTime,
		ImmediateDuration:  cfg.Booking.ImmediateDuration,
		CancellationWindow: cfg.Booking.CancellationWindow,
	}, nil, appLogger.Logger)
	sweeper := service.New(st.records, st.directory, machine,
		service.NewBusPublisher(rabbitClient, appLogger.Logger),
		appLogger.Component("booking"),
		service.WithExpiryBatch(cfg.Booking.ExpiryBatch),
	)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:          appLogger.Component("worker"),
		Source:          rabbitClient,
		Handler:         dispatcher,
		Releaser:        releaser,
		Sweeper:         sweeper,
		Scheduler:       cron.New(cron.WithLocation(window.Location)),
		WorkerID:        cfg.Worker.ID,
		Concurrency:     cfg.Worker.Concurrency,
		EventTimeout:    cfg.Worker.EventTimeout,
		JobTimeout:      cfg.Worker.JobTimeout,
		MaxRetries:      cfg.Worker.MaxRetries,
		ReleaseSchedule: cfg.Worker.ReleaseSchedule,
		ExpirySchedule:  cfg.Worker.ExpirySchedule,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
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

// initStorage builds the booking store, directory, delivery log and delay
// queue for the configured driver
func initStorage(cfg *config.DatabaseConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("Using in-memory storage; bookings made by the api service are not visible here")
		store := memory.NewStore()
		return &stores{
			records:   store,
			directory: memory.NewDirectory(),
			ledger:    store.LedgerStore(),
			log:       delivery.NewMemoryLog(),
			queue:     delivery.NewMemoryQueue(),
		}, nil
	}

	dbClient, err := initPostgreSQL(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	store := postgres.NewStore(dbClient, logger)
	return &stores{
		records:   store,
		directory: postgres.NewDirectory(dbClient, logger),
		ledger:    store.LedgerStore(),
		log:       delivery.NewPostgresLog(dbClient, delivery.DefaultStaleAfter, logger),
		queue:     delivery.NewPostgresQueue(dbClient, logger),
		db:        dbClient,
	}, nil
}

// initSink selects where built notifications are handed off
func initSink(cfg *config.TransportConfig, rabbitClient *rabbitmq.Client, logger *slog.Logger) (notification.Sink, error) {
	switch cfg.Sink {
	case config.SinkRabbitMQ:
		if err := rabbitClient.DeclareExchange(cfg.Exchange, cfg.ExchangeType); err != nil {
			return nil, err
		}
		logger.Info("Publishing notifications to RabbitMQ",
			slog.String("exchange", cfg.Exchange),
			slog.Float64("rate_per_second", cfg.RatePerSecond),
		)
		return sink.NewRabbitSink(rabbitClient, cfg.Exchange, logger), nil
	default:
		logger.Info("Logging notifications instead of sending them")
		return sink.NewLogSink(logger), nil
	}
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
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
