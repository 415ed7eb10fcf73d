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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/cog-core/internal/api/handler"
	"github.com/cuongbtq/cog-core/internal/api/router"
	"github.com/cuongbtq/cog-core/internal/catalog"
	"github.com/cuongbtq/cog-core/internal/config"
	"github.com/cuongbtq/cog-core/internal/dispatcher"
	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/queue"
	"github.com/cuongbtq/cog-core/internal/queue/membroker"
	"github.com/cuongbtq/cog-core/internal/queue/pgbroker"
	"github.com/cuongbtq/cog-core/internal/workflow"
	"github.com/cuongbtq/cog-core/shared/logger"
	"github.com/cuongbtq/cog-core/shared/postgresql"
	"github.com/cuongbtq/cog-core/shared/rabbitmq"
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
	slog.SetDefault(appLogger.Logger)

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("broker_driver", cfg.Broker.Driver),
	)

	registry, err := catalog.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to build function registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		broker   queue.Broker
		closers  []func() error
		promoter *queue.Promoter
		checks   = make(map[string]handler.HealthCheck)
	)

	switch cfg.Broker.Driver {
	case config.DriverMemory:
		mem := membroker.New()
		broker = mem
		promoter = queue.NewPromoter(mem, queue.PromoterConfig{
			Interval:  cfg.Scheduler.PollInterval,
			BatchSize: cfg.Scheduler.BatchSize,
			Logger:    appLogger.Component("promoter"),
		})

	default:
		dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, dbClient.Close)
		appLogger.Info("Database connection established")

		if err := pgbroker.Migrate(ctx, dbClient.GetDB(), appLogger.Logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, rabbitClient.Close)
		appLogger.Info("RabbitMQ connection established")

		checks["database"] = dbClient.HealthCheck
		checks["rabbitmq"] = func(context.Context) error {
			if !rabbitClient.IsConnected() {
				return errors.New("rabbitmq connection is closed")
			}
			return nil
		}

		broker = pgbroker.New(dbClient.GetDB(), rabbitClient, pgbroker.Options{
			MaxRetries:     cfg.Broker.MaxRetries,
			TimeoutSeconds: int(cfg.Broker.JobTimeout / time.Second),
			Logger:         appLogger.Component("pgbroker"),
		})
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				appLogger.Warn("Failed to close resource", slog.Any("error", err))
			}
		}
	}()

	queues := queue.NewManager(broker, queue.Options{
		OperationTimeout: cfg.Broker.OperationTimeout,
		RetryAttempts:    cfg.Broker.RetryAttempts,
		RetryInterval:    cfg.Broker.RetryInterval,
		Logger:           appLogger.Component("queue"),
	})
	workflows := workflow.NewReconstructor(registry, queues, cfg.Scheduler.ReconstructConcurrency, appLogger.Component("workflow"))
	disp := dispatcher.New(&function.Env{
		Queues:    queues,
		Registry:  registry,
		Workflows: workflows,
		Logger:    appLogger.Component("dispatcher"),
	})

	if promoter != nil {
		go promoter.Run(ctx)
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Registry:     registry,
		Dispatcher:   disp,
		Workflows:    workflows,
		Host:         hostname(cfg.Server.Port),
		BrokerDriver: cfg.Broker.Driver,
		HealthChecks: checks,
	})

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

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Int("integrated_functions", registry.Len()),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

func hostname(port int) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, port)
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
	}

	return postgresql.NewClient(dbConfig, logger)
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
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps.Logger = logger
	return router.SetupRouter(deps)
}
