package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinic-arrivals/internal/config"
	"clinic-arrivals/internal/database/migrations"
	"clinic-arrivals/internal/kafka"
	"clinic-arrivals/internal/logger"
	"clinic-arrivals/internal/models"
	"clinic-arrivals/internal/queue/api"
	"clinic-arrivals/internal/queue/cache"
	"clinic-arrivals/internal/queue/coordinator"
	queuedb "clinic-arrivals/internal/queue/db"
	"clinic-arrivals/internal/queue/replenish"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	logger.Info("DATABASE", "PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Clinic Arrivals service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx := context.Background()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		logger.Info("DATABASE", "Running schema migrations")
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	logger.Info("KAFKA", "Kafka producer initialized successfully")

	requiredTopics := []string{
		cfg.Kafka.Topics.RecordChanges,
		cfg.Kafka.Topics.ScanCommands,
	}
	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
		logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		logger.Info("KAFKA", "Required topics ensured successfully")
	}

	store := queuedb.NewTicketStore(bunDB)
	categoryRows, err := store.LoadCategories(ctx)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to load queue categories: %v", err))
	}
	categories := models.NewCategorySet(categoryRows)
	logger.Info("APP", fmt.Sprintf("Loaded %d active queue categories", len(categories.Names())))

	// Only the first instance of the deployment mints tickets; the others
	// would race it for sequence numbers.
	if cfg.Queue.InstanceIndex == 0 {
		sheet := replenish.NewPDFSheet(cfg.Queue.SheetDir, cfg.Queue.FontPath)
		replenisher := replenish.New(bunDB, cfg.Queue.MinPoolSize, cfg.Queue.BarcodeMin, cfg.Queue.BarcodeMax, sheet)
		minted, err := replenisher.RunAtStartup(ctx, categories)
		if err != nil {
			logger.Fatal("REPLENISH", fmt.Sprintf("Pool replenishment failed after %d tickets: %v", minted, err))
		}
		logger.LogReplenish("startup", fmt.Sprintf("minted %d tickets across %d categories", minted, len(categories.Names())))
	} else {
		logger.Info("REPLENISH", fmt.Sprintf("Instance %d skips startup replenishment", cfg.Queue.InstanceIndex))
	}

	coord := coordinator.New(bunDB, categories)
	board := cache.NewBoard(redisClient)

	handler := api.NewHandler(coord, store, producer, board, cfg.Kafka.Topics.RecordChanges, logger)

	logger.Info("HTTP", "Setting up router")
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	logger.Info("ROUTER", "Arrival routes registered under /api/arrivals")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ScanCommands, cfg.Kafka.GroupID)
		defer consumer.Close()
		go consumer.Start(consumerCtx, func(cmd kafka.ScanCommand) {
			handler.HandleScanCommand(consumerCtx, cmd)
		})
		logger.Info("KAFKA", fmt.Sprintf("Scan command consumer started on %s", cfg.Kafka.Topics.ScanCommands))
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Clinic Arrivals service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancelConsumer()
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		logger.Info("HTTP", "Clinic Arrivals service shutdown complete")
	}
}
