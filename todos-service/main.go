package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chepyr/go-todo-service/internal/logger"
	"github.com/chepyr/go-todo-service/todos-service/attachments"
	"github.com/chepyr/go-todo-service/todos-service/auth"
	"github.com/chepyr/go-todo-service/todos-service/config"
	"github.com/chepyr/go-todo-service/todos-service/db"
	"github.com/chepyr/go-todo-service/todos-service/handlers"
	"github.com/chepyr/go-todo-service/todos-service/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	ctx := context.Background()
	repo, closeRepo := initRepository(ctx, cfg, zlog)
	defer closeRepo()

	storage := initStorage(ctx, cfg, zlog)
	verifier := auth.NewVerifier(cfg.JWKSURL, cfg.JWKSCacheTTL, &http.Client{Timeout: 5 * time.Second}, zlog)
	todos := service.NewTodoService(repo, storage, zlog)

	handler := handlers.NewHandler(todos, verifier, zlog, cfg.DefaultPageLimit, cfg.AllowedOrigins)
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.Routes(http.NewServeMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	startServer(server, zlog)
}

// initRepository opens the configured todo store. The returned func releases
// it.
func initRepository(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (db.TodoRepository, func()) {
	switch cfg.Store {
	case config.StoreDynamoDB:
		client, err := db.NewDynamoClient(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			zlog.Fatal("failed to init dynamodb client", zap.Error(err))
		}
		zlog.Info("using dynamodb store", zap.String("table", cfg.TodosTable))
		return db.NewDynamoTodoRepository(client, cfg.TodosTable, zlog), func() {}

	case config.StorePostgres, config.StoreSQLite:
		driver, dsn := "postgres", cfg.PostgresDSN()
		if cfg.Store == config.StoreSQLite {
			driver, dsn = "sqlite3", cfg.SQLitePath
		}
		dbConn, err := db.Connect(driver, dsn)
		if err != nil {
			zlog.Fatal("failed to connect to database", zap.String("driver", driver), zap.Error(err))
		}
		repo := db.NewSQLTodoRepository(dbConn, cfg.TodosTable, cfg.Store, zlog)
		if err := repo.Migrate(ctx); err != nil {
			zlog.Fatal("failed to migrate schema", zap.Error(err))
		}
		zlog.Info("using sql store", zap.String("driver", driver), zap.String("table", cfg.TodosTable))
		return repo, func() { _ = dbConn.Close() }
	}

	zlog.Fatal("unknown store", zap.String("store", cfg.Store))
	return nil, nil
}

func initStorage(ctx context.Context, cfg *config.Config, zlog *zap.Logger) *attachments.S3Storage {
	presigner, err := attachments.NewS3Presigner(ctx, cfg.AWSRegion, cfg.S3Endpoint)
	if err != nil {
		zlog.Fatal("failed to init s3 presigner", zap.Error(err))
	}
	return attachments.NewS3Storage(presigner, cfg.AttachmentBucket, cfg.S3Endpoint, cfg.SignedURLExpiration, zlog)
}

func startServer(server *http.Server, zlog *zap.Logger) {
	zlog.Info("starting todos server", zap.String("addr", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Fatal("server shutdown failed", zap.Error(err))
	}
	zlog.Info("server stopped")
}
