package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/scrapline/bulkmatch/internal/adapter/handler"
	"github.com/scrapline/bulkmatch/internal/adapter/notify"
	"github.com/scrapline/bulkmatch/internal/adapter/storage"
	"github.com/scrapline/bulkmatch/internal/config"
	"github.com/scrapline/bulkmatch/internal/core/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	runMigrations(cfg.MigrationURL, cfg.MySQLDSN)

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	log.Println("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	log.Println("connected to redis")

	// Adapters
	store := storage.NewMySQLStore(db)
	candidates := storage.NewRedisCandidates(rdb)
	notifier := notify.NewKafkaNotifier(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)

	// Services
	fulfillment := service.NewFulfillment(store)
	matching := service.NewMatching(store, candidates, candidates, candidates, notifier, fulfillment)

	// HTTP server
	httpHandler := handler.NewHTTPHandler(matching)
	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: httpHandler.Routes(),
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.ServerAddress)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	if err := notifier.Close(); err != nil {
		log.Printf("kafka writer close error: %v", err)
	}
	rdb.Close()
	db.Close()
	log.Println("connections closed")
}

func runMigrations(migrationURL, dsn string) {
	migration, err := migrate.New(migrationURL, "mysql://"+dsn)
	if err != nil {
		log.Fatalf("cannot create migrate instance: %v", err)
	}

	if err = migration.Up(); err != nil && err != migrate.ErrNoChange {
		log.Fatalf("failed to run migrate up: %v", err)
	}
	log.Println("db migrated successfully")
}
