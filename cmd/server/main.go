package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailbox-monitor/internal/api"
	"github.com/ignite/mailbox-monitor/internal/config"
	"github.com/ignite/mailbox-monitor/internal/dedup"
	"github.com/ignite/mailbox-monitor/internal/dispatch"
	"github.com/ignite/mailbox-monitor/internal/forward"
	"github.com/ignite/mailbox-monitor/internal/graph"
	"github.com/ignite/mailbox-monitor/internal/repository/postgres"
	"github.com/ignite/mailbox-monitor/internal/rules"
	"github.com/ignite/mailbox-monitor/internal/storage"
	"github.com/ignite/mailbox-monitor/internal/subscription"
	"github.com/ignite/mailbox-monitor/internal/worker"
)

func main() {
	log.Println("Mailbox Monitor starting")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	defer db.Close()

	subStore := postgres.NewSubscriptionStore(db)
	ruleStore := postgres.NewRuleStore(db)
	noteStore := postgres.NewNotificationStore(db)

	// Cancelled on shutdown; every background loop hangs off this context.
	ctx, cancel := context.WithCancel(context.Background())

	// Dedup cache: Redis when configured, in-process otherwise.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unreachable (%v), falling back to in-process dedup", err)
			redisClient = nil
		}
	}
	dedupCache := dedup.New(redisClient, cfg.Dedup.TTL())
	if mem, ok := dedupCache.(*dedup.MemoryCache); ok {
		go mem.Run(ctx, cfg.Dedup.SweepInterval())
	}

	// Provider client and attachment relocation
	graphClient := graph.NewClient(cfg.Graph)

	var uploader dispatch.Relocator
	if cfg.Storage.S3Bucket != "" {
		up, err := storage.NewUploader(context.Background(), cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize attachment storage: %v", err)
		}
		uploader = up
	} else {
		log.Println("No attachment bucket configured; forwarding without attachment URLs")
	}

	// Pipeline
	dispatcher := dispatch.New(dispatch.Deps{
		Subscriptions: subStore,
		Rules:         ruleStore,
		Records:       noteStore,
		Messages:      graphClient,
		Dedup:         dedupCache,
		Forwarder:     forward.NewForwarder(cfg.Forwarding),
		Uploader:      uploader,
		Engine:        rules.NewEngine(),
	})

	// Subscription lifecycle
	manager := subscription.NewManager(graphClient, subStore, cfg.Subscription, cfg.Webhook)
	scheduler := subscription.NewScheduler(manager, subStore, cfg.Subscription)

	n, err := scheduler.Reload(ctx)
	if err != nil {
		log.Fatalf("Failed to load subscriptions: %v", err)
	}
	log.Printf("Tracking %d subscription(s) for renewal", n)
	scheduler.Start(ctx)

	// Background reprocessing of failed notifications
	reprocessor := worker.NewReprocessWorker(dispatcher, cfg.Reprocess.Interval(), cfg.Reprocess.BatchSize)
	if cfg.Reprocess.Enabled {
		go reprocessor.Start(ctx)
	}

	// HTTP server
	handlers := api.NewHandlers(manager, subStore, scheduler, dispatcher, reprocessor, cfg.Webhook.ClientState)
	server := api.NewServer(cfg.Server, handlers)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
