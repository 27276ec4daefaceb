// Package main is the entry point for the QRDrop API server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/qrdrop/internal/api"
	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/config"
	"github.com/dharsanguruparan/qrdrop/internal/database"
	"github.com/dharsanguruparan/qrdrop/internal/processing"
	"github.com/dharsanguruparan/qrdrop/internal/queue"
	"github.com/dharsanguruparan/qrdrop/internal/ratelimit"
	"github.com/dharsanguruparan/qrdrop/internal/redirect"
	"github.com/dharsanguruparan/qrdrop/internal/repository"
	"github.com/dharsanguruparan/qrdrop/internal/s3storage"
	"github.com/dharsanguruparan/qrdrop/internal/storage"
)

// resourceStore is satisfied by both the memory store and the Postgres repository.
type resourceStore interface {
	bucket.Store
	redirect.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// SIGINT/SIGTERM stop the listener. run returns once requests, then purges,
	// have drained.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	content, err := openContent(ctx, cfg)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RateLimitBackend == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	var rateStore ratelimit.Store = ratelimit.NewMemoryStore()
	if rdb != nil {
		rateStore = ratelimit.NewRedisStore(rdb)
	}
	limiter := ratelimit.FromConfig(rateStore, cfg)

	// Purges go to the asynq worker when configured and to an in-process
	// pool otherwise. The retention sweep follows the same choice.
	var purger bucket.Purger
	if cfg.UsesAsynq() {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		purger = queue.NewEnqueuer(client)
	} else {
		// Stopped after the HTTP server has drained, so purges issued by
		// in-flight downloads still reach a worker.
		pool := processing.New(content, cfg.WorkerConcurrency)
		pool.Start()
		defer pool.Stop()
		purger = pool
	}

	buckets := bucket.New(store, content, purger, bucket.Options{
		MaxFileSize:     cfg.MaxFileSize,
		MaxTextLength:   cfg.MaxTextLength,
		RetentionWindow: cfg.RetentionWindow,
	})
	redirects := redirect.New(store)

	tasks := []processing.Task{{Name: "ratelimit-expire", Run: limiter.Expire}}
	if !cfg.UsesAsynq() {
		tasks = append(tasks, processing.Task{Name: "bucket-sweep", Run: func(ctx context.Context) error {
			res, err := buckets.Sweep(ctx)
			if err == nil {
				log.Printf("sweep cleared %d and deleted %d buckets", res.Cleared, res.Deleted)
			}
			return err
		}})
	}
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		processing.NewJanitor(cfg.SweepInterval, tasks...).Run(janitorCtx)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	log.Printf("QRDrop store=%s content=%s ratelimit=%s queue=%s",
		cfg.StoreBackend, contentBackend(cfg), cfg.RateLimitBackend, cfg.QueueBackend)
	return api.New(cfg, buckets, redirects, limiter).Run(ctx)
}

func openStore(ctx context.Context, cfg *config.Config) (resourceStore, func(), error) {
	if cfg.StoreBackend != config.BackendPostgres {
		return storage.NewMemoryStore(), func() {}, nil
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repository.New(pool), pool.Close, nil
}

func openContent(ctx context.Context, cfg *config.Config) (bucket.ContentStore, error) {
	if !cfg.UsesObjectStorage() {
		return storage.NewMemoryContentStore(), nil
	}
	s3, err := s3storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return s3, nil
}

func contentBackend(cfg *config.Config) string {
	if cfg.UsesObjectStorage() {
		return "s3"
	}
	return config.BackendMemory
}
