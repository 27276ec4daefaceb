package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	_ "github.com/joho/godotenv/autoload"

	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/config"
	"github.com/dharsanguruparan/qrdrop/internal/database"
	"github.com/dharsanguruparan/qrdrop/internal/queue"
	"github.com/dharsanguruparan/qrdrop/internal/repository"
	"github.com/dharsanguruparan/qrdrop/internal/s3storage"
	"github.com/dharsanguruparan/qrdrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// The worker shares state with the API, so it needs the durable backends.
	if cfg.StoreBackend != config.BackendPostgres || !cfg.UsesObjectStorage() {
		log.Fatalf("worker requires QRDROP_STORE=postgres and QRDROP_S3_ENDPOINT")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.New(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	// Swept objects are deleted inline; the worker is already the background.
	buckets := bucket.New(repo, store, nil, bucket.Options{RetentionWindow: cfg.RetentionWindow})

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := queue.RegisterSweep(scheduler, cfg.SweepInterval); err != nil {
		log.Fatalf("schedule sweep: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	processor := worker.NewProcessor(store, buckets)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
