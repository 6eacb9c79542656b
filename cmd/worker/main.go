package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"cinemitr/internal/config"
	"cinemitr/internal/queue"
	"cinemitr/internal/store"
	"cinemitr/internal/telemetry"
	workerproc "cinemitr/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.New(rdb, cfg.VisibilityTimeout)

	processor := workerproc.NewProcessor(cfg, q, st)

	exportHandler, err := workerproc.NewExportHandler(ctx, cfg, st)
	if err != nil {
		log.Fatalf("init export handler: %v", err)
	}
	processor.RegisterHandler(queue.KindExport, exportHandler.Handle)
	processor.RegisterHandler(queue.KindThumbnail, workerproc.NewThumbnailHandler(cfg, st).Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with visibility=%s poll=%s", cfg.VisibilityTimeout, cfg.WorkerPollInterval)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
