package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/service/recorder"
	"github.com/zhouzirui/serenity/backend/internal/store"
	"github.com/zhouzirui/serenity/backend/internal/store/rabbitmq"
)

// worker drains the exchange queue filled by the API when RECORDER_DRIVER=rabbitmq.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Store.Driver == config.StoreMemory {
		log.Println("warning: STORE_DRIVER=memory, records will not outlive the worker")
	}

	repo, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer repo.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.Recorder.RabbitURL, cfg.Recorder.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.Recorder.Workers,
		MaxRetries:  cfg.Recorder.MaxRetries,
		RetryDelay:  cfg.Recorder.RetryDelay,
	})
	if err != nil {
		log.Fatalf("failed to connect rabbitmq: %v", err)
	}
	defer consumer.Close()

	if err := consumer.Run(ctx, recorder.Handler(repo)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer stopped: %v", err)
	}
	log.Println("[worker] shutdown complete")
}
