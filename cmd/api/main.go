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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/handler"
	"github.com/zhouzirui/serenity/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/serenity/backend/internal/service/chat"
	moodservice "github.com/zhouzirui/serenity/backend/internal/service/mood"
	"github.com/zhouzirui/serenity/backend/internal/service/recorder"
	"github.com/zhouzirui/serenity/backend/internal/store"
	"github.com/zhouzirui/serenity/backend/internal/store/rabbitmq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	repo, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Printf("warning: close store: %v", err)
		}
	}()
	log.Printf("store driver=%s ready", cfg.Store.Driver)

	window, err := store.OpenWindow(ctx, cfg.Window)
	if err != nil {
		log.Fatalf("failed to open %s window: %v", cfg.Window.Driver, err)
	}
	defer window.Close()

	rec, err := newRecorder(cfg.Recorder, repo)
	if err != nil {
		log.Fatalf("failed to start %s recorder: %v", cfg.Recorder.Driver, err)
	}

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with fallback replies only")
		} else {
			log.Printf("AI service initialized provider=%s model=%s", cfg.AI.Provider, cfg.AI.Model)
		}
	} else {
		log.Println("AI provider not configured, serving fallback replies only")
	}

	// Initialize mood tagger (LLM-based with keyword fallback)
	moodCfg := moodservice.Config{
		Enabled:      cfg.AI.MoodLLMEnabled,
		HistoryLimit: cfg.AI.MoodHistoryLimit,
		Timeout:      cfg.AI.Timeout,
	}
	var chatModelForMood model.ChatModel
	if aiService != nil {
		chatModelForMood = aiService.ChatModel()
	}
	moodSvc, err := moodservice.NewService(ctx, chatModelForMood, moodCfg)
	if err != nil {
		log.Printf("warning: failed to initialize mood tagger: %v", err)
		moodSvc = nil
	} else if moodSvc.Enabled() {
		log.Println("Mood tagger enabled")
	} else if moodCfg.Enabled {
		log.Println("Mood tagger requested but chat model unavailable, falling back to keywords")
	}

	chatService := chatservice.NewService(chatservice.Dependencies{
		Generator:  aiService,
		Classifier: moodSvc,
		Window:     window,
		Repository: repo,
		Recorder:   rec,
	})

	router := handler.NewRouter(cfg.Server, chatService, repo)

	startServer(ctx, cfg.Server, router)

	if err := rec.Close(); err != nil {
		log.Printf("warning: close recorder: %v", err)
	}
}

func newRecorder(cfg config.RecorderConfig, repo store.Repository) (recorder.Recorder, error) {
	switch cfg.Driver {
	case config.RecorderRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, err
		}
		log.Printf("recorder publishing to rabbitmq queue=%s", cfg.RabbitQueue)
		return recorder.NewQueued(pub), nil
	default:
		return recorder.NewAsync(repo, cfg.Workers, cfg.Buffer), nil
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Serenity chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
