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

	"github.com/joho/godotenv"
	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/handler"
	"github.com/zhouzirui/studydesk/internal/service/ai"
	"github.com/zhouzirui/studydesk/internal/service/chat"
	"github.com/zhouzirui/studydesk/internal/storage/sqlite"
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

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer store.Close()
	chatService := chat.NewService(store)

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Mock || cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else if cfg.AI.Mock {
			log.Println("AI service running with offline echo model")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化（可设置 AI_MOCK=true 使用离线模型）")
	}

	router := handler.NewRouter(chatService, aiService, cfg.Stream)

	startServer(ctx, cfg.Server, router)
}

func openStore(ctx context.Context, storageCfg config.StorageConfig) (chat.Store, error) {
	switch storageCfg.Backend {
	case config.StorageSQLite:
		return sqlite.Open(ctx, storageCfg.SQLitePath)
	default:
		log.Println("using in-memory conversation store")
		return chat.NewMemoryStore(), nil
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

	log.Printf("StudyDesk backend listening on %s", addr)
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
