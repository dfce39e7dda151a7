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

	"github.com/nimblechat/backend/internal/config"
	"github.com/nimblechat/backend/internal/handler"
	"github.com/nimblechat/backend/internal/service/ai"
	"github.com/nimblechat/backend/internal/service/chat"
	"github.com/nimblechat/backend/internal/service/extract"
	"github.com/nimblechat/backend/internal/store"
	"github.com/nimblechat/backend/internal/store/memory"
	"github.com/nimblechat/backend/internal/store/sqlite"
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

	st, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("warning: failed to close session store: %v", err)
		}
	}()

	chatService := chat.NewService(st)

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - check the LLM_* environment variables")
		} else {
			log.Printf("AI service initialized (provider=%s model=%s)", cfg.AI.Provider, cfg.AI.Model)
		}
	} else {
		log.Println("LLM credentials not configured, chat endpoints will answer 503")
	}

	extractor := extract.NewService(cfg.Upload)

	router := handler.NewRouter(chatService, aiService, extractor)

	startServer(ctx, cfg.Server, router)
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		log.Printf("using sqlite session store at %s", cfg.Path)
		return sqlite.New(cfg.Path)
	default:
		log.Println("using in-memory session store")
		return memory.New(), nil
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

	log.Printf("AI chat backend listening on %s", addr)
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
