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
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/handler"
	speechhandler "github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/health"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/logging"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/metrics"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env 可选，缺失时只用系统环境变量
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to load .env file, using system environment only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)

	store, err := chat.Open(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close session store", zap.Error(err))
		}
	}()
	logger.Info("session store ready", zap.String("driver", cfg.Store.Driver))

	sweeper := chat.NewSweeper(store, cfg.Session.Timeout, cfg.Session.CleanupInterval, logger)
	sweeper.OnExpired = collector.SessionsExpired
	go sweeper.Run(ctx)

	speechSvc, err := speech.NewFromConfig(cfg.Speech, logger)
	if err != nil {
		return err
	}
	logger.Info("speech service initialized", zap.String("provider", cfg.Speech.Provider))

	chatModel, err := ai.NewModelFromConfig(ctx, cfg.AI)
	if err != nil {
		return err
	}
	aiSvc := ai.NewService(chatModel, store, cfg.AI.Timeout, logger)
	logger.Info("AI service initialized",
		zap.String("provider", cfg.AI.Provider),
		zap.String("model", aiSvc.ModelName()))

	validator := audio.NewValidator(cfg.Audio)
	turns := turn.NewOrchestrator(turn.Deps{
		Store:       store,
		Validator:   validator,
		Transcriber: speechSvc,
		Synthesizer: speechSvc,
		Responder:   aiSvc,
		MaxHistory:  cfg.Session.MaxHistory,
		Observer:    collector,
		Logger:      logger,
	})

	checker := health.NewChecker(5*time.Second, logger)
	checker.Register("audio_processor", func(context.Context) error { return nil })
	checker.Register("speech", speechSvc.Check)
	checker.Register("chat_service", aiSvc.Check)
	checker.Register("session_store", store.Ping)

	registry := speechhandler.NewConnectionRegistry()
	router := handler.NewRouter(ctx, handler.Deps{
		Store:       store,
		Turns:       turns,
		AI:          aiSvc,
		Speech:      speechSvc,
		Validator:   validator,
		Connections: registry,
		Health:      checker,
		Metrics:     collector,
		MaxHistory:  cfg.Session.MaxHistory,
		RateLimit:   cfg.RateLimit,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	// 升级后的连接不受 Shutdown 管理，需要单独关闭
	srv.RegisterOnShutdown(registry.CloseAll)

	logger.Info("voice gateway listening", zap.String("addr", cfg.Server.Addr))
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
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
