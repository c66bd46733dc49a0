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

	"github.com/zhouzirui/smartguard/internal/config"
	"github.com/zhouzirui/smartguard/internal/handler"
	model "github.com/zhouzirui/smartguard/internal/model/language"
	"github.com/zhouzirui/smartguard/internal/service/assets"
	"github.com/zhouzirui/smartguard/internal/service/chat"
	"github.com/zhouzirui/smartguard/internal/service/speech"
	"github.com/zhouzirui/smartguard/internal/service/widget"
	"github.com/zhouzirui/smartguard/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, closeLog, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer closeLog()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		logger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Initialize Speech service
	var (
		recognizer  speech.Recognizer
		synthesizer speech.Synthesizer
	)
	if cfg.Speech.Enabled {
		svc := speech.NewService(cfg.Speech.Service(), logger)
		recognizer, synthesizer = svc, svc
		logger.Info("speech service initialized", zap.String("base_url", cfg.Speech.BaseURL))
	} else {
		logger.Info("speech credentials not configured, voice input and output disabled")
	}

	voices, err := speech.NewVoiceBook(cfg.Speech.Voices, cfg.Speech.TTSVoice)
	if err != nil {
		logger.Fatal("invalid SPEECH_VOICES", zap.Error(err))
	}
	input := speech.NewInputAdapter(recognizer, logger)
	output := speech.NewOutputAdapter(synthesizer, voices, logger)

	defaultLang, ok := model.Parse(cfg.Chat.DefaultLanguage)
	if !ok {
		logger.Warn("unsupported DEFAULT_LANGUAGE, using English", zap.String("language", cfg.Chat.DefaultLanguage))
		defaultLang = model.Default
	}

	chatClient := chat.NewClient(cfg.Chat, logger)
	registry := widget.NewRegistry(ctx, widget.Deps{
		Replier:       chatClient,
		Input:         input,
		Output:        output,
		SpeakFallback: cfg.Chat.SpeakFallback,
		Logger:        logger,
	}, defaultLang)
	defer func() {
		registry.CloseAll()
		output.Wait()
	}()
	logger.Info("chat endpoint configured", zap.String("endpoint", chatClient.Endpoint()))

	cache, err := newAssetCache(cfg.Assets, logger)
	if err != nil {
		logger.Fatal("failed to configure asset origin", zap.Error(err))
	}
	if err := cache.Precache(ctx, cfg.Assets.Precache); err != nil {
		logger.Warn("asset precache failed, serving from origin only", zap.Error(err))
	}

	router := handler.NewRouter(handler.Deps{
		Registry: registry,
		Input:    input,
		Output:   output,
		Assets:   cache,
		Logger:   logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

func newAssetCache(cfg config.AssetsConfig, logger *zap.Logger) (*assets.Cache, error) {
	var origin assets.Origin = assets.NewDirOrigin(cfg.Dir)
	if cfg.Origin != "" {
		httpOrigin, err := assets.NewHTTPOrigin(cfg.Origin, nil)
		if err != nil {
			return nil, err
		}
		origin = httpOrigin
	}
	return assets.NewCache(cfg.CacheName, origin, logger), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("SmartGuard widget listening", zap.String("addr", addr), zap.String("version", version))
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", zap.Error(err))
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
