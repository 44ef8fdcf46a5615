package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/kintsugi-app/server/adapters"
	"github.com/kintsugi-app/server/adapters/emotion"
	"github.com/kintsugi-app/server/adapters/llm"
	mongoadapter "github.com/kintsugi-app/server/adapters/mongo"
	"github.com/kintsugi-app/server/adapters/participants"
	"github.com/kintsugi-app/server/adapters/stt"
	"github.com/kintsugi-app/server/adapters/tts"
	"github.com/kintsugi-app/server/domain/phase"
	"github.com/kintsugi-app/server/domain/repositories"
	"github.com/kintsugi-app/server/internal/api"
	"github.com/kintsugi-app/server/internal/auth"
	"github.com/kintsugi-app/server/internal/config"
	"github.com/kintsugi-app/server/internal/websocket"
	"github.com/kintsugi-app/server/usecase"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("Failed to initialize token issuer", zap.Error(err))
	}

	// Session storage: MongoDB when configured, in-memory otherwise.
	var sessionRepo repositories.SessionRepository
	if cfg.MongoURI != "" {
		client, err := mongoadapter.NewClient(logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(ctx)
		}()
		sessionRepo = mongoadapter.NewSessionRepository(client.Database)
	} else {
		logger.Warn("MONGODB_URI not set, using in-memory session storage")
		sessionRepo = adapters.NewMemorySessionRepository()
	}

	// Mediator: Gemini when configured, deterministic mock otherwise.
	var mediator repositories.MediationModel
	geminiConfig := llm.NewGeminiConfigFromEnv()
	if validationErr := llm.ValidateGeminiConfig(geminiConfig); validationErr == nil {
		gemini, err := llm.NewGeminiMediator(context.Background(), geminiConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Gemini mediator", zap.Error(err))
		}
		mediator = gemini
	} else {
		logger.Warn("Gemini not configured, using mock mediator", zap.Error(validationErr))
		mediator = llm.NewMockMediator()
	}

	// Voice provider chains end in the mock so speech degrades instead
	// of failing outright.
	recognizers := []repositories.SpeechToText{}
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		recognizers = append(recognizers, &stt.GoogleSpeechToText{})
	}
	recognizers = append(recognizers, stt.NewMockSpeechToText(logger))

	synthesizers := []repositories.TextToSpeech{}
	elevenConfig := tts.NewElevenLabsConfigFromEnv()
	if validationErr := tts.ValidateElevenLabsConfig(elevenConfig); validationErr == nil {
		eleven, err := tts.NewElevenLabsTTS(elevenConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize ElevenLabs TTS", zap.Error(err))
		}
		synthesizers = append(synthesizers, eleven)
	} else {
		logger.Warn("ElevenLabs not configured, synthesis will use the mock", zap.Error(validationErr))
	}
	synthesizers = append(synthesizers, tts.NewMockTTS(logger))

	// Emotion analysis: remote scorer when configured, lexicon otherwise.
	var analyzer repositories.EmotionAnalyzer
	analyzerConfig := emotion.NewHTTPAnalyzerConfigFromEnv()
	if validationErr := emotion.ValidateHTTPAnalyzerConfig(analyzerConfig); validationErr == nil {
		remote, err := emotion.NewHTTPAnalyzer(analyzerConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize emotion analyzer", zap.Error(err))
		}
		analyzer = remote
	} else {
		logger.Warn("Remote emotion scorer not configured, using lexicon analyzer", zap.Error(validationErr))
		analyzer = emotion.NewLexiconAnalyzer(logger)
	}

	// Initialize usecase services
	orchestrator := usecase.NewOrchestrator(mediator, logger)
	store := usecase.NewSessionStore(sessionRepo, phase.NewMachine(), orchestrator, analyzer, logger)
	voice := usecase.NewVoiceIO(recognizers, synthesizers, logger)
	conflict := usecase.NewConflictAnalyzer(analyzer, logger)

	sweeper := usecase.NewExpirySweeper(sessionRepo, cfg.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize WebSocket hub
	hub := websocket.NewHub(store, voice, logger)
	go hub.Run()

	// Create Echo instance
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handlers := api.NewHandlers(store, conflict, analyzer, participants.NewMemoryRepository(), issuer, hub, logger)
	api.InitRoutes(e, handlers)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
