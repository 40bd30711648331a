package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korjavin/physprepbot/ai"
	"github.com/korjavin/physprepbot/bot"
	"github.com/korjavin/physprepbot/config"
	"github.com/korjavin/physprepbot/credential"
	"github.com/korjavin/physprepbot/database"
	"github.com/korjavin/physprepbot/logger"
	"github.com/korjavin/physprepbot/models"
	"github.com/korjavin/physprepbot/server"
	"github.com/korjavin/physprepbot/session"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Starting PhysPrep...")

	bank, err := models.LoadBank(cfg.QuestionsPath)
	if err != nil {
		log.Fatal("Failed to load questions", "path", cfg.QuestionsPath, "error", err)
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize database", "path", cfg.DatabasePath, "error", err)
	}
	defer db.Close()

	var explanations, narrations ai.Cache
	if cfg.CacheBackend == config.CacheSQLite {
		explanations, narrations = db.ExplanationCache(), db.AudioCache()
	} else {
		explanations, narrations = ai.NewMemoryCache(), ai.NewMemoryCache()
	}

	service := ai.NewService(ai.NewGeminiConnector("", nil), ai.Models{
		Primary:                cfg.PrimaryModel,
		Fallback:               cfg.FallbackModel,
		Fast:                   cfg.FastModel,
		TTS:                    cfg.TTSModel,
		Voice:                  cfg.TTSVoice,
		FallbackThinkingBudget: cfg.FallbackThinkingBudget,
	}, explanations, narrations, log.With("component", "ai"), cfg.RequestTimeout)

	resolver := credential.NewResolver(db, cfg.GeminiAPIKey, log.With("component", "credential"))
	if resolver.Default() == "" {
		log.Warn("GEMINI_API_KEY is not set, users must send their own key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.BotEnabled {
		sessions := session.NewManager(service, resolver, db, log.With("component", "session"))
		b, err := bot.New(cfg.BotToken, cfg.Debug, bank, sessions, db, log.With("component", "bot"), cfg.RequestTimeout)
		if err != nil {
			log.Fatal("Failed to initialize bot", "error", err)
		}
		log.Info("Bot initialized successfully")
		g.Go(func() error {
			return b.Start(ctx)
		})
	}

	if cfg.HTTPAddr != "" {
		handler := server.NewHandler(bank, service, resolver, db, log.With("component", "http"))
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("HTTP server starting", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("Stopped with error", "error", err)
		return
	}
	log.Info("Shut down cleanly")
}
