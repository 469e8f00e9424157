package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"channel-summarizer-go/internal/config"
	"channel-summarizer-go/internal/db"
	"channel-summarizer-go/internal/delivery"
	"channel-summarizer-go/internal/fetcher"
	"channel-summarizer-go/internal/handlers"
	"channel-summarizer-go/internal/metrics"
	"channel-summarizer-go/internal/pipeline"
	"channel-summarizer-go/internal/ratelimit"
	"channel-summarizer-go/internal/scheduler"
	"channel-summarizer-go/internal/server"
	"channel-summarizer-go/internal/store"
	"channel-summarizer-go/internal/summarizer"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Channel Summarizer Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics()

	st := store.NewGormStore(dbConn)

	limiter := ratelimit.NewWindowLimiter(
		cfg.RateLimit.RequestsPerWindow,
		time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute,
	)

	f := fetcher.New(fetcher.SlackClientFactory())

	aiConfig := openai.DefaultConfig(cfg.AI.APIKey)
	if cfg.AI.BaseURL != "" {
		aiConfig.BaseURL = cfg.AI.BaseURL
	}
	summ := summarizer.New(openai.NewClientWithConfig(aiConfig), cfg.AI.FallbackModel)

	poster := slack.New(cfg.Slack.BotToken)
	machine := delivery.New(st, st, poster, time.Duration(cfg.Sweep.CutoffHours)*time.Hour, m)

	p := pipeline.New(limiter, f, summ, st, machine, m, pipeline.Options{
		DefaultToken:    cfg.Slack.UserToken,
		DefaultModel:    cfg.AI.Model,
		MaxOutputTokens: cfg.AI.MaxOutputTokens,
		Temperature:     float32(cfg.AI.Temperature),
		RequireJSON:     cfg.AI.RequireJSON,
	})

	sched := scheduler.NewScheduler(&cfg.Sweep, machine)

	h := handlers.NewHandlers(dbConn, p, st, st, machine, sched)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start sweep scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop sweep scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
