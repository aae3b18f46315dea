// cmd/bot/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weather-bot/config"
	"weather-bot/internal/bot"
	"weather-bot/internal/compare"
	"weather-bot/internal/db"
	"weather-bot/internal/server"
	"weather-bot/internal/session"
	"weather-bot/internal/weather"
	"weather-bot/pkg/logger"
)

func main() {
	// Initialize logger
	l := logger.New()
	l.Info("Starting Weather Places Bot...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l.Fatal("Failed to load config", err)
	}

	// Validate critical configuration
	if cfg.Telegram.Token == "" {
		l.Fatal("Telegram token is not configured")
	}
	if cfg.Weather.APIKey == "" {
		l.Fatal("Weather API key is not configured")
	}

	// Initialize database connection with retry
	var database *db.PostgresDB
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		database, err = db.NewPostgresDB(cfg.DB)
		if err == nil {
			break
		}
		l.Error("Failed to connect to database, retrying...", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if database == nil {
		l.Fatal("Failed to connect to database after multiple attempts", err)
	}
	defer database.Close()

	if err := database.EnsureSchema(context.Background()); err != nil {
		l.Fatal("Failed to ensure database schema", err)
	}

	// Forecast source
	weatherClient := weather.NewClient(weather.Options{
		BaseURL: cfg.Weather.BaseURL,
		APIKey:  cfg.Weather.APIKey,
		Units:   cfg.Weather.Units,
		Lang:    cfg.Weather.Lang,
		Timeout: cfg.Weather.Timeout,
	})

	// In-memory sessions with TTL eviction
	ctx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	sessions := session.NewStore(cfg.Session.TTL)
	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	engine := compare.NewEngine(weatherClient, cfg.Report.MaxChars)
	controller := bot.NewController(database, weatherClient, engine, sessions, l)

	// Create and start bot
	telegramBot, err := bot.NewTelegramBot(cfg.Telegram.Token, controller, l)
	if err != nil {
		l.Fatal("Failed to create Telegram bot", err)
	}

	l.Info("Starting Telegram bot...")
	if err := telegramBot.Start(context.Background()); err != nil {
		l.Fatal("Failed to start Telegram bot", err)
	}
	l.Info("Telegram bot started successfully")

	// Start health/readiness server
	httpServer := server.NewServer(cfg.Server.Port, database, l)
	go func() {
		l.Info("Starting HTTP server...")
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("Failed to start HTTP server", err)
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("Shutting down bot...")

	// Create context for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Error("Error during HTTP server shutdown", err)
	}

	// Then stop bot
	if err := telegramBot.Stop(shutdownCtx); err != nil {
		l.Error("Error during bot shutdown", err)
	}

	l.Info("Bot stopped successfully")
}
