// Package main is the entry point for the catatbot bookkeeping Telegram bot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/texturin/catatbot/internal/bot"
	"github.com/texturin/catatbot/internal/config"
	"github.com/texturin/catatbot/internal/engine"
	"github.com/texturin/catatbot/internal/gemini"
	"github.com/texturin/catatbot/internal/ledger"
	"github.com/texturin/catatbot/internal/logger"
	"github.com/texturin/catatbot/internal/resolver"
	"github.com/texturin/catatbot/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("catatbot %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.SetLevel(cfg.LogLevel)
	if cfg.LogJSON {
		logger.SetJSON()
	}

	led := ledger.NewMemory()
	store := session.NewStore(cfg.SessionTTL, cfg.DedupTTL)
	registry := resolver.NewRegistry()
	names := resolver.NewNameCache(led.ProjectNames, cfg.NameCacheTTL)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Log.Warn().Err(err).Msg("Redis unreachable, falling back to local snapshots only")
		}
	}

	saver := session.NewSaver(store, registry, cfg.SnapshotPath, rdb, cfg.BackupMaxBytes)
	if err := saver.Load(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("State snapshot not restored, starting clean")
	}
	go saver.Run(ctx)

	var ai engine.Extractor
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		ai = client
	} else {
		logger.Log.Warn().Msg("GEMINI_API_KEY not set, extraction disabled")
	}

	eng := engine.New(store, registry, names, led, ai)

	telegramBot, err := bot.New(cfg, eng, store)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to create bot")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Log.Info().Msg("Shutting down...")
		cancel()
	}()

	telegramBot.Start(ctx)
}
