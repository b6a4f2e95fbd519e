// Package main contains the entrypoint for the conversation archive service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"teleconvo/internal/collector"
	"teleconvo/internal/config"
	"teleconvo/internal/database"
	"teleconvo/internal/logger"
	"teleconvo/internal/scheduler"
	"teleconvo/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, query server,
// collector, scheduler), handles graceful shutdown, and returns an exit
// code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	mode := flag.String("mode", "serve", "Run mode: serve (query server), collect (ingestion), or all")
	flag.Parse()

	if *mode != "serve" && *mode != "collect" && *mode != "all" {
		slog.Error("Invalid mode", "mode", *mode)
		return 1
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	sched, err := scheduler.New(log, &cfg.Scheduler, scheduler.Tasks(store))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	if err := sched.Start(); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		return 1
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error("Failed to stop scheduler", "error", err)
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	if *mode == "serve" || *mode == "all" {
		dispatcher := server.NewDispatcher(store, log)
		srv := server.NewServer(cfg.Server.Host, cfg.Server.Port, dispatcher, log)
		g.Go(func() error {
			return srv.Run(gCtx)
		})
	}

	if *mode == "collect" || *mode == "all" {
		if cfg.Telegram.Token == "" {
			log.Error("Telegram token is required in collecting modes")
			return 1
		}
		coll, err := collector.New(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Collector, store, log)
		if err != nil {
			log.Error("Failed to create collector", "error", err)
			return 1
		}
		g.Go(func() error {
			return coll.Run(gCtx)
		})
	}

	log.Info("Starting...", "mode", *mode)
	runErr := g.Wait()
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Stopped due to error", "error", fmt.Errorf("run: %w", runErr))
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
