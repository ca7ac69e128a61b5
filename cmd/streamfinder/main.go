// Package main wires together the stream finder service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AniCorp/anime-stream-finder/internal/api"
	"github.com/AniCorp/anime-stream-finder/internal/clock/system"
	"github.com/AniCorp/anime-stream-finder/internal/config"
	"github.com/AniCorp/anime-stream-finder/internal/dispatcher"
	"github.com/AniCorp/anime-stream-finder/internal/fetch"
	"github.com/AniCorp/anime-stream-finder/internal/id/uuid"
	"github.com/AniCorp/anime-stream-finder/internal/logging"
	"github.com/AniCorp/anime-stream-finder/internal/similarity"
	"github.com/AniCorp/anime-stream-finder/internal/source/animepahe"
	"github.com/AniCorp/anime-stream-finder/internal/task"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := fetch.NewClient(fetch.Config{
		UserAgent:         cfg.Source.UserAgent,
		Timeout:           cfg.FetchTimeout(),
		MaxParallelTabs:   cfg.Headless.MaxParallel,
		NavigationTimeout: cfg.NavTimeout(),
		MaxRetries:        cfg.HTTP.MaxRetries,
		BackoffInitial:    cfg.BackoffInitial(),
		BackoffMax:        cfg.BackoffMax(),
	}, logger.Named("fetch"))
	if err != nil {
		logger.Fatal("fetch client init failed", zap.Error(err))
	}

	pahe := animepahe.New(animepahe.Config{
		BaseURL:    cfg.Source.BaseURL,
		Cookie:     cfg.Source.Cookie,
		MaxRetries: cfg.HTTP.MaxRetries,
	}, client, similarity.NewLexical(), logger.Named("animepahe"))

	dispatch := dispatcher.New(logger.Named("dispatcher"), pahe)

	clock := system.New()
	store := task.NewStore(clock)
	orchestrator := task.New(task.Config{
		RunTimeout:      cfg.RunTimeout(),
		TaskTTL:         cfg.TaskTTL(),
		MaxTasks:        cfg.Tasks.MaxEntries,
		ReclaimInterval: cfg.ReclaimInterval(),
	}, store, dispatch, client, uuid.New(), logger.Named("task"))

	apiServer := api.NewServer(orchestrator, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("janitor started")
		orchestrator.RunJanitor(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	client.Close()
	logger.Info("shutdown complete")
}
