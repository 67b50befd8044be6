// Command sufdexd serves a substring index over HTTP.
//
//	sufdexd -config sufdex.yaml
//
// The node store is chosen by the "store" setting: memory, redis, postgres,
// or http (another sufdexd acting as a remote node store).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wizenheimer/sufdex"
	"github.com/wizenheimer/sufdex/httpstore"
	"github.com/wizenheimer/sufdex/internal/config"
	"github.com/wizenheimer/sufdex/pgstore"
	"github.com/wizenheimer/sufdex/redisstore"
	"github.com/wizenheimer/sufdex/server"
)

func main() {
	configPath := flag.String("config", "sufdex.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("sufdexd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	index, err := sufdex.NewSuffixArray(ctx, store,
		sufdex.WithProbability(cfg.Probability),
		sufdex.WithMaxLevel(cfg.MaxLevel),
		sufdex.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: server.New(index, store, server.Options{
			DefaultResults: cfg.DefaultResults,
			MaxResults:     cfg.MaxResults,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("sufdexd listening", slog.String("addr", cfg.Listen), slog.String("store", cfg.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg *config.Config) (sufdex.NodeStore, io.Closer, error) {
	noop := closerFunc(func() error { return nil })

	switch cfg.Store {
	case config.StoreRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StorePostgres:
		s, err := pgstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, closerFunc(func() error { s.Close(); return nil }), nil
	case config.StoreHTTP:
		s, err := httpstore.New(cfg.RemoteURL, nil)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return sufdex.NewMemoryStore(), noop, nil
	}
}
