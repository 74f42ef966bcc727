package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pagevault/pagevault/internal/api"
	"github.com/pagevault/pagevault/internal/capture"
	"github.com/pagevault/pagevault/internal/config"
	"github.com/pagevault/pagevault/internal/fetch"
	"github.com/pagevault/pagevault/internal/mediawiki"
	"github.com/pagevault/pagevault/internal/netutil"
	"github.com/pagevault/pagevault/internal/session"
	"github.com/pagevault/pagevault/internal/store"
	"github.com/pagevault/pagevault/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("config loaded",
		"bind_addr", cfg.BindAddr,
		"cache_dir", cfg.CacheDir,
		"navigate_timeout_ms", cfg.NavigateTimeoutMS,
		"resource_max_bytes", cfg.ResourceMaxBytes,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)
	if cfg.SessionToken == "" {
		slog.Warn("PAGEVAULT_SESSION_TOKEN is empty, capture endpoints will reject every request")
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.CacheDir)
	if err != nil {
		slog.Error("failed to open capture store", "dir", cfg.CacheDir, "error", err)
		os.Exit(1)
	}

	fetcher := fetch.New(cfg.ResourceMaxBytes)
	enhancer := mediawiki.NewEnhancer(fetcher, cfg.EnhancerConcurrent)
	opts := capture.Options{
		NavigateTimeout:    time.Duration(cfg.NavigateTimeoutMS) * time.Millisecond,
		DOMReadyTimeout:    time.Duration(cfg.DOMReadyTimeoutMS) * time.Millisecond,
		NetworkIdleTimeout: time.Duration(cfg.NetworkIdleMS) * time.Millisecond,
		SettleDelay:        time.Duration(cfg.SettleDelayMS) * time.Millisecond,
		EarlySnapshot:      time.Duration(cfg.EarlySnapshotMS) * time.Millisecond,
		BodyReadTimeout:    time.Duration(cfg.BodyReadTimeoutMS) * time.Millisecond,
		ResourceMaxBytes:   cfg.ResourceMaxBytes,
	}

	svc := vault.NewService(st, fetcher, enhancer, opts)
	sessions := session.NewTokenProvider(cfg.SessionToken)
	h := api.NewServer(svc, st, sessions)

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("pagevault listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
