package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yp-alpha/progression/internal/api"
	"github.com/yp-alpha/progression/internal/config"
	"github.com/yp-alpha/progression/internal/logging"
	"github.com/yp-alpha/progression/internal/metrics"
	"github.com/yp-alpha/progression/internal/mock"
	"github.com/yp-alpha/progression/internal/progression"
	"github.com/yp-alpha/progression/internal/storage"
	"github.com/yp-alpha/progression/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	mockMode := flag.Bool("mock", false, "Drive the engine with simulated athletes")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, logCloser := logging.Setup(logging.Options{
		Service: "progression",
		Env:     cfg.Logging.Env,
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
	})
	defer logCloser.Close()

	if err := run(cfg, *mockMode, logger); err != nil {
		logger.Error("server exited", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, mockMode bool, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	backend, err := storage.Open(storage.Options{
		Driver:       cfg.Storage.Driver,
		DSN:          cfg.Storage.DSN,
		Logger:       logger,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("closing storage", "error", err)
		}
	}()
	logger.Info("storage ready", "driver", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.Default()

	var eng *progression.Engine
	broadcaster := ws.NewBroadcaster(cfg.Feed.BroadcastThrottle, cfg.Feed.MaxConnections,
		func(ctx context.Context, userID string) (*ws.SnapshotPayload, error) {
			sum, err := eng.Summary(ctx, userID)
			if err != nil {
				return nil, err
			}
			daily, err := eng.DailyProgress(ctx, userID)
			if err != nil {
				return nil, err
			}
			return &ws.SnapshotPayload{Summary: sum, Daily: daily}, nil
		})
	broadcaster.SetGauge(m)
	broadcaster.SetLogger(logger)
	defer broadcaster.Stop()

	eng, err = progression.NewEngine(backend, &cfg.Economy,
		progression.WithLocation(loc),
		progression.WithLogger(logger),
		progression.WithObserver(m),
		progression.WithPublisher(broadcaster),
		progression.WithRetry(cfg.Engine.MaxAttempts, cfg.Engine.InitialBackoff),
	)
	if err != nil {
		return err
	}

	if fs, ok := backend.(*storage.FileStore); ok {
		go fs.Run(ctx, cfg.Storage.FlushInterval)
	}

	auth := api.NewAuthenticator(cfg.Server.AuthToken, cfg.Server.JWTSecret)
	if !auth.Enabled() && !isLoopback(cfg.Server.Host) {
		logger.Warn("no auth token or JWT secret configured; API is open", "host", cfg.Server.Host)
	}

	srv := api.New(api.Config{
		Ledger:         eng,
		Feed:           ws.NewHandler(broadcaster, cfg.Server.AllowedOrigins, auth.Authorize, logger),
		Metrics:        promhttp.Handler(),
		Auth:           auth,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})
	defer srv.Close()

	if mockMode {
		logger.Info("starting in mock mode", "athletes", cfg.Mock.Athletes)
		gen := mock.NewGenerator(eng, cfg.Mock.Athletes, cfg.Mock.Tick, mock.WithLogger(logger))
		if err := gen.Start(ctx); err != nil {
			return err
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
