// Package main runs a ShareKeeper storage peer: it holds one XOR share per
// secret key, serves the masked wire protocol and optionally refreshes its
// shares with a partner peer.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"github.com/atinyakov/ShareKeeper/internal/client"
	"github.com/atinyakov/ShareKeeper/internal/config"
	"github.com/atinyakov/ShareKeeper/internal/db"
	"github.com/atinyakov/ShareKeeper/internal/logger"
	"github.com/atinyakov/ShareKeeper/internal/repository"
	"github.com/atinyakov/ShareKeeper/internal/server"
	"github.com/atinyakov/ShareKeeper/internal/server/handler/http"
	"github.com/atinyakov/ShareKeeper/internal/server/handler/tcp"
	"github.com/atinyakov/ShareKeeper/internal/service"
	"github.com/atinyakov/ShareKeeper/internal/xorshare"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, file and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	sessionKey, err := options.SessionKey()
	if err != nil {
		zapLogger.Fatal("invalid session key", zap.Error(err))
	}
	if options.Sync && options.Peer == "" {
		zapLogger.Fatal("sync mode needs a peer address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick the storage backend.
	repo, closeRepo, err := openRepository(ctx, options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init share storage", zap.Error(err))
	}

	// Initialize business-logic services.
	shareService := service.NewShareService(repo)
	exchanger := client.NewExchanger(zapLogger, options.Timeout)
	refreshService := service.NewRefreshService(shareService, exchanger, options.Peer, sessionKey, xorshare.Random, zapLogger)

	// Wire protocol handler and listener.
	handler := &tcp.Handler{
		Shares:    shareService,
		Refresher: refreshService,
		Key:       sessionKey,
		Sync:      options.Sync,
		Timeout:   options.Timeout,
		Log:       zapLogger,
	}
	srv := server.New(server.Config{
		Address:   options.Addr,
		RateLimit: options.RateLimit,
		RateBurst: options.RateBurst,
	}, handler, zapLogger)

	zapLogger.Info("starting share server",
		zap.String("addr", options.Addr),
		zap.String("peer", options.Peer),
		zap.Bool("sync", options.Sync))
	if err := srv.Start(ctx); err != nil {
		zapLogger.Fatal("failed to start share server", zap.Error(err))
	}

	// Optional status API.
	var statusServer *nethttp.Server
	if options.StatusAddr != "" {
		statusHandler := &http.StatusHandler{Shares: shareService, Server: srv}
		statusServer = &nethttp.Server{
			Addr:              options.StatusAddr,
			Handler:           http.NewRouter(statusHandler, zapLogger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			zapLogger.Info("starting status API", zap.String("addr", options.StatusAddr))
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				zapLogger.Error("status API failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	zapLogger.Info("shutting down")

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = statusServer.Shutdown(shutdownCtx)
		cancel()
	}
	srv.Stop()
	closeRepo()
}

// openRepository returns the Postgres repository when a DSN is configured
// and the in-memory one otherwise. The memory store is restored from and
// periodically saved to its snapshot file. The returned close function
// must be called after ctx ends; it waits for the final snapshot or closes
// the database.
func openRepository(ctx context.Context, options *config.Options, log *zap.Logger) (service.ShareRepository, func(), error) {
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresShareRepository(postgresDB), func() { _ = postgresDB.Close() }, nil
	}

	repo := repository.NewMemoryShareRepository()
	if options.Snapshot == "" {
		return repo, func() {}, nil
	}

	seal := db.WithPassphrase(options.SnapshotPassphrase)
	records, err := db.LoadSnapshot(options.Snapshot, seal)
	if err != nil {
		return nil, nil, err
	}
	repo.Restore(records)
	log.Info("restored share snapshot", zap.String("path", options.Snapshot), zap.Int("keys", len(records)))

	done := db.StartSnapshotter(ctx, repo, options.Snapshot, options.SnapshotInterval, log, seal)
	return repo, func() { <-done }, nil
}
