// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package main is the entry point for the Libretorio server.
//
// Libretorio serves a personal media library (books, comics, audiobooks)
// over a session-bound websocket command channel. Startup order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config file,
//     environment variables)
//  2. Logging: zerolog global logger
//  3. Stores: Badger (sessions, audit trail) and DuckDB (catalog)
//  4. Services: cache store, conversion gateway, catalog, OpenLibrary
//     client, audit logger, command dispatcher, channel server
//  5. Supervision tree: transport layer (channel server) and background
//     layer (audit writer, session cleanup)
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops
// admitting upgrades, terminates open channels, and closes the stores.
// The process exits non-zero only on unexpected termination.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/Rigo85/libretorio/internal/audit"
	"github.com/Rigo85/libretorio/internal/books"
	"github.com/Rigo85/libretorio/internal/cache"
	"github.com/Rigo85/libretorio/internal/channel"
	"github.com/Rigo85/libretorio/internal/config"
	"github.com/Rigo85/libretorio/internal/convert"
	"github.com/Rigo85/libretorio/internal/logging"
	"github.com/Rigo85/libretorio/internal/openlibrary"
	"github.com/Rigo85/libretorio/internal/session"
	"github.com/Rigo85/libretorio/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server terminated unexpectedly")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("environment", cfg.Server.Environment).Msg("starting libretorio")

	// Stores.
	sessionDB, err := badger.Open(badger.DefaultOptions(cfg.Sessions.StorePath).WithLogger(nil))
	if err != nil {
		return err
	}
	defer sessionDB.Close()

	auditDB, err := badger.Open(badger.DefaultOptions(cfg.Audit.StorePath).WithLogger(nil))
	if err != nil {
		return err
	}
	defer auditDB.Close()

	catalogDB, err := books.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer catalogDB.Close()

	repo, err := books.NewRepository(catalogDB)
	if err != nil {
		return err
	}

	// Services, constructed with explicit dependency passing.
	sessions := session.NewBadgerStore(sessionDB, cfg.Sessions.CookieName)
	auditLogger := audit.NewLogger(audit.NewBadgerStore(auditDB), cfg.Audit.Enabled, cfg.Audit.BufferSize)

	pageStore := cache.NewStore(cfg.Paths.Cache, cfg.Cache.PageSizeThreshold)
	gateway := convert.NewGateway(pageStore)

	catalog := books.NewService(repo, cfg.Paths.TempCovers, cfg.Paths.Covers)
	metadata := openlibrary.NewClient(&cfg.OpenLibrary, cfg.Paths.TempCovers)

	dispatcher := channel.NewDispatcher(catalog, metadata, gateway, auditLogger)
	server := channel.NewServer(cfg, sessions, sessions, dispatcher)

	// Supervision tree. The slog adapter routes suture lifecycle events
	// through the configured zerolog output.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddTransportService(server)
	tree.AddBackgroundService(auditLogger)
	tree.AddBackgroundService(session.NewCleanupService(sessions, cfg.Sessions.CleanupInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("libretorio stopped gracefully")
	return nil
}
