// Package app wires configuration, logging, storage and the ledger for the CLI and daemon.
package app

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"shielded/internal/config"
	"shielded/internal/crypto"
	"shielded/internal/ledger"
	"shielded/internal/logging"
	"shielded/internal/shielderr"
	"shielded/internal/storage"
)

// App holds the opened components. Close releases them in reverse order.
type App struct {
	Config *config.Config
	Logger *logging.Logger
	Store  storage.Store
	Ledger *ledger.Ledger
	Crypto *crypto.Context
}

// Options adjusts how Open builds the components.
type Options struct {
	// Console forces console logging off when false, regardless of the config.
	Console bool
	// ConsoleWriter replaces stdout for console logs.
	ConsoleWriter io.Writer
	// Crypto overrides the context derived from the configured hasher.
	Crypto *crypto.Context
}

// Open builds every component described by cfg.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "create data dir %s: %v", cfg.DataDir, err)
	}

	logOpts := logging.Options{
		Level:         cfg.LogLevel,
		File:          cfg.DataPath(cfg.LogFile),
		Console:       cfg.LogConsole && opts.Console,
		ConsoleWriter: opts.ConsoleWriter,
	}
	if cfg.EnableAudit {
		logOpts.AuditFile = cfg.DataPath(cfg.AuditLogPath)
	}
	logger, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	cctx := opts.Crypto
	if cctx == nil {
		h, err := crypto.HasherByName(cfg.Hasher)
		if err != nil {
			logger.Close()
			return nil, err
		}
		cctx = crypto.New(h)
	}

	store, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.StorageBackend).Msg("open storage")
		logger.Close()
		return nil, err
	}

	l, err := ledger.Open(ctx, store, ledger.Options{Crypto: cctx, Logger: &logger.Logger})
	if err != nil {
		store.Close()
		logger.Close()
		return nil, err
	}

	return &App{Config: cfg, Logger: logger, Store: store, Ledger: l, Crypto: cctx}, nil
}

// Close closes the store and then the log files.
func (a *App) Close() error {
	err := a.Store.Close()
	if lerr := a.Logger.Close(); err == nil {
		err = lerr
	}
	return err
}
