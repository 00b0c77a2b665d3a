// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// waysnd adjusts the color temperature of every output of a wlroots
// compositor and takes commands from waysn over a Unix socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/waysn/internal/compositor"
	"codeberg.org/mutker/waysn/internal/config"
	"codeberg.org/mutker/waysn/internal/daemon"
	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/history"
	"codeberg.org/mutker/waysn/internal/instance"
	"codeberg.org/mutker/waysn/internal/logger"
	"codeberg.org/mutker/waysn/internal/server"
	"codeberg.org/mutker/waysn/internal/wayland"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Str("socket", cfg.SocketPath).Msg("Config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logError(err)
		return 1
	}

	logger.Info().Msg("Exiting...")
	return 0
}

func serve(ctx context.Context, cfg *config.Config) error {
	errFactory := errors.New()

	if err := instance.Claim(cfg.SocketPath); err != nil {
		return err
	}

	client, err := compositor.Connect(logger.New("compositor"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer client.Close()

	rec, err := history.NewService(historyConfig(cfg), logger.New("history"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer func() {
		if err := rec.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close history")
		}
	}()

	srv, err := server.Listen(cfg.SocketPath, logger.New("server"))
	if err != nil {
		return err
	}
	defer srv.Close()

	watcher, err := wayland.NewWatcher(client.Fd())
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer watcher.Close()

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	go func() {
		if err := srv.Serve(serveCtx); err != nil {
			logger.Error().Err(err).Msg("Command server stopped")
		}
	}()

	d := daemon.New(client, watcher, srv.Requests(), rec, logger.New("daemon"))
	return d.Run(ctx)
}

func historyConfig(cfg *config.Config) history.Config {
	hc := history.DefaultConfig()
	hc.Enabled = cfg.History
	hc.DBPath = cfg.HistoryDB
	hc.BackupOnMigrate = true
	if cfg.HistoryBatch > 0 {
		hc.BatchSize = cfg.HistoryBatch
	}
	if cfg.HistoryFlush > 0 {
		hc.FlushInterval = time.Duration(cfg.HistoryFlush) * time.Second
	}

	return hc
}

func logError(err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.ErrorWithCode(appErr).Msg("waysnd stopped")
		return
	}
	logger.Error().Err(err).Msg("waysnd stopped")
}
