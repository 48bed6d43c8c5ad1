package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/0xRadioAc7iv/go-hierdb/core"
	"github.com/0xRadioAc7iv/go-hierdb/internal/server"
	"github.com/0xRadioAc7iv/go-hierdb/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

func setupLogging(verbose bool) {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stdout, &tint.Options{
			Level:      utils.LogLevel(verbose),
			TimeFormat: time.Kitchen,
		}),
	))
}

func main() {
	flags, err := utils.HandleCLIInputs(flag.CommandLine, os.Args[1:])
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	setupLogging(flags.Verbose)

	if err := run(flags); err != nil {
		slog.Error("Server stopped abruptly", "error", err)
		os.Exit(1)
	}
}

func run(flags *utils.ServerFlags) error {
	cfg := flags.Config

	// An existing store keeps the block size it was created with.
	blockSize := cfg.BlockSize
	if utils.PathExists(cfg.File) {
		blockSize = 0
	}

	db, err := core.Open(cfg.File, blockSize, true,
		core.WithLogger(slog.Default()),
		core.WithCompression(cfg.CompressMin),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error while closing the store", "error", err)
		}
	}()

	if flags.Check {
		if err := db.AssertAllBlocksValid(); err != nil {
			return err
		}
		slog.Info("Store is consistent")
	}

	ln, err := server.Listen(cfg.Host, cfg.Port)
	if err != nil {
		return err
	}

	ctx, cancel := utils.WithInterrupt(context.Background())
	defer cancel()

	h := server.NewHandler(db, slog.Default())
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return server.Serve(ctx, ln, slog.Default(), h.ServeConn)
	})
	eg.Go(func() error {
		syncInterval(ctx, h, cfg.SyncInterval)
		return nil
	})

	stats := db.Stats()
	slog.Info("hierdb started",
		"file", cfg.File,
		"addr", ln.Addr().String(),
		"blockSize", humanize.IBytes(uint64(stats.BlockSize)),
		"size", humanize.IBytes(stats.FileSize),
		"free", stats.FreeBlocks,
	)
	slog.Info("Press Ctrl+C to exit")

	err = eg.Wait()
	slog.Info("Shutting down")
	return err
}

// syncInterval flushes the store every interval until ctx is done.
func syncInterval(ctx context.Context, h *server.Handler, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Sync(); err != nil {
				slog.Warn("Periodic sync failed", "error", err)
			}
		}
	}
}
