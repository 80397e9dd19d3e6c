package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/config"
	"mailpart/internal/logger"
	"mailpart/internal/metrics"
	"mailpart/internal/server"
	"mailpart/internal/worker"
)

func main() {
	cfg := config.LoadExport()
	logger.Init(cfg.Common)
	m := metrics.New()

	if cfg.StatusAddr != "" {
		stop := server.Start(cfg.StatusAddr, m)
		defer stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		zlog.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// 저장 실패 메시지: <OUT_DIR>/_quarantine
	q, err := worker.NewQuarantine(worker.QuarantineOptions{
		Dir:        filepath.Join(cfg.OutDir, "_quarantine"),
		InstanceID: cfg.InstanceID,
	}, m, nil)
	if err != nil {
		zlog.Fatal().Err(err).Msg("quarantine")
	}

	ex := worker.NewExporter(worker.ExporterOptions{
		MboxPath:      cfg.MboxPath,
		OutDir:        cfg.OutDir,
		Layout:        cfg.Layout,
		StartYear:     cfg.StartYear,
		EndYear:       cfg.EndYear,
		MaxPerDir:     cfg.MaxPerDir,
		MaxDirBytes:   cfg.MaxDirBytes,
		Sanitize:      cfg.SanitizeFilenames,
		ProgressEvery: cfg.ProgressEvery,
	}, q, m, nil)

	sum, err := ex.Run(ctx)
	if err != nil {
		zlog.Fatal().Err(err).Msg("export aborted")
	}

	zlog.Info().
		Int64("exported", sum.Exported).
		Int64("filtered", sum.Filtered).
		Int64("failed", sum.Failed).
		Int("dirs", sum.Dirs).
		Msg("done")
}
