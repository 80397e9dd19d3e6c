package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/config"
	"mailpart/internal/container"
	"mailpart/internal/logger"
	"mailpart/internal/metrics"
	"mailpart/internal/server"
	"mailpart/internal/worker"
)

func main() {

	// ====================================================================
	// Config / Logger / Metrics 초기화
	// ====================================================================
	//
	// - Config: 환경변수 기반 (SRC_DIR, OUT_DIR, SPLIT_BY, SPLITS, ...)
	//   잘못된 조합(SPLITS + SPLIT_BY=year 등)은 여기서 바로 종료된다.
	// - Metrics: STATUS_ADDR 가 있으면 /metrics 로 노출
	// ====================================================================
	cfg := config.LoadImport()
	logger.Init(cfg.Common)
	m := metrics.New()

	if cfg.StatusAddr != "" {
		stop := server.Start(cfg.StatusAddr, m)
		defer stop()
	}

	// ====================================================================
	// 종료 신호 처리
	// ====================================================================
	//
	// SIGINT / SIGTERM 수신 시 현재 메시지까지만 처리하고
	// 열린 컨테이너를 모두 release 한 뒤 종료한다.
	// (release 를 건너뛰면 압축 스트림이 끝나지 않은 파일이 남는다)
	// ====================================================================
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		zlog.Warn().Str("signal", sig.String()).Msg("shutdown signal received, closing containers")
		cancel()
	}()

	// ====================================================================
	// Provisioner 구성
	// ====================================================================
	//
	//   FileProvisioner (로컬 mbox part 파일)
	//     └─ S3Publisher (S3_BUCKET 이 있으면 release 시 업로드)
	// ====================================================================
	comp := container.Compression(cfg.Compression)
	var prov container.Provisioner = container.NewFileProvisioner(comp, cfg.Folder, nil)

	var objectKey func(string) string
	if cfg.S3Bucket != "" {
		client, err := container.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			zlog.Fatal().Err(err).Msg("s3 client")
		}
		up := container.NewS3Uploader(client, container.S3Options{
			Bucket:  cfg.S3Bucket,
			Prefix:  cfg.S3Prefix,
			Timeout: cfg.S3Timeout,
			Retries: cfg.S3AppRetries,
		}, m)
		prov = container.NewS3Publisher(prov, up, nil)
		objectKey = up.Key
	}

	q, err := worker.NewQuarantine(worker.QuarantineOptions{
		Dir:        cfg.QuarantineDir,
		MaxBytes:   cfg.QuarantineMaxBytes,
		MaxAge:     cfg.QuarantineMaxAge,
		InstanceID: cfg.InstanceID,
	}, m, nil)
	if err != nil {
		zlog.Fatal().Err(err).Msg("quarantine")
	}
	if n := q.SweepExpired(); n > 0 {
		zlog.Info().Int("removed", n).Msg("quarantine TTL sweep")
	}

	// ====================================================================
	// Import 실행
	// ====================================================================
	im := worker.NewImporter(worker.ImporterOptions{
		SrcDir:        cfg.SrcDir,
		OutDir:        cfg.OutDir,
		BaseName:      cfg.BaseName,
		Ext:           comp.Ext(),
		SplitByYear:   cfg.SplitByYear,
		Splits:        cfg.Splits,
		MaxBytes:      cfg.MaxContainerBytes,
		FlushEvery:    cfg.FlushEvery,
		CountEvery:    cfg.CountEvery,
		ProgressEvery: cfg.ProgressEvery,
		ObjectKey:     objectKey,
	}, prov, q, m, nil)

	sum, err := im.Run(ctx)
	for _, p := range sum.Parts {
		zlog.Info().
			Str("key", p.Key).
			Int("part", p.Part).
			Str("path", p.Path).
			Int64("bytes", p.Bytes).
			Int64("items", p.Items).
			Msg("part")
	}
	if err != nil {
		zlog.Fatal().Err(err).Msg("import aborted")
	}

	zlog.Info().
		Int64("imported", sum.Written).
		Int64("failed", sum.Failed).
		Str("out_dir", cfg.OutDir).
		Str("manifest", sum.Manifest).
		Msg("done")
}
