// internal/worker/importer.go
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/container"
	"mailpart/internal/mailmeta"
	"mailpart/internal/metrics"
	"mailpart/internal/model"
	"mailpart/internal/partition"
	"mailpart/internal/pool"
	"mailpart/internal/source"
)

// ImporterOptions
//   - SplitByYear / Splits / MaxBytes : 라우터 정책 (config 에서 검증 완료된 값)
//   - FlushEvery / CountEvery / ProgressEvery : N 건마다 수행 (0 = 끔)
//   - ObjectKey : S3 publish 시 manifest 에 기록할 object key 계산 (nil = 로컬 전용)
type ImporterOptions struct {
	SrcDir   string
	OutDir   string
	BaseName string
	Ext      string

	SplitByYear bool
	Splits      int
	MaxBytes    int64

	FlushEvery    int
	CountEvery    int
	ProgressEvery int

	ObjectKey func(path string) string
}

// Importer
// ------------------------------------------------------------
// .eml 트리를 컨테이너 part 들로 옮기는 전체 흐름을 제어한다.
//
//  1. pre-scan: 파일 목록 + 전체 바이트 (even-split 목표, 진행률 분모)
//  2. 파일마다 read → key 결정 → Router.Place (route + append + commit)
//  3. 실패한 메시지는 quarantine 으로, 처리는 계속
//  4. FLUSH_EVERY / COUNT_EVERY / PROGRESS_EVERY 주기 작업
//  5. 종료(정상/중단 모두) 시 모든 컨테이너 release → manifest 기록
//
// provision 실패만 fatal 이다 (Run 이 에러 반환).
type Importer struct {
	opts       ImporterOptions
	prov       container.Provisioner
	quarantine *Quarantine // nil 이면 실패 메시지는 로그만 남긴다
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

func NewImporter(opts ImporterOptions, prov container.Provisioner, q *Quarantine, m *metrics.Metrics, lg *zerolog.Logger) *Importer {
	l := zlog.Logger
	if lg != nil {
		l = *lg
	}
	if m == nil {
		m = metrics.New()
	}
	return &Importer{
		opts:       opts,
		prov:       prov,
		quarantine: q,
		metrics:    m,
		log:        l.With().Str("component", "importer").Logger(),
		now:        time.Now,
	}
}

// Run 은 import 1회를 끝까지 수행한다.
// ctx 가 취소되면 현재 메시지까지만 처리하고 열린 컨테이너를 모두 닫은 뒤 ctx.Err() 를 반환한다.
func (im *Importer) Run(ctx context.Context) (model.ImportSummary, error) {
	var sum model.ImportSummary

	// ---------------------------------------------------------------
	// 1) pre-scan
	// ---------------------------------------------------------------
	files, total, err := source.ScanEML(im.opts.SrcDir)
	if err != nil {
		return sum, err
	}
	sum.Scanned = int64(len(files))
	atomic.AddInt64(&im.metrics.ItemsScannedTotal, int64(len(files)))
	atomic.AddInt64(&im.metrics.BytesScannedTotal, total)

	if len(files) == 0 {
		im.log.Warn().Str("src", im.opts.SrcDir).Msg("no .eml files found")
		return sum, nil
	}

	lg := im.log
	router, err := partition.NewRouter(im.prov, partition.Options{
		Dir:        im.opts.OutDir,
		BaseName:   im.opts.BaseName,
		Ext:        im.opts.Ext,
		MaxBytes:   im.opts.MaxBytes,
		GroupByKey: im.opts.SplitByYear,
		Splits:     im.opts.Splits,
		TotalBytes: total,
		Logger:     &lg,
		Metrics:    im.metrics,
	})
	if err != nil {
		return sum, err
	}
	sum.Target = router.TargetBytes()

	im.log.Info().
		Int("files", len(files)).
		Int64("total_bytes", total).
		Int64("target_bytes", sum.Target).
		Int64("max_bytes", im.opts.MaxBytes).
		Bool("split_by_year", im.opts.SplitByYear).
		Msg("import plan")

	// ---------------------------------------------------------------
	// 2) 메시지 루프
	// ---------------------------------------------------------------
	prog := newProgress(total, im.now)
	var (
		processed   int
		doneBytes   int64
		currentPath string
		runErr      error
	)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			im.log.Warn().Int("processed", processed).Msg("import interrupted")
			runErr = err
			break
		}

		t, err := im.importOne(ctx, router, f)
		processed++
		doneBytes += f.Size

		switch {
		case err == nil:
			sum.Written++
		case errors.Is(err, partition.ErrProvision), errors.Is(err, partition.ErrClosed):
			runErr = err
		default:
			sum.Failed++
		}
		if runErr != nil {
			break
		}

		if t.Path != "" && t.Path != currentPath {
			currentPath = t.Path
			im.log.Info().Str("path", currentPath).Msg("current container")
		}

		// 주기적 live count: 컨테이너에 실제로 기록된 메시지 수
		if im.opts.CountEvery > 0 && processed%im.opts.CountEvery == 0 {
			if a, ok := router.Active(); ok {
				im.log.Info().
					Str("path", a.Path).
					Int64("items", a.Container.Count()).
					Msg("items in container")
			}
		}

		// 주기적 flush: 실패는 라우터가 경고 로그로 남기고 계속 진행
		if im.opts.FlushEvery > 0 && processed%im.opts.FlushEvery == 0 {
			_ = router.Flush(ctx)
		}

		if im.opts.ProgressEvery > 0 && (processed%im.opts.ProgressEvery == 0 || processed == len(files)) {
			pct, _, eta := prog.at(doneBytes)
			im.log.Info().
				Int("processed", processed).
				Int("total", len(files)).
				Str("pct", fmt.Sprintf("%.3f", pct)).
				Str("eta", formatETA(eta)).
				Str("container", currentPath).
				Msg("progress")
		}
	}

	// ---------------------------------------------------------------
	// 3) 종료: 열린 컨테이너 전부 release
	// ---------------------------------------------------------------
	// 취소된 ctx 로는 release(업로드 포함)가 바로 실패하므로 cancel 을 끊는다
	closeCtx := context.WithoutCancel(ctx)

	var empties []container.Container
	for _, ln := range router.Ledger().Open() {
		if ln.Container != nil && ln.Items == 0 {
			empties = append(empties, ln.Container)
		}
	}
	parts := router.Close(closeCtx)
	for _, c := range empties {
		if err := im.prov.Remove(closeCtx, c); err != nil {
			im.log.Warn().Err(err).Str("path", c.Path()).Msg("remove empty container failed")
		}
	}

	for _, p := range parts {
		if p.Items == 0 {
			continue
		}
		rec := model.PartRecord{
			Key:   string(p.Key),
			Part:  p.Part,
			Path:  p.Path,
			Bytes: p.Bytes,
			Items: p.Items,
		}
		if im.opts.ObjectKey != nil {
			rec.S3Key = im.opts.ObjectKey(p.Path)
		}
		sum.Parts = append(sum.Parts, rec)
		sum.Bytes += p.Bytes
	}
	sum.Elapsed = prog.elapsed().Seconds()

	if len(sum.Parts) > 0 {
		path := ManifestPath(im.opts.OutDir, im.opts.BaseName)
		if err := WriteManifest(path, sum.Parts); err != nil {
			im.log.Error().Err(err).Msg("manifest write failed")
		} else {
			sum.Manifest = path
		}
	}

	im.log.Info().
		Int64("written", sum.Written).
		Int64("failed", sum.Failed).
		Int("parts", len(sum.Parts)).
		Float64("elapsed_sec", sum.Elapsed).
		Msg("import finished")

	return sum, runErr
}

// importOne 은 메시지 1건을 처리한다.
//   - 읽기 실패 / 쓰기 실패: quarantine 후 에러 반환 (non-fatal)
//   - provision 실패: partition.ErrProvision (fatal)
func (im *Importer) importOne(ctx context.Context, router *partition.Router, f source.EMLFile) (partition.Target, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	raw, err := readInto(buf, f.Path)
	if err != nil {
		atomic.AddInt64(&im.metrics.ItemsFailedTotal, 1)
		im.log.Warn().Err(err).Str("source", f.Path).Msg("could not read message")
		return partition.Target{}, err
	}

	size := f.Size
	if size <= 0 {
		size = int64(len(raw))
	}

	var key partition.Key
	if im.opts.SplitByYear {
		key = partition.Key(mailmeta.Parse(raw).YearKey())
	}

	t, err := router.Place(ctx, size, key, func(t partition.Target) error {
		return t.Container.Append("", raw)
	})
	if err != nil {
		if !errors.Is(err, partition.ErrPlacement) {
			return t, err
		}
		atomic.AddInt64(&im.metrics.ItemsFailedTotal, 1)
		im.log.Warn().Err(err).Str("source", f.Path).Str("target", t.Path).Msg("failed to save item")
		im.quarantineItem(f.Path, t.Path, err, raw)
		return t, err
	}

	atomic.AddInt64(&im.metrics.ItemsWrittenTotal, 1)
	atomic.AddInt64(&im.metrics.BytesWrittenTotal, size)
	return t, nil
}

func (im *Importer) quarantineItem(src, target string, cause error, raw []byte) {
	if im.quarantine == nil {
		return
	}
	meta := model.QuarantineMeta{Source: src, Target: target, Error: cause.Error()}
	if _, err := im.quarantine.Save(meta, raw); err != nil {
		im.log.Error().Err(err).Str("source", src).Msg("quarantine save failed")
	}
}

func readInto(buf *bytes.Buffer, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf.Bytes(), nil
}
