// internal/worker/exporter.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/mailmeta"
	"mailpart/internal/metrics"
	"mailpart/internal/model"
	"mailpart/internal/partition"
	"mailpart/internal/source"
)

// Layout 값 (config.Layout* 과 동일)
const (
	LayoutYear  = "year"
	LayoutMonth = "month"
	LayoutFlat  = "flat"
)

// ExporterOptions
//   - StartYear / EndYear : Date 기준 연도 필터 (0 = 제한 없음, 양끝 포함)
//   - MaxPerDir / MaxDirBytes : 디렉토리 chunking 상한 (0 = 제한 없음)
type ExporterOptions struct {
	MboxPath string
	OutDir   string
	Layout   string

	StartYear int
	EndYear   int

	MaxPerDir   int64
	MaxDirBytes int64

	Sanitize      bool
	ProgressEvery int
}

// Exporter
// ------------------------------------------------------------
// mbox 한 개를 .eml 파일 트리로 풀어낸다.
//
//	<OutDir>/2020/<subject>__<hash>.eml        (layout=year)
//	<OutDir>/2020/03/<subject>__<hash>.eml     (layout=month)
//	<OutDir>/2020__part2/...                   (디렉토리 상한 도달 시)
//
// 디렉토리 선택은 DirChunker 가, 파일명은 UniqueEMLName 이 담당한다.
type Exporter struct {
	opts       ExporterOptions
	quarantine *Quarantine
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

func NewExporter(opts ExporterOptions, q *Quarantine, m *metrics.Metrics, lg *zerolog.Logger) *Exporter {
	l := zlog.Logger
	if lg != nil {
		l = *lg
	}
	if m == nil {
		m = metrics.New()
	}
	return &Exporter{
		opts:       opts,
		quarantine: q,
		metrics:    m,
		log:        l.With().Str("component", "exporter").Logger(),
		now:        time.Now,
	}
}

// Run 은 mbox 를 끝까지 읽으며 메시지를 파일로 기록한다.
// 메시지 단위 실패는 건너뛰고, mbox 자체를 읽을 수 없을 때만 에러를 반환한다.
func (ex *Exporter) Run(ctx context.Context) (model.ExportSummary, error) {
	var sum model.ExportSummary

	f, err := os.Open(ex.opts.MboxPath)
	if err != nil {
		return sum, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	total, err := source.CountMessages(f)
	if err != nil {
		return sum, fmt.Errorf("count mbox %s: %w", ex.opts.MboxPath, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return sum, fmt.Errorf("rewind mbox: %w", err)
	}
	sum.Total = int64(total)
	atomic.AddInt64(&ex.metrics.ItemsScannedTotal, int64(total))
	ex.log.Info().Int("messages", total).Str("mbox", ex.opts.MboxPath).Msg("messages in mbox")

	chunker := partition.NewDirChunker(ex.opts.MaxPerDir, ex.opts.MaxDirBytes)
	prog := newProgress(int64(total), ex.now)
	reader := source.NewMboxReader(f)

	var runErr error
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = fmt.Errorf("read mbox: %w", err)
			break
		}

		switch ex.exportOne(chunker, msg) {
		case outcomeExported:
			sum.Exported++
		case outcomeFiltered:
			sum.Filtered++
		case outcomeFailed:
			sum.Failed++
		}

		n := msg.Index + 1
		if ex.opts.ProgressEvery > 0 && n%ex.opts.ProgressEvery == 0 {
			_, _, eta := prog.at(int64(n))
			_, rate, _ := prog.at(sum.Exported)
			ex.log.Info().
				Int("processed", n).
				Int("total", total).
				Int64("exported", sum.Exported).
				Int64("skipped", sum.Filtered+sum.Failed).
				Str("rate", fmt.Sprintf("%.1f msg/s", rate)).
				Str("eta", formatETA(eta)).
				Msg("progress")
		}
	}

	sum.Elapsed = prog.elapsed().Seconds()
	sum.Dirs = len(chunker.Dirs())
	for _, u := range chunker.Top(10) {
		sum.Top = append(sum.Top, model.DirStat{Dir: u.Dir, Count: u.Count, Bytes: u.Bytes})
	}

	ev := ex.log.Info().
		Int64("exported", sum.Exported).
		Int64("skipped", sum.Filtered+sum.Failed).
		Int("dirs", sum.Dirs)
	if sum.Exported > 0 && sum.Elapsed > 0 {
		ev = ev.Str("avg_rate", fmt.Sprintf("%.1f msg/s", float64(sum.Exported)/sum.Elapsed))
	}
	ev.Msg("export finished")

	for _, d := range sum.Top {
		ex.log.Info().
			Str("dir", d.Dir).
			Str("size", fmt.Sprintf("%.2f GB", float64(d.Bytes)/1e9)).
			Int64("files", d.Count).
			Msg("top directory")
	}
	return sum, runErr
}

type outcome int

const (
	outcomeExported outcome = iota
	outcomeFiltered
	outcomeFailed
)

func (ex *Exporter) exportOne(chunker *partition.DirChunker, msg source.Message) outcome {
	meta := mailmeta.Parse(msg.Raw)
	year, month := meta.YearMonth()

	if (ex.opts.StartYear > 0 && year < ex.opts.StartYear) ||
		(ex.opts.EndYear > 0 && year > ex.opts.EndYear) {
		atomic.AddInt64(&ex.metrics.ItemsFilteredTotal, 1)
		return outcomeFiltered
	}

	dir := chunker.Place(ex.primaryDir(year, month))
	src := fmt.Sprintf("%s#%d", ex.opts.MboxPath, msg.Index)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		ex.failed(src, dir, err, msg.Raw)
		return outcomeFailed
	}

	name := UniqueEMLName(msg.Index+1, meta.MessageID, meta.Subject, ex.now())
	if ex.opts.Sanitize {
		name = SafeName(strings.TrimSuffix(name, ".eml")) + ".eml"
	}
	path := filepath.Join(dir, name)

	size := int64(len(msg.Raw))
	if err := os.WriteFile(path, msg.Raw, 0o644); err != nil {
		ex.failed(src, path, err, msg.Raw)
		return outcomeFailed
	}

	if chunker.Commit(dir, size) {
		atomic.AddInt64(&ex.metrics.DirsCreatedTotal, 1)
	}
	atomic.AddInt64(&ex.metrics.ItemsWrittenTotal, 1)
	atomic.AddInt64(&ex.metrics.BytesWrittenTotal, size)
	return outcomeExported
}

// primaryDir: flat → OutDir, year → OutDir/YYYY, month → OutDir/YYYY/MM
func (ex *Exporter) primaryDir(year, month int) string {
	switch ex.opts.Layout {
	case LayoutFlat:
		return ex.opts.OutDir
	case LayoutMonth:
		return filepath.Join(ex.opts.OutDir, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	default:
		return filepath.Join(ex.opts.OutDir, fmt.Sprintf("%04d", year))
	}
}

func (ex *Exporter) failed(src, target string, cause error, raw []byte) {
	atomic.AddInt64(&ex.metrics.ItemsFailedTotal, 1)
	ex.log.Warn().Err(cause).Str("source", src).Str("target", target).Msg("failed to save message")

	if ex.quarantine == nil {
		return
	}
	meta := model.QuarantineMeta{Source: src, Target: target, Error: cause.Error()}
	if _, err := ex.quarantine.Save(meta, raw); err != nil {
		ex.log.Error().Err(err).Str("source", src).Msg("quarantine save failed")
	}
}
