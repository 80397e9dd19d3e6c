// internal/worker/quarantine.go
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/metrics"
	"mailpart/internal/model"
	"mailpart/internal/pool"
)

// QuarantineOptions
//   - MaxBytes : 디렉토리 전체 허용 용량 (0 = 제한 없음)
//   - MaxAge   : 파일 TTL (0 = 영구 보관)
type QuarantineOptions struct {
	Dir        string
	MaxBytes   int64
	MaxAge     time.Duration
	InstanceID string
}

// Quarantine
// ------------------------------------------------------------
// 읽기/쓰기에 실패한 메시지를 gzip 으로 보관하고
// 옆에 .meta.json (원본 경로, 대상 컨테이너, 에러) 을 남긴다.
//
//   - 용량 초과: 가장 오래된 data/meta 쌍부터 삭제, 그래도 부족하면 drop
//   - TTL 판단: 파일명 prefix 의 Unix timestamp 기준
//
// 처리 루프와 같은 goroutine 에서만 쓰지만, 크기/개수는 /metrics 가 읽으므로 atomic.
type Quarantine struct {
	opts    QuarantineOptions
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	// 현재 디렉토리에 저장된 data 파일 총 바이트 수
	sizeBytes int64
}

// NewQuarantine 은 디렉토리를 만들고 기존 파일을 스캔해 크기/개수를 복원한다.
// data 없이 .meta.json 만 남은 orphan 은 정리한다.
func NewQuarantine(opts QuarantineOptions, m *metrics.Metrics, lg *zerolog.Logger) (*Quarantine, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("quarantine dir %s: %w", opts.Dir, err)
	}
	l := zlog.Logger
	if lg != nil {
		l = *lg
	}
	if m == nil {
		m = metrics.New()
	}

	q := &Quarantine{
		opts:    opts,
		metrics: m,
		log:     l.With().Str("component", "quarantine").Logger(),
		now:     time.Now,
	}

	entries, err := os.ReadDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("quarantine dir %s: %w", opts.Dir, err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, ".meta.json") {
			dataName := strings.TrimSuffix(name, ".meta.json")
			if _, err := os.Stat(filepath.Join(opts.Dir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(opts.Dir, name))
			}
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	atomic.StoreInt64(&q.sizeBytes, total)
	atomic.AddInt64(&m.QuarantineSizeBytes, total)
	atomic.AddInt64(&m.QuarantineFilesCurrent, count)
	return q, nil
}

// Dir 은 보관 디렉토리 경로.
func (q *Quarantine) Dir() string { return q.opts.Dir }

// Save 는 raw 를 gzip 으로 압축해 보관한다. 용량 부족으로 drop 되면 ("", nil).
func (q *Quarantine) Save(meta model.QuarantineMeta, raw []byte) (string, error) {
	data, err := gzipBytes(raw)
	if err != nil {
		return "", fmt.Errorf("quarantine compress: %w", err)
	}

	size := int64(len(data))
	if !q.ensureCapacity(size) {
		atomic.AddInt64(&q.metrics.QuarantineDroppedTotal, 1)
		q.log.Error().
			Str("source", meta.Source).
			Int64("bytes", size).
			Msg("quarantine full, dropping item")
		return "", nil
	}

	now := q.now()
	name := NewQuarantineName(now.Unix(), q.opts.InstanceID)
	dataPath := filepath.Join(q.opts.Dir, name)
	metaPath := dataPath + ".meta.json"

	if err := os.WriteFile(dataPath, data, 0o600); err != nil {
		return "", fmt.Errorf("quarantine write %s: %w", dataPath, err)
	}

	meta.Size = int64(len(raw))
	meta.At = now.Unix()
	if b, err := json.Marshal(meta); err == nil {
		_ = os.WriteFile(metaPath, b, 0o600)
	}

	atomic.AddInt64(&q.sizeBytes, size)
	atomic.AddInt64(&q.metrics.QuarantineSizeBytes, size)
	atomic.AddInt64(&q.metrics.QuarantineFilesCurrent, 1)
	atomic.AddInt64(&q.metrics.QuarantineItemsTotal, 1)
	return dataPath, nil
}

// SweepExpired 는 MaxAge 를 넘긴 파일을 지우고 지운 개수를 반환한다.
// 파일명에서 timestamp 를 읽지 못하면 건너뛴다.
func (q *Quarantine) SweepExpired() int {
	if q.opts.MaxAge <= 0 {
		return 0
	}
	nowSec := q.now().Unix()

	removed := 0
	for _, name := range q.dataFiles() {
		sec, ok := extractUnixFromFilename(name)
		if !ok {
			continue
		}
		age := time.Duration(nowSec-sec) * time.Second
		if age <= q.opts.MaxAge {
			// 파일명 = 시간 순 정렬이므로 이후 파일은 모두 더 새롭다
			break
		}
		q.remove(name)
		removed++
		q.log.Info().Str("file", name).Str("age", age.String()).Msg("quarantine TTL expired")
	}
	return removed
}

// ensureCapacity 는 MaxBytes 를 넘지 않도록 가장 오래된 파일부터 삭제한다.
// 더 지울 파일이 없는데도 공간이 부족하면 false.
func (q *Quarantine) ensureCapacity(incoming int64) bool {
	max := q.opts.MaxBytes
	if max <= 0 {
		return true
	}

	for {
		curr := atomic.LoadInt64(&q.sizeBytes)
		if curr+incoming <= max {
			return true
		}

		oldest := q.pickOldest()
		if oldest == "" {
			return false
		}
		q.remove(oldest)
		q.log.Warn().Str("file", oldest).Msg("quarantine capacity, removed oldest")
	}
}

func (q *Quarantine) remove(name string) {
	dataPath := filepath.Join(q.opts.Dir, name)

	if info, err := os.Stat(dataPath); err == nil {
		atomic.AddInt64(&q.sizeBytes, -info.Size())
		atomic.AddInt64(&q.metrics.QuarantineSizeBytes, -info.Size())
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + ".meta.json")

	atomic.AddInt64(&q.metrics.QuarantineFilesCurrent, -1)
	atomic.AddInt64(&q.metrics.QuarantineFilesExpiredTotal, 1)
}

func (q *Quarantine) pickOldest() string {
	files := q.dataFiles()
	if len(files) == 0 {
		return ""
	}
	return files[0]
}

// dataFiles 는 meta / 숨김 파일을 뺀 data 파일명 목록 (이름 = 시간 순 정렬).
func (q *Quarantine) dataFiles() []string {
	entries, err := os.ReadDir(q.opts.Dir)
	if err != nil {
		return nil
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".meta.json") {
			continue
		}
		if name == "" || name[0] == '.' {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

// gzipBytes 는 pool 의 buffer / gzip.Writer 로 압축한 뒤
// 호출자가 소유하는 새 slice 로 복사해 돌려준다.
func gzipBytes(raw []byte) ([]byte, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	defer pool.GzipPool.Put(gz)
	gz.Reset(buf)

	if _, err := gz.Write(raw); err != nil {
		_ = gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	// pool 버퍼는 재사용되므로 그대로 반환하면 안 된다
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
