// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// ErrInvalid 는 필수 환경변수 누락 / 형식 오류 / 모순된 조합일 때 반환된다.
var ErrInvalid = errors.New("config: invalid")

// Common
//
// import / export 두 바이너리가 공유하는 설정.
// 모든 값은 프로세스 시작 시점에 한 번 초기화되며 이후 변경되지 않는다.
type Common struct {
	ServiceName string // 로그 service 필드 (예: eml-import)
	InstanceID  string // 실행 식별자 (호스트명 기반, 실패 시 랜덤 hex)

	LogLevel   string // debug | info | warn | error
	LogPretty  bool   // true: 콘솔용 컬러 출력, false: JSON
	LogSampleN uint32 // >1 이면 debug/info 로그를 1/N 만 기록

	StatusAddr string // 비어 있지 않으면 /metrics, /health 서버를 띄운다 (예: ":9090")
}

// ImportConfig
//
// .eml 트리를 size 제한 컨테이너들로 분할 import 할 때의 설정.
type ImportConfig struct {
	Common

	// ---------------------------
	// 입력 / 출력
	// ---------------------------

	SrcDir   string // .eml 을 재귀적으로 찾을 루트 디렉토리 (필수)
	OutDir   string // 컨테이너를 만들 디렉토리 (필수)
	BaseName string // 컨테이너 파일명 prefix (기본 emails)
	Folder   string // 컨테이너 내부 폴더 이름 (X-Folder 헤더)

	// ---------------------------
	// 분할 정책
	// ---------------------------
	// SplitByYear 와 Splits 는 동시에 쓸 수 없다.
	// 둘 다 없으면 MaxContainerBytes 기준 순차 rotation 만 한다.

	SplitByYear       bool  // SPLIT_BY=year: 연도별 lineage
	Splits            int   // SPLITS=N: 전체 크기를 N 등분
	MaxContainerBytes int64 // 컨테이너 1개 최대 크기 (0 = 제한 없음)

	// ---------------------------
	// 주기 작업 (0 = 비활성)
	// ---------------------------

	FlushEvery    int // N 건마다 활성 컨테이너 close + reopen
	CountEvery    int // N 건마다 활성 컨테이너의 실제 메시지 수 로그
	ProgressEvery int // N 건마다 진행률 / ETA 로그

	Compression string // gzip | zstd | none

	// ---------------------------
	// Quarantine (읽기/쓰기 실패 메시지 보관)
	// ---------------------------

	QuarantineDir      string        // 기본 <OutDir>/_quarantine
	QuarantineMaxBytes int64         // 전체 허용 용량 (0 = 제한 없음)
	QuarantineMaxAge   time.Duration // 파일 TTL (0 = 유지)

	// ---------------------------
	// S3 publish (선택)
	// ---------------------------
	// S3Bucket 이 비어 있으면 로컬 파일만 만든다.
	// 업로드 retry 는 애플리케이션 레벨(S3AppRetries)만 사용하고 SDK retry 는 0 으로 고정한다.

	S3Bucket     string
	S3Prefix     string
	AWSRegion    string
	S3Timeout    time.Duration // PutObject 1회 시도당 timeout
	S3AppRetries int
}

// ExportConfig
//
// .mbox 를 .eml 파일 트리로 풀어낼 때의 설정.
type ExportConfig struct {
	Common

	MboxPath string // 입력 .mbox 경로 (필수)
	OutDir   string // .eml 출력 루트 (필수)
	Layout   string // year | month | flat

	StartYear int // 0 = 하한 없음
	EndYear   int // 0 = 상한 없음

	MaxPerDir   int64 // 디렉토리당 최대 파일 수 (0 = 제한 없음)
	MaxDirBytes int64 // 디렉토리당 최대 바이트 (0 = 제한 없음)

	SanitizeFilenames bool
	ProgressEvery     int
}

// Layout 값
const (
	LayoutYear  = "year"
	LayoutMonth = "month"
	LayoutFlat  = "flat"
)

// Compression 값
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionNone = "none"
)

// LoadImport / LoadExport
//
// 환경 변수 기반으로 설정을 초기화한다.
// 필수 env 가 비어있거나 형식이 잘못되면 즉시 프로세스를 종료(fail-fast).
func LoadImport() ImportConfig {
	cfg, err := ParseImport(os.Getenv)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	return cfg
}

func LoadExport() ExportConfig {
	cfg, err := ParseExport(os.Getenv)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	return cfg
}

// ParseImport 는 getenv 로부터 ImportConfig 를 만든다. (테스트에서 env 주입용)
func ParseImport(getenv func(string) string) (ImportConfig, error) {
	r := &reader{getenv: getenv}

	cfg := ImportConfig{
		Common: r.common("eml-import"),

		SrcDir:   r.must("SRC_DIR"),
		OutDir:   r.must("OUT_DIR"),
		BaseName: r.str("BASE_NAME", "emails"),
		Folder:   r.str("CONTAINER_FOLDER", "Imported (EML)"),

		Splits:            r.int("SPLITS", 0),
		MaxContainerBytes: r.size("MAX_CONTAINER_SIZE", "15GB"),

		FlushEvery:    r.int("FLUSH_EVERY", 0),
		CountEvery:    r.int("COUNT_EVERY", 200),
		ProgressEvery: r.int("PROGRESS_EVERY", 100),

		Compression: strings.ToLower(r.str("COMPRESSION", CompressionGzip)),

		QuarantineMaxBytes: r.size("QUARANTINE_MAX_SIZE", "1GB"),
		QuarantineMaxAge:   r.dur("QUARANTINE_MAX_AGE", 0),

		S3Bucket:     r.str("S3_BUCKET", ""),
		S3Prefix:     strings.Trim(r.str("S3_PREFIX", ""), "/"),
		AWSRegion:    r.str("AWS_REGION", ""),
		S3Timeout:    r.dur("S3_TIMEOUT", 30*time.Second),
		S3AppRetries: r.int("S3_APP_RETRIES", 3),
	}

	switch by := strings.ToLower(r.str("SPLIT_BY", "")); by {
	case "":
	case "year":
		cfg.SplitByYear = true
	default:
		r.fail("SPLIT_BY=%q (only \"year\" is supported)", by)
	}

	cfg.QuarantineDir = r.str("QUARANTINE_DIR", "")
	if cfg.QuarantineDir == "" && cfg.OutDir != "" {
		cfg.QuarantineDir = filepath.Join(cfg.OutDir, "_quarantine")
	}

	if r.err != nil {
		return ImportConfig{}, r.err
	}

	// ---------------------------
	// 조합 검증
	// ---------------------------
	switch {
	case cfg.SplitByYear && cfg.Splits > 0:
		r.fail("SPLIT_BY=year and SPLITS=%d are mutually exclusive", cfg.Splits)
	case cfg.Splits < 0:
		r.fail("SPLITS must be >= 0, got %d", cfg.Splits)
	case cfg.FlushEvery < 0 || cfg.CountEvery < 0 || cfg.ProgressEvery < 0:
		r.fail("FLUSH_EVERY / COUNT_EVERY / PROGRESS_EVERY must be >= 0")
	case cfg.Compression != CompressionGzip && cfg.Compression != CompressionZstd && cfg.Compression != CompressionNone:
		r.fail("COMPRESSION=%q (gzip|zstd|none)", cfg.Compression)
	case cfg.S3Bucket != "" && cfg.AWSRegion == "":
		r.fail("AWS_REGION is required when S3_BUCKET is set")
	case cfg.S3Bucket != "" && cfg.S3AppRetries < 1:
		r.fail("S3_APP_RETRIES must be >= 1, got %d", cfg.S3AppRetries)
	}
	if r.err != nil {
		return ImportConfig{}, r.err
	}
	return cfg, nil
}

// ParseExport 는 getenv 로부터 ExportConfig 를 만든다.
func ParseExport(getenv func(string) string) (ExportConfig, error) {
	r := &reader{getenv: getenv}

	cfg := ExportConfig{
		Common: r.common("mbox-export"),

		MboxPath: r.must("MBOX_PATH"),
		OutDir:   r.must("OUT_DIR"),
		Layout:   strings.ToLower(r.str("LAYOUT", LayoutYear)),

		StartYear: r.int("START_YEAR", 0),
		EndYear:   r.int("END_YEAR", 0),

		MaxPerDir:   int64(r.int("MAX_PER_DIR", 0)),
		MaxDirBytes: r.size("MAX_DIR_SIZE", "0"),

		SanitizeFilenames: r.bool("SANITIZE_FILENAMES", false),
		ProgressEvery:     r.int("PROGRESS_EVERY", 1000),
	}
	if r.err != nil {
		return ExportConfig{}, r.err
	}

	switch {
	case cfg.Layout != LayoutYear && cfg.Layout != LayoutMonth && cfg.Layout != LayoutFlat:
		r.fail("LAYOUT=%q (year|month|flat)", cfg.Layout)
	case cfg.StartYear > 0 && cfg.EndYear > 0 && cfg.StartYear > cfg.EndYear:
		r.fail("START_YEAR %d is after END_YEAR %d", cfg.StartYear, cfg.EndYear)
	case cfg.MaxPerDir < 0:
		r.fail("MAX_PER_DIR must be >= 0, got %d", cfg.MaxPerDir)
	case cfg.ProgressEvery < 0:
		r.fail("PROGRESS_EVERY must be >= 0, got %d", cfg.ProgressEvery)
	}
	if r.err != nil {
		return ExportConfig{}, r.err
	}
	return cfg, nil
}

// reader
//
// must / int / size / dur 공통 패턴.
// 첫 번째 오류만 기록하고, 이후 호출은 기본값을 돌려준다.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}
}

func (r *reader) common(service string) Common {
	return Common{
		ServiceName: r.str("SERVICE_NAME", service),
		InstanceID:  r.str("INSTANCE_ID", fallbackInstanceID()),
		LogLevel:    r.str("LOG_LEVEL", "info"),
		LogPretty:   r.bool("LOG_PRETTY", false),
		LogSampleN:  uint32(r.int("LOG_SAMPLE_N", 0)),
		StatusAddr:  r.str("STATUS_ADDR", ""),
	}
}

func (r *reader) must(key string) string {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		r.fail("missing required env: %s", key)
	}
	return v
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail("invalid int env %s=%q: %v", key, v, err)
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail("invalid bool env %s=%q: %v", key, v, err)
		return def
	}
	return b
}

func (r *reader) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail("invalid duration env %s=%q: %v", key, v, err)
		return def
	}
	return d
}

// size 는 "15GB", "512MB", "0" 같은 사람이 읽는 크기 문자열을 바이트로 바꾼다.
// 단위는 1024 기반이다 (1GB = 1024^3).
func (r *reader) size(key, def string) int64 {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		v = def
	}
	bs, err := datasize.ParseString(v)
	if err != nil {
		r.fail("invalid size env %s=%q: %v", key, v, err)
		return 0
	}
	return int64(bs.Bytes())
}

// fallbackInstanceID
//
// 이 실행을 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	// 랜덤 6바이트 → 12자리 hex
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
