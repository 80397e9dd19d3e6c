package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 한 번의 실행(import / export) 동안의 상태를 나타내는 카운터 모음이다.
//
// 처리 루프는 단일 goroutine 이지만, status 서버(/metrics)가 다른 goroutine 에서
// 읽기 때문에 모든 접근은 atomic 으로 한다.
type Metrics struct {
	// ======================
	// 입력(source) 지표
	// ======================

	// ItemsScannedTotal
	// - pre-scan 단계에서 발견한 메시지 수 (.eml 파일 수 또는 mbox 메시지 수).
	// - 진행률(%) 계산의 분모.
	ItemsScannedTotal int64

	// BytesScannedTotal
	// - pre-scan 단계에서 집계한 전체 바이트 (근사값).
	// - even-split 목표 바이트 계산의 입력.
	BytesScannedTotal int64

	// ItemsFilteredTotal
	// - START_YEAR / END_YEAR 범위 밖이라 건너뛴 메시지 수 (export 전용).
	ItemsFilteredTotal int64

	// ======================
	// 라우팅 / 기록 지표
	// ======================

	// ItemsWrittenTotal
	// - 컨테이너(또는 디렉토리)에 실제로 기록되고 commit 된 메시지 수.
	ItemsWrittenTotal int64

	// BytesWrittenTotal
	// - commit 된 메시지들의 근사 바이트 합.
	BytesWrittenTotal int64

	// ItemsFailedTotal
	// - 읽기/쓰기 실패로 건너뛴 메시지 수.
	// - 이 메시지들은 lineage 카운터에 반영되지 않는다 (착지하지 않았으므로).
	ItemsFailedTotal int64

	// ======================
	// 컨테이너 지표
	// ======================

	// ContainersCreatedTotal
	// - Provision 성공 횟수 (part1 포함).
	ContainersCreatedTotal int64

	// RotationsTotal
	// - 기존 part 를 닫고 다음 part 를 연 횟수 (part1 생성은 제외).
	RotationsTotal int64

	// ContainersOpen
	// - 현재 열려 있는 컨테이너 수 (gauge).
	ContainersOpen int64

	// FlushesTotal / FlushErrorsTotal
	// - 주기적 flush(close + reopen) 시도 / 실패 횟수.
	// - flush 실패는 non-fatal 이며 이전 handle 을 계속 사용한다.
	FlushesTotal     int64
	FlushErrorsTotal int64

	// ReleaseErrorsTotal
	// - 컨테이너 release 실패 횟수. 로그만 남기고 진행한다.
	ReleaseErrorsTotal int64

	// DirsCreatedTotal
	// - export 시 새로 사용하기 시작한 디렉토리 수 (__partN 포함).
	DirsCreatedTotal int64

	// ======================
	// S3 지표
	// ======================

	// S3ObjectsStoredTotal / S3PutErrorsTotal
	// - release 시 업로드 성공한 객체 수 / 실패한 PutObject 시도 수.
	S3ObjectsStoredTotal int64
	S3PutErrorsTotal     int64

	// ======================
	// Quarantine 지표
	// ======================

	// QuarantineItemsTotal
	// - quarantine 디렉토리에 보관된 실패 메시지 수 (누적).
	QuarantineItemsTotal int64

	// QuarantineDroppedTotal
	// - 용량 부족으로 quarantine 에도 보관하지 못한 메시지 수.
	QuarantineDroppedTotal int64

	// QuarantineFilesExpiredTotal
	// - TTL 또는 용량 정책으로 삭제된 quarantine 파일 수.
	QuarantineFilesExpiredTotal int64

	// QuarantineFilesCurrent / QuarantineSizeBytes
	// - 현재 quarantine 디렉토리의 파일 수 / 바이트 (gauge).
	QuarantineFilesCurrent int64
	QuarantineSizeBytes    int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "items_scanned_total=%d\n", atomic.LoadInt64(&m.ItemsScannedTotal))
	fmt.Fprintf(&sb, "bytes_scanned_total=%d\n", atomic.LoadInt64(&m.BytesScannedTotal))
	fmt.Fprintf(&sb, "items_filtered_total=%d\n", atomic.LoadInt64(&m.ItemsFilteredTotal))

	fmt.Fprintf(&sb, "items_written_total=%d\n", atomic.LoadInt64(&m.ItemsWrittenTotal))
	fmt.Fprintf(&sb, "bytes_written_total=%d\n", atomic.LoadInt64(&m.BytesWrittenTotal))
	fmt.Fprintf(&sb, "items_failed_total=%d\n", atomic.LoadInt64(&m.ItemsFailedTotal))

	fmt.Fprintf(&sb, "containers_created_total=%d\n", atomic.LoadInt64(&m.ContainersCreatedTotal))
	fmt.Fprintf(&sb, "rotations_total=%d\n", atomic.LoadInt64(&m.RotationsTotal))
	fmt.Fprintf(&sb, "containers_open=%d\n", atomic.LoadInt64(&m.ContainersOpen))
	fmt.Fprintf(&sb, "flushes_total=%d\n", atomic.LoadInt64(&m.FlushesTotal))
	fmt.Fprintf(&sb, "flush_errors_total=%d\n", atomic.LoadInt64(&m.FlushErrorsTotal))
	fmt.Fprintf(&sb, "release_errors_total=%d\n", atomic.LoadInt64(&m.ReleaseErrorsTotal))
	fmt.Fprintf(&sb, "dirs_created_total=%d\n", atomic.LoadInt64(&m.DirsCreatedTotal))

	fmt.Fprintf(&sb, "s3_objects_stored_total=%d\n", atomic.LoadInt64(&m.S3ObjectsStoredTotal))
	fmt.Fprintf(&sb, "s3_put_errors_total=%d\n", atomic.LoadInt64(&m.S3PutErrorsTotal))

	fmt.Fprintf(&sb, "quarantine_items_total=%d\n", atomic.LoadInt64(&m.QuarantineItemsTotal))
	fmt.Fprintf(&sb, "quarantine_dropped_total=%d\n", atomic.LoadInt64(&m.QuarantineDroppedTotal))
	fmt.Fprintf(&sb, "quarantine_files_expired_total=%d\n", atomic.LoadInt64(&m.QuarantineFilesExpiredTotal))
	fmt.Fprintf(&sb, "quarantine_files_current=%d\n", atomic.LoadInt64(&m.QuarantineFilesCurrent))
	fmt.Fprintf(&sb, "quarantine_size_bytes=%d\n", atomic.LoadInt64(&m.QuarantineSizeBytes))

	return sb.String()
}
