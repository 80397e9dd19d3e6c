package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// import 는 수십만 개의 .eml 을 순서대로 읽어 컨테이너에 압축 기록한다.
// 메시지마다 버퍼를 새로 할당하고, part 마다 압축기를 새로 만들면
// GC 부담과 압축기 초기화 비용이 크다.
//
// 아래 Pool 들은 "메모리 재사용, 압축기 재사용" 목적.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - 메시지 원문(raw bytes)을 읽어 두는 임시 버퍼
	//   - 초기 용량 256KB (첨부 없는 일반 메일은 대부분 여기에 수용됨)
	//   - MaxBufferCap 초과 버퍼는 풀로 돌리지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - BestSpeed: 대용량 import 는 압축률보다 처리 속도 우선
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}

	// ZstdPool:
	//   - zstd.Encoder 재사용 (내부 window/worker 할당이 커서 재사용 효과가 큼)
	//   - concurrency 1: 처리 루프가 단일 goroutine 이므로 추가 worker 불필요
	ZstdPool = sync.Pool{
		New: func() any {
			w, _ := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(zstd.SpeedFastest),
				zstd.WithEncoderConcurrency(1),
			)
			return w
		},
	}
)

// Pool 에 되돌려줄 최대 버퍼 용량.
// 대용량 첨부 메일 하나 때문에 수십 MB 버퍼를 계속 보유하지 않도록 한다.
const MaxBufferCap = 8 * 1024 * 1024 // 8MB

// GetBuffer: 비어 있는 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 초대형 메시지 버퍼는 풀로 돌리지 않음 → 메모리 안정화 목적
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
