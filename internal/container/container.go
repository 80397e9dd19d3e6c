// internal/container/container.go
package container

import (
	"context"
	"errors"
)

// Container
// ------------------------------------------------------------
// 메일 항목이 최종적으로 기록되는 출력 단위(예: part 파일 1개).
// 라우터 입장에서는 path 와 handle 만 의미가 있고,
// 실제 쓰기는 importer 가 Append 로 수행한다.
type Container interface {
	// Path 는 provisioner 가 실제로 만든 경로(요청 경로와 다를 수 있음).
	Path() string

	// Append 는 메시지 1건을 컨테이너에 기록한다.
	// from 은 envelope sender 표기(비어 있으면 MAILER-DAEMON).
	Append(from string, raw []byte) error

	// Count 는 현재까지 기록된 메시지 수 (flush 이후에도 유지된다).
	Count() int64
}

// Provisioner
// ------------------------------------------------------------
// 라우터가 의존하는 유일한 외부 경계.
//
//   - Provision: path 에 새 컨테이너를 만든다. 같은 path 에 기존 컨테이너가
//     있으면 먼저 제거하고 비어 있는 새 컨테이너를 돌려준다.
//   - Reopen:    release 된 컨테이너를 내용 유지한 채 다시 attach 한다 (flush 용).
//   - Release:   detach/close. 이 시점에 디스크/원격 저장소에 내용이 반영된다.
//   - Remove:    best-effort 정리.
//
// 모든 호출은 blocking 이며 결과를 명시적으로 반환한다.
// 실패를 삼키지 않기 때문에 호출자가 fatal / non-fatal 을 구분할 수 있다.
type Provisioner interface {
	Provision(ctx context.Context, path string) (Container, string, error)
	Reopen(ctx context.Context, c Container) (Container, string, error)
	Release(ctx context.Context, c Container) error
	Remove(ctx context.Context, c Container) error
}

var (
	// ErrReleased 는 이미 release 된 컨테이너에 대한 작업이 불가능할 때 반환된다.
	ErrReleased = errors.New("container: already released")

	// ErrForeign 은 다른 provisioner 가 만든 컨테이너를 넘겼을 때 반환된다.
	ErrForeign = errors.New("container: not created by this provisioner")
)
