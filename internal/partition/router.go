// internal/partition/router.go
package partition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/container"
	"mailpart/internal/metrics"
)

var (
	// ErrProvision 은 rotation / 최초 생성 시 컨테이너를 만들지 못한 경우.
	// 대기 중인 item 을 넣을 곳이 없으므로 스트림 전체에 fatal 이다.
	ErrProvision = errors.New("partition: provision container")

	// ErrFlush 는 flush(close + reopen) 실패. non-fatal.
	ErrFlush = errors.New("partition: flush container")

	// ErrPlacement 는 Route 이후 caller 의 쓰기가 실패한 경우. non-fatal.
	ErrPlacement = errors.New("partition: place item")

	// ErrStaleTarget 은 이미 rotation 으로 지나간 part 에 commit 하려 한 경우.
	ErrStaleTarget = errors.New("partition: stale target")

	// ErrClosed 는 Close 이후 라우터를 사용한 경우.
	ErrClosed = errors.New("partition: router closed")

	// ErrInvalidOptions 는 Options 조합이 잘못된 경우.
	ErrInvalidOptions = errors.New("partition: invalid options")
)

// Options
// ------------------------------------------------------------
// 라우터 정책 입력. config/CLI 파싱은 호출자 몫이다.
//
//   - MaxBytes   : 컨테이너 1개의 최대 바이트. 0 이면 cap 없음.
//   - GroupByKey : key 별 독립 lineage (Splits 와 동시 사용 불가).
//   - Splits     : even-split 개수. 0 이면 비활성.
//   - TotalBytes : even-split 목표 계산용 전체 스트림 크기 (pre-scan 결과).
//   - Dir / BaseName / Ext : "<Dir>/<BaseName>_<suffix><Ext>" 경로 규칙.
type Options struct {
	Dir      string
	BaseName string
	Ext      string

	MaxBytes   int64
	GroupByKey bool
	Splits     int
	TotalBytes int64

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Router
// ------------------------------------------------------------
// item 하나마다 ledger 를 보고 정책(keyed / sequential / even-split)을 적용해
// rotation 여부를 결정하고, 필요하면 provisioner 로 새 part 를 만든 뒤
// item 이 들어갈 Target 을 돌려준다.
//
// 임계값 검사는 item 을 더하기 "전" 상태로 한다 (pre-check).
// 따라서 컨테이너 최종 크기는 MaxBytes 를 item 1개 크기만큼 넘을 수 있다.
// 이는 의도된 동작이며 post-check 로 바꾸지 않는다.
//
// 단일 goroutine 에서만 사용한다 (ingest 는 엄격히 순차 처리).
type Router struct {
	opts    Options
	prov    container.Provisioner
	ledger  *Ledger
	target  int64 // even-split 목표 바이트 (0 = 비활성)
	active  *Lineage
	closed  bool
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewRouter 는 옵션을 검증하고 even-split 목표를 미리 계산한다.
func NewRouter(prov container.Provisioner, opts Options) (*Router, error) {
	if prov == nil {
		return nil, fmt.Errorf("%w: nil provisioner", ErrInvalidOptions)
	}
	if opts.BaseName == "" {
		return nil, fmt.Errorf("%w: empty base name", ErrInvalidOptions)
	}
	if opts.MaxBytes < 0 || opts.Splits < 0 {
		return nil, fmt.Errorf("%w: negative limit", ErrInvalidOptions)
	}
	if opts.GroupByKey && opts.Splits > 0 {
		return nil, fmt.Errorf("%w: group-by-key and even-split are mutually exclusive", ErrInvalidOptions)
	}

	lg := zlog.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	r := &Router{
		opts:    opts,
		prov:    prov,
		ledger:  newLedger(),
		log:     lg.With().Str("component", "router").Logger(),
		metrics: m,
	}
	if !opts.GroupByKey {
		r.target = PlanEvenSplit(opts.TotalBytes, opts.Splits)
	}
	return r, nil
}

// TargetBytes 는 even-split 목표 바이트 (비활성이면 0).
func (r *Router) TargetBytes() int64 { return r.target }

// Ledger 는 라우터 상태 (테스트 / 요약 용 read-only 접근).
func (r *Router) Ledger() *Ledger { return r.ledger }

// Route 는 size 바이트짜리 item 이 들어갈 Target 을 결정한다.
// 필요하면 rotation 을 수행한다. 카운터는 Commit 에서만 증가한다.
//
// 반환 에러는 항상 ErrProvision 또는 ErrClosed 이며 스트림에 fatal 이다.
func (r *Router) Route(ctx context.Context, size int64, key Key) (Target, error) {
	if r.closed {
		return Target{}, ErrClosed
	}
	if size < 0 {
		size = 0
	}

	var (
		ln  *Lineage
		err error
	)
	if r.opts.GroupByKey {
		ln, err = r.routeKeyed(ctx, size, key)
	} else {
		ln, err = r.routeSequential(ctx, size)
	}
	if err != nil {
		return Target{}, err
	}

	r.active = ln
	return ln.target(), nil
}

// Commit 은 Target 에 item 이 실제로 착지했음을 ledger 에 반영한다.
// 쓰기에 실패한 item 은 Commit 하지 않는다.
func (r *Router) Commit(t Target, size int64) error {
	if r.closed {
		return ErrClosed
	}
	ln, ok := r.ledger.Lineage(t.Key)
	if !ok || ln.Part != t.Part || ln.Container == nil {
		return fmt.Errorf("%w: key=%q part=%d", ErrStaleTarget, t.Key, t.Part)
	}
	if size < 0 {
		size = 0
	}
	ln.Bytes += size
	ln.Items++
	return nil
}

// Place 는 Route → write → Commit 을 한 번에 수행한다.
//
//   - Route 실패(ErrProvision)는 그대로 반환 → fatal
//   - write 실패는 ErrPlacement 로 감싸 반환 → 호출자가 skip 하고 계속 진행
func (r *Router) Place(ctx context.Context, size int64, key Key, write func(Target) error) (Target, error) {
	t, err := r.Route(ctx, size, key)
	if err != nil {
		return Target{}, err
	}
	if err := write(t); err != nil {
		return t, fmt.Errorf("%w: %s: %w", ErrPlacement, t.Path, err)
	}
	return t, r.Commit(t, size)
}

// Active 는 마지막으로 item 이 route 된 lineage 의 Target.
func (r *Router) Active() (Target, bool) {
	if r.active == nil || r.active.Container == nil {
		return Target{}, false
	}
	return r.active.target(), true
}

// Flush 는 현재 활성 컨테이너를 같은 path 로 close → reopen 한다.
// ledger 카운터(Part / Bytes / Items)는 바뀌지 않고 handle 만 갱신된다.
//
// 실패는 non-fatal: 경고 로그를 남기고 이전 handle/path 를 그대로 사용한다.
func (r *Router) Flush(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	ln := r.active
	if ln == nil || ln.Container == nil {
		return nil
	}
	atomic.AddInt64(&r.metrics.FlushesTotal, 1)

	if err := r.prov.Release(ctx, ln.Container); err != nil {
		return r.flushFailed(ln, "release", err)
	}
	c, actual, err := r.prov.Reopen(ctx, ln.Container)
	if err != nil {
		return r.flushFailed(ln, "reopen", err)
	}

	ln.Container = c
	ln.Path = actual
	r.log.Info().
		Str("key", string(ln.Key)).
		Int("part", ln.Part).
		Str("path", actual).
		Msg("flush: container re-attached")
	return nil
}

func (r *Router) flushFailed(ln *Lineage, step string, err error) error {
	atomic.AddInt64(&r.metrics.FlushErrorsTotal, 1)
	r.log.Warn().
		Err(err).
		Str("step", step).
		Str("key", string(ln.Key)).
		Int("part", ln.Part).
		Str("path", ln.Path).
		Msg("periodic flush failed, keeping previous container")
	return fmt.Errorf("%w: %s %s: %w", ErrFlush, step, ln.Path, err)
}

// Close 는 열려 있는 모든 컨테이너를 release 하고 part 집계를 반환한다.
// release 실패는 로그만 남긴다. 여러 번 호출해도 안전하다.
func (r *Router) Close(ctx context.Context) []PartStat {
	if r.closed {
		return r.ledger.Parts()
	}
	r.closed = true

	for _, ln := range r.ledger.Open() {
		if ln.Container == nil {
			continue
		}
		r.release(ctx, ln.Container, ln.Path)
	}
	return r.ledger.Parts()
}

// -------------------------------------------------------------------
// 정책별 라우팅
// -------------------------------------------------------------------

// routeKeyed
//  1. key 해석 (비어 있으면 sentinel)
//  2. lineage 없음 → 생성 + part1 provision + 등록
//  3. Bytes + size > MaxBytes → part+1 provision, 카운터 리셋
func (r *Router) routeKeyed(ctx context.Context, size int64, key Key) (*Lineage, error) {
	if key == DefaultKey {
		key = SentinelKey
	}

	ln, ok := r.ledger.get(key)
	if !ok {
		ln = &Lineage{Key: key}
		if err := r.rotate(ctx, ln, 1); err != nil {
			return nil, err
		}
		r.ledger.add(ln)
		return ln, nil
	}

	if r.overCap(ln, size) {
		if err := r.rotate(ctx, ln, ln.Part+1); err != nil {
			return nil, err
		}
	}
	return ln, nil
}

// routeSequential
//
// 다음 중 하나면 rotation:
//   - 아직 열린 컨테이너가 없음
//   - MaxBytes cap 이 있고 Bytes + size > MaxBytes
//   - even-split 활성이고 Bytes >= target
func (r *Router) routeSequential(ctx context.Context, size int64) (*Lineage, error) {
	ln := r.ledger.current
	if ln != nil && ln.Container != nil && !r.overCap(ln, size) && !r.overTarget(ln) {
		return ln, nil
	}

	if ln == nil {
		ln = &Lineage{Key: DefaultKey}
	}
	if err := r.rotate(ctx, ln, r.ledger.globalPart+1); err != nil {
		return nil, err
	}
	r.ledger.globalPart = ln.Part
	r.ledger.current = ln
	return ln, nil
}

// overCap: 아무것도 commit 되지 않은 part 는 rotation 하지 않는다.
// (item 1개가 MaxBytes 보다 커도 빈 컨테이너를 연달아 만들지 않고 그 part 에 넣는다.)
func (r *Router) overCap(ln *Lineage, size int64) bool {
	if r.opts.MaxBytes <= 0 || ln.Items == 0 {
		return false
	}
	return ln.Bytes+size > r.opts.MaxBytes
}

func (r *Router) overTarget(ln *Lineage) bool {
	return r.target > 0 && ln.Bytes >= r.target
}

// rotate 는 part 번호 part 의 새 컨테이너를 먼저 만들고,
// 성공한 경우에만 이전 part 를 retire + release 한다.
// 실패 시 lineage 는 그대로 두고 ErrProvision 을 반환한다.
func (r *Router) rotate(ctx context.Context, ln *Lineage, part int) error {
	desired := r.pathFor(ln.Key, part)

	c, actual, err := r.prov.Provision(ctx, desired)
	if err != nil {
		r.log.Error().
			Err(err).
			Str("key", string(ln.Key)).
			Int("part", part).
			Str("path", desired).
			Msg("provision failed")
		return fmt.Errorf("%w: %s: %w", ErrProvision, desired, err)
	}
	if actual == "" {
		actual = desired
	}
	atomic.AddInt64(&r.metrics.ContainersCreatedTotal, 1)
	atomic.AddInt64(&r.metrics.ContainersOpen, 1)

	old, oldPath := ln.Container, ln.Path
	if old != nil {
		r.ledger.retire(ln)
		atomic.AddInt64(&r.metrics.RotationsTotal, 1)
	}

	ln.Part = part
	ln.Bytes = 0
	ln.Items = 0
	ln.Container = c
	ln.Path = actual
	ln.seq = r.ledger.nextSeq()

	if old != nil {
		r.release(ctx, old, oldPath)
		r.log.Info().
			Str("key", string(ln.Key)).
			Int("part", part).
			Str("from", oldPath).
			Str("path", actual).
			Msg("container rotated")
	} else {
		r.log.Info().
			Str("key", string(ln.Key)).
			Int("part", part).
			Str("path", actual).
			Msg("using container")
	}
	return nil
}

func (r *Router) release(ctx context.Context, c container.Container, path string) {
	atomic.AddInt64(&r.metrics.ContainersOpen, -1)
	if err := r.prov.Release(ctx, c); err != nil {
		atomic.AddInt64(&r.metrics.ReleaseErrorsTotal, 1)
		r.log.Warn().Err(err).Str("path", path).Msg("release container failed")
	}
}

// pathFor: "<Dir>/<BaseName>_part<N><Ext>" 또는 "<Dir>/<BaseName>_<key>_part<N><Ext>"
func (r *Router) pathFor(key Key, part int) string {
	var suffix string
	if r.opts.GroupByKey {
		suffix = fmt.Sprintf("%s_part%d", key, part)
	} else {
		suffix = fmt.Sprintf("part%d", part)
	}
	return filepath.Join(r.opts.Dir, r.opts.BaseName+"_"+suffix+r.opts.Ext)
}
