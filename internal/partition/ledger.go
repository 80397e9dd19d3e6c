package partition

import (
	"sort"

	"mailpart/internal/container"
)

// Key 는 lineage 를 구분하는 grouping key (예: "2020").
type Key string

const (
	// SentinelKey 는 item 에서 key 를 얻지 못했을 때 쓰는 고정 key.
	// Date 헤더가 없거나 깨진 메일은 모두 여기로 모인다.
	SentinelKey Key = "1970"

	// DefaultKey 는 sequential / even-split 모드의 단일 lineage key.
	DefaultKey Key = ""
)

// Lineage
// ------------------------------------------------------------
// 하나의 key 에 속한 part 들의 흐름 중 "현재 열려 있는 part" 상태.
//
//   - Part  : 1 부터 시작, rotation 마다 정확히 +1
//   - Bytes : 현재 part 에 commit 된 누적 바이트 (rotation 시 0)
//   - Items : 현재 part 에 commit 된 메시지 수 (rotation 시 0)
//
// Lineage 는 삭제되지 않고, rotation 시 같은 key 의 다음 part 로 대체된다.
type Lineage struct {
	Key       Key
	Part      int
	Bytes     int64
	Items     int64
	Container container.Container
	Path      string

	seq int // ledger 전체 기준 part 생성 순서
}

func (l *Lineage) target() Target {
	return Target{
		Key:       l.Key,
		Part:      l.Part,
		Path:      l.Path,
		Container: l.Container,
	}
}

func (l *Lineage) stat() PartStat {
	return PartStat{
		Key:   l.Key,
		Part:  l.Part,
		Path:  l.Path,
		Bytes: l.Bytes,
		Items: l.Items,
		seq:   l.seq,
	}
}

// Target 은 Route 가 돌려주는 "이 item 을 넣을 곳".
type Target struct {
	Key       Key
	Part      int
	Path      string
	Container container.Container
}

// PartStat 은 part 1개의 최종(또는 현재) 집계 값. manifest 작성에 사용된다.
type PartStat struct {
	Key   Key
	Part  int
	Path  string
	Bytes int64
	Items int64

	seq int
}

// Ledger
// ------------------------------------------------------------
// 라우터 인스턴스 하나가 독점 소유하는 상태 저장소.
// 패키지 전역 상태는 없으므로 라우터 여러 개가 서로 간섭하지 않는다.
//
//   - keyed 모드      : byKey (key → lineage), order 는 최초 등장 순서
//   - sequential 모드 : current 하나 + 전역 part 카운터
//   - retired         : rotation 으로 닫힌 part 들의 최종 집계
type Ledger struct {
	byKey   map[Key]*Lineage
	order   []Key
	current *Lineage

	globalPart int
	retired    []PartStat
	seq        int
}

func newLedger() *Ledger {
	return &Ledger{byKey: make(map[Key]*Lineage)}
}

func (l *Ledger) get(key Key) (*Lineage, bool) {
	ln, ok := l.byKey[key]
	return ln, ok
}

func (l *Ledger) add(ln *Lineage) {
	if _, ok := l.byKey[ln.Key]; !ok {
		l.order = append(l.order, ln.Key)
	}
	l.byKey[ln.Key] = ln
}

func (l *Ledger) retire(ln *Lineage) {
	l.retired = append(l.retired, ln.stat())
}

func (l *Ledger) nextSeq() int {
	l.seq++
	return l.seq
}

// Lineage 는 key 에 해당하는 현재 lineage 를 반환한다.
// sequential 모드에서는 key 와 무관하게 current 를 반환한다.
func (l *Ledger) Lineage(key Key) (*Lineage, bool) {
	if l.current != nil {
		return l.current, true
	}
	return l.get(key)
}

// Open 은 현재 열려 있는 lineage 전체 (keyed: 최초 등장 순, sequential: 1개).
func (l *Ledger) Open() []*Lineage {
	if l.current != nil {
		return []*Lineage{l.current}
	}
	out := make([]*Lineage, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, l.byKey[k])
	}
	return out
}

// Parts 는 지금까지 만들어진 모든 part 의 집계를 생성 순서대로 반환한다.
// 닫힌 part 는 최종값, 열려 있는 part 는 현재값.
func (l *Ledger) Parts() []PartStat {
	open := l.Open()
	out := make([]PartStat, 0, len(l.retired)+len(open))
	out = append(out, l.retired...)
	for _, ln := range open {
		if ln.Container != nil {
			out = append(out, ln.stat())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
