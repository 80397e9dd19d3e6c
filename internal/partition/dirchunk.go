package partition

import (
	"fmt"
	"sort"
)

// DirUsage 는 디렉토리 1개의 (count, bytes) 사용량.
type DirUsage struct {
	Dir   string
	Count int64
	Bytes int64
}

// DirChunker
// ------------------------------------------------------------
// 관리형 컨테이너 없이 일반 디렉토리에 파일을 떨어뜨릴 때의 rotation.
// 디렉토리마다 (count, bytes) 를 추적하고, primary 가 가득 차면
// "<primary>__part2", "__part3", ... 순서로 들어갈 수 있는 곳을 찾는다.
//
// 제한값 0 은 "무제한" 이다. (count 0 짜리 디렉토리는 지원하지 않는다.)
//
// count 검사는 count >= MaxCount 에서 바로 막히므로 정확하고,
// bytes 검사는 item 을 넣기 "전" 값으로 하므로 item 1개만큼 넘칠 수 있다.
type DirChunker struct {
	maxCount int64
	maxBytes int64

	usage map[string]*DirUsage
	order []string

	// primary → 마지막으로 선택된 alternate part 번호.
	// 카운터는 줄어들지 않으므로 그보다 앞선 alternate 는 다시 fits 가 될 수 없다.
	lastAlt map[string]int
}

func NewDirChunker(maxCount, maxBytes int64) *DirChunker {
	if maxCount < 0 {
		maxCount = 0
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &DirChunker{
		maxCount: maxCount,
		maxBytes: maxBytes,
		usage:    make(map[string]*DirUsage),
		lastAlt:  make(map[string]int),
	}
}

// Fits 는 (count, bytes) 상태의 디렉토리에 item 을 하나 더 넣을 수 있는지.
func (c *DirChunker) Fits(count, bytes int64) bool {
	if c.maxCount > 0 && count >= c.maxCount {
		return false
	}
	if c.maxBytes > 0 && bytes >= c.maxBytes {
		return false
	}
	return true
}

// Place 는 primary 에 넣을 수 있으면 primary 를, 아니면 들어갈 수 있는
// 첫 번째 alternate 디렉토리 경로를 반환한다.
// 새 alternate 는 (0,0) 에서 시작하므로 탐색은 항상 종료된다.
func (c *DirChunker) Place(primary string) string {
	u := c.Usage(primary)
	if c.Fits(u.Count, u.Bytes) {
		return primary
	}

	part := c.lastAlt[primary]
	if part < 2 {
		part = 2
	}
	for {
		alt := AltDir(primary, part)
		u := c.Usage(alt)
		if c.Fits(u.Count, u.Bytes) {
			c.lastAlt[primary] = part
			return alt
		}
		part++
	}
}

// Commit 은 dir 에 item 1개(size 바이트)가 실제로 기록되었음을 반영한다.
// 처음 보는 디렉토리면 true 를 반환한다.
func (c *DirChunker) Commit(dir string, size int64) bool {
	if size < 0 {
		size = 0
	}
	u, ok := c.usage[dir]
	if !ok {
		u = &DirUsage{Dir: dir}
		c.usage[dir] = u
		c.order = append(c.order, dir)
	}
	u.Count++
	u.Bytes += size
	return !ok
}

// Usage 는 dir 의 현재 사용량 (추적 전이면 0,0).
func (c *DirChunker) Usage(dir string) DirUsage {
	if u, ok := c.usage[dir]; ok {
		return *u
	}
	return DirUsage{Dir: dir}
}

// Dirs 는 사용된 디렉토리 전체를 처음 사용된 순서로 반환한다.
func (c *DirChunker) Dirs() []DirUsage {
	out := make([]DirUsage, 0, len(c.order))
	for _, d := range c.order {
		out = append(out, *c.usage[d])
	}
	return out
}

// Top 은 bytes 기준 상위 n 개 디렉토리.
func (c *DirChunker) Top(n int) []DirUsage {
	out := c.Dirs()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bytes > out[j].Bytes })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// AltDir: "<primary>__part<N>"
func AltDir(primary string, part int) string {
	return fmt.Sprintf("%s__part%d", primary, part)
}
