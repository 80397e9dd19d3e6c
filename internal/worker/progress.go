// internal/worker/progress.go
package worker

import (
	"fmt"
	"time"
)

// progress 는 시작 시각과 전체 분량으로 진행률 / 처리 속도 / 남은 시간을 계산한다.
type progress struct {
	total   int64 // 바이트(import) 또는 메시지 수(export)
	started time.Time
	now     func() time.Time
}

func newProgress(total int64, now func() time.Time) progress {
	return progress{total: total, started: now(), now: now}
}

func (p progress) elapsed() time.Duration {
	return p.now().Sub(p.started)
}

// at 은 done 만큼 처리했을 때의 (퍼센트, 초당 처리량, ETA).
// total 을 모르면 퍼센트 / ETA 는 0.
func (p progress) at(done int64) (pct, rate float64, eta time.Duration) {
	sec := p.elapsed().Seconds()
	if sec < 1e-9 {
		sec = 1e-9
	}
	rate = float64(done) / sec

	if p.total <= 0 {
		return 0, rate, 0
	}
	pct = float64(done) / float64(p.total) * 100
	if rate > 0 && done < p.total {
		eta = time.Duration(float64(p.total-done) / rate * float64(time.Second))
	}
	return pct, rate, eta
}

// formatETA: hh:mm:ss
func formatETA(d time.Duration) string {
	s := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}
