package partition

// PlanEvenSplit 는 전체 스트림 크기를 splits 개로 균등 분할했을 때
// lineage 1개가 목표로 하는 바이트 수를 계산한다.
//
//	target = max(1, totalBytes / splits)
//
// 스트리밍 시작 전에 전체 pre-scan 결과로 한 번만 호출한다.
// splits <= 0 이면 even-split 비활성 → 0 을 반환하고,
// 라우터는 size cap 기반 순차 rotation 만 수행한다.
func PlanEvenSplit(totalBytes int64, splits int) int64 {
	if splits <= 0 {
		return 0
	}
	if totalBytes < 0 {
		totalBytes = 0
	}
	target := totalBytes / int64(splits)
	if target < 1 {
		target = 1
	}
	return target
}
