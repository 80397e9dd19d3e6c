// internal/model/record.go
package model

// PartRecord
// ------------------------------------------------------------
// import 가 만든 컨테이너 part 1개의 최종 집계.
// manifest(JSONL) 한 줄이 이 구조체 하나다.
//
// Bytes 는 라우터가 사용한 근사 크기(원본 .eml 파일 크기 합)이며
// 압축된 실제 파일 크기와는 다르다.
type PartRecord struct {
	Key   string `json:"key,omitempty"` // 연도별 분할일 때만 ("2020")
	Part  int    `json:"part"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	Items int64  `json:"items"`
	S3Key string `json:"s3_key,omitempty"`
}

// QuarantineMeta
// ------------------------------------------------------------
// quarantine 에 보관된 메시지 옆의 .meta.json 내용.
type QuarantineMeta struct {
	Source string `json:"source"`           // 원본 .eml 경로 또는 "mbox#<index>"
	Target string `json:"target,omitempty"` // 기록하려던 컨테이너 / 디렉토리
	Error  string `json:"error"`
	Size   int64  `json:"size"`
	At     int64  `json:"at"` // UTC epoch seconds
}

// ImportSummary 는 import 1회 실행 결과.
type ImportSummary struct {
	Scanned  int64        `json:"scanned"`
	Written  int64        `json:"written"`
	Failed   int64        `json:"failed"`
	Bytes    int64        `json:"bytes"`
	Target   int64        `json:"target_bytes,omitempty"` // even-split 목표
	Parts    []PartRecord `json:"parts"`
	Elapsed  float64      `json:"elapsed_sec"`
	Manifest string       `json:"manifest,omitempty"`
}

// DirStat 은 export 디렉토리 1개의 사용량.
type DirStat struct {
	Dir   string `json:"dir"`
	Count int64  `json:"count"`
	Bytes int64  `json:"bytes"`
}

// ExportSummary 는 export 1회 실행 결과.
type ExportSummary struct {
	Total    int64     `json:"total"`
	Exported int64     `json:"exported"`
	Filtered int64     `json:"filtered"`
	Failed   int64     `json:"failed"`
	Dirs     int       `json:"dirs"`
	Top      []DirStat `json:"top"`
	Elapsed  float64   `json:"elapsed_sec"`
}
