// internal/worker/file_util.go
package worker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"
)

// file_util.go
// ------------------------------------------------------------
// quarantine 파일명과 export .eml 파일명 규칙.
//
// quarantine 파일명:
//
//	<unix>_<instance>_<counter>.eml.gz
//
// 정렬하면 곧 시간 순 정렬이므로, 용량 초과 시 가장 오래된 파일부터 지우고
// TTL 판단도 파일명 prefix 만으로 한다.
//
// export 파일명:
//
//	<정리된 subject>__<sha1 12자리>.eml
var globalCounter uint64

// NextCounter
// ------------------------------------------------------------
// 1,000,000 에서 다시 0으로 돌아간다.
// wrap-around 되어도 timestamp·instance 조합으로 충돌 가능성은 사실상 없다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewQuarantineName 은 <unix>_<instance>_<counter>.eml.gz 를 만든다.
func NewQuarantineName(unix int64, instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.eml.gz", unix, SafeName(instanceID), NextCounter())
}

// Windows / macOS 에서 파일명에 쓸 수 없는 문자들
var (
	unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

const maxNameRunes = 120

// SafeName
// ------------------------------------------------------------
//   - 금지 문자 묶음 → "_"
//   - 연속 공백 → " ", 앞뒤 공백 제거
//   - NFC 정규화 (macOS 에서 온 자모 분리 한글을 합친다)
//   - 최대 120자 (rune 기준)
//   - 결과가 비면 "msg"
func SafeName(s string) string {
	s = norm.NFC.String(s)
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))

	if r := []rune(s); len(r) > maxNameRunes {
		s = string(r[:maxNameRunes])
	}
	if s == "" {
		return "msg"
	}
	return s
}

// UniqueEMLName
// ------------------------------------------------------------
// Message-ID 가 같은 메일이 여러 번 있어도(재전송, 복사본) 이름이 겹치지 않도록
// 순번과 현재 시각을 섞어 hash 한다.
func UniqueEMLName(idx int, messageID, subject string, now time.Time) string {
	h := sha1.New()
	h.Write([]byte(messageID))
	h.Write([]byte(strconv.Itoa(idx)))
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	sum := hex.EncodeToString(h.Sum(nil))[:12]

	if strings.TrimSpace(subject) == "" {
		subject = "no_subject"
	}
	return SafeName(subject) + "__" + sum + ".eml"
}

// extractUnixFromFilename 은 quarantine 파일명 prefix 에서 Unix seconds 를 파싱한다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
