// internal/mailmeta/header.go
package mailmeta

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

// Date 헤더가 없거나 해석할 수 없는 메시지의 기본 연/월.
const (
	SentinelYear  = 1970
	SentinelMonth = 1
)

// Header
// ------------------------------------------------------------
// 라우팅 / 파일명 결정에 필요한 헤더 몇 개만 뽑은 결과.
// 본문과 나머지 헤더는 건드리지 않는다.
type Header struct {
	Date      time.Time
	HasDate   bool
	MessageID string
	Subject   string
}

// 대부분의 메일 클라이언트가 쓰는 RFC 5322 형식 외에
// 오래된 메일에서 자주 보이는 변형 몇 개를 추가로 시도한다.
var fallbackLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 06 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Mon Jan 2 15:04:05 2006",
	"Mon Jan 2 15:04:05 MST 2006",
	time.RFC3339,
}

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// HeaderBlock 은 raw 메시지에서 첫 빈 줄 이전(헤더 영역)만 잘라낸다.
// 빈 줄이 없으면 전체를 헤더로 본다.
func HeaderBlock(raw []byte) []byte {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		if j := bytes.Index(raw, []byte("\n\n")); j >= 0 && j < i {
			return raw[:j+1]
		}
		return raw[:i+2]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+1]
	}
	return raw
}

// Parse 는 Date / Message-ID / Subject 를 추출한다.
// 실패하지 않는다: 읽을 수 없는 값은 zero value 로 남는다.
func Parse(raw []byte) Header {
	var h Header
	for name, value := range fields(HeaderBlock(raw)) {
		switch name {
		case "date":
			if t, ok := parseDate(value); ok {
				h.Date, h.HasDate = t, true
			}
		case "message-id":
			h.MessageID = strings.TrimSpace(value)
		case "subject":
			h.Subject = decodeWords(value)
		}
	}
	return h
}

// YearMonth 는 Date 기준 (연, 월). Date 가 없으면 (1970, 1).
// 연도는 발신자가 적은 timezone 기준 그대로 쓴다.
func (h Header) YearMonth() (int, int) {
	if !h.HasDate {
		return SentinelYear, SentinelMonth
	}
	return h.Date.Year(), int(h.Date.Month())
}

// YearKey 는 연도별 분할에 쓰는 key ("2020", Date 없으면 "1970").
func (h Header) YearKey() string {
	y, _ := h.YearMonth()
	return fmt.Sprintf("%04d", y)
}

// fields
//
// 헤더 블록을 (소문자 이름 → unfold 된 값) 으로 바꾼다.
// 같은 이름이 여러 번 나오면 첫 번째 값만 쓴다.
// 형식이 깨진 줄은 건너뛴다.
func fields(block []byte) map[string]string {
	out := make(map[string]string, 8)

	var name string
	var value strings.Builder
	flush := func() {
		if name == "" {
			return
		}
		if _, dup := out[name]; !dup {
			out[name] = strings.TrimSpace(value.String())
		}
		name = ""
		value.Reset()
	}

	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		// folding: 공백으로 시작하는 줄은 이전 헤더의 연속
		if line[0] == ' ' || line[0] == '\t' {
			if name != "" {
				value.WriteByte(' ')
				value.WriteString(strings.TrimSpace(line))
			}
			continue
		}
		flush()
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(line[:colon]))
		value.WriteString(strings.TrimSpace(line[colon+1:]))
	}
	flush()
	return out
}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(v); err == nil {
		return t, true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeWords(v string) string {
	s, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return s
}
