// internal/source/mbox.go
package source

import (
	"bufio"
	"bytes"
	"io"
)

var fromPrefix = []byte("From ")

// Message 는 mbox 에서 꺼낸 메시지 1건.
//   - Index : 0 부터 시작하는 순번
//   - From  : "From " 구분줄의 envelope sender (없으면 빈 문자열)
//   - Raw   : 구분줄을 뺀 원문 (mboxrd quoting 해제 후)
type Message struct {
	Index int
	From  string
	Raw   []byte
}

// MboxReader
// ------------------------------------------------------------
// mbox 를 앞에서부터 한 건씩 읽는다. 전체를 메모리에 올리지 않는다.
//
//   - 줄 맨 앞의 "From " 이 메시지 경계
//   - 본문 안의 ">From ", ">>From " ... 은 '>' 하나를 벗긴다 (mboxrd)
//   - 메시지 끝의 구분용 빈 줄 하나는 제거한다
//   - 첫 구분줄 이전의 내용은 버린다
type MboxReader struct {
	br      *bufio.Reader
	pending []byte // 다음 메시지의 구분줄
	idx     int
	eof     bool
}

func NewMboxReader(r io.Reader) *MboxReader {
	return &MboxReader{br: bufio.NewReaderSize(r, 1<<20)}
}

// Next 는 다음 메시지를 돌려준다. 더 없으면 io.EOF.
func (m *MboxReader) Next() (Message, error) {
	if m.pending == nil {
		if err := m.seekFrom(); err != nil {
			return Message{}, err
		}
	}

	msg := Message{Index: m.idx, From: envelopeSender(m.pending)}
	m.pending = nil

	var buf bytes.Buffer
	for !m.eof {
		line, err := m.br.ReadBytes('\n')
		if len(line) > 0 {
			if bytes.HasPrefix(line, fromPrefix) {
				m.pending = line
				break
			}
			buf.Write(unquote(line))
		}
		if err == io.EOF {
			m.eof = true
			break
		}
		if err != nil {
			return Message{}, err
		}
	}

	msg.Raw = trimSeparator(buf.Bytes())
	m.idx++
	return msg, nil
}

// seekFrom 은 첫 구분줄까지 건너뛴다.
func (m *MboxReader) seekFrom() error {
	for !m.eof {
		line, err := m.br.ReadBytes('\n')
		if bytes.HasPrefix(line, fromPrefix) {
			m.pending = line
			if err == io.EOF {
				m.eof = true
			}
			return nil
		}
		if err == io.EOF {
			m.eof = true
			break
		}
		if err != nil {
			return err
		}
	}
	return io.EOF
}

// CountMessages 는 구분줄 수만 센다 (진행률 / ETA 용 사전 집계).
func CountMessages(r io.Reader) (int, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	n := 0
	atStart := true
	for {
		line, err := br.ReadSlice('\n')
		if atStart && bytes.HasPrefix(line, fromPrefix) {
			n++
		}
		// 버퍼보다 긴 줄은 여러 조각으로 나뉘어 온다
		atStart = err == nil
		switch err {
		case nil, bufio.ErrBufferFull:
		case io.EOF:
			return n, nil
		default:
			return n, err
		}
	}
}

func envelopeSender(line []byte) string {
	rest := bytes.TrimSpace(bytes.TrimPrefix(line, fromPrefix))
	if i := bytes.IndexAny(rest, " \t"); i >= 0 {
		rest = rest[:i]
	}
	return string(rest)
}

// unquote: ">From ", ">>From " … → '>' 하나 제거
func unquote(line []byte) []byte {
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if i > 0 && bytes.HasPrefix(line[i:], fromPrefix) {
		return line[1:]
	}
	return line
}

func trimSeparator(raw []byte) []byte {
	switch {
	case bytes.HasSuffix(raw, []byte("\r\n\r\n")):
		return raw[:len(raw)-2]
	case bytes.HasSuffix(raw, []byte("\n\n")):
		return raw[:len(raw)-1]
	}
	return raw
}
