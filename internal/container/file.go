// internal/container/file.go
package container

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/pool"
)

// Compression 은 컨테이너 파일의 압축 방식.
type Compression string

const (
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
	None Compression = "none"
)

// Ext 는 컨테이너 파일 확장자 (".mbox", ".mbox.gz", ".mbox.zst").
func (c Compression) Ext() string {
	switch c {
	case Gzip:
		return ".mbox.gz"
	case Zstd:
		return ".mbox.zst"
	default:
		return ".mbox"
	}
}

// asctime 형식 ("From " 구분줄용)
const fromLineLayout = "Mon Jan _2 15:04:05 2006"

// FileProvisioner
// ------------------------------------------------------------
// 컨테이너 = 로컬 mbox 파일 1개.
//
//   - Provision : 같은 경로에 파일이 있으면 지우고 새로 만든다
//   - Reopen    : append 모드로 다시 연다 (압축 시 새 member/frame 으로 이어 붙임)
//   - Release   : 압축 스트림 종료 → bufio flush → fsync → close
//   - Remove    : 파일 삭제
//
// 메시지는 mboxrd 형식으로 기록되고, 각 메시지 헤더 맨 앞에
// "X-Folder: <Folder>" 가 붙는다 (mbox 를 가져오는 클라이언트의 폴더 이름).
type FileProvisioner struct {
	Compression Compression
	Folder      string

	log zerolog.Logger
	now func() time.Time
}

func NewFileProvisioner(comp Compression, folder string, lg *zerolog.Logger) *FileProvisioner {
	l := zlog.Logger
	if lg != nil {
		l = *lg
	}
	return &FileProvisioner{
		Compression: comp,
		Folder:      folder,
		log:         l.With().Str("component", "container").Logger(),
		now:         time.Now,
	}
}

func (p *FileProvisioner) Provision(ctx context.Context, path string) (Container, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	// 이전 실행이 남긴 같은 이름의 컨테이너는 지우고 새로 시작한다
	if _, err := os.Stat(path); err == nil {
		p.log.Warn().Str("path", path).Msg("removing existing container")
		if err := os.Remove(path); err != nil {
			return nil, "", fmt.Errorf("remove existing %s: %w", path, err)
		}
	}

	fc := &FileContainer{
		path:   path,
		folder: p.Folder,
		comp:   p.Compression,
		now:    p.now,
	}
	if err := fc.open(os.O_CREATE | os.O_EXCL | os.O_WRONLY); err != nil {
		return nil, "", err
	}
	return fc, path, nil
}

func (p *FileProvisioner) Reopen(ctx context.Context, c Container) (Container, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	fc, ok := c.(*FileContainer)
	if !ok {
		return nil, "", ErrForeign
	}
	if fc.removed {
		return nil, "", fmt.Errorf("reopen %s: %w", fc.path, ErrReleased)
	}
	if err := fc.attach(); err != nil {
		return nil, "", err
	}
	return fc, fc.path, nil
}

func (p *FileProvisioner) Release(_ context.Context, c Container) error {
	fc, ok := c.(*FileContainer)
	if !ok {
		return ErrForeign
	}
	return fc.detach()
}

func (p *FileProvisioner) Remove(_ context.Context, c Container) error {
	fc, ok := c.(*FileContainer)
	if !ok {
		return ErrForeign
	}
	_ = fc.detach()
	fc.removed = true
	if err := os.Remove(fc.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", fc.path, err)
	}
	return nil
}

// FileContainer
// ------------------------------------------------------------
// release 된 상태에서 Append 가 들어오면 append 모드로 다시 붙는다.
// (flush 중 reopen 이 실패해도 다음 메시지부터 같은 파일에 계속 기록된다)
// Remove 이후에는 ErrReleased.
type FileContainer struct {
	path   string
	folder string
	comp   Compression
	now    func() time.Time

	f  *os.File
	bw *bufio.Writer
	zw io.WriteCloser // nil 이면 비압축
	w  io.Writer      // 실제 기록 대상 (zw 또는 bw)

	count   int64
	removed bool
}

func (c *FileContainer) Path() string { return c.path }

func (c *FileContainer) Count() int64 { return c.count }

// Append 는 메시지 1건을 mboxrd entry 로 기록한다.
func (c *FileContainer) Append(from string, raw []byte) error {
	if c.removed {
		return ErrReleased
	}
	if c.f == nil {
		if err := c.attach(); err != nil {
			return err
		}
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	writeEntry(buf, from, c.folder, raw, c.now())
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append %s: %w", c.path, err)
	}
	c.count++
	return nil
}

func (c *FileContainer) attach() error {
	if c.f != nil {
		return nil
	}
	return c.open(os.O_APPEND | os.O_WRONLY)
}

func (c *FileContainer) open(flag int) error {
	f, err := os.OpenFile(c.path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	c.f = f
	c.bw = bufio.NewWriterSize(f, 256*1024)
	c.w = c.bw

	switch c.comp {
	case Gzip:
		gw := pool.GzipPool.Get().(*gzip.Writer)
		gw.Reset(c.bw)
		c.zw = gw
		c.w = gw
	case Zstd:
		zw := pool.ZstdPool.Get().(*zstd.Encoder)
		zw.Reset(c.bw)
		c.zw = zw
		c.w = zw
	}
	return nil
}

// detach 는 열린 상태가 아니면 아무것도 하지 않는다.
// 실패해도 파일 핸들은 닫고, 첫 번째 에러를 반환한다.
func (c *FileContainer) detach() error {
	if c.f == nil {
		return nil
	}

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if c.zw != nil {
		keep(c.zw.Close())
		switch zw := c.zw.(type) {
		case *gzip.Writer:
			pool.GzipPool.Put(zw)
		case *zstd.Encoder:
			pool.ZstdPool.Put(zw)
		}
		c.zw = nil
	}
	keep(c.bw.Flush())
	keep(c.f.Sync())
	keep(c.f.Close())

	c.f, c.bw, c.w = nil, nil, nil
	if first != nil {
		return fmt.Errorf("release %s: %w", c.path, first)
	}
	return nil
}

// writeEntry
//
//	From <sender> <asctime>
//	X-Folder: <folder>
//	<raw, "From " 로 시작하는 줄은 '>' 로 quoting>
//	(빈 줄)
func writeEntry(buf *bytes.Buffer, from, folder string, raw []byte, at time.Time) {
	if from == "" {
		from = "MAILER-DAEMON"
	}
	buf.WriteString("From ")
	buf.WriteString(from)
	buf.WriteByte(' ')
	buf.WriteString(at.UTC().Format(fromLineLayout))
	buf.WriteByte('\n')

	if folder != "" {
		buf.WriteString("X-Folder: ")
		buf.WriteString(folder)
		buf.WriteByte('\n')
	}

	for len(raw) > 0 {
		line := raw
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line = raw[:i+1]
		}
		raw = raw[len(line):]

		if needsQuote(line) {
			buf.WriteByte('>')
		}
		buf.Write(line)
	}
	if b := buf.Bytes(); len(b) > 0 && b[len(b)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
}

// needsQuote: "From ", ">From ", ">>From " …
func needsQuote(line []byte) bool {
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	return bytes.HasPrefix(line[i:], []byte("From "))
}
