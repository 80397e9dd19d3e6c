package container

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpart/internal/source"
)

func newTestProvisioner(comp Compression) *FileProvisioner {
	nop := zerolog.Nop()
	p := NewFileProvisioner(comp, "Imported (EML)", &nop)
	p.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p
}

func readAll(t *testing.T, path string, comp Compression) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	switch comp {
	case Gzip:
		gr, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	case Zstd:
		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	}
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestFileProvisioner_RoundTripAcrossFlush(t *testing.T) {
	for _, comp := range []Compression{Gzip, Zstd, None} {
		t.Run(string(comp), func(t *testing.T) {
			ctx := context.Background()
			p := newTestProvisioner(comp)
			path := filepath.Join(t.TempDir(), "out", "emails_part1"+comp.Ext())

			c, actual, err := p.Provision(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, path, actual)

			require.NoError(t, c.Append("a@example.com", []byte("Subject: one\n\nFrom here\n")))
			require.NoError(t, c.Append("", []byte("Subject: two\n\nbody")))

			// flush
			require.NoError(t, p.Release(ctx, c))
			c2, _, err := p.Reopen(ctx, c)
			require.NoError(t, err)
			require.NoError(t, c2.Append("b@example.com", []byte("Subject: three\n\n>From quoted\n")))
			require.NoError(t, p.Release(ctx, c2))
			assert.Equal(t, int64(3), c2.Count())

			got := readAll(t, path, comp)
			assert.Equal(t, 3, strings.Count(got, "X-Folder: Imported (EML)\n"))
			assert.Contains(t, got, "From a@example.com Tue Jan  2 03:04:05 2024\n")
			assert.Contains(t, got, "From MAILER-DAEMON ")
			assert.Contains(t, got, "\n>From here\n")
			assert.Contains(t, got, "\n>>From quoted\n")

			// mbox reader 로 다시 읽으면 원문이 복원된다
			r := source.NewMboxReader(strings.NewReader(got))
			var subjects []string
			for {
				m, err := r.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				subjects = append(subjects, strings.SplitN(string(m.Raw), "\n", 3)[1])
			}
			assert.Equal(t, []string{"Subject: one", "Subject: two", "Subject: three"}, subjects)
		})
	}
}

func TestFileProvisioner_ProvisionReplacesExisting(t *testing.T) {
	ctx := context.Background()
	p := newTestProvisioner(None)
	path := filepath.Join(t.TempDir(), "emails_part1.mbox")
	require.NoError(t, os.WriteFile(path, []byte("stale content"), 0o644))

	c, _, err := p.Provision(ctx, path)
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, c))

	got := readAll(t, path, None)
	assert.Empty(t, got)
	assert.Zero(t, c.Count())
}

func TestFileContainer_AppendAfterReleaseReattaches(t *testing.T) {
	ctx := context.Background()
	p := newTestProvisioner(Gzip)
	path := filepath.Join(t.TempDir(), "emails_part1.mbox.gz")

	c, _, err := p.Provision(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.Append("", []byte("Subject: a\n\nx\n")))
	require.NoError(t, p.Release(ctx, c))
	require.NoError(t, p.Release(ctx, c), "release is idempotent")

	require.NoError(t, c.Append("", []byte("Subject: b\n\ny\n")))
	require.NoError(t, p.Release(ctx, c))

	got := readAll(t, path, Gzip)
	assert.Equal(t, 2, strings.Count(got, "X-Folder: "))
	assert.Equal(t, int64(2), c.Count())
}

func TestFileProvisioner_Remove(t *testing.T) {
	ctx := context.Background()
	p := newTestProvisioner(None)
	path := filepath.Join(t.TempDir(), "emails_part1.mbox")

	c, _, err := p.Provision(ctx, path)
	require.NoError(t, err)
	require.NoError(t, p.Remove(ctx, c))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, c.Append("", []byte("x")), ErrReleased)
	_, _, err = p.Reopen(ctx, c)
	assert.ErrorIs(t, err, ErrReleased)
}

type otherContainer struct{}

func (otherContainer) Path() string                { return "" }
func (otherContainer) Append(string, []byte) error { return nil }
func (otherContainer) Count() int64                { return 0 }

func TestFileProvisioner_RejectsForeignContainer(t *testing.T) {
	ctx := context.Background()
	p := newTestProvisioner(None)

	assert.ErrorIs(t, p.Release(ctx, otherContainer{}), ErrForeign)
	assert.ErrorIs(t, p.Remove(ctx, otherContainer{}), ErrForeign)
	_, _, err := p.Reopen(ctx, otherContainer{})
	assert.ErrorIs(t, err, ErrForeign)
}

func TestCompressionExt(t *testing.T) {
	assert.Equal(t, ".mbox.gz", Gzip.Ext())
	assert.Equal(t, ".mbox.zst", Zstd.Ext())
	assert.Equal(t, ".mbox", None.Ext())
}
