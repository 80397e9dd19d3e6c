package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpart/internal/container"
	"mailpart/internal/metrics"
	"mailpart/internal/model"
	"mailpart/internal/partition"
)

const emlSize = 200

// writeEML 은 크기가 정확히 emlSize 인 .eml 을 만든다.
func writeEML(t *testing.T, dir, name, date, subject string) {
	t.Helper()
	var b strings.Builder
	if date != "" {
		b.WriteString("Date: " + date + "\n")
	}
	b.WriteString("Subject: " + subject + "\n\n")
	body := emlSize - b.Len() - 1
	require.Positive(t, body)
	b.WriteString(strings.Repeat("x", body))
	b.WriteString("\n")

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644))
}

func seedMailbox(t *testing.T) string {
	src := t.TempDir()
	writeEML(t, src, "a.eml", "Mon, 1 Apr 2019 10:00:00 +0000", "a")
	writeEML(t, src, "b.eml", "Tue, 3 Mar 2020 10:00:00 +0000", "b")
	writeEML(t, filepath.Join(src, "sub"), "c.eml", "Wed, 4 Mar 2020 10:00:00 +0000", "c")
	writeEML(t, src, "d.eml", "", "d")
	return src
}

func newTestImporter(opts ImporterOptions, prov container.Provisioner, q *Quarantine, m *metrics.Metrics) *Importer {
	nop := zerolog.Nop()
	if opts.BaseName == "" {
		opts.BaseName = "emails"
	}
	if opts.Ext == "" {
		opts.Ext = container.None.Ext()
	}
	return NewImporter(opts, prov, q, m, &nop)
}

func newFileProv() *container.FileProvisioner {
	nop := zerolog.Nop()
	return container.NewFileProvisioner(container.None, "Imported (EML)", &nop)
}

func readManifest(t *testing.T, path string) []model.PartRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []model.PartRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec model.PartRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func countEntries(t *testing.T, path string) int {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return bytes.Count(b, []byte("X-Folder: "))
}

func TestImporter_SplitByYear(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	m := metrics.New()
	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out, SplitByYear: true, MaxBytes: 1 << 30}, newFileProv(), nil, m)

	sum, err := im.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), sum.Scanned)
	assert.Equal(t, int64(4), sum.Written)
	require.Len(t, sum.Parts, 3)

	byKey := map[string]model.PartRecord{}
	for _, p := range sum.Parts {
		byKey[p.Key] = p
	}
	assert.Equal(t, int64(1), byKey["2019"].Items)
	assert.Equal(t, int64(2), byKey["2020"].Items)
	assert.Equal(t, int64(1), byKey["1970"].Items, "undated message goes to the sentinel year")
	assert.Equal(t, filepath.Join(out, "emails_2020_part1.mbox"), byKey["2020"].Path)
	assert.Equal(t, 2, countEntries(t, byKey["2020"].Path))

	assert.Equal(t, ManifestPath(out, "emails"), sum.Manifest)
	assert.Equal(t, sum.Parts, readManifest(t, sum.Manifest))

	assert.Equal(t, int64(4), m.ItemsWrittenTotal)
	assert.Equal(t, int64(4*emlSize), m.BytesWrittenTotal)
	assert.Equal(t, int64(0), m.ContainersOpen)
}

func TestImporter_SequentialRotation(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out, MaxBytes: emlSize + emlSize/2}, newFileProv(), nil, nil)

	sum, err := im.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Parts, 4)
	for i, p := range sum.Parts {
		assert.Equal(t, i+1, p.Part)
		assert.Equal(t, int64(1), p.Items)
		assert.Equal(t, filepath.Join(out, fmt.Sprintf("emails_part%d.mbox", i+1)), p.Path)
		assert.Equal(t, 1, countEntries(t, p.Path))
	}
}

func TestImporter_EvenSplit(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out, Splits: 2}, newFileProv(), nil, nil)

	sum, err := im.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2*emlSize), sum.Target)
	require.Len(t, sum.Parts, 2)
	assert.Equal(t, int64(2), sum.Parts[0].Items)
	assert.Equal(t, int64(2), sum.Parts[1].Items)
	assert.Equal(t, int64(4*emlSize), sum.Bytes)
}

func TestImporter_FlushAndCountKeepContent(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	m := metrics.New()
	im := newTestImporter(ImporterOptions{
		SrcDir: src, OutDir: out,
		FlushEvery: 1, CountEvery: 1, ProgressEvery: 1,
	}, newFileProv(), nil, m)

	sum, err := im.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Parts, 1)
	assert.Equal(t, int64(4), sum.Parts[0].Items)
	assert.Equal(t, 4, countEntries(t, sum.Parts[0].Path))
	assert.Equal(t, int64(4), m.FlushesTotal)
	assert.Zero(t, m.FlushErrorsTotal)
}

// flakyProvisioner 는 "FAIL" 을 포함한 메시지의 Append 를 실패시킨다.
type flakyProvisioner struct {
	*container.FileProvisioner
	failProvision bool
}

type flakyContainer struct{ container.Container }

func (c flakyContainer) Append(from string, raw []byte) error {
	if bytes.Contains(raw, []byte("FAIL")) {
		return errors.New("simulated write error")
	}
	return c.Container.Append(from, raw)
}

func (p *flakyProvisioner) Provision(ctx context.Context, path string) (container.Container, string, error) {
	if p.failProvision {
		return nil, "", errors.New("no space left on device")
	}
	c, actual, err := p.FileProvisioner.Provision(ctx, path)
	if err != nil {
		return nil, "", err
	}
	return flakyContainer{c}, actual, nil
}

func (p *flakyProvisioner) Reopen(ctx context.Context, c container.Container) (container.Container, string, error) {
	inner, actual, err := p.FileProvisioner.Reopen(ctx, c.(flakyContainer).Container)
	if err != nil {
		return nil, "", err
	}
	return flakyContainer{inner}, actual, nil
}

func (p *flakyProvisioner) Release(ctx context.Context, c container.Container) error {
	return p.FileProvisioner.Release(ctx, c.(flakyContainer).Container)
}

func (p *flakyProvisioner) Remove(ctx context.Context, c container.Container) error {
	return p.FileProvisioner.Remove(ctx, c.(flakyContainer).Container)
}

func TestImporter_FailedItemIsQuarantinedAndNotCounted(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	writeEML(t, src, "e.eml", "Thu, 5 Mar 2020 10:00:00 +0000", "FAIL")

	m := metrics.New()
	q := newTestQuarantine(t, filepath.Join(out, "_quarantine"), 0, 0, m)
	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out, SplitByYear: true}, &flakyProvisioner{FileProvisioner: newFileProv()}, q, m)

	sum, err := im.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), sum.Written)
	assert.Equal(t, int64(1), sum.Failed)
	for _, p := range sum.Parts {
		if p.Key == "2020" {
			assert.Equal(t, int64(2), p.Items)
			assert.Equal(t, int64(2*emlSize), p.Bytes)
		}
	}

	files := q.dataFiles()
	require.Len(t, files, 1)
	meta, err := os.ReadFile(filepath.Join(q.Dir(), files[0]+".meta.json"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "e.eml")
	assert.Contains(t, string(meta), "emails_2020_part1.mbox")
	assert.Equal(t, int64(1), m.ItemsFailedTotal)
}

func TestImporter_EmptyPartIsRemoved(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeEML(t, src, "a.eml", "Mon, 1 Apr 2019 10:00:00 +0000", "ok")
	writeEML(t, src, "b.eml", "Tue, 2 Apr 2024 10:00:00 +0000", "FAIL")

	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out, SplitByYear: true}, &flakyProvisioner{FileProvisioner: newFileProv()}, nil, nil)
	sum, err := im.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Parts, 1)
	assert.Equal(t, "2019", sum.Parts[0].Key)
	_, err = os.Stat(filepath.Join(out, "emails_2024_part1.mbox"))
	assert.True(t, os.IsNotExist(err))
}

func TestImporter_ProvisionFailureIsFatal(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out}, &flakyProvisioner{FileProvisioner: newFileProv(), failProvision: true}, nil, nil)

	sum, err := im.Run(context.Background())
	require.ErrorIs(t, err, partition.ErrProvision)
	assert.Zero(t, sum.Written)
	assert.Empty(t, sum.Parts)
}

func TestImporter_CancelledContextClosesContainers(t *testing.T) {
	src, out := seedMailbox(t), t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.New()
	im := newTestImporter(ImporterOptions{SrcDir: src, OutDir: out}, newFileProv(), nil, m)
	_, err := im.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.ContainersOpen)
}

func TestImporter_NoFiles(t *testing.T) {
	im := newTestImporter(ImporterOptions{SrcDir: t.TempDir(), OutDir: t.TempDir()}, newFileProv(), nil, nil)
	sum, err := im.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Scanned)
	assert.Empty(t, sum.Manifest)
}
