package container

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpart/internal/metrics"
)

type fakeS3 struct {
	failPuts int
	puts     map[string][]byte
	deleted  []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPuts > 0 {
		f.failPuts--
		// 일부만 읽고 실패 → 재시도 시 rewind 가 필요하다
		_, _ = io.CopyN(io.Discard, in.Body, 3)
		return nil, errors.New("throttled")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newTestPublisher(client *fakeS3, retries int, m *metrics.Metrics) (*S3Publisher, *FileProvisioner) {
	nop := zerolog.Nop()
	inner := newTestProvisioner(None)
	up := NewS3Uploader(client, S3Options{Bucket: "archive", Prefix: "mail/2024", Retries: retries}, m)
	up.backoff = time.Millisecond
	return NewS3Publisher(inner, up, &nop), inner
}

func TestS3Publisher_ReleaseUploads(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{failPuts: 2}
	m := metrics.New()
	pub, _ := newTestPublisher(client, 3, m)

	path := filepath.Join(t.TempDir(), "emails_part1.mbox")
	c, _, err := pub.Provision(ctx, path)
	require.NoError(t, err)
	require.NoError(t, c.Append("a@example.com", []byte("Subject: x\n\nbody\n")))
	require.NoError(t, pub.Release(ctx, c))

	body, ok := client.puts["mail/2024/emails_part1.mbox"]
	require.True(t, ok)
	assert.Equal(t, readAll(t, path, None), string(body))
	assert.Equal(t, int64(1), m.S3ObjectsStoredTotal)
	assert.Equal(t, int64(2), m.S3PutErrorsTotal)
}

func TestS3Publisher_ReleaseFailsAfterRetries(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{failPuts: 5}
	pub, _ := newTestPublisher(client, 2, nil)

	c, _, err := pub.Provision(ctx, filepath.Join(t.TempDir(), "emails_part1.mbox"))
	require.NoError(t, err)

	err = pub.Release(ctx, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://archive/mail/2024/emails_part1.mbox")
	assert.Empty(t, client.puts)
}

func TestS3Publisher_RemoveDeletesObject(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{}
	pub, _ := newTestPublisher(client, 1, nil)

	c, _, err := pub.Provision(ctx, filepath.Join(t.TempDir(), "emails_part1.mbox"))
	require.NoError(t, err)
	require.NoError(t, pub.Remove(ctx, c))
	assert.Equal(t, []string{"mail/2024/emails_part1.mbox"}, client.deleted)
}

func TestS3Uploader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	up := NewS3Uploader(&fakeS3{}, S3Options{Bucket: "b", Retries: 3}, nil)
	err := up.UploadFileWithRetryCtx(ctx, "k", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestS3Uploader_Key(t *testing.T) {
	up := NewS3Uploader(&fakeS3{}, S3Options{Bucket: "b"}, nil)
	assert.Equal(t, "emails_part1.mbox.gz", up.Key("/out/emails_part1.mbox.gz"))

	up = NewS3Uploader(&fakeS3{}, S3Options{Bucket: "b", Prefix: "x/y"}, nil)
	assert.Equal(t, "x/y/emails_part1.mbox.gz", up.Key("/out/emails_part1.mbox.gz"))
}
