// internal/container/s3.go
package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"mailpart/internal/metrics"
)

// S3API 는 S3Uploader 가 쓰는 client 메서드만 모은 것 (테스트에서 fake 주입).
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options
//   - Timeout : PutObject 1회 시도당 timeout
//   - Retries : 애플리케이션 레벨 재시도 횟수 (SDK retry 는 0)
type S3Options struct {
	Bucket  string
	Prefix  string
	Timeout time.Duration
	Retries int
}

// NewS3Client 는 region 으로 AWS 기본 설정을 로드하고 SDK 내부 retry 를 끈 client 를 만든다.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	}), nil
}

// S3Uploader
// ------------------------------------------------------------
// 완성된 컨테이너 파일을 S3 로 올린다.
//   - retry + exponential backoff (최대 2초)
//   - shutdown-safe: ctx.Done() 시 즉시 중단
type S3Uploader struct {
	opts    S3Options
	client  S3API
	metrics *metrics.Metrics
	backoff time.Duration
}

func NewS3Uploader(client S3API, opts S3Options, m *metrics.Metrics) *S3Uploader {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	return &S3Uploader{
		opts:    opts,
		client:  client,
		metrics: m,
		backoff: 200 * time.Millisecond,
	}
}

// Key: <prefix>/<파일명>. prefix 가 없으면 파일명만.
func (u *S3Uploader) Key(localPath string) string {
	name := filepath.Base(localPath)
	if u.opts.Prefix == "" {
		return name
	}
	return path.Join(u.opts.Prefix, name)
}

// UploadFileWithRetryCtx
// ------------------------------------------------------------
// io.ReadSeeker 를 사용하여 retry 시 Seek(0) 으로 rewind 한다.
func (u *S3Uploader) UploadFileWithRetryCtx(
	ctx context.Context,
	key string,
	f io.ReadSeeker,
	size int64,
) error {

	var lastErr error
	backoff := u.backoff

	for attempt := 1; attempt <= u.opts.Retries; attempt++ {

		// shutdown 체크
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 1 {
			// retry 시 파일 포인터를 처음으로 되돌린다 (반드시 필요)
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind %s: %w", key, err)
			}
		}

		err := u.putObject(ctx, key, f, size)
		if err == nil {
			atomic.AddInt64(&u.metrics.S3ObjectsStoredTotal, 1)
			return nil
		}
		lastErr = err
		atomic.AddInt64(&u.metrics.S3PutErrorsTotal, 1)

		if attempt == u.opts.Retries {
			break
		}

		// backoff 적용 (최대 2초)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}

	return fmt.Errorf("put s3://%s/%s: %w", u.opts.Bucket, key, lastErr)
}

// Delete 는 1회만 시도한다 (best-effort 정리용).
func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	ctx2, cancel := context.WithTimeout(ctx, u.opts.Timeout)
	defer cancel()

	_, err := u.client.DeleteObject(ctx2, &s3.DeleteObjectInput{
		Bucket: aws.String(u.opts.Bucket),
		Key:    aws.String(key),
	})
	return err
}

// putObject: 1회 호출만 담당, 시도당 timeout 적용.
func (u *S3Uploader) putObject(
	ctx context.Context,
	key string,
	body io.Reader,
	size int64,
) error {

	ctx2, cancel := context.WithTimeout(ctx, u.opts.Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(u.opts.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})

	return err
}

// S3Publisher
// ------------------------------------------------------------
// 다른 Provisioner 를 감싸서 Release 시점에 컨테이너 파일을 S3 로 올린다.
//
//   - Release : inner.Release 후 업로드. flush 때도 호출되므로
//     진행 중인 part 는 마지막 Release 의 내용으로 덮어써진다.
//   - Remove  : inner.Remove 후 object 삭제 (실패는 경고만)
//
// 업로드 실패는 Release 에러로 돌려준다 (라우터가 경고 로그로 처리).
type S3Publisher struct {
	inner Provisioner
	up    *S3Uploader
	log   zerolog.Logger
}

func NewS3Publisher(inner Provisioner, up *S3Uploader, lg *zerolog.Logger) *S3Publisher {
	l := zlog.Logger
	if lg != nil {
		l = *lg
	}
	return &S3Publisher{
		inner: inner,
		up:    up,
		log:   l.With().Str("component", "s3").Logger(),
	}
}

func (p *S3Publisher) Provision(ctx context.Context, path string) (Container, string, error) {
	return p.inner.Provision(ctx, path)
}

func (p *S3Publisher) Reopen(ctx context.Context, c Container) (Container, string, error) {
	return p.inner.Reopen(ctx, c)
}

func (p *S3Publisher) Release(ctx context.Context, c Container) error {
	if err := p.inner.Release(ctx, c); err != nil {
		return err
	}

	f, err := os.Open(c.Path())
	if err != nil {
		return fmt.Errorf("open for upload %s: %w", c.Path(), err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", c.Path(), err)
	}

	key := p.up.Key(c.Path())
	if err := p.up.UploadFileWithRetryCtx(ctx, key, f, st.Size()); err != nil {
		return err
	}
	p.log.Info().
		Str("path", c.Path()).
		Str("key", key).
		Int64("bytes", st.Size()).
		Msg("container uploaded")
	return nil
}

func (p *S3Publisher) Remove(ctx context.Context, c Container) error {
	err := p.inner.Remove(ctx, c)
	if derr := p.up.Delete(ctx, p.up.Key(c.Path())); derr != nil {
		p.log.Warn().Err(derr).Str("path", c.Path()).Msg("delete uploaded container failed")
	}
	return err
}
