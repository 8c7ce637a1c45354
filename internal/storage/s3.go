package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/wessley-search/splitcore/internal/model"
	"github.com/wessley-search/splitcore/pkg/fn"
	"github.com/wessley-search/splitcore/pkg/resilience"
)

// Multipart policy (spec.md §4.10/§6).
const (
	partThreshold            = 100 << 20 // 100 MiB
	partSize                 = 20 << 20  // 20 MiB
	maxConcurrentUploadParts = 4
)

var partRetry = fn.RetryOpts{
	MaxAttempts: 3, InitialWait: time.Second, MaxWait: 10 * time.Second, Jitter: true,
	Retryable: retryablePutError,
}

// retryablePutError implements spec.md §4.10/§6's classification: a 4xx
// response other than 429 is permanent (the request itself is wrong — bad
// credentials, bad bucket policy — and retrying changes nothing), while a
// 429, any 5xx, or an error that never reached the point of getting an HTTP
// status at all (a dial timeout, a dropped connection) is treated as
// transient.
func retryablePutError(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 429 || code >= 500
	}
	// No HTTP response at all (a dial timeout, a dropped connection) reads
	// as transient — there's nothing here that looks like a permanent 4xx.
	return true
}

// s3API is the subset of *s3.Client this file calls. Tests substitute a
// fake satisfying this instead of standing up a real bucket.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// requestLimiter caps the request rate PutObject/UploadPart/GetObject issue
// against a single bucket. S3 throttles a prefix with 503 SlowDown well
// before partRetry's 3-attempt budget helps on a sustained burst
// (many large splits finishing their merge at once); spreading requests out
// up front means fewer retries ever trigger.
var requestLimiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: 200, Burst: 50})

// S3Storage is the s3://bucket/prefix backend.
type S3Storage struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Storage resolves region (spec.md §6's detection order) and builds an
// S3Storage for rest, the part of the URI after s3://.
func NewS3Storage(ctx context.Context, rest string) (*S3Storage, error) {
	bucket, prefix, _ := strings.Cut(rest, "/")

	region, endpoint, customEndpoint := detectRegion(ctx)
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, model.NewError(model.KindConfig, "s3.NewS3Storage", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if customEndpoint && endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Storage{client: client, bucket: bucket, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

var _ Storage = (*S3Storage)(nil)

// detectRegion follows spec.md §6's order: explicit config is handled by the
// caller (Open never sees it — callers that need an explicit region pass it
// via AWS_REGION before calling Open); then env, then the AWS config file,
// then EC2 IMDS, then us-east-1. A non-empty QW_S3_ENDPOINT means a custom,
// non-AWS endpoint, named "custom" unless AWS_REGION overrides it.
func detectRegion(ctx context.Context) (region string, endpoint string, custom bool) {
	endpoint = os.Getenv("QW_S3_ENDPOINT")
	if endpoint != "" {
		if r := os.Getenv("AWS_REGION"); r != "" {
			return r, endpoint, true
		}
		return "custom", endpoint, true
	}
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r, "", false
	}
	if r := os.Getenv("AWS_DEFAULT_REGION"); r != "" {
		return r, "", false
	}
	if cfg, err := awsconfig.LoadDefaultConfig(ctx); err == nil && cfg.Region != "" {
		return cfg.Region, "", false
	}
	if r, err := regionFromIMDS(ctx); err == nil && r != "" {
		return r, "", false
	}
	return "us-east-1", "", false
}

func regionFromIMDS(ctx context.Context) (string, error) {
	client := imds.New(imds.Options{})
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", err
	}
	return out.Region, nil
}

func (s *S3Storage) key(path string) string {
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3Storage) Put(ctx context.Context, path string, payload Payload) error {
	if payload.Size < partThreshold {
		return s.putSingle(ctx, path, payload)
	}
	return s.putMultipart(ctx, path, payload)
}

func (s *S3Storage) putSingle(ctx context.Context, path string, payload Payload) error {
	body, err := io.ReadAll(payload.Reader)
	if err != nil {
		return model.NewError(model.KindIO, "s3.Put", err)
	}
	if err := requestLimiter.Wait(ctx); err != nil {
		return model.NewError(model.KindIO, "s3.Put", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return model.NewError(model.KindIO, "s3.Put", err)
	}
	return nil
}

// putMultipart uploads payload in fixed-size parts with
// maxConcurrentUploadParts parallelism (spec.md §4.10). Any terminal
// failure aborts the multipart upload best-effort.
func (s *S3Storage) putMultipart(ctx context.Context, path string, payload Payload) error {
	key := s.key(path)
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return model.NewError(model.KindIO, "s3.putMultipart", err)
	}
	uploadID := created.UploadId

	parts, uploadErr := s.uploadParts(ctx, key, *uploadID, payload)
	if uploadErr != nil {
		_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
		})
		return model.NewError(model.KindIO, "s3.putMultipart", uploadErr)
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket: aws.String(s.bucket), Key: aws.String(key), UploadId: uploadID,
		})
		return model.NewError(model.KindIO, "s3.putMultipart", err)
	}
	return nil
}

// uploadParts uploads every chunk with at most maxConcurrentUploadParts in
// flight at once (spec.md §4.10), via fn.ParMapResult rather than a hand-
// rolled worker pool — one chunk's index is also its part number, so the
// returned per-index Results need no separate reassembly step.
func (s *S3Storage) uploadParts(ctx context.Context, key, uploadID string, payload Payload) ([]s3types.CompletedPart, error) {
	chunks, err := splitIntoParts(payload.Reader)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		i     int
		chunk []byte
	}
	items := make([]indexed, len(chunks))
	for i, c := range chunks {
		items[i] = indexed{i: i, chunk: c}
	}

	parts := fn.ParMapResult(items, maxConcurrentUploadParts, func(it indexed) fn.Result[s3types.CompletedPart] {
		partNum := int32(it.i + 1)
		sum := md5.Sum(it.chunk)
		checksum := base64.StdEncoding.EncodeToString(sum[:])

		return fn.MapResult(fn.Retry(ctx, partRetry, func(ctx context.Context) fn.Result[*s3.UploadPartOutput] {
			if err := requestLimiter.Wait(ctx); err != nil {
				return fn.Err[*s3.UploadPartOutput](err)
			}
			out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   aws.String(uploadID),
				PartNumber: aws.Int32(partNum),
				Body:       bytes.NewReader(it.chunk),
				ContentMD5: aws.String(checksum),
			})
			if err != nil {
				return fn.Err[*s3.UploadPartOutput](err)
			}
			return fn.Ok(out)
		}), func(out *s3.UploadPartOutput) s3types.CompletedPart {
			return s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNum)}
		})
	})

	completed := make([]s3types.CompletedPart, len(parts))
	for i, r := range parts {
		p, err := r.Unwrap()
		if err != nil {
			return nil, err
		}
		completed[i] = p
	}
	return completed, nil
}

func splitIntoParts(r io.Reader) ([][]byte, error) {
	var chunks [][]byte
	for {
		buf := make([]byte, partSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

func rangeHeader(r model.ByteRange) string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

func (s *S3Storage) GetSlice(ctx context.Context, path string, r model.ByteRange) ([]byte, error) {
	if err := requestLimiter.Wait(ctx); err != nil {
		return nil, model.NewError(model.KindIO, "s3.GetSlice", err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
		Range:  aws.String(rangeHeader(r)),
	})
	if err != nil {
		return nil, model.NewError(model.KindIO, "s3.GetSlice", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.NewError(model.KindIO, "s3.GetSlice", err)
	}
	return b, nil
}

func (s *S3Storage) GetAll(ctx context.Context, path string) ([]byte, error) {
	if err := requestLimiter.Wait(ctx); err != nil {
		return nil, model.NewError(model.KindIO, "s3.GetAll", err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(path))})
	if err != nil {
		return nil, model.NewError(model.KindIO, "s3.GetAll", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.NewError(model.KindIO, "s3.GetAll", err)
	}
	return b, nil
}

func (s *S3Storage) CopyToFile(ctx context.Context, path, dest string) error {
	b, err := s.GetAll(ctx, path)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, b, 0o644)
}

func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(path))})
	if err != nil {
		return model.NewError(model.KindIO, "s3.Delete", err)
	}
	return nil
}

func (s *S3Storage) FileNumBytes(ctx context.Context, path string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(path))})
	if err != nil {
		return 0, model.NewError(model.KindIO, "s3.FileNumBytes", err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

func (s *S3Storage) CheckConnectivity(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return model.NewError(model.KindIO, "s3.CheckConnectivity", err)
	}
	return nil
}
