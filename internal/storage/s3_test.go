package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// fakeS3 is a minimal s3API double backing the multipart tests below with
// real CreateMultipartUpload/UploadPart/CompleteMultipartUpload/
// AbortMultipartUpload bookkeeping, so scenario S6 and invariant 8
// (multipart atomicity — every part lands or none do) are actually
// exercised without a live bucket.
type fakeS3 struct {
	mu sync.Mutex

	failPart int32 // part number (1-based) that misbehaves; 0 means none
	failErr  error
	failOnce bool // if true, failPart only fails its first attempt

	attempts       map[int32]int
	completed      bool
	aborted        bool
	completedParts []s3types.CompletedPart
}

func newFakeS3() *fakeS3 {
	return &fakeS3{attempts: make(map[int32]int)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	id := "test-upload-1"
	return &s3.CreateMultipartUploadOutput{UploadId: &id}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	part := *in.PartNumber
	f.attempts[part]++
	if f.failPart == part && (!f.failOnce || f.attempts[part] == 1) {
		return nil, f.failErr
	}
	etag := fmt.Sprintf("etag-%d", part)
	return &s3.UploadPartOutput{ETag: &etag}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.completedParts = in.MultipartUpload.Parts
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("fakeS3: GetObject not used by the multipart tests")
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

// respErr builds the smithy-go error shape AWS SDK v2 calls return for a
// rejected HTTP request, which is what retryablePutError classifies on.
func respErr(code int, msg string) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
		Err:      errors.New(msg),
	}
}

// withFastPartRetry lowers partRetry's backoff for the duration of a test so
// a retried part doesn't add real wall-clock delay, restoring it after.
func withFastPartRetry(t *testing.T) {
	t.Helper()
	orig := partRetry
	partRetry.InitialWait = time.Millisecond
	partRetry.MaxWait = time.Millisecond
	t.Cleanup(func() { partRetry = orig })
}

func multipartPayload(n int) Payload {
	return Payload{Reader: strings.NewReader(strings.Repeat("x", n)), Size: int64(n)}
}

func TestS3PutMultipartSucceeds(t *testing.T) {
	withFastPartRetry(t)
	fake := newFakeS3()
	s := &S3Storage{client: fake, bucket: "b", prefix: ""}

	// Just over two parts, so uploadParts fans out across three goroutines.
	payload := multipartPayload(2*partSize + 1000)
	if err := s.putMultipart(context.Background(), "splits/s1.split", payload); err != nil {
		t.Fatalf("putMultipart: %v", err)
	}
	if !fake.completed {
		t.Fatal("expected CompleteMultipartUpload to be called")
	}
	if fake.aborted {
		t.Fatal("expected no abort on a clean upload")
	}
	if len(fake.completedParts) != 3 {
		t.Fatalf("completed %d parts, want 3", len(fake.completedParts))
	}
}

func TestS3PutMultipartAbortsOnPermanentError(t *testing.T) {
	withFastPartRetry(t)
	fake := newFakeS3()
	fake.failPart = 2
	fake.failErr = respErr(403, "access denied")
	s := &S3Storage{client: fake, bucket: "b", prefix: ""}

	payload := multipartPayload(2*partSize + 1000)
	err := s.putMultipart(context.Background(), "splits/s1.split", payload)
	if err == nil {
		t.Fatal("expected an error from the rejected part")
	}
	if !fake.aborted {
		t.Fatal("expected AbortMultipartUpload on a failed part")
	}
	if fake.completed {
		t.Fatal("CompleteMultipartUpload must not run after an aborted upload")
	}
	if fake.attempts[2] != 1 {
		t.Fatalf("attempts on part 2 = %d, want 1 (403 is not retryable)", fake.attempts[2])
	}
}

func TestS3PutMultipartRetriesTransientError(t *testing.T) {
	withFastPartRetry(t)
	fake := newFakeS3()
	fake.failPart = 2
	fake.failOnce = true
	fake.failErr = respErr(503, "service unavailable")
	s := &S3Storage{client: fake, bucket: "b", prefix: ""}

	payload := multipartPayload(2*partSize + 1000)
	if err := s.putMultipart(context.Background(), "splits/s1.split", payload); err != nil {
		t.Fatalf("putMultipart: %v", err)
	}
	if !fake.completed || fake.aborted {
		t.Fatal("expected the upload to complete after the transient error is retried")
	}
	if fake.attempts[2] != 2 {
		t.Fatalf("attempts on part 2 = %d, want 2 (retry after a 503)", fake.attempts[2])
	}
}

func TestRetryablePutError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"403 forbidden is permanent", respErr(403, "x"), false},
		{"404 not found is permanent", respErr(404, "x"), false},
		{"429 too many requests is transient", respErr(429, "x"), true},
		{"503 unavailable is transient", respErr(503, "x"), true},
		{"no HTTP response at all is transient", errors.New("dial tcp: i/o timeout"), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := retryablePutError(c.err); got != c.want {
				t.Errorf("retryablePutError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
