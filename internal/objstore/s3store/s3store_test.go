package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ligustah/gulp/internal/objstore"
)

// fakeS3 records the inputs it receives. Unimplemented methods panic through
// the embedded nil interface.
type fakeS3 struct {
	s3iface.S3API

	head    *s3.HeadObjectInput
	get     *s3.GetObjectInput
	headErr error
	getErr  error
	body    string
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.head = in
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(f.body))),
		ETag:          aws.String(`"abc123"`),
	}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.get = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(f.body)),
		ContentLength: aws.Int64(int64(len(f.body))),
	}, nil
}

func TestHeadMapsArgs(t *testing.T) {
	fake := &fakeS3{body: "0123456789"}
	client := New(fake)

	attrs, err := client.Head(context.Background(), "bucket", "key", objstore.Args{
		objstore.ArgVersionID:           "v7",
		objstore.ArgRequestPayer:        "requester",
		objstore.ArgExpectedBucketOwner: "111122223333",
	})
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if attrs.Size != 10 {
		t.Errorf("expected size 10, got %d", attrs.Size)
	}
	if attrs.ETag != "abc123" {
		t.Errorf("expected unquoted etag, got %q", attrs.ETag)
	}
	if aws.StringValue(fake.head.VersionId) != "v7" {
		t.Errorf("VersionId not forwarded: %v", fake.head.VersionId)
	}
	if aws.StringValue(fake.head.RequestPayer) != "requester" {
		t.Errorf("RequestPayer not forwarded: %v", fake.head.RequestPayer)
	}
	if aws.StringValue(fake.head.ExpectedBucketOwner) != "111122223333" {
		t.Errorf("ExpectedBucketOwner not forwarded: %v", fake.head.ExpectedBucketOwner)
	}
}

func TestGetObjectMapsArgs(t *testing.T) {
	fake := &fakeS3{body: "payload"}
	client := New(fake)

	resp, err := client.GetObject(context.Background(), "bucket", "key", objstore.Args{
		objstore.ArgRange:                "bytes=0-6",
		objstore.ArgSSECustomerAlgorithm: "AES256",
		objstore.ArgSSECustomerKey:       "secret",
		objstore.ArgSSECustomerKeyMD5:    "digest",
	})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "payload" {
		t.Errorf("unexpected body %q", body)
	}
	if resp.ContentLength != 7 {
		t.Errorf("expected content length 7, got %d", resp.ContentLength)
	}
	if aws.StringValue(fake.get.Range) != "bytes=0-6" {
		t.Errorf("Range not forwarded: %v", fake.get.Range)
	}
	if aws.StringValue(fake.get.SSECustomerAlgorithm) != "AES256" ||
		aws.StringValue(fake.get.SSECustomerKey) != "secret" ||
		aws.StringValue(fake.get.SSECustomerKeyMD5) != "digest" {
		t.Errorf("SSE-C args not forwarded: %+v", fake.get)
	}
}

func TestUnsupportedArg(t *testing.T) {
	client := New(&fakeS3{})

	_, err := client.GetObject(context.Background(), "b", "k", objstore.Args{"ACL": "private"})
	if !errors.Is(err, objstore.ErrUnsupportedArg) {
		t.Errorf("expected ErrUnsupportedArg, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"head 404", awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), 404, "req")},
		{"no such key", awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)},
		{"no such bucket", awserr.New(s3.ErrCodeNoSuchBucket, "missing", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(&fakeS3{headErr: tt.err})
			_, err := client.Head(context.Background(), "b", "k", nil)
			if !errors.Is(err, objstore.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			if client.Retryable(err) {
				t.Error("not found must not be retryable")
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	client := New(&fakeS3{})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"throttle", awserr.New("SlowDown", "slow down", nil), true},
		{"wrapped throttle", fmt.Errorf("get object: %w", awserr.New("SlowDown", "slow down", nil)), true},
		{"request timeout", awserr.New("RequestTimeout", "idle connection", nil), true},
		{"sdk throttle", awserr.New("ThrottlingException", "throttled", nil), true},
		{"access denied", awserr.New("AccessDenied", "denied", nil), false},
		{"request error", awserr.New(request.ErrCodeRequestError, "send failed", nil), true},
		{"500", awserr.NewRequestFailure(awserr.New("InternalError", "boom", nil), 500, "req"), true},
		{"503", awserr.NewRequestFailure(awserr.New("ServiceUnavailable", "busy", nil), 503, "req"), true},
		{"403", awserr.NewRequestFailure(awserr.New("AccessDenied", "denied", nil), 403, "req"), false},
		{"truncated body", io.ErrUnexpectedEOF, true},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFactoryBuildsClient(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	factory := NewFactory(Options{
		Region:     "us-east-1",
		Endpoint:   "http://127.0.0.1:9000",
		PathStyle:  true,
		DisableSSL: true,
	})

	client, err := factory(context.Background())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
