package s3store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/ligustah/gulp/internal/objstore"
)

// Options configures S3 clients.
type Options struct {
	// Region is the AWS region of the buckets.
	Region string

	// CredFile is the path to a shared credentials file. When empty the
	// default credential chain is used.
	CredFile string

	// Profile selects the profile inside CredFile.
	// Default: "default"
	Profile string

	// Endpoint overrides the S3 endpoint (e.g. a MinIO server).
	Endpoint string

	// PathStyle forces path-style addressing, required by most S3-compatible
	// servers.
	PathStyle bool

	// DisableSSL talks plain HTTP to Endpoint.
	DisableSSL bool

	// MaxRetries is the SDK's own retry count per request. Workers already
	// retry transient failures, so the default keeps the SDK from retrying.
	// Default: 0
	MaxRetries int
}

// Client reads objects from S3.
type Client struct {
	svc s3iface.S3API
}

// NewFactory returns a Factory creating one session and client per call.
func NewFactory(opts Options) objstore.Factory {
	return func(context.Context) (objstore.Client, error) {
		svc, err := newService(opts)
		if err != nil {
			return nil, err
		}
		return New(svc), nil
	}
}

// New wraps an existing S3 API implementation.
func New(svc s3iface.S3API) *Client {
	return &Client{svc: svc}
}

func newService(opts Options) (*s3.S3, error) {
	cfg := &aws.Config{
		MaxRetries: aws.Int(opts.MaxRetries),
	}
	if opts.Region != "" {
		cfg.Region = aws.String(opts.Region)
	}
	if opts.CredFile != "" {
		profile := opts.Profile
		if profile == "" {
			profile = "default"
		}
		cfg.Credentials = credentials.NewSharedCredentials(opts.CredFile, profile)
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.PathStyle {
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if opts.DisableSSL {
		cfg.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3store: create session: %w", err)
	}
	return s3.New(sess), nil
}

// Head implements objstore.Client.
func (c *Client) Head(ctx context.Context, bucket, key string, args objstore.Args) (*objstore.Attributes, error) {
	in := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	for k, v := range args {
		switch k {
		case objstore.ArgVersionID:
			in.VersionId = aws.String(v)
		case objstore.ArgSSECustomerAlgorithm:
			in.SSECustomerAlgorithm = aws.String(v)
		case objstore.ArgSSECustomerKey:
			in.SSECustomerKey = aws.String(v)
		case objstore.ArgSSECustomerKeyMD5:
			in.SSECustomerKeyMD5 = aws.String(v)
		case objstore.ArgRequestPayer:
			in.RequestPayer = aws.String(v)
		case objstore.ArgExpectedBucketOwner:
			in.ExpectedBucketOwner = aws.String(v)
		case objstore.ArgRange:
			in.Range = aws.String(v)
		default:
			return nil, fmt.Errorf("s3store: %w: %s", objstore.ErrUnsupportedArg, k)
		}
	}

	out, err := c.svc.HeadObjectWithContext(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("s3store: head %s/%s: %w", bucket, key, translate(err))
	}

	attrs := &objstore.Attributes{
		Size:        aws.Int64Value(out.ContentLength),
		ETag:        strings.Trim(aws.StringValue(out.ETag), `"`),
		ContentType: aws.StringValue(out.ContentType),
	}
	if out.LastModified != nil {
		attrs.LastModified = *out.LastModified
	}
	return attrs, nil
}

// GetObject implements objstore.Client.
func (c *Client) GetObject(ctx context.Context, bucket, key string, args objstore.Args) (*objstore.Response, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	for k, v := range args {
		switch k {
		case objstore.ArgRange:
			in.Range = aws.String(v)
		case objstore.ArgVersionID:
			in.VersionId = aws.String(v)
		case objstore.ArgSSECustomerAlgorithm:
			in.SSECustomerAlgorithm = aws.String(v)
		case objstore.ArgSSECustomerKey:
			in.SSECustomerKey = aws.String(v)
		case objstore.ArgSSECustomerKeyMD5:
			in.SSECustomerKeyMD5 = aws.String(v)
		case objstore.ArgRequestPayer:
			in.RequestPayer = aws.String(v)
		case objstore.ArgExpectedBucketOwner:
			in.ExpectedBucketOwner = aws.String(v)
		default:
			return nil, fmt.Errorf("s3store: %w: %s", objstore.ErrUnsupportedArg, k)
		}
	}

	out, err := c.svc.GetObjectWithContext(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("s3store: get %s/%s: %w", bucket, key, translate(err))
	}

	contentLength := int64(-1)
	if out.ContentLength != nil {
		contentLength = *out.ContentLength
	}

	return &objstore.Response{
		Body:          out.Body,
		ContentLength: contentLength,
		ETag:          strings.Trim(aws.StringValue(out.ETag), `"`),
	}, nil
}

// Retryable implements objstore.Client. Throttling, 5xx responses and
// connection-level failures are retried.
func (c *Client) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		if request.IsErrorThrottle(aerr) || request.IsErrorRetryable(aerr) {
			return true
		}
		switch aerr.Code() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return true
		}
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() >= http.StatusInternalServerError {
			return true
		}
	}
	return objstore.IsTransient(err)
}

// Close implements objstore.Client.
func (c *Client) Close() error {
	return nil
}

// translate maps missing objects onto objstore.ErrNotFound.
func translate(err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return errors.Join(objstore.ErrNotFound, err)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return errors.Join(objstore.ErrNotFound, err)
		}
	}
	return err
}
