package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/gulp/internal/objstore"
)

// Opener opens the bucket with the given name.
type Opener func(ctx context.Context, bucket string) (*blob.Bucket, error)

// URLOpener returns an Opener that expands template and opens the result
// with blob.OpenBucket. Every "{bucket}" in template is replaced by the
// bucket name, e.g. "s3://{bucket}?region=us-east-1" or "file:///data/{bucket}".
func URLOpener(template string) Opener {
	return func(ctx context.Context, bucket string) (*blob.Bucket, error) {
		url := strings.ReplaceAll(template, "{bucket}", bucket)
		b, err := blob.OpenBucket(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("blobstore: open bucket %s: %w", url, err)
		}
		return b, nil
	}
}

// Static returns an Opener serving already open buckets. Buckets are shared,
// so clients built on a static opener never close them.
func Static(buckets map[string]*blob.Bucket) Opener {
	return func(_ context.Context, bucket string) (*blob.Bucket, error) {
		b, ok := buckets[bucket]
		if !ok {
			return nil, fmt.Errorf("blobstore: unknown bucket %q: %w", bucket, objstore.ErrNotFound)
		}
		return b, nil
	}
}

// Client reads objects through gocloud.dev/blob. Buckets are opened on first
// use and cached for the client's lifetime.
type Client struct {
	open    Opener
	owned   bool
	buckets map[string]*blob.Bucket
}

// NewFactory returns a Factory whose clients open buckets with open. When
// owned is true, Close closes every bucket the client opened.
func NewFactory(open Opener, owned bool) objstore.Factory {
	return func(context.Context) (objstore.Client, error) {
		return New(open, owned), nil
	}
}

// New creates a client.
func New(open Opener, owned bool) *Client {
	return &Client{
		open:    open,
		owned:   owned,
		buckets: make(map[string]*blob.Bucket),
	}
}

func (c *Client) bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	if b, ok := c.buckets[name]; ok {
		return b, nil
	}
	b, err := c.open(ctx, name)
	if err != nil {
		return nil, err
	}
	c.buckets[name] = b
	return b, nil
}

// checkArgs rejects extra args that gocloud cannot express portably.
func checkArgs(args objstore.Args) error {
	for _, k := range args.Keys() {
		if k != objstore.ArgRange {
			return fmt.Errorf("blobstore: %w: %s", objstore.ErrUnsupportedArg, k)
		}
	}
	return nil
}

// Head implements objstore.Client.
func (c *Client) Head(ctx context.Context, bucket, key string, args objstore.Args) (*objstore.Attributes, error) {
	if err := checkArgs(args.Without(objstore.ArgRange)); err != nil {
		return nil, err
	}
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	attrs, err := b.Attributes(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blobstore: attributes %s/%s: %w", bucket, key, translate(err))
	}

	return &objstore.Attributes{
		Size:         attrs.Size,
		ETag:         strings.Trim(attrs.ETag, `"`),
		ContentType:  attrs.ContentType,
		LastModified: attrs.ModTime,
	}, nil
}

// GetObject implements objstore.Client.
func (c *Client) GetObject(ctx context.Context, bucket, key string, args objstore.Args) (*objstore.Response, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}

	offset, length := int64(0), int64(-1)
	if expr, ok := args[objstore.ArgRange]; ok {
		start, end, err := objstore.ParseRange(expr)
		if err != nil {
			return nil, err
		}
		offset = start
		if end >= 0 {
			length = end - start + 1
		}
	}

	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}

	r, err := b.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s/%s: %w", bucket, key, translate(err))
	}

	// Reader.Size is the size of the whole object.
	contentLength := r.Size() - offset
	if length >= 0 && length < contentLength {
		contentLength = length
	}
	if contentLength < 0 {
		contentLength = 0
	}

	return &objstore.Response{
		Body:          r,
		ContentLength: contentLength,
	}, nil
}

// Retryable implements objstore.Client.
func (c *Client) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch gcerrors.Code(err) {
	case gcerrors.ResourceExhausted, gcerrors.DeadlineExceeded, gcerrors.Internal:
		return true
	}
	return objstore.IsTransient(err)
}

// Close implements objstore.Client.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	var errs []error
	for name, b := range c.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("blobstore: close bucket %s: %w", name, err))
		}
	}
	c.buckets = make(map[string]*blob.Bucket)
	return errors.Join(errs...)
}

// translate maps not-found errors onto objstore.ErrNotFound while keeping
// the original error in the chain.
func translate(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return errors.Join(objstore.ErrNotFound, err)
	}
	return err
}
