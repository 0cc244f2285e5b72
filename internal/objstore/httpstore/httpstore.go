package httpstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/gulp/internal/objstore"
)

// Common errors.
var (
	ErrForbidden    = errors.New("httpstore: access forbidden")
	ErrUnauthorized = errors.New("httpstore: unauthorized")
	ErrServerError  = errors.New("httpstore: server error")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout for individual requests, including reading the body.
	// Default: 0 (none, bounded by the request context)
	Timeout time.Duration

	// Header is added to every request, e.g. an Authorization token.
	Header http.Header
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
	}
}

// Client reads objects from an HTTP origin. The bucket is the base URL and
// the key is the path below it.
type Client struct {
	client *http.Client
	opts   Options
}

// NewFactory returns a Factory creating one client, and so one connection
// pool, per call.
func NewFactory(opts Options) objstore.Factory {
	return func(context.Context) (objstore.Client, error) {
		return NewClient(opts), nil
	}
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // raw bytes for range requests
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

func (c *Client) newRequest(ctx context.Context, method, bucket, key string) (*http.Request, error) {
	u, err := url.JoinPath(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("httpstore: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpstore: create request: %w", err)
	}
	for k, vs := range c.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func checkArgs(args objstore.Args) error {
	for _, k := range args.Keys() {
		if k != objstore.ArgRange {
			return fmt.Errorf("httpstore: %w: %s", objstore.ErrUnsupportedArg, k)
		}
	}
	return nil
}

// Head implements objstore.Client.
func (c *Client) Head(ctx context.Context, bucket, key string, args objstore.Args) (*objstore.Attributes, error) {
	if err := checkArgs(args.Without(objstore.ArgRange)); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodHead, bucket, key)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("httpstore: head %s: %w", req.URL, err)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("httpstore: head %s: missing Content-Length", req.URL)
	}

	attrs := &objstore.Attributes{
		Size:        resp.ContentLength,
		ETag:        cleanETag(resp.Header.Get("ETag")),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			attrs.LastModified = t
		}
	}
	return attrs, nil
}

// GetObject implements objstore.Client. A Range arg is sent as the Range
// header; the server must answer it with the requested bytes.
func (c *Client) GetObject(ctx context.Context, bucket, key string, args objstore.Args) (*objstore.Response, error) {
	if err := checkArgs(args); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, bucket, key)
	if err != nil {
		return nil, err
	}

	rangeExpr, ranged := args[objstore.ArgRange]
	var start int64
	if ranged {
		start, _, err = objstore.ParseRange(rangeExpr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", rangeExpr)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if ranged {
		if err := checkRangeResponse(resp, start); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("httpstore: get %s (%s): %w", req.URL, rangeExpr, err)
		}
	} else if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("httpstore: get %s: %w", req.URL, err)
	}

	return &objstore.Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// checkRangeResponse accepts 206, or 200 carrying a Content-Range that
// starts at the requested offset.
func checkRangeResponse(resp *http.Response, start int64) error {
	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusOK:
	case http.StatusRequestedRangeNotSatisfiable:
		return objstore.ErrRangeNotSupported
	default:
		return checkStatusCode(resp.StatusCode)
	}

	cr := resp.Header.Get("Content-Range")
	if cr == "" {
		if resp.StatusCode == http.StatusOK {
			return objstore.ErrRangeNotSupported
		}
		return nil
	}
	got, _, _, err := ParseContentRange(cr)
	if err != nil {
		return err
	}
	if got != start {
		return fmt.Errorf("%w: asked for offset %d, got %d", objstore.ErrRangeNotSupported, start, got)
	}
	return nil
}

// Retryable implements objstore.Client. Server errors, throttling and
// connection failures are retried.
func (c *Client) Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrServerError) {
		return true
	}
	return objstore.IsTransient(err)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, http.StatusText(code))
	case code == http.StatusNotFound:
		return objstore.ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	span, size, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
