package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Extra argument keys understood by the clients.
const (
	ArgRange                = "Range"
	ArgVersionID            = "VersionId"
	ArgSSECustomerAlgorithm = "SSECustomerAlgorithm"
	ArgSSECustomerKey       = "SSECustomerKey"
	ArgSSECustomerKeyMD5    = "SSECustomerKeyMD5"
	ArgRequestPayer         = "RequestPayer"
	ArgExpectedBucketOwner  = "ExpectedBucketOwner"
)

// AllowedDownloadArgs lists the extra argument keys a caller may pass with a
// download request. Range is computed internally and is not accepted.
var AllowedDownloadArgs = []string{
	ArgVersionID,
	ArgSSECustomerAlgorithm,
	ArgSSECustomerKey,
	ArgSSECustomerKeyMD5,
	ArgRequestPayer,
	ArgExpectedBucketOwner,
}

// Common errors.
var (
	ErrNotFound          = errors.New("objstore: object not found")
	ErrUnsupportedArg    = errors.New("objstore: unsupported request argument")
	ErrInvalidRange      = errors.New("objstore: invalid range")
	ErrRangeNotSupported = errors.New("objstore: range requests not supported")
)

// Args holds extra request options keyed by the names above.
type Args map[string]string

// Clone returns a copy of a.
func (a Args) Clone() Args {
	out := make(Args, len(a)+1)
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Without returns a copy of a with key removed.
func (a Args) Without(key string) Args {
	out := a.Clone()
	delete(out, key)
	return out
}

// Keys returns the sorted keys of a.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateDownloadArgs returns an error naming the first key of args that is
// not in AllowedDownloadArgs.
func ValidateDownloadArgs(args Args) error {
	for _, k := range args.Keys() {
		if !isAllowed(k) {
			return fmt.Errorf("invalid extra args key %q, must be one of: %s",
				k, strings.Join(AllowedDownloadArgs, ", "))
		}
	}
	return nil
}

func isAllowed(key string) bool {
	for _, allowed := range AllowedDownloadArgs {
		if key == allowed {
			return true
		}
	}
	return false
}

// Attributes describes a stored object.
type Attributes struct {
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Response is the result of a (possibly ranged) object read.
type Response struct {
	Body io.ReadCloser

	// ContentLength is the number of bytes Body will yield, or -1 if unknown.
	ContentLength int64

	ETag string
}

// Client talks to an object store. A Client is owned by a single execution
// unit and need not be safe for concurrent use.
type Client interface {
	// Head returns the object's attributes.
	Head(ctx context.Context, bucket, key string, args Args) (*Attributes, error)

	// GetObject opens the object for reading. When args carries ArgRange the
	// read covers only that inclusive byte range.
	GetObject(ctx context.Context, bucket, key string, args Args) (*Response, error)

	// Retryable reports whether err is transient and the request may succeed
	// if repeated.
	Retryable(err error) bool

	// Close releases the client's resources.
	Close() error
}

// Factory builds a Client. Each execution unit calls it once after it starts,
// so client handles are never shared between units.
type Factory func(ctx context.Context) (Client, error)

// FormatRange returns an inclusive HTTP-style range expression.
func FormatRange(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// ParseRange parses a range expression of the form "bytes=start-end" or
// "bytes=start-". end is -1 for an open-ended range.
func ParseRange(expr string) (start, end int64, err error) {
	byteRange, ok := strings.CutPrefix(expr, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, expr)
	}

	startStr, endStr, ok := strings.Cut(byteRange, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, expr)
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("%w: invalid start byte in %q", ErrInvalidRange, expr)
	}

	if endStr == "" {
		return start, -1, nil
	}

	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("%w: invalid end byte in %q", ErrInvalidRange, expr)
	}

	return start, end, nil
}

// IsTransient reports whether err is a network-level failure that any client
// should retry: connection resets, timeouts and truncated bodies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
