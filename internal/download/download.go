package download

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ligustah/gulp/internal/logging"
	"github.com/ligustah/gulp/internal/monitor"
	"github.com/ligustah/gulp/internal/objstore"
)

// Defaults.
const (
	DefaultMultipartThreshold = 8 * 1024 * 1024
	DefaultMultipartChunkSize = 8 * 1024 * 1024
	DefaultMaxAttempts        = 5
	DefaultIOChunkSize        = 2 * 1024 * 1024
	DefaultRetryBackoff       = 100 * time.Millisecond
	DefaultRetryMaxBackoff    = 5 * time.Second
)

var (
	// ErrCancelled is recorded for a transfer whose future was cancelled.
	ErrCancelled = errors.New("download: transfer cancelled")

	// ErrRetriesExceeded matches every *RetriesExceededError.
	ErrRetriesExceeded = errors.New("download: max retries exceeded")
)

// RetriesExceededError is returned when a range read keeps failing with
// retryable errors.
type RetriesExceededError struct {
	Attempts int   // Number of attempts made
	Err      error // The error of the last attempt
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("download: max retries exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExceededError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRetriesExceeded.
func (e *RetriesExceededError) Is(target error) bool {
	return target == ErrRetriesExceeded
}

// Request asks for one object to be downloaded to Filename.
type Request struct {
	TransferID monitor.ID
	Bucket     string
	Key        string
	Filename   string
	ExtraArgs  objstore.Args

	// ExpectedSize skips the size lookup when set.
	ExpectedSize *int64
}

// Job is a single ranged read of a transfer. Offset is where the bytes land
// in TempFilename.
type Job struct {
	TransferID   monitor.ID
	Bucket       string
	Key          string
	TempFilename string
	ExtraArgs    objstore.Args
	Offset       int64
	Filename     string
}

// Config tunes how requests are split and how jobs are fetched.
type Config struct {
	// MultipartThreshold is the size from which objects are split into
	// ranged jobs.
	// Default: 8 MiB
	MultipartThreshold int64

	// MultipartChunkSize is the size of each ranged job.
	// Default: 8 MiB
	MultipartChunkSize int64

	// MaxAttempts bounds the attempts of a single range read.
	// Default: 5
	MaxAttempts int

	// IOChunkSize is the write buffer size.
	// Default: 2 MiB
	IOChunkSize int

	// RetryBackoff is the initial backoff duration between attempts.
	// Default: 100ms
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 5s
	RetryMaxBackoff time.Duration
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		MultipartThreshold: DefaultMultipartThreshold,
		MultipartChunkSize: DefaultMultipartChunkSize,
		MaxAttempts:        DefaultMaxAttempts,
		IOChunkSize:        DefaultIOChunkSize,
		RetryBackoff:       DefaultRetryBackoff,
		RetryMaxBackoff:    DefaultRetryMaxBackoff,
	}
}

// withDefaults fills unset fields. Zero backoffs stay zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MultipartThreshold <= 0 {
		c.MultipartThreshold = d.MultipartThreshold
	}
	if c.MultipartChunkSize <= 0 {
		c.MultipartChunkSize = d.MultipartChunkSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.IOChunkSize <= 0 {
		c.IOChunkSize = d.IOChunkSize
	}
	if c.RetryMaxBackoff < c.RetryBackoff {
		c.RetryMaxBackoff = c.RetryBackoff
	}
	return c
}

// NumParts returns how many parts of partSize cover size bytes.
func NumParts(size, partSize int64) int {
	return int((size + partSize - 1) / partSize)
}

// RangeParam returns the Range arg of part index out of numParts. The last
// part ends at the final byte of the object.
func RangeParam(partSize int64, index, numParts int, totalSize int64) string {
	start := int64(index) * partSize
	end := start + partSize - 1
	if index == numParts-1 {
		end = totalSize - 1
	}
	return objstore.FormatRange(start, end)
}

// FS is the filesystem the submitter and workers stage files on.
type FS interface {
	TempName(dest string) string
	Allocate(path string, size int64) error
	OpenForWrite(path string) (*os.File, error)
	Rename(src, dest string) error
	Remove(path string) error
}

func loggerOrDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log == nil {
		return logging.Discard()
	}
	return log
}
