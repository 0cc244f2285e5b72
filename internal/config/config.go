package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/gulp/internal/download"
	"github.com/ligustah/gulp/internal/logging"
	"github.com/ligustah/gulp/internal/objstore/httpstore"
	"github.com/ligustah/gulp/internal/objstore/s3store"
	"github.com/ligustah/gulp/pkg/downloader"
)

// Object store backends.
const (
	StoreS3   = "s3"
	StoreBlob = "blob"
	StoreHTTP = "http"
)

// Config defines configuration for the gulp CLI.
type Config struct {
	Store     string     `yaml:"store"`
	BucketURL string     `yaml:"bucket_url"`
	S3        S3Config   `yaml:"s3"`
	HTTP      HTTPConfig `yaml:"http"`

	Workers            int   `yaml:"workers"`
	QueueSize          int   `yaml:"queue_size"`
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	ChunkSize          int64 `yaml:"chunk_size"`
	IOChunkSize        int64 `yaml:"io_chunk_size"`

	Retry RetryConfig `yaml:"retry"`
	Log   LogConfig   `yaml:"log"`
}

// S3Config configures the aws-sdk-go backend.
type S3Config struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	DisableSSL      bool   `yaml:"disable_ssl"`
	MaxRetries      int    `yaml:"max_retries"`
}

// HTTPConfig configures the plain HTTP backend.
type HTTPConfig struct {
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LogConfig defines log output.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Store:              StoreS3,
		Workers:            10,
		QueueSize:          1000,
		MultipartThreshold: download.DefaultMultipartThreshold,
		ChunkSize:          download.DefaultMultipartChunkSize,
		IOChunkSize:        download.DefaultIOChunkSize,
		Retry: RetryConfig{
			Attempts:   download.DefaultMaxAttempts,
			Backoff:    download.DefaultRetryBackoff,
			MaxBackoff: download.DefaultRetryMaxBackoff,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Store     string `yaml:"store"`
	BucketURL string `yaml:"bucket_url"`
	S3        struct {
		Region          string `yaml:"region"`
		Profile         string `yaml:"profile"`
		CredentialsFile string `yaml:"credentials_file"`
		Endpoint        string `yaml:"endpoint"`
		PathStyle       bool   `yaml:"path_style"`
		DisableSSL      bool   `yaml:"disable_ssl"`
		MaxRetries      int    `yaml:"max_retries"`
	} `yaml:"s3"`
	HTTP struct {
		Timeout string            `yaml:"timeout"`
		Headers map[string]string `yaml:"headers"`
	} `yaml:"http"`

	Workers            int    `yaml:"workers"`
	QueueSize          int    `yaml:"queue_size"`
	MultipartThreshold string `yaml:"multipart_threshold"`
	ChunkSize          string `yaml:"chunk_size"`
	IOChunkSize        string `yaml:"io_chunk_size"`

	Retry struct {
		Attempts   int    `yaml:"attempts"`
		Backoff    string `yaml:"backoff"`
		MaxBackoff string `yaml:"max_backoff"`
	} `yaml:"retry"`
	Log LogConfig `yaml:"log"`
}

// LoadFromFile loads configuration from a YAML file. Unset keys keep their
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	var override Config
	override.Store = yc.Store
	override.BucketURL = yc.BucketURL
	override.S3 = S3Config(yc.S3)
	override.HTTP.Headers = yc.HTTP.Headers
	override.Workers = yc.Workers
	override.QueueSize = yc.QueueSize
	override.Retry.Attempts = yc.Retry.Attempts
	override.Log = yc.Log

	sizes := []struct {
		name  string
		value string
		dst   *int64
	}{
		{"multipart_threshold", yc.MultipartThreshold, &override.MultipartThreshold},
		{"chunk_size", yc.ChunkSize, &override.ChunkSize},
		{"io_chunk_size", yc.IOChunkSize, &override.IOChunkSize},
	}
	for _, s := range sizes {
		if s.value == "" {
			continue
		}
		if *s.dst, err = ParseSize(s.value); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.name, err)
		}
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"http.timeout", yc.HTTP.Timeout, &override.HTTP.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &override.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &override.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if *d.dst, err = time.ParseDuration(d.value); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
	}

	return Default().Merge(override), nil
}

// LoadDotEnv loads environment variables from the given files, or from
// ".env" in the working directory when none are given. A missing default
// file is not an error. Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the GULP_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"GULP_STORE":               &c.Store,
		"GULP_BUCKET_URL":          &c.BucketURL,
		"GULP_S3_REGION":           &c.S3.Region,
		"GULP_S3_PROFILE":          &c.S3.Profile,
		"GULP_S3_CREDENTIALS_FILE": &c.S3.CredentialsFile,
		"GULP_S3_ENDPOINT":         &c.S3.Endpoint,
		"GULP_LOG_LEVEL":           &c.Log.Level,
		"GULP_LOG_FORMAT":          &c.Log.Format,
		"GULP_LOG_FILE":            &c.Log.File,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GULP_WORKERS":        &c.Workers,
		"GULP_QUEUE_SIZE":     &c.QueueSize,
		"GULP_S3_MAX_RETRIES": &c.S3.MaxRetries,
		"GULP_RETRY_ATTEMPTS": &c.Retry.Attempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = n
		}
	}

	sizes := map[string]*int64{
		"GULP_MULTIPART_THRESHOLD": &c.MultipartThreshold,
		"GULP_CHUNK_SIZE":          &c.ChunkSize,
		"GULP_IO_CHUNK_SIZE":       &c.IOChunkSize,
	}
	for name, dst := range sizes {
		if v := os.Getenv(name); v != "" {
			size, err := ParseSize(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = size
		}
	}

	durations := map[string]*time.Duration{
		"GULP_HTTP_TIMEOUT":      &c.HTTP.Timeout,
		"GULP_RETRY_BACKOFF":     &c.Retry.Backoff,
		"GULP_RETRY_MAX_BACKOFF": &c.Retry.MaxBackoff,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("GULP_S3_PATH_STYLE"); v != "" {
		c.S3.PathStyle = v == "true" || v == "1"
	}
	if v := os.Getenv("GULP_S3_DISABLE_SSL"); v != "" {
		c.S3.DisableSSL = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreS3, StoreHTTP:
	case StoreBlob:
		if c.BucketURL == "" {
			return errors.New("config: bucket_url is required for the blob store")
		}
		if !strings.Contains(c.BucketURL, "{bucket}") {
			return errors.New("config: bucket_url must contain {bucket}")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.New("config: queue_size must be positive")
	}
	if c.MultipartThreshold <= 0 {
		return errors.New("config: multipart_threshold must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.IOChunkSize <= 0 || c.IOChunkSize > math.MaxInt32 {
		return errors.New("config: io_chunk_size must be positive and below 2GiB")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < c.Retry.Backoff {
		return errors.New("config: retry.max_backoff must not be below retry.backoff")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Store != "" {
		c.Store = override.Store
	}
	if override.BucketURL != "" {
		c.BucketURL = override.BucketURL
	}
	if override.S3.Region != "" {
		c.S3.Region = override.S3.Region
	}
	if override.S3.Profile != "" {
		c.S3.Profile = override.S3.Profile
	}
	if override.S3.CredentialsFile != "" {
		c.S3.CredentialsFile = override.S3.CredentialsFile
	}
	if override.S3.Endpoint != "" {
		c.S3.Endpoint = override.S3.Endpoint
	}
	if override.S3.PathStyle {
		c.S3.PathStyle = true
	}
	if override.S3.DisableSSL {
		c.S3.DisableSSL = true
	}
	if override.S3.MaxRetries != 0 {
		c.S3.MaxRetries = override.S3.MaxRetries
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if len(override.HTTP.Headers) > 0 {
		c.HTTP.Headers = override.HTTP.Headers
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.QueueSize != 0 {
		c.QueueSize = override.QueueSize
	}
	if override.MultipartThreshold != 0 {
		c.MultipartThreshold = override.MultipartThreshold
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.IOChunkSize != 0 {
		c.IOChunkSize = override.IOChunkSize
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Log.File != "" {
		c.Log.File = override.Log.File
	}
	if override.Log.MaxSizeMB != 0 {
		c.Log.MaxSizeMB = override.Log.MaxSizeMB
	}
	return c
}

// Downloader returns the downloader settings. Logger and FS are left for
// the caller.
func (c Config) Downloader() downloader.Config {
	return downloader.Config{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		Transfer: download.Config{
			MultipartThreshold: c.MultipartThreshold,
			MultipartChunkSize: c.ChunkSize,
			MaxAttempts:        c.Retry.Attempts,
			IOChunkSize:        int(c.IOChunkSize),
			RetryBackoff:       c.Retry.Backoff,
			RetryMaxBackoff:    c.Retry.MaxBackoff,
		},
	}
}

// S3Options returns the aws-sdk-go client options.
func (c Config) S3Options() s3store.Options {
	return s3store.Options{
		Region:     c.S3.Region,
		CredFile:   c.S3.CredentialsFile,
		Profile:    c.S3.Profile,
		Endpoint:   c.S3.Endpoint,
		PathStyle:  c.S3.PathStyle,
		DisableSSL: c.S3.DisableSSL,
		MaxRetries: c.S3.MaxRetries,
	}
}

// HTTPOptions returns the HTTP client options.
func (c Config) HTTPOptions() httpstore.Options {
	opts := httpstore.DefaultOptions()
	opts.Timeout = c.HTTP.Timeout
	if len(c.HTTP.Headers) > 0 {
		opts.Header = make(http.Header, len(c.HTTP.Headers))
		for k, v := range c.HTTP.Headers {
			opts.Header.Set(k, v)
		}
	}
	return opts
}

// LogOptions returns the logger options.
func (c Config) LogOptions() logging.Options {
	return logging.Options{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		File:      c.Log.File,
		MaxSizeMB: c.Log.MaxSizeMB,
	}
}

// ParseSize parses a human readable size such as "8MiB", "512MB" or "1024".
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q out of range", s)
	}
	return int64(n), nil
}
