package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/ligustah/gulp/internal/config"
	"github.com/ligustah/gulp/internal/download"
	"github.com/ligustah/gulp/internal/logging"
	"github.com/ligustah/gulp/internal/objstore"
	"github.com/ligustah/gulp/internal/objstore/httpstore"
	"github.com/ligustah/gulp/pkg/downloader"
)

type getArgs struct {
	Bucket string   `arg:"positional,required" help:"bucket name, or base URL for the http store"`
	Keys   []string `arg:"positional,required" help:"object keys to download"`

	Output       string `arg:"-o,--output" help:"destination file, only with a single key"`
	OutputDir    string `arg:"-d,--output-dir" default:"." help:"directory that receives the keys"`
	ExpectedSize *int64 `arg:"--expected-size" help:"object size in bytes, skips the size lookup (single key only)"`

	VersionID            string `arg:"--version-id" help:"object version to read"`
	RequestPayer         string `arg:"--request-payer" help:"confirm the requester pays"`
	ExpectedBucketOwner  string `arg:"--expected-bucket-owner" help:"account id the bucket must belong to"`
	SSECustomerAlgorithm string `arg:"--sse-customer-algorithm" help:"SSE-C algorithm"`
	SSECustomerKey       string `arg:"--sse-customer-key" help:"SSE-C key"`
	SSECustomerKeyMD5    string `arg:"--sse-customer-key-md5" help:"SSE-C key MD5"`

	Store     string `arg:"--store" help:"object store backend: s3, blob or http"`
	BucketURL string `arg:"--bucket-url" help:"bucket URL template for the blob store, e.g. gs://{bucket}"`
	Region    string `arg:"--region" help:"S3 region"`
	Profile   string `arg:"--profile" help:"AWS credentials profile"`
	Endpoint  string `arg:"--endpoint" help:"S3 endpoint override"`

	Workers       int    `arg:"-w,--workers" help:"number of parallel workers"`
	ChunkSize     string `arg:"--chunk-size" help:"size of each ranged read, e.g. 8MiB"`
	Threshold     string `arg:"--multipart-threshold" help:"size from which objects are split"`
	RetryAttempts int    `arg:"--retry-attempts" help:"max attempts per ranged read"`

	LogLevel  string `arg:"--log-level" help:"debug, info, warn or error"`
	LogFormat string `arg:"--log-format" help:"text or json"`
	LogFile   string `arg:"--log-file" help:"also write logs to this rotated file"`
}

// overrides returns the flag values as a config overlay.
func (g *getArgs) overrides() (config.Config, error) {
	var c config.Config
	c.Store = g.Store
	c.BucketURL = g.BucketURL
	c.S3.Region = g.Region
	c.S3.Profile = g.Profile
	c.S3.Endpoint = g.Endpoint
	c.Workers = g.Workers
	c.Retry.Attempts = g.RetryAttempts
	c.Log.Level = g.LogLevel
	c.Log.Format = g.LogFormat
	c.Log.File = g.LogFile

	var err error
	if g.ChunkSize != "" {
		if c.ChunkSize, err = config.ParseSize(g.ChunkSize); err != nil {
			return c, fmt.Errorf("invalid chunk size: %w", err)
		}
	}
	if g.Threshold != "" {
		if c.MultipartThreshold, err = config.ParseSize(g.Threshold); err != nil {
			return c, fmt.Errorf("invalid multipart threshold: %w", err)
		}
	}
	return c, nil
}

func (g *getArgs) extraArgs() map[string]string {
	args := make(map[string]string)
	for k, v := range map[string]string{
		objstore.ArgVersionID:            g.VersionID,
		objstore.ArgRequestPayer:         g.RequestPayer,
		objstore.ArgExpectedBucketOwner:  g.ExpectedBucketOwner,
		objstore.ArgSSECustomerAlgorithm: g.SSECustomerAlgorithm,
		objstore.ArgSSECustomerKey:       g.SSECustomerKey,
		objstore.ArgSSECustomerKeyMD5:    g.SSECustomerKeyMD5,
	} {
		if v != "" {
			args[k] = v
		}
	}
	return args
}

// destination maps key to a local path below the output directory.
func (g *getArgs) destination(key string) (string, error) {
	if g.Output != "" {
		return g.Output, nil
	}
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("key %q escapes the output directory", key)
	}
	dest := filepath.Join(g.OutputDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}
	return dest, nil
}

func loadConfig(a cliArgs) (config.Config, error) {
	var envFiles []string
	if a.EnvFile != "" {
		envFiles = append(envFiles, a.EnvFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if a.Config != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.Config); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	override, err := a.Get.overrides()
	if err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(override)
	return cfg, cfg.Validate()
}

func runGet(a cliArgs, stderr io.Writer) int {
	cmd := a.Get

	if cmd.Output != "" && len(cmd.Keys) > 1 {
		fmt.Fprintln(stderr, "Error: --output needs exactly one key, use --output-dir")
		return ExitInvalidArgs
	}
	if cmd.ExpectedSize != nil && len(cmd.Keys) > 1 {
		fmt.Fprintln(stderr, "Error: --expected-size needs exactly one key")
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(a)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logOpts := cfg.LogOptions()
	logOpts.Output = stderr
	log, logFile, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	defer logFile.Close()

	factory, err := newFactory(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	dcfg := cfg.Downloader()
	dcfg.Logger = log
	d := downloader.New(factory, dcfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\n[gulp] Received interrupt, cancelling transfers...")
			cancel()
		case <-ctx.Done():
		}
	}()

	extra := cmd.extraArgs()
	futures := make([]*downloader.Future, 0, len(cmd.Keys))
	for _, key := range cmd.Keys {
		dest, err := cmd.destination(key)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			d.Shutdown()
			return ExitInvalidArgs
		}

		opts := []downloader.Option{downloader.WithExtraArgs(extra)}
		if cmd.ExpectedSize != nil {
			opts = append(opts, downloader.WithExpectedSize(*cmd.ExpectedSize))
		}

		fut, err := d.Download(ctx, cmd.Bucket, key, dest, opts...)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			d.Shutdown()
			if errors.Is(err, downloader.ErrInvalidExtraArg) {
				return ExitInvalidArgs
			}
			return ExitGeneralError
		}
		futures = append(futures, fut)
	}

	ok := color.New(color.FgGreen)
	failed := color.New(color.FgRed)

	code := ExitSuccess
	done := 0
	for _, fut := range futures {
		args := fut.Meta().CallArgs
		if err := fut.Result(ctx); err != nil {
			failed.Fprintf(stderr, "[gulp] Failed %s: %v\n", args.Key, err)
			if code == ExitSuccess {
				code = exitCode(err)
			}
			continue
		}
		done++

		var size uint64
		if fi, err := os.Stat(args.Filename); err == nil {
			size = uint64(fi.Size())
		}
		ok.Fprintf(stderr, "[gulp] Downloaded %s to %s (%s)\n", args.Key, args.Filename, humanize.IBytes(size))
	}

	if err := d.Shutdown(); err != nil {
		log.WithError(err).Warn("Shutdown reported errors")
		if code == ExitSuccess {
			code = ExitGeneralError
		}
	}

	fmt.Fprintf(stderr, "[gulp] %d/%d objects downloaded\n", done, len(futures))
	return code
}

// exitCode maps a transfer failure to the process exit code.
func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, download.ErrCancelled):
		return ExitInterrupted
	case errors.Is(err, objstore.ErrNotFound),
		errors.Is(err, httpstore.ErrForbidden),
		errors.Is(err, httpstore.ErrUnauthorized):
		return ExitNotAccessible
	case errors.Is(err, objstore.ErrRangeNotSupported):
		return ExitRangeNotSupported
	case errors.Is(err, objstore.ErrUnsupportedArg):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}
