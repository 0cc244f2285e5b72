package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ligustah/gulp/internal/download"
	"github.com/ligustah/gulp/internal/fsutil"
	"github.com/ligustah/gulp/internal/logging"
	"github.com/ligustah/gulp/internal/monitor"
	"github.com/ligustah/gulp/internal/objstore"
	"github.com/ligustah/gulp/internal/queue"
)

var (
	// ErrInvalidExtraArg is returned by Download for extra args outside
	// objstore.AllowedDownloadArgs.
	ErrInvalidExtraArg = errors.New("downloader: invalid extra args")

	// ErrShutdown is returned by Download after Shutdown.
	ErrShutdown = errors.New("downloader: shut down")
)

// Config configures the downloader.
type Config struct {
	// Workers is the number of parallel download workers.
	// Default: 10
	Workers int

	// QueueSize is the capacity of the request and job queues.
	// Default: 1000
	QueueSize int

	// Transfer controls splitting, retries and writes.
	Transfer download.Config

	// FS stages temp files. Default: fsutil.OSUtil{}
	FS download.FS

	// Logger receives structured logs. Default: discard
	Logger logrus.FieldLogger
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		Workers:   10,
		QueueSize: queue.DefaultCapacity,
		Transfer:  download.DefaultConfig(),
		FS:        fsutil.OSUtil{},
		Logger:    logging.Discard(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.FS == nil {
		c.FS = d.FS
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return c
}

// Downloader downloads objects in parallel. The pool of execution units is
// started by the first Download and stopped by Shutdown.
type Downloader struct {
	factory objstore.Factory
	cfg     Config
	log     logrus.FieldLogger

	mu      sync.Mutex
	started bool
	closed  bool
	pending sync.WaitGroup // Download calls between the closed check and enqueue

	shutdownOnce sync.Once
	shutdownErr  error

	host     *monitor.Host
	monitor  monitor.Monitor
	requests *queue.Queue[download.Request]
	jobs     *queue.Queue[download.Job]

	subWG    sync.WaitGroup
	workerWG sync.WaitGroup
	errMu    sync.Mutex
	unitErrs []error

	nextID atomic.Uint64
}

// New creates a downloader whose execution units build their own clients
// with factory.
func New(factory objstore.Factory, cfg Config) *Downloader {
	cfg = cfg.withDefaults()
	return &Downloader{
		factory: factory,
		cfg:     cfg,
		log:     cfg.Logger,
	}
}

type options struct {
	extraArgs    objstore.Args
	expectedSize *int64
}

// Option customizes a single Download.
type Option func(*options)

// WithExtraArgs passes extra request options to every read of the object.
// Keys must be in objstore.AllowedDownloadArgs.
func WithExtraArgs(args map[string]string) Option {
	return func(o *options) {
		o.extraArgs = objstore.Args(args).Clone()
	}
}

// WithExpectedSize skips the size lookup.
func WithExpectedSize(size int64) Option {
	return func(o *options) {
		o.expectedSize = &size
	}
}

// Download queues the download of bucket/key to filename and returns its
// future. Invalid extra args fail before anything is queued. Download blocks
// while the request queue is full.
func (d *Downloader) Download(ctx context.Context, bucket, key, filename string, opts ...Option) (*Future, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := objstore.ValidateDownloadArgs(o.extraArgs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExtraArg, err)
	}
	if o.extraArgs == nil {
		o.extraArgs = objstore.Args{}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShutdown
	}
	d.startLocked()
	d.pending.Add(1)
	d.mu.Unlock()
	defer d.pending.Done()

	id := monitor.ID(d.nextID.Add(1) - 1)
	call := CallArgs{
		Bucket:       bucket,
		Key:          key,
		Filename:     filename,
		ExtraArgs:    o.extraArgs,
		ExpectedSize: o.expectedSize,
	}

	req := download.Request{
		TransferID:   id,
		Bucket:       bucket,
		Key:          key,
		Filename:     filename,
		ExtraArgs:    o.extraArgs.Clone(),
		ExpectedSize: o.expectedSize,
	}
	if err := d.requests.Put(ctx, req); err != nil {
		return nil, fmt.Errorf("queue download request: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"transfer_id": id,
		"bucket":      bucket,
		"key":         key,
	}).Debug("download queued")

	return &Future{
		meta: Meta{
			TransferID:  id,
			CallArgs:    call,
			UserContext: make(map[string]any),
		},
		monitor: d.monitor,
	}, nil
}

// startLocked starts the monitor host, the submitter and the workers.
// d.mu must be held.
func (d *Downloader) startLocked() {
	if d.started {
		return
	}
	d.started = true

	d.host = monitor.NewHost(nil)
	d.host.Start()
	d.monitor = d.host.Proxy()
	d.requests = queue.New[download.Request](d.cfg.QueueSize)
	d.jobs = queue.New[download.Job](d.cfg.QueueSize)

	ctx := context.Background()

	sub := download.NewSubmitter(download.SubmitterOptions{
		Factory:  d.factory,
		Requests: d.requests,
		Jobs:     d.jobs,
		Monitor:  d.monitor,
		FS:       d.cfg.FS,
		Config:   d.cfg.Transfer,
		Logger:   d.log,
	})
	d.subWG.Add(1)
	go func() {
		defer d.subWG.Done()
		d.record(sub.Run(ctx))
	}()

	for i := 0; i < d.cfg.Workers; i++ {
		w := download.NewWorker(download.WorkerOptions{
			ID:      i,
			Factory: d.factory,
			Jobs:    d.jobs,
			Monitor: d.monitor,
			FS:      d.cfg.FS,
			Config:  d.cfg.Transfer,
			Logger:  d.log,
		})
		d.workerWG.Add(1)
		go func() {
			defer d.workerWG.Done()
			d.record(w.Run(ctx))
		}()
	}

	d.log.WithField("workers", d.cfg.Workers).Debug("download pool started")
}

func (d *Downloader) record(err error) {
	if err == nil {
		return
	}
	d.errMu.Lock()
	d.unitErrs = append(d.unitErrs, err)
	d.errMu.Unlock()
}

// Shutdown stops the submitter, then the workers, then the monitor host. It
// blocks until every queued request and job has been processed. Futures
// stay readable afterwards. Calling Shutdown more than once is a no-op.
func (d *Downloader) Shutdown() error {
	d.shutdownOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		started := d.started
		d.mu.Unlock()

		if !started {
			return
		}
		d.pending.Wait()

		ctx := context.Background()
		d.requests.PutShutdown(ctx)
		d.subWG.Wait()

		for i := 0; i < d.cfg.Workers; i++ {
			d.jobs.PutShutdown(ctx)
		}
		d.workerWG.Wait()

		d.host.Stop()
		d.log.Debug("download pool stopped")

		d.errMu.Lock()
		d.shutdownErr = errors.Join(d.unitErrs...)
		d.errMu.Unlock()
	})
	return d.shutdownErr
}
