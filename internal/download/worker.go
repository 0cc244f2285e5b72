package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ligustah/gulp/internal/monitor"
	"github.com/ligustah/gulp/internal/objstore"
	"github.com/ligustah/gulp/internal/queue"
)

// Worker fetches range jobs and writes them into their temp files. The
// worker that completes the last job of a transfer finalizes it.
type Worker struct {
	id      int
	factory objstore.Factory
	jobs    *queue.Queue[Job]
	monitor monitor.Monitor
	fs      FS
	cfg     Config
	log     logrus.FieldLogger
}

// WorkerOptions wires a Worker.
type WorkerOptions struct {
	ID      int
	Factory objstore.Factory
	Jobs    *queue.Queue[Job]
	Monitor monitor.Monitor
	FS      FS
	Config  Config
	Logger  logrus.FieldLogger
}

// NewWorker creates a worker.
func NewWorker(opts WorkerOptions) *Worker {
	return &Worker{
		id:      opts.ID,
		factory: opts.Factory,
		jobs:    opts.Jobs,
		monitor: opts.Monitor,
		fs:      opts.FS,
		cfg:     opts.Config.withDefaults(),
		log:     loggerOrDiscard(opts.Logger).WithField("worker", opts.ID),
	}
}

// Run consumes jobs until it receives the shutdown sentinel or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	client, err := w.factory(ctx)
	if err != nil {
		w.log.WithError(err).Error("create object store client")
		client = brokenClient{err: fmt.Errorf("create object store client: %w", err)}
	}
	defer client.Close()

	for {
		job, err := w.jobs.Get(ctx)
		if errors.Is(err, queue.ErrShutdown) {
			w.log.Debug("worker received shutdown signal")
			return nil
		}
		if err != nil {
			return err
		}
		w.handle(ctx, client, job)
	}
}

func (w *Worker) handle(ctx context.Context, client objstore.Client, job Job) {
	log := w.log.WithFields(logrus.Fields{
		"transfer_id": job.TransferID,
		"key":         job.Key,
		"offset":      job.Offset,
	})

	// jobs of an already failed transfer only count down
	if w.monitor.GetError(job.TransferID) == nil {
		if err := w.fetch(ctx, client, job, log); err != nil {
			log.WithError(err).Warn("download job failed")
			w.monitor.NotifyError(job.TransferID, err)
		}
	}

	if w.monitor.DecrementJobComplete(job.TransferID) == 0 {
		w.finalize(job, log)
	}
}

// fetch reads the job's range, retrying errors the client reports as
// retryable.
func (w *Worker) fetch(ctx context.Context, client objstore.Client, job Job, log logrus.FieldLogger) error {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.backoff(ctx, attempt-1); err != nil {
				return err
			}
		}

		err := w.fetchOnce(ctx, client, job)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !client.Retryable(err) {
			return err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Debug("retrying range read")
	}
	return &RetriesExceededError{Attempts: w.cfg.MaxAttempts, Err: lastErr}
}

func (w *Worker) fetchOnce(ctx context.Context, client objstore.Client, job Job) error {
	resp, err := client.GetObject(ctx, job.Bucket, job.Key, job.ExtraArgs)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := w.fs.OpenForWrite(job.TempFilename)
	if err != nil {
		return err
	}

	buf := make([]byte, w.cfg.IOChunkSize)
	offset := job.Offset
	var written int64

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			nw, writeErr := f.WriteAt(buf[:n], offset)
			if writeErr != nil {
				f.Close()
				return fmt.Errorf("write %s at %d: %w", job.TempFilename, offset, writeErr)
			}
			written += int64(nw)
			offset += int64(nw)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", job.TempFilename, err)
	}

	if resp.ContentLength >= 0 && written < resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes: %w", written, resp.ContentLength, io.ErrUnexpectedEOF)
	}
	return nil
}

// finalize promotes or discards the temp file once every job of the
// transfer is accounted for.
func (w *Worker) finalize(job Job, log logrus.FieldLogger) {
	if err := w.monitor.GetError(job.TransferID); err != nil {
		if rmErr := w.fs.Remove(job.TempFilename); rmErr != nil {
			log.WithError(rmErr).Warn("remove temp file")
		}
		log.WithError(err).Debug("transfer failed, temp file discarded")
	} else if err := w.fs.Rename(job.TempFilename, job.Filename); err != nil {
		w.monitor.NotifyError(job.TransferID, err)
		if rmErr := w.fs.Remove(job.TempFilename); rmErr != nil {
			log.WithError(rmErr).Warn("remove temp file")
		}
		log.WithError(err).Warn("rename temp file")
	} else {
		log.WithField("filename", job.Filename).Debug("transfer complete")
	}
	w.monitor.NotifyDone(job.TransferID)
}

// backoff waits for an exponentially increasing duration with jitter.
// backoffDelay returns base*2^(attempt-1) capped at limit. Doubling stops
// at the cap, so large attempt counts cannot overflow.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if limit < base {
		limit = base
	}
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return d
}

func (w *Worker) backoff(ctx context.Context, attempt int) error {
	if w.cfg.RetryBackoff <= 0 {
		return ctx.Err()
	}
	backoff := backoffDelay(w.cfg.RetryBackoff, w.cfg.RetryMaxBackoff, attempt)

	// 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// brokenClient stands in for a client the factory failed to build, so every
// job still counts down and the transfer finishes with the factory error.
type brokenClient struct {
	err error
}

func (c brokenClient) Head(context.Context, string, string, objstore.Args) (*objstore.Attributes, error) {
	return nil, c.err
}

func (c brokenClient) GetObject(context.Context, string, string, objstore.Args) (*objstore.Response, error) {
	return nil, c.err
}

func (c brokenClient) Retryable(error) bool { return false }

func (c brokenClient) Close() error { return nil }
