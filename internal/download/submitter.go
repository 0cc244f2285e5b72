package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ligustah/gulp/internal/monitor"
	"github.com/ligustah/gulp/internal/objstore"
	"github.com/ligustah/gulp/internal/queue"
)

// Submitter turns download requests into range jobs.
type Submitter struct {
	factory  objstore.Factory
	requests *queue.Queue[Request]
	jobs     *queue.Queue[Job]
	monitor  monitor.Monitor
	fs       FS
	cfg      Config
	log      logrus.FieldLogger
}

// SubmitterOptions wires a Submitter.
type SubmitterOptions struct {
	Factory  objstore.Factory
	Requests *queue.Queue[Request]
	Jobs     *queue.Queue[Job]
	Monitor  monitor.Monitor
	FS       FS
	Config   Config
	Logger   logrus.FieldLogger
}

// NewSubmitter creates a submitter.
func NewSubmitter(opts SubmitterOptions) *Submitter {
	return &Submitter{
		factory:  opts.Factory,
		requests: opts.Requests,
		jobs:     opts.Jobs,
		monitor:  opts.Monitor,
		fs:       opts.FS,
		cfg:      opts.Config.withDefaults(),
		log:      loggerOrDiscard(opts.Logger),
	}
}

// Run consumes requests until it receives the shutdown sentinel or ctx is
// done. A request that cannot be sized or allocated is failed and marked
// done without producing jobs.
func (s *Submitter) Run(ctx context.Context) error {
	client, err := s.factory(ctx)
	if err != nil {
		s.log.WithError(err).Error("create object store client")
		client = brokenClient{err: fmt.Errorf("create object store client: %w", err)}
	}
	defer client.Close()

	for {
		req, err := s.requests.Get(ctx)
		if errors.Is(err, queue.ErrShutdown) {
			s.log.Debug("submitter received shutdown signal")
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.submit(ctx, client, req); err != nil {
			s.log.WithFields(logrus.Fields{
				"transfer_id": req.TransferID,
				"bucket":      req.Bucket,
				"key":         req.Key,
			}).WithError(err).Warn("submit download request")
			s.monitor.NotifyError(req.TransferID, err)
			s.monitor.NotifyDone(req.TransferID)
		}
	}
}

func (s *Submitter) submit(ctx context.Context, client objstore.Client, req Request) error {
	size, err := s.size(ctx, client, req)
	if err != nil {
		return err
	}

	temp := s.fs.TempName(req.Filename)
	if err := s.fs.Allocate(temp, size); err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{
		"transfer_id": req.TransferID,
		"bucket":      req.Bucket,
		"key":         req.Key,
		"size":        size,
	})

	if size < s.cfg.MultipartThreshold || size == 0 {
		log.Debug("submitting single download job")
		s.monitor.NotifyExpectedJobs(req.TransferID, 1)
		job := s.job(req, temp, req.ExtraArgs.Clone(), 0)
		if err := s.jobs.Put(ctx, job); err != nil {
			s.fs.Remove(temp)
			return err
		}
		return nil
	}

	chunk := s.cfg.MultipartChunkSize
	parts := NumParts(size, chunk)
	log.WithField("parts", parts).Debug("submitting ranged download jobs")

	s.monitor.NotifyExpectedJobs(req.TransferID, parts)
	for i := 0; i < parts; i++ {
		args := req.ExtraArgs.Clone()
		args[objstore.ArgRange] = RangeParam(chunk, i, parts, size)
		if err := s.jobs.Put(ctx, s.job(req, temp, args, int64(i)*chunk)); err != nil {
			// queued parts can no longer bring the count to zero
			s.fs.Remove(temp)
			return err
		}
	}
	return nil
}

func (s *Submitter) size(ctx context.Context, client objstore.Client, req Request) (int64, error) {
	if req.ExpectedSize != nil {
		return *req.ExpectedSize, nil
	}
	attrs, err := client.Head(ctx, req.Bucket, req.Key, req.ExtraArgs)
	if err != nil {
		return 0, fmt.Errorf("resolve size of %s/%s: %w", req.Bucket, req.Key, err)
	}
	return attrs.Size, nil
}

func (s *Submitter) job(req Request, temp string, args objstore.Args, offset int64) Job {
	return Job{
		TransferID:   req.TransferID,
		Bucket:       req.Bucket,
		Key:          req.Key,
		TempFilename: temp,
		ExtraArgs:    args,
		Offset:       offset,
		Filename:     req.Filename,
	}
}
