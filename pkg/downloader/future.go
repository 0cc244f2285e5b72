package downloader

import (
	"context"
	"errors"

	"github.com/ligustah/gulp/internal/download"
	"github.com/ligustah/gulp/internal/monitor"
	"github.com/ligustah/gulp/internal/objstore"
)

// CallArgs are the arguments a download was requested with.
type CallArgs struct {
	Bucket       string
	Key          string
	Filename     string
	ExtraArgs    objstore.Args
	ExpectedSize *int64
}

// Meta describes a transfer.
type Meta struct {
	TransferID monitor.ID
	CallArgs   CallArgs

	// UserContext is free for the caller's bookkeeping.
	UserContext map[string]any
}

// Future is the handle of a queued download.
type Future struct {
	meta    Meta
	monitor monitor.Monitor
}

// Meta returns the transfer's metadata.
func (f *Future) Meta() *Meta {
	return &f.meta
}

// Done reports whether the transfer has finished.
func (f *Future) Done() bool {
	return f.monitor.IsDone(f.meta.TransferID)
}

// Result waits for the transfer to finish and returns its failure, or nil
// once the destination file is in place. A finished transfer reports its
// outcome even when ctx has already ended. Otherwise, if ctx ends first, the
// transfer is cancelled and ctx's error is returned.
func (f *Future) Result(ctx context.Context) error {
	err := f.monitor.PollForResult(ctx, f.meta.TransferID)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		if f.Done() {
			return f.monitor.GetError(f.meta.TransferID)
		}
		f.Cancel()
		return ctxErr
	}
	return err
}

// Cancel fails the transfer with download.ErrCancelled. Jobs already in
// flight run to completion but the temp file is discarded.
func (f *Future) Cancel() {
	f.monitor.NotifyError(f.meta.TransferID, download.ErrCancelled)
}
