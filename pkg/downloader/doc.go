// Package downloader downloads objects from an object store in parallel.
//
// A [Downloader] owns a pool of goroutines: one submitter that splits each
// requested object into byte-range jobs, and a fixed number of workers that
// fetch the ranges and write them into a temp file next to the destination.
// The temp file is renamed into place once every range has landed.
//
// # Usage
//
//	d := downloader.New(s3store.NewFactory(s3store.Options{Region: "us-east-1"}), downloader.DefaultConfig())
//	defer d.Shutdown()
//
//	f, err := d.Download(ctx, "my-bucket", "path/to/object", "/tmp/object",
//	    downloader.WithExtraArgs(map[string]string{"VersionId": "v2"}))
//	if err != nil {
//	    return err // invalid extra args
//	}
//	if err := f.Result(ctx); err != nil {
//	    return err
//	}
//
// # Lifecycle
//
// The pool starts with the first Download. Shutdown sends a shutdown sentinel
// to the submitter and waits for it, then one sentinel per worker and waits
// for them, then stops the monitor. Requests queued before Shutdown are
// completed first. Futures stay readable after Shutdown.
//
// # Failures
//
// A transfer fails with the first error its size lookup or allocation hits,
// or with the last error recorded by any of its jobs. Retryable read errors
// are retried; when the attempts run out the failure is a
// *download.RetriesExceededError. A failed transfer never creates the
// destination file.
package downloader
