package main

import (
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/gulp/internal/config"
	"github.com/ligustah/gulp/internal/objstore"
	"github.com/ligustah/gulp/internal/objstore/blobstore"
	"github.com/ligustah/gulp/internal/objstore/httpstore"
	"github.com/ligustah/gulp/internal/objstore/s3store"
)

// newFactory returns the client factory for the configured backend.
func newFactory(cfg config.Config) (objstore.Factory, error) {
	switch cfg.Store {
	case config.StoreS3:
		return s3store.NewFactory(cfg.S3Options()), nil
	case config.StoreBlob:
		scheme, _, ok := strings.Cut(cfg.BucketURL, "://")
		if !ok || !blob.DefaultURLMux().ValidBucketScheme(scheme) {
			return nil, fmt.Errorf("unsupported bucket url %q", cfg.BucketURL)
		}
		return blobstore.NewFactory(blobstore.URLOpener(cfg.BucketURL), true), nil
	case config.StoreHTTP:
		return httpstore.NewFactory(cfg.HTTPOptions()), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
