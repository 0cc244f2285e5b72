// Package objstore defines the boundary between gulp and an object store.
//
// A [Client] resolves an object's size ([Client.Head]) and reads whole
// objects or inclusive byte ranges ([Client.GetObject]). Clients also
// classify their own errors as retryable or fatal.
//
// Clients are never shared between execution units. Units receive a
// [Factory] instead and build a client after they start:
//
//	client, err := factory(ctx)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Implementations live in subpackages:
//   - blobstore: any gocloud.dev/blob bucket (s3, gcs, file, mem)
//   - s3store: Amazon S3 through aws-sdk-go, supporting every extra arg
//   - httpstore: a plain HTTP origin serving range requests
package objstore
