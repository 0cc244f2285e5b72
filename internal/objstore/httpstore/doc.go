// Package httpstore reads objects from a plain HTTP origin that serves
// range requests.
//
// The bucket is a base URL and the key a path below it:
//
//	client := httpstore.NewClient(httpstore.DefaultOptions())
//	attrs, err := client.Head(ctx, "https://mirror.example.com/releases", "v1/image.iso", nil)
//	resp, err := client.GetObject(ctx, "https://mirror.example.com/releases", "v1/image.iso",
//	    objstore.Args{objstore.ArgRange: objstore.FormatRange(0, 1<<20-1)})
//
// The client does not retry. Server errors and throttling are reported as
// [ErrServerError], which [Client.Retryable] accepts.
package httpstore
