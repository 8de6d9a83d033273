// Package resource implements a Controller for shared limits.
//
//   - Concurrency: bounds the number of background workers (bulk kNN blocks)
//   - IO: rate-limits snapshot export and import so that they do not starve queries
//
// All methods handle a nil Controller gracefully; they become no-ops.
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 4,
//	    IOLimitBytesPerSec:   64 << 20,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
//	w := resource.NewRateLimitedWriter(ctx, dst, rc)
package resource
