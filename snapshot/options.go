package snapshot

import (
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/treeindex/internal/resource"
)

type options struct {
	compression Compression
	controller  *resource.Controller
	logger      *slog.Logger
	commit      bool
	now         func() time.Time
}

func defaultOptions() options {
	return options{
		compression: CompressionLZ4,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		commit:      true,
		now:         time.Now,
	}
}

// Option configures Export and Import.
type Option func(*options)

// WithCompression selects the page compression. Default: LZ4.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithController shares a resource controller whose IO limit throttles
// snapshot traffic.
func WithController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithIOLimit caps snapshot traffic at bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.controller = resource.NewController(resource.Config{IOLimitBytesPerSec: bytesPerSec})
	}
}

// WithoutCommit skips the CURRENT update after Export.
func WithoutCommit() Option {
	return func(o *options) {
		o.commit = false
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
