package pagefile

import (
	"io"
	"log/slog"

	"github.com/hupe1980/treeindex/internal/fs"
)

type options struct {
	pageSize int
	maxPages int
	fs       fs.FileSystem
	logger   *slog.Logger
}

func defaultOptions() options {
	return options{
		fs:     fs.Default,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a page file.
type Option func(*options)

// WithPageSize sets the physical page size. A DiskFile that already exists
// must have been created with the same size.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// WithMaxPages bounds the number of page slots. Allocate fails with
// index.ErrOutOfSpace beyond it. 0 means unbounded.
func WithMaxPages(n int) Option {
	return func(o *options) {
		o.maxPages = n
	}
}

// WithFileSystem sets the file system used by DiskFile.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
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
