package mtree

import (
	"io"
	"log/slog"
)

type options struct {
	insertion  InsertionStrategy
	split      SplitStrategy
	bulk       BulkSplit
	cachePages int
	logger     *slog.Logger
}

func defaultOptions() options {
	return options{
		insertion: MinRadiusIncrease{},
		split:     MMRadSplit{},
		bulk:      PivotOrdering{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Tree.
type Option func(*options)

// WithInsertionStrategy sets the subtree choice. Default: MinRadiusIncrease.
func WithInsertionStrategy(s InsertionStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.insertion = s
		}
	}
}

// WithSplitStrategy sets the node split. Default: MMRadSplit.
func WithSplitStrategy(s SplitStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.split = s
		}
	}
}

// WithBulkSplit sets the bulk-load partitioning. Default: PivotOrdering.
func WithBulkSplit(s BulkSplit) Option {
	return func(o *options) {
		if s != nil {
			o.bulk = s
		}
	}
}

// WithCachePages sets the number of node frames in the page cache.
func WithCachePages(n int) Option {
	return func(o *options) {
		o.cachePages = n
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
