package rstar

import (
	"io"
	"log/slog"
)

type options struct {
	insertion  InsertionStrategy
	split      SplitStrategy
	overflow   OverflowStrategy
	bulk       BulkSplit
	cachePages int
	logger     *slog.Logger
}

func defaultOptions() options {
	return options{
		insertion: LeastEnlargement{},
		split:     TopologicalSplit{},
		overflow:  DefaultReinsert,
		bulk:      SortTileRecursive{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a Tree.
type Option func(*options)

// WithInsertionStrategy sets the subtree choice. Default: LeastEnlargement.
func WithInsertionStrategy(s InsertionStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.insertion = s
		}
	}
}

// WithSplitStrategy sets the node split. Default: TopologicalSplit.
func WithSplitStrategy(s SplitStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.split = s
		}
	}
}

// WithOverflowStrategy sets the overflow treatment. Default: DefaultReinsert.
func WithOverflowStrategy(s OverflowStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.overflow = s
		}
	}
}

// WithBulkSplit sets the bulk-load partitioning. Default: SortTileRecursive.
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
