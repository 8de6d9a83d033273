package preprocess

import (
	"io"
	"log/slog"

	"github.com/hupe1980/treeindex/internal/resource"
	"github.com/hupe1980/treeindex/query"
)

type options struct {
	workers    int
	controller *resource.Controller
	logger     *slog.Logger
}

// Option configures a preprocessor.
type Option func(*options)

// WithWorkers sets the parallelism of bulk kNN computation.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithController bounds bulk kNN computation by the background slots of rc.
func WithController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
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

func (o options) query() []query.Option {
	return []query.Option{query.WithWorkers(o.workers), query.WithController(o.controller)}
}

func defaultOptions() options {
	return options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
