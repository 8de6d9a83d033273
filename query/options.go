package query

import (
	"github.com/hupe1980/treeindex/internal/parallel"
	"github.com/hupe1980/treeindex/internal/resource"
)

type options struct {
	workers    int
	controller *resource.Controller
}

// Option configures parallel query execution.
type Option func(*options)

// WithWorkers sets the number of concurrently evaluated id blocks.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithController bounds bulk queries by the background slots of rc.
func WithController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

func (o options) parallel() []parallel.Option {
	return []parallel.Option{parallel.WithWorkers(o.workers), parallel.WithController(o.controller)}
}
