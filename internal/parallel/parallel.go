// Package parallel runs independent work over contiguous id ranges.
//
// A range [0,n) is partitioned into blocks, the blocks are dispatched on a
// bounded errgroup and the call joins on completion. Cancellation stops
// submitting new blocks; blocks that already started run to completion and
// nothing is rolled back.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/treeindex/internal/resource"
)

// Block is the half-open index range [Start, End).
type Block struct {
	Start int
	End   int
}

// Len returns the number of indexes in the block.
func (b Block) Len() int { return b.End - b.Start }

type options struct {
	workers    int
	controller *resource.Controller
}

// Option configures For.
type Option func(*options)

// WithWorkers sets the number of concurrently running blocks.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithController makes every block hold a background slot of rc while it runs.
func WithController(rc *resource.Controller) Option {
	return func(o *options) {
		o.controller = rc
	}
}

// Partition splits [0,n) into contiguous blocks for p workers.
// Large ranges get p*p-1 blocks for better load balance, small ones get p.
func Partition(n, p int) []Block {
	if n <= 0 {
		return nil
	}
	if p < 1 {
		p = 1
	}
	parts := p
	if n > p*p*16 {
		parts = p*p - 1
	}
	if parts > n {
		parts = n
	}
	if parts < 1 {
		parts = 1
	}

	blocks := make([]Block, 0, parts)
	size := n / parts
	rem := n % parts
	start := 0
	for i := 0; i < parts; i++ {
		end := start + size
		if i < rem {
			end++
		}
		blocks = append(blocks, Block{Start: start, End: end})
		start = end
	}
	return blocks
}

// For calls fn once per block of [0,n) and waits for all submitted blocks.
// The first error cancels the context passed to the remaining blocks and is
// returned.
func For(ctx context.Context, n int, fn func(ctx context.Context, b Block) error, opts ...Option) error {
	o := options{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}

	blocks := Partition(n, o.workers)
	if len(blocks) == 0 {
		return ctx.Err()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, b := range blocks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := o.controller.AcquireBackground(gctx); err != nil {
				return err
			}
			defer o.controller.ReleaseBackground()
			return fn(gctx, b)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ForEach calls fn for every index of [0,n). Each block receives its own
// state from init, so fn may use it without synchronization.
func ForEach[S any](ctx context.Context, n int, init func() S, fn func(state S, i int) error, opts ...Option) error {
	return For(ctx, n, func(ctx context.Context, b Block) error {
		state := init()
		for i := b.Start; i < b.End; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(state, i); err != nil {
				return err
			}
		}
		return nil
	}, opts...)
}
