package query

import (
	"context"

	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/parallel"
	"github.com/hupe1980/treeindex/model"
)

// BulkKNN runs q.KNNByID for every id in parallel. Cancellation stops
// new blocks from starting and returns the context error.
func BulkKNN(ctx context.Context, q index.KNNQuery, ids []model.DBID, k int, optFns ...Option) (map[model.DBID]*model.KNNList, error) {
	if err := index.ValidateK(k); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range optFns {
		fn(&o)
	}

	lists := make([]*model.KNNList, len(ids))
	err := parallel.For(ctx, len(ids), func(ctx context.Context, b parallel.Block) error {
		for i := b.Start; i < b.End; i++ {
			l, err := q.KNNByID(ctx, ids[i], k)
			if err != nil {
				return err
			}
			lists[i] = l
		}
		return nil
	}, o.parallel()...)
	if err != nil {
		return nil, err
	}

	out := make(map[model.DBID]*model.KNNList, len(ids))
	for i, id := range ids {
		out[id] = lists[i]
	}
	return out, nil
}
