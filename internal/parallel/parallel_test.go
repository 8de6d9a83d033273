package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/internal/resource"
)

func TestPartition(t *testing.T) {
	blocks := Partition(10, 3)
	require.Len(t, blocks, 3)
	assert.Equal(t, Block{0, 4}, blocks[0])
	assert.Equal(t, Block{4, 7}, blocks[1])
	assert.Equal(t, Block{7, 10}, blocks[2])

	// n > p*p*16 switches to p*p-1 blocks.
	blocks = Partition(1000, 4)
	require.Len(t, blocks, 15)
	total := 0
	for i, b := range blocks {
		total += b.Len()
		if i > 0 {
			assert.Equal(t, blocks[i-1].End, b.Start)
		}
	}
	assert.Equal(t, 1000, total)

	assert.Len(t, Partition(2, 8), 2)
	assert.Nil(t, Partition(0, 4))
}

func TestForEach_VisitsEveryIndexOnce(t *testing.T) {
	const n = 5000
	var seen [n]atomic.Int32
	var states atomic.Int32

	err := ForEach(context.Background(), n,
		func() *int {
			states.Add(1)
			return new(int)
		},
		func(count *int, i int) error {
			*count++
			seen[i].Add(1)
			return nil
		},
		WithWorkers(4),
		WithController(resource.NewController(resource.Config{MaxBackgroundWorkers: 2})),
	)
	require.NoError(t, err)

	for i := range seen {
		require.Equal(t, int32(1), seen[i].Load(), "index %d", i)
	}
	assert.Equal(t, int32(15), states.Load())
}

func TestFor_ErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32

	err := For(context.Background(), 9, func(ctx context.Context, b Block) error {
		calls.Add(1)
		if b.Start == 0 {
			return boom
		}
		return nil
	}, WithWorkers(3))

	assert.ErrorIs(t, err, boom)
	assert.LessOrEqual(t, calls.Load(), int32(3))
}

func TestFor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := For(ctx, 10, func(context.Context, Block) error {
		calls++
		return nil
	}, WithWorkers(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}
