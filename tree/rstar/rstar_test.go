package rstar

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/testutil"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/query"
	"github.com/hupe1980/treeindex/relation"
	"github.com/hupe1980/treeindex/tree"
)

var testConfig = tree.Config{Capacity: 20, RelativeMinFill: 0.4, Dim: 2}

func newMemTree(t *testing.T, src distance.ObjectSource, optFns ...Option) *Tree {
	t.Helper()
	f, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024))
	require.NoError(t, err)
	tr, err := New(f, src, distance.Euclidean{}, testConfig, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func oracle(rel *relation.Vectors) *query.LinearScan {
	return query.NewLinearScan(distance.NewVectorQuery(rel, distance.Euclidean{}), rel)
}

func TestTree_RandomInsertMatchesLinearScan(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(42)
	rel, err := relation.FromPoints(rng.UniformPoints(1000, 2))
	require.NoError(t, err)

	tr := newMemTree(t, rel, WithCachePages(16))
	assert.Equal(t, 8, tr.MinFill())

	for i, id := range rel.IDs().Slice() {
		require.NoError(t, tr.Insert(ctx, id))
		if i%100 == 99 {
			require.NoError(t, tr.Validate(), "after %d inserts", i+1)
		}
	}
	require.NoError(t, tr.Validate())
	assert.Equal(t, 1000, tr.Size())
	assert.Greater(t, tr.Height(), 1)

	scan := oracle(rel)
	for i := 0; i < 50; i++ {
		q := rng.Point(2)
		want, err := scan.KNN(ctx, q, 10)
		require.NoError(t, err)
		got, err := tr.KNN(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, want.Neighbors(), got.Neighbors())
	}

	st, err := tr.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), st.Size)
	assert.Greater(t, st.Cache.Evictions, uint64(0))
	assert.GreaterOrEqual(t, st.AvgFill, 0.4)
}

func TestTree_StrategyVariants(t *testing.T) {
	ctx := context.Background()
	variants := map[string][]Option{
		"least overlap":     {WithInsertionStrategy(LeastOverlap{})},
		"combined":          {WithInsertionStrategy(Combined{Directory: LeastEnlargement{}, Leaf: LeastOverlap{}})},
		"quadratic":         {WithSplitStrategy(QuadraticSplit{}), WithOverflowStrategy(NoReinsert{})},
		"far reinsert":      {WithOverflowStrategy(LimitedReinsert{Fraction: 0.3})},
		"topological split": {WithOverflowStrategy(NoReinsert{})},
	}
	for name, opts := range variants {
		t.Run(name, func(t *testing.T) {
			rng := testutil.NewRNG(9)
			rel, err := relation.FromPoints(rng.UniformPoints(400, 2))
			require.NoError(t, err)
			tr := newMemTree(t, rel, opts...)
			require.NoError(t, tr.ObjectsInserted(ctx, rel.IDs()))
			require.NoError(t, tr.Validate())

			scan := oracle(rel)
			for i := 0; i < 10; i++ {
				q := rng.Point(2)
				want, err := scan.Range(ctx, q, 0.1)
				require.NoError(t, err)
				got, err := tr.Range(ctx, q, 0.1)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestTree_InsertDeleteKeepsInvariants(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(1)
	rel, err := relation.FromPoints(rng.UniformPoints(600, 2))
	require.NoError(t, err)
	tr := newMemTree(t, rel, WithCachePages(8))

	ids := rel.IDs().Slice()
	for _, id := range ids {
		require.NoError(t, tr.Insert(ctx, id))
	}

	live := model.NewDBIDs(ids...)
	for round, i := range rng.Perm(len(ids))[:450] {
		id := ids[i]
		ok, err := tr.Delete(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, "delete %d", id)
		live.Remove(id)
		if round%50 == 0 {
			require.NoError(t, tr.Validate(), "after %d deletes", round+1)
		}
	}
	require.NoError(t, tr.Validate())
	assert.Equal(t, live.Len(), tr.Size())

	ok, err := tr.Delete(ctx, model.DBID(99999))
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := tr.Range(ctx, []float64{0.5, 0.5}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, live.Slice(), res.IDs())

	for _, id := range live.Slice() {
		ok, err := tr.Delete(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, tr.Validate())
	assert.Equal(t, 0, tr.Size())
	assert.Equal(t, 1, tr.Height(), "removing every object leaves an empty leaf root")

	knn, err := tr.KNN(ctx, []float64{0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, knn.Len())
}

func TestTree_DeleteAfterRelationRemove(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(17)
	rel, err := relation.FromPoints(rng.UniformPoints(200, 2))
	require.NoError(t, err)
	tr := newMemTree(t, rel)
	require.NoError(t, tr.ObjectsInserted(ctx, rel.IDs()))

	rel.Subscribe(tr)
	require.NoError(t, rel.Remove(ctx, 3, 50, 199))
	require.NoError(t, tr.Validate())
	assert.Equal(t, 197, tr.Size())

	ids, err := rel.Insert(ctx, []float64{0.5, 0.5})
	require.NoError(t, err)
	knn, err := tr.KNN(ctx, []float64{0.5, 0.5}, 1)
	require.NoError(t, err)
	assert.Equal(t, ids, knn.IDs())
}

func TestTree_BulkLoadHilbert(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(31)
	rel, err := relation.FromPoints(rng.UniformPoints(900, 2))
	require.NoError(t, err)

	tr := newMemTree(t, rel, WithBulkSplit(HilbertCurve{}))
	require.NoError(t, tr.BulkLoad(ctx, rel.IDs().Slice()))
	require.NoError(t, tr.Validate())
	assert.Equal(t, 900, tr.Size())

	scan := oracle(rel)
	for range 20 {
		q := rng.Point(2)
		want, err := scan.KNN(ctx, q, 7)
		require.NoError(t, err)
		got, err := tr.KNN(ctx, q, 7)
		require.NoError(t, err)
		assert.Equal(t, want.Neighbors(), got.Neighbors())
	}
}

func TestTree_RelationRemoveDescendsByPoint(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(29)
	rel, err := relation.FromPoints(rng.UniformPoints(5000, 2))
	require.NoError(t, err)

	f, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024))
	require.NoError(t, err)
	tr, err := New(f, rel, distance.Euclidean{}, testConfig, WithCachePages(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	require.NoError(t, tr.BulkLoad(ctx, rel.IDs().Slice()))
	rel.Subscribe(tr)

	before := f.Stats().Reads
	require.NoError(t, rel.Remove(ctx, 2500))
	reads := f.Stats().Reads - before

	assert.LessOrEqual(t, reads, uint64(3*tr.Height()), "delete should follow the boxes holding the point")
	assert.Equal(t, 4999, tr.Size())
	require.NoError(t, tr.Validate())
}

func TestTree_BulkLoadMatchesIncremental(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(23)
	rel, err := relation.FromPoints(rng.UniformPoints(750, 2))
	require.NoError(t, err)
	ids := rel.IDs().Slice()

	bulk := newMemTree(t, rel)
	require.NoError(t, bulk.BulkLoad(ctx, ids))
	require.NoError(t, bulk.Validate())
	assert.Equal(t, 750, bulk.Size())

	incr := newMemTree(t, rel)
	for _, id := range ids {
		require.NoError(t, incr.Insert(ctx, id))
	}

	for i := 0; i < 25; i++ {
		q := rng.Point(2)
		a, err := bulk.KNN(ctx, q, 7)
		require.NoError(t, err)
		b, err := incr.KNN(ctx, q, 7)
		require.NoError(t, err)
		assert.Equal(t, a.Neighbors(), b.Neighbors())

		ra, err := bulk.Range(ctx, q, 0.15)
		require.NoError(t, err)
		rb, err := incr.Range(ctx, q, 0.15)
		require.NoError(t, err)
		assert.Equal(t, ra, rb)
	}

	assert.ErrorIs(t, bulk.BulkLoad(ctx, ids), index.ErrInvalidState)

	// A bulk-loaded tree keeps working incrementally.
	for _, id := range ids[:100] {
		ok, err := bulk.Delete(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, bulk.Validate())
}

func TestTree_KNNTies(t *testing.T) {
	ctx := context.Background()
	points := testutil.NewRNG(2).GridPoints(100, 2, 10)
	rel, err := relation.FromPoints(points)
	require.NoError(t, err)
	tr := newMemTree(t, rel)
	require.NoError(t, tr.BulkLoad(ctx, rel.IDs().Slice()))

	scan := oracle(rel)
	for _, id := range []model.DBID{0, 11, 55, 99} {
		want, err := scan.KNNByID(ctx, id, 3)
		require.NoError(t, err)
		got, err := tr.KNNByID(ctx, id, 3)
		require.NoError(t, err)
		assert.Equal(t, want.Neighbors(), got.Neighbors())
		assert.GreaterOrEqual(t, got.Len(), 3)
	}
}

func TestTree_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rstar.pages")
	rng := testutil.NewRNG(31)
	rel, err := relation.FromPoints(rng.UniformPoints(300, 2))
	require.NoError(t, err)

	f, err := pagefile.OpenDiskFile(path, pagefile.WithPageSize(1024))
	require.NoError(t, err)
	tr, err := New(f, rel, distance.Euclidean{}, testConfig, WithCachePages(4))
	require.NoError(t, err)
	require.NoError(t, tr.ObjectsInserted(ctx, rel.IDs()))

	q := []float64{0.3, 0.7}
	want, err := tr.KNN(ctx, q, 5)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	_, err = tr.KNN(ctx, q, 5)
	assert.ErrorIs(t, err, index.ErrInvalidState)
	assert.ErrorIs(t, tr.Insert(ctx, 0), index.ErrInvalidState)

	f, err = pagefile.OpenDiskFile(path)
	require.NoError(t, err)
	tr, err = New(f, rel, distance.Euclidean{}, tree.Config{RelativeMinFill: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 300, tr.Size())
	require.NoError(t, tr.Validate())
	got, err := tr.KNN(ctx, q, 5)
	require.NoError(t, err)
	assert.Equal(t, want.Neighbors(), got.Neighbors())
	require.NoError(t, tr.Close())

	mf, err := pagefile.OpenMappedFile(path)
	require.NoError(t, err)
	ro, err := New(mf, rel, distance.Euclidean{}, tree.Config{RelativeMinFill: 0.4})
	require.NoError(t, err)
	got, err = ro.KNN(ctx, q, 5)
	require.NoError(t, err)
	assert.Equal(t, want.Neighbors(), got.Neighbors())
	assert.ErrorIs(t, ro.InsertPoint(ctx, 1000, []float64{0.1, 0.1}), index.ErrUnsupportedOperation)
	require.NoError(t, ro.Close())

	f, err = pagefile.OpenDiskFile(path)
	require.NoError(t, err)
	_, err = New(f, rel, distance.Euclidean{}, tree.Config{RelativeMinFill: 0.4, Dim: 3})
	assert.ErrorIs(t, err, index.ErrUnsupportedOperation)
	require.NoError(t, f.Close())
}

func TestTree_Errors(t *testing.T) {
	ctx := context.Background()
	rel, err := relation.FromPoints([][]float64{{0, 0}, {1, 1}})
	require.NoError(t, err)
	tr := newMemTree(t, rel)

	assert.ErrorIs(t, tr.InsertPoint(ctx, 5, []float64{1, 2, 3}), index.ErrUnsupportedOperation)
	assert.ErrorIs(t, tr.Insert(ctx, 42), index.ErrNotFound)
	_, err = tr.KNN(ctx, []float64{0, 0}, 0)
	assert.ErrorIs(t, err, index.ErrInvalidK)
	_, err = tr.Range(ctx, []float64{0}, 1)
	assert.ErrorIs(t, err, index.ErrUnsupportedOperation)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, tr.Insert(cancelled, 0), context.Canceled)

	f, err := pagefile.NewMemoryFile()
	require.NoError(t, err)
	_, err = New(f, rel, nil, testConfig)
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)

	_, err = New(f, rel, distance.Euclidean{}, tree.Config{Capacity: 20, RelativeMinFill: 0.6, Dim: 2})
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
}

func TestTree_OutOfSpace(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(8)
	rel, err := relation.FromPoints(rng.UniformPoints(200, 2))
	require.NoError(t, err)

	f, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024), pagefile.WithMaxPages(4))
	require.NoError(t, err)
	tr, err := New(f, rel, distance.Euclidean{}, testConfig, WithOverflowStrategy(NoReinsert{}))
	require.NoError(t, err)
	defer tr.Close()

	var insertErr error
	for _, id := range rel.IDs().Slice() {
		if insertErr = tr.Insert(ctx, id); insertErr != nil {
			break
		}
	}
	assert.ErrorIs(t, insertErr, index.ErrOutOfSpace)
}
