package treeindex

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/treeindex/blobstore"
	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/index"
	"github.com/hupe1980/treeindex/internal/testutil"
	"github.com/hupe1980/treeindex/model"
	"github.com/hupe1980/treeindex/pagefile"
	"github.com/hupe1980/treeindex/preprocess"
	"github.com/hupe1980/treeindex/query"
	"github.com/hupe1980/treeindex/relation"
	"github.com/hupe1980/treeindex/snapshot"
	"github.com/hupe1980/treeindex/tree"
)

var smallNodes = WithTreeConfig(tree.Config{Capacity: 12, RelativeMinFill: 0.4})

func newRelation(t *testing.T, n, dim int, seed int64) *relation.Vectors {
	t.Helper()
	rel, err := relation.FromPoints(testutil.NewRNG(seed).UniformPoints(n, dim))
	require.NoError(t, err)
	return rel
}

func newMemFile(t *testing.T) *pagefile.MemoryFile {
	t.Helper()
	f, err := pagefile.NewMemoryFile(pagefile.WithPageSize(1024))
	require.NoError(t, err)
	return f
}

func openIndex(t *testing.T, rel relation.Relation, optFns ...Option) *Index {
	t.Helper()
	idx, err := Open(context.Background(), rel, newMemFile(t), append([]Option{smallNodes}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func linearScan(rel *relation.Vectors) *query.LinearScan {
	return query.NewLinearScan(distance.NewVectorQuery(rel, distance.Euclidean{}), rel)
}

func TestOpen_BulkLoadsRelation(t *testing.T) {
	for _, kind := range []Kind{KindRStar, KindMTree} {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			rel := newRelation(t, 400, 3, 1)
			idx := openIndex(t, rel, WithKind(kind))

			assert.Equal(t, kind, idx.Kind())
			assert.Equal(t, 400, idx.Size())
			assert.Equal(t, 3, idx.Dim())
			assert.Greater(t, idx.Height(), 1)
			require.NoError(t, idx.Check())

			oracle := linearScan(rel)
			rng := testutil.NewRNG(7)
			for range 20 {
				q := rng.Point(3)
				want, err := oracle.KNN(ctx, q, 8)
				require.NoError(t, err)
				got, err := idx.KNN(ctx, q, 8)
				require.NoError(t, err)
				assert.Equal(t, want.IDs(), got.IDs())

				wantRange, err := oracle.Range(ctx, q, 0.25)
				require.NoError(t, err)
				gotRange, err := idx.Range(ctx, q, 0.25)
				require.NoError(t, err)
				assert.Equal(t, wantRange.IDs(), gotRange.IDs())
			}
		})
	}
}

func TestOpen_WithoutInitialLoad(t *testing.T) {
	rel := newRelation(t, 50, 2, 2)
	idx := openIndex(t, rel, WithoutInitialLoad())

	assert.Equal(t, 0, idx.Size())
	assert.ErrorIs(t, idx.Check(), index.ErrInvalidState)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	rel := newRelation(t, 10, 2, 3)

	_, err := Open(ctx, nil, newMemFile(t))
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)

	_, err = Open(ctx, rel, nil)
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)

	_, err = Open(ctx, rel, newMemFile(t), WithKind(Kind(99)))
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)

	_, err = Open(ctx, rel, newMemFile(t), WithKind(KindMTree), WithDistance(distance.SquaredEuclidean{}))
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
}

func TestOpen_ReopenChecksKindAndDimension(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tree.idx")
	rel := newRelation(t, 100, 2, 4)

	f, err := pagefile.OpenDiskFile(path, pagefile.WithPageSize(1024))
	require.NoError(t, err)
	idx, err := Open(ctx, rel, f, smallNodes)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	f, err = pagefile.OpenDiskFile(path)
	require.NoError(t, err)
	_, err = Open(ctx, rel, f, WithKind(KindMTree))
	assert.ErrorIs(t, err, index.ErrInvalidConfiguration)
	require.NoError(t, f.Close())

	f, err = pagefile.OpenDiskFile(path)
	require.NoError(t, err)
	_, err = Open(ctx, newRelation(t, 10, 3, 5), f)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
	require.NoError(t, f.Close())

	f, err = pagefile.OpenDiskFile(path)
	require.NoError(t, err)
	idx, err = Open(ctx, rel, f)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	assert.Equal(t, 100, idx.Size())
	require.NoError(t, idx.Check())
}

func TestIndex_InsertDelete(t *testing.T) {
	for _, kind := range []Kind{KindRStar, KindMTree} {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			rel := newRelation(t, 200, 2, 6)
			metrics := &BasicMetricsCollector{}
			idx := openIndex(t, rel, WithKind(kind), WithMetricsCollector(metrics))

			ids, err := idx.Insert(ctx, testutil.NewRNG(8).UniformPoints(100, 2)...)
			require.NoError(t, err)
			require.Len(t, ids, 100)
			assert.Equal(t, 300, idx.Size())

			require.NoError(t, idx.Delete(ctx, ids[:50]...))
			require.NoError(t, idx.Delete(ctx, 0, 1, 2))
			assert.Equal(t, 247, idx.Size())
			require.NoError(t, idx.Check())

			got, err := idx.KNNByID(ctx, ids[60], 1)
			require.NoError(t, err)
			assert.Equal(t, []model.DBID{ids[60]}, got.IDs())

			_, err = idx.KNNByID(ctx, ids[0], 1)
			assert.ErrorIs(t, err, ErrNotFound)

			err = idx.Delete(ctx, ids[0])
			assert.ErrorIs(t, err, ErrNotFound)

			stats := metrics.GetStats()
			assert.Equal(t, int64(1), stats.InsertCount)
			assert.Equal(t, int64(100), stats.InsertObjects)
			assert.Equal(t, int64(3), stats.DeleteCount)
			assert.Equal(t, int64(53), stats.DeleteObjects)
			assert.Equal(t, int64(1), stats.DeleteErrors)
			assert.Equal(t, int64(1), stats.BulkLoadCount)
			assert.Equal(t, int64(200), stats.BulkLoadObjects)
			assert.Equal(t, int64(2), stats.SearchCount)
			assert.Equal(t, int64(1), stats.SearchErrors)
		})
	}
}

func TestIndex_ConcurrentInsertDeleteQuery(t *testing.T) {
	for _, kind := range []Kind{KindRStar, KindMTree} {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			rel := newRelation(t, 200, 2, 31)
			idx := openIndex(t, rel, WithKind(kind), WithMaterializedRKNN(5))

			const writers, perWriter = 4, 100
			inserted := make(chan model.DBID, writers*perWriter)
			var wg sync.WaitGroup
			for w := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rng := testutil.NewRNG(int64(100 + w))
					for range perWriter {
						ids, err := idx.Insert(ctx, rng.Point(2))
						if !assert.NoError(t, err) {
							return
						}
						inserted <- ids[0]
					}
				}()
			}

			var deleters sync.WaitGroup
			for range writers {
				deleters.Add(1)
				go func() {
					defer deleters.Done()
					for id := range inserted {
						assert.NoError(t, idx.Delete(ctx, id))
					}
				}()
			}

			done := make(chan struct{})
			var readers sync.WaitGroup
			for r := range 2 {
				readers.Add(1)
				go func() {
					defer readers.Done()
					rng := testutil.NewRNG(int64(200 + r))
					for {
						select {
						case <-done:
							return
						default:
						}
						_, err := idx.KNN(ctx, rng.Point(2), 5)
						assert.NoError(t, err)
					}
				}()
			}

			wg.Wait()
			close(inserted)
			deleters.Wait()
			close(done)
			readers.Wait()

			assert.Equal(t, 200, idx.Size())
			assert.Equal(t, 200, rel.Size())
			require.NoError(t, idx.Check())

			oracle := linearScan(rel)
			for _, id := range []model.DBID{0, 57, 199} {
				want, err := oracle.KNNByID(ctx, id, 5)
				require.NoError(t, err)
				got, err := idx.KNNByID(ctx, id, 5)
				require.NoError(t, err)
				assert.Equal(t, want.Neighbors(), got.Neighbors())
			}
		})
	}
}

func TestIndex_QueryErrors(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t, newRelation(t, 20, 2, 9))

	_, err := idx.KNN(ctx, []float64{0.5, 0.5}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = idx.KNN(ctx, []float64{0.5, 0.5, 0.5}, 3)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.ErrorIs(t, err, index.ErrUnsupportedOperation)

	_, err = idx.RKNN(ctx, 999, 3)
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = idx.Range(cancelled, []float64{0.5, 0.5}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex_RKNN(t *testing.T) {
	ctx := context.Background()
	rel := newRelation(t, 150, 2, 10)
	plain := openIndex(t, rel)
	materialized := openIndex(t, rel, WithMaterializedRKNN(6), WithWorkers(4))

	oracle := query.NewSelfJoinRKNN(linearScan(rel), rel)
	check := func(k int) {
		for _, id := range rel.IDs().Slice()[:30] {
			want, err := oracle.RKNN(ctx, id, k)
			require.NoError(t, err)

			got, err := materialized.RKNN(ctx, id, k)
			require.NoError(t, err)
			assert.Equal(t, want.IDs(), got.IDs(), "id %d", id)

			got, err = plain.RKNN(ctx, id, k)
			require.NoError(t, err)
			assert.Equal(t, want.IDs(), got.IDs(), "id %d", id)
		}
	}
	check(6)
	check(3)

	_, err := materialized.RKNN(ctx, 0, 7)
	assert.ErrorIs(t, err, index.ErrUnsupportedOperation)

	var events []preprocess.KNNChangeEvent
	require.NoError(t, materialized.AddKNNListener(preprocess.KNNListenerFunc(func(ev preprocess.KNNChangeEvent) {
		events = append(events, ev)
	})))
	assert.ErrorIs(t, plain.AddKNNListener(preprocess.KNNListenerFunc(func(preprocess.KNNChangeEvent) {})), index.ErrUnsupportedOperation)

	ids, err := materialized.Insert(ctx, testutil.NewRNG(11).UniformPoints(20, 2)...)
	require.NoError(t, err)
	require.NoError(t, materialized.Delete(ctx, ids[:5]...))
	assert.NotEmpty(t, events)

	require.NoError(t, materialized.Check())
	require.NoError(t, plain.Check())
	check(6)
}

func TestIndex_BulkKNN(t *testing.T) {
	ctx := context.Background()
	rel := newRelation(t, 120, 4, 12)
	idx := openIndex(t, rel, WithKind(KindMTree), WithResourceLimits(2, 0))

	ids := rel.IDs().Slice()
	got, err := idx.BulkKNN(ctx, ids, 5)
	require.NoError(t, err)
	require.Len(t, got, len(ids))

	oracle := linearScan(rel)
	for _, id := range ids[:20] {
		want, err := oracle.KNNByID(ctx, id, 5)
		require.NoError(t, err)
		assert.Equal(t, want.IDs(), got[id].IDs())
	}
}

func TestIndex_ReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tree.idx")
	rel := newRelation(t, 300, 2, 13)

	f, err := pagefile.OpenDiskFile(path, pagefile.WithPageSize(1024))
	require.NoError(t, err)
	idx, err := Open(ctx, rel, f, smallNodes)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	mf, err := pagefile.OpenMappedFile(path)
	require.NoError(t, err)
	ro, err := Open(ctx, rel, mf)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	require.NoError(t, ro.Check())
	want, err := linearScan(rel).KNN(ctx, []float64{0.3, 0.7}, 10)
	require.NoError(t, err)
	got, err := ro.KNN(ctx, []float64{0.3, 0.7}, 10)
	require.NoError(t, err)
	assert.Equal(t, want.IDs(), got.IDs())

	_, err = ro.Insert(ctx, []float64{0.1, 0.1})
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, ro.Delete(ctx, 1), ErrReadOnly)
	assert.Equal(t, 300, rel.Size())
}

// staticRelation exposes a relation without its mutators.
type staticRelation struct {
	v *relation.Vectors
}

func (r staticRelation) Get(id model.DBID) ([]float64, bool) { return r.v.Get(id) }
func (r staticRelation) Size() int                           { return r.v.Size() }
func (r staticRelation) IDs() *model.DBIDs                   { return r.v.IDs() }
func (r staticRelation) Dim() int                            { return r.v.Dim() }
func (r staticRelation) Subscribe(relation.Listener)         {}

func TestIndex_ImmutableRelation(t *testing.T) {
	idx := openIndex(t, staticRelation{newRelation(t, 10, 2, 14)})
	_, err := idx.Insert(context.Background(), []float64{0, 0})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestIndex_Closed(t *testing.T) {
	ctx := context.Background()
	rel := newRelation(t, 30, 2, 15)
	idx, err := Open(ctx, rel, newMemFile(t), smallNodes)
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.KNN(ctx, []float64{0, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, idx.Check(), ErrClosed)
	assert.ErrorIs(t, idx.Flush(), ErrClosed)
	_, err = idx.Insert(ctx, []float64{0, 0})
	assert.ErrorIs(t, err, ErrClosed)

	// The relation still notifies the closed index.
	_, err = rel.Insert(ctx, []float64{0, 0})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 31, rel.Size())
}

func TestIndex_SnapshotRestore(t *testing.T) {
	for _, kind := range []Kind{KindRStar, KindMTree} {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			rel := newRelation(t, 250, 3, 16)
			store := blobstore.NewMemoryStore()
			idx := openIndex(t, rel, WithKind(kind), WithSnapshotCompression(snapshot.CompressionZSTD))

			ids, err := idx.Insert(ctx, testutil.NewRNG(17).UniformPoints(30, 3)...)
			require.NoError(t, err)
			require.NoError(t, idx.Delete(ctx, ids[:10]...))

			m, err := idx.Snapshot(ctx, store, "v1")
			require.NoError(t, err)
			assert.Equal(t, "v1", m.Name)
			assert.Equal(t, snapshot.CompressionZSTD, m.Compression)

			restored, err := Restore(ctx, store, "", rel, newMemFile(t), WithKind(kind))
			require.NoError(t, err)
			defer func() { _ = restored.Close() }()

			assert.Equal(t, idx.Size(), restored.Size())
			assert.Equal(t, idx.Height(), restored.Height())
			require.NoError(t, restored.Check())

			q := []float64{0.2, 0.4, 0.6}
			want, err := idx.KNN(ctx, q, 12)
			require.NoError(t, err)
			got, err := restored.KNN(ctx, q, 12)
			require.NoError(t, err)
			assert.Equal(t, want.IDs(), got.IDs())
		})
	}
}

func TestRestore_Errors(t *testing.T) {
	ctx := context.Background()
	rel := newRelation(t, 10, 2, 18)

	_, err := Restore(ctx, blobstore.NewMemoryStore(), "", rel, newMemFile(t))
	assert.ErrorIs(t, err, index.ErrNotFound)

	_, err = Restore(ctx, blobstore.NewMemoryStore(), "missing", rel, newMemFile(t))
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestIndex_Stats(t *testing.T) {
	idx := openIndex(t, newRelation(t, 500, 2, 19), WithCachePages(8))

	st, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, KindRStar, st.Kind)
	assert.Equal(t, uint64(500), st.Size)
	assert.Equal(t, 12, st.Capacity)
	assert.Equal(t, st.Nodes, st.LeafNodes+st.DirectoryNodes)
	assert.Greater(t, st.AvgFill, 0.0)
	assert.LessOrEqual(t, st.AvgFill, 1.0)
}

func TestIndex_Logging(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	idx := openIndex(t, newRelation(t, 40, 2, 20), WithLogger(logger))

	_, err := idx.KNN(context.Background(), []float64{0.5, 0.5}, 3)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"bulk load completed"`)
	assert.Contains(t, out, `"msg":"search completed"`)
	assert.Contains(t, out, `"query":"knn"`)
	assert.Contains(t, out, `"kind":"`+KindRStar.String()+`"`)
}
