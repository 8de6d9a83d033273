// Package treeindex provides disk-backed spatial and metric indexes for Go.
//
// An Index keeps a paged R*-tree or M-tree over a relation of float64
// vectors. Tree nodes live in a page file behind an LRU page cache, so the
// same tree runs in memory, on disk, or from a read-only memory map.
//
// # Quick Start
//
//	ctx := context.Background()
//	rel, _ := relation.FromPoints(points)
//	file, _ := pagefile.OpenDiskFile("./points.idx")
//	idx, err := treeindex.Open(ctx, rel, file)
//	if err != nil {
//	    panic(err)
//	}
//	defer idx.Close()
//
//	knn, _ := idx.KNN(ctx, []float64{0.5, 0.5}, 10)
//	for _, n := range knn.Neighbors() {
//	    fmt.Println(n.ID, n.Distance)
//	}
//
// Changes go through the relation and are indexed before the call returns:
//
//	ids, _ := idx.Insert(ctx, []float64{0.1, 0.9})
//	_ = idx.Delete(ctx, ids...)
//
// # Trees
//
//   - KindRStar: R*-tree with pluggable insertion, split, reinsertion and
//     bulk-load strategies (package tree/rstar)
//   - KindMTree: M-tree for any metric distance (package tree/mtree)
//
// # Reverse Nearest Neighbors
//
// WithMaterializedRKNN keeps the kNN and reverse kNN sets of every object
// up to k and maintains them incrementally:
//
//	idx, _ := treeindex.Open(ctx, rel, file, treeindex.WithMaterializedRKNN(10))
//	rknn, _ := idx.RKNN(ctx, id, 5)
//
// # Snapshots
//
// Snapshot exports the page file to a blobstore.BlobStore (local disk, S3
// with an optional DynamoDB commit pointer, MinIO) with per-page LZ4 or
// ZSTD compression. Restore imports it into an empty page file:
//
//	store := blobstore.NewLocalStore("./snapshots")
//	_, _ = idx.Snapshot(ctx, store, "")
//	mem, _ := pagefile.NewMemoryFile()
//	idx2, _ := treeindex.Restore(ctx, store, "", rel, mem)
package treeindex
