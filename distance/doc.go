// Package distance provides the distance capability consumed by the trees
// and queries.
//
// # Functions
//
//   - Euclidean: L2 distance (metric)
//   - SquaredEuclidean: squared L2, same ranking as Euclidean (not a metric)
//   - Manhattan: L1 distance (metric)
//   - Maximum: L-infinity distance (metric)
//   - Minkowski: Lp distance (metric for p >= 1)
//
// Every Func also provides MinDist, a lower bound of the distance between a
// query point and any point inside a box, which the R*-tree uses to prune.
// The M-tree requires IsMetric.
//
// # Queries
//
// A Query resolves object ids. VectorQuery evaluates a Func over vectors from
// an ObjectSource. MatrixFile serves precomputed distances from a
// memory-mapped upper-triangular matrix:
//
//	err := distance.WriteMatrix(nil, "dist.bin", n, func(i, j int) float64 { ... })
//	mf, err := distance.OpenMatrix("dist.bin")
//	d, err := mf.DistanceByID(2, 5)
package distance
