// Package mtree implements a paged M-tree for metric distances.
//
// Every directory entry holds a routing object, the covering radius of its
// subtree and its distance to the parent routing object. Queries use the
// stored parent distances to skip entries by the triangle inequality before
// computing any distance to the query.
package mtree
