package preprocess

import "github.com/hupe1980/treeindex/model"

// ChangeKind tells what triggered a KNNChangeEvent.
type ChangeKind int

const (
	// ObjectsInserted means Objects were added to the relation.
	ObjectsInserted ChangeKind = iota + 1
	// ObjectsRemoved means Objects were removed from the relation.
	ObjectsRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ObjectsInserted:
		return "inserted"
	case ObjectsRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// KNNChangeEvent is delivered after a batch was applied.
type KNNChangeEvent struct {
	Kind ChangeKind
	// Objects are the inserted or removed ids.
	Objects []model.DBID
	// Updated are the surviving ids whose kNN list changed, ascending.
	Updated []model.DBID
}

// KNNListener receives change events. Events are delivered synchronously,
// in batch order, after the materialized lists are consistent.
type KNNListener interface {
	KNNsChanged(ev KNNChangeEvent)
}

// KNNListenerFunc adapts a function to KNNListener.
type KNNListenerFunc func(ev KNNChangeEvent)

// KNNsChanged implements KNNListener.
func (f KNNListenerFunc) KNNsChanged(ev KNNChangeEvent) { f(ev) }
