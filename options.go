package treeindex

import (
	"log/slog"

	"github.com/hupe1980/treeindex/distance"
	"github.com/hupe1980/treeindex/internal/resource"
	"github.com/hupe1980/treeindex/snapshot"
	"github.com/hupe1980/treeindex/tree"
	"github.com/hupe1980/treeindex/tree/mtree"
	"github.com/hupe1980/treeindex/tree/rstar"
)

type options struct {
	kind             Kind
	dist             distance.Func
	config           tree.Config
	cachePages       int
	rstarOptions     []rstar.Option
	mtreeOptions     []mtree.Option
	materializeK     int
	workers          int
	controller       *resource.Controller
	compression      snapshot.Compression
	initialLoad      bool
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Open and Restore.
type Option func(*options)

// WithKind selects the tree flavor. Default: KindRStar.
func WithKind(kind Kind) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// WithDistance sets the distance function. Default: distance.Euclidean.
//
// An R*-tree prunes by MinDist to bounding boxes and accepts any Func;
// an M-tree needs a metric (Func.IsMetric).
func WithDistance(fn distance.Func) Option {
	return func(o *options) {
		if fn != nil {
			o.dist = fn
		}
	}
}

// WithTreeConfig sets the creation parameters of a new tree. Dim defaults
// to the relation's dimensionality.
func WithTreeConfig(cfg tree.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithCachePages bounds the page cache of the tree.
func WithCachePages(n int) Option {
	return func(o *options) {
		o.cachePages = n
	}
}

// WithRStarOptions passes strategy options to an R*-tree.
//
// Example:
//
//	treeindex.Open(ctx, rel, file, treeindex.WithRStarOptions(
//	    rstar.WithInsertionStrategy(rstar.LeastOverlap{}),
//	    rstar.WithSplitStrategy(rstar.QuadraticSplit{}),
//	))
func WithRStarOptions(optFns ...rstar.Option) Option {
	return func(o *options) {
		o.rstarOptions = append(o.rstarOptions, optFns...)
	}
}

// WithMTreeOptions passes strategy options to an M-tree.
func WithMTreeOptions(optFns ...mtree.Option) Option {
	return func(o *options) {
		o.mtreeOptions = append(o.mtreeOptions, optFns...)
	}
}

// WithMaterializedRKNN keeps the kNN and reverse kNN sets of every object
// up to k and answers KNNByID and RKNN from them. 0 disables it.
func WithMaterializedRKNN(k int) Option {
	return func(o *options) {
		o.materializeK = k
	}
}

// WithWorkers sets the parallelism of bulk queries and preprocessing.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithResourceLimits bounds the concurrent background jobs and the
// snapshot throughput. ioBytesPerSec 0 means unlimited.
func WithResourceLimits(maxBackgroundWorkers int, ioBytesPerSec int64) Option {
	return func(o *options) {
		o.controller = resource.NewController(resource.Config{
			MaxBackgroundWorkers: int64(maxBackgroundWorkers),
			IOLimitBytesPerSec:   ioBytesPerSec,
		})
	}
}

// WithSnapshotCompression selects the page compression of Snapshot.
// Default: snapshot.CompressionLZ4.
func WithSnapshotCompression(c snapshot.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithoutInitialLoad skips bulk loading the relation into a new, empty tree.
func WithoutInitialLoad() Option {
	return func(o *options) {
		o.initialLoad = false
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &treeindex.BasicMetricsCollector{}
//	idx, _ := treeindex.Open(ctx, rel, file, treeindex.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		kind:             KindRStar,
		dist:             distance.Euclidean{},
		config:           tree.Config{RelativeMinFill: tree.DefaultRelativeMinFill},
		compression:      snapshot.CompressionLZ4,
		initialLoad:      true,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
