package treeindex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordInsert is called after each insert. count is the number of
	// objects in the call.
	RecordInsert(count int, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(count int, duration time.Duration, err error)

	// RecordSearch is called after each kNN, range or reverse kNN query.
	// k is 0 for range queries.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordBulkLoad is called after each bulk load.
	RecordBulkLoad(count int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordBulkLoad(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertObjects    atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
	DeleteObjects    atomic.Int64
	DeleteErrors     atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	BulkLoadCount    atomic.Int64
	BulkLoadObjects  atomic.Int64
	BulkLoadErrors   atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(count int, duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
		return
	}
	b.InsertObjects.Add(int64(count))
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(count int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
		return
	}
	b.DeleteObjects.Add(int64(count))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordBulkLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBulkLoad(count int, _ time.Duration, err error) {
	b.BulkLoadCount.Add(1)
	if err != nil {
		b.BulkLoadErrors.Add(1)
		return
	}
	b.BulkLoadObjects.Add(int64(count))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:     b.InsertCount.Load(),
		InsertObjects:   b.InsertObjects.Load(),
		InsertErrors:    b.InsertErrors.Load(),
		InsertAvgNanos:  avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		DeleteCount:     b.DeleteCount.Load(),
		DeleteObjects:   b.DeleteObjects.Load(),
		DeleteErrors:    b.DeleteErrors.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchAvgNanos:  avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		BulkLoadCount:   b.BulkLoadCount.Load(),
		BulkLoadObjects: b.BulkLoadObjects.Load(),
		BulkLoadErrors:  b.BulkLoadErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount     int64
	InsertObjects   int64
	InsertErrors    int64
	InsertAvgNanos  int64
	DeleteCount     int64
	DeleteObjects   int64
	DeleteErrors    int64
	SearchCount     int64
	SearchErrors    int64
	SearchAvgNanos  int64
	BulkLoadCount   int64
	BulkLoadObjects int64
	BulkLoadErrors  int64
}
