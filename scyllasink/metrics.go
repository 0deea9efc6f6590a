package scyllasink

import "sync/atomic"

// Metrics holds the four signals spec §6.4 requires: queued-batch-items
// (gauge), batches-sent (counter), batch-size (histogram over batch
// length), and batch-items-sent (counter). The core has no metrics-backend
// dependency (spec §1 treats the metrics sink as an external collaborator);
// callers read a Snapshot and forward it to whatever backend they use. This
// mirrors the teacher's own instrumentation idiom (asyncloguploader.
// Statistics / FlushMetrics): atomic counters plus a snapshot getter,
// rather than a third-party metrics client.
type Metrics struct {
	queuedBatchItems atomic.Int64
	batchesSent      atomic.Int64
	batchItemsSent   atomic.Int64

	batchSizeCount atomic.Int64
	batchSizeSum   atomic.Int64
	batchSizeMin   atomic.Int64
	batchSizeMax   atomic.Int64
}

// NewMetrics returns a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncQueued records one more item queued for a shard (shard buffer append).
func (m *Metrics) IncQueued() {
	m.queuedBatchItems.Add(1)
}

// DecQueued records n items having left the queue (shard flush).
func (m *Metrics) DecQueued(n int64) {
	m.queuedBatchItems.Add(-n)
}

// ObserveBatch records one completed batch flush of the given length.
func (m *Metrics) ObserveBatch(length int) {
	m.batchesSent.Add(1)
	m.batchItemsSent.Add(int64(length))

	n := int64(length)
	m.batchSizeCount.Add(1)
	m.batchSizeSum.Add(n)

	for {
		cur := m.batchSizeMin.Load()
		if cur != 0 && cur <= n {
			break
		}
		if m.batchSizeMin.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := m.batchSizeMax.Load()
		if cur >= n {
			break
		}
		if m.batchSizeMax.CompareAndSwap(cur, n) {
			break
		}
	}
}

// MetricsSnapshot is a point-in-time, copyable view of Metrics.
type MetricsSnapshot struct {
	QueuedBatchItems int64
	BatchesSent      int64
	BatchItemsSent   int64

	BatchSizeCount int64
	BatchSizeAvg   float64
	BatchSizeMin   int64
	BatchSizeMax   int64
}

// Snapshot returns the current values of every signal.
func (m *Metrics) Snapshot() MetricsSnapshot {
	count := m.batchSizeCount.Load()
	sum := m.batchSizeSum.Load()

	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}

	return MetricsSnapshot{
		QueuedBatchItems: m.queuedBatchItems.Load(),
		BatchesSent:      m.batchesSent.Load(),
		BatchItemsSent:   m.batchItemsSent.Load(),
		BatchSizeCount:   count,
		BatchSizeAvg:     avg,
		BatchSizeMin:     m.batchSizeMin.Load(),
		BatchSizeMax:     m.batchSizeMax.Load(),
	}
}
