package poster

import "sync/atomic"

type MetricsSnapshot struct {
	Posted   int64 // Tasks accepted into the mailbox.
	Inline   int64 // Self-posts executed synchronously on the main context.
	Executed int64 // Tasks completed by the drain loop.
	Failed   int64 // Tasks fulfilled with an error.
	Rejected int64 // Posts refused after closure.
}

type Metrics struct {
	posted   atomic.Int64
	inline   atomic.Int64
	executed atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Posted:   m.posted.Load(),
		Inline:   m.inline.Load(),
		Executed: m.executed.Load(),
		Failed:   m.failed.Load(),
		Rejected: m.rejected.Load(),
	}
}
