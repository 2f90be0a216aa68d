package subscription

import "sync/atomic"

type MetricsSnapshot struct {
	Taken           int64
	Returned        int64
	Leaked          int64
	ReleaseFailures int64
	HandlerErrors   int64
	Outstanding     int64
}

type Metrics struct {
	taken           atomic.Int64
	returned        atomic.Int64
	leaked          atomic.Int64
	releaseFailures atomic.Int64
	handlerErrors   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordTaken() {
	m.taken.Add(1)
}

func (m *Metrics) RecordReturned() {
	m.returned.Add(1)
}

// RecordLeaked counts a loan that was never closed. It stays outstanding.
func (m *Metrics) RecordLeaked() {
	m.leaked.Add(1)
}

func (m *Metrics) RecordReleaseFailure() {
	m.releaseFailures.Add(1)
}

func (m *Metrics) RecordHandlerError() {
	m.handlerErrors.Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	taken := m.taken.Load()
	returned := m.returned.Load()
	failures := m.releaseFailures.Load()
	return MetricsSnapshot{
		Taken:           taken,
		Returned:        returned,
		Leaked:          m.leaked.Load(),
		ReleaseFailures: failures,
		HandlerErrors:   m.handlerErrors.Load(),
		Outstanding:     taken - returned - failures,
	}
}
