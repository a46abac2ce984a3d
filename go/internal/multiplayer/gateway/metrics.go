package gateway

import "sync/atomic"

// MetricsCollector defines the interface for collecting gateway metrics
type MetricsCollector interface {
	RecordJoin(isNewRoom bool)
	RecordRejectedJoin()
	RecordMove(recipients int)
	RecordLeave(roomDeleted bool)
	RecordSendFailure()
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordJoin(isNewRoom bool)    {}
func (NoOpMetricsCollector) RecordRejectedJoin()          {}
func (NoOpMetricsCollector) RecordMove(recipients int)    {}
func (NoOpMetricsCollector) RecordLeave(roomDeleted bool) {}
func (NoOpMetricsCollector) RecordSendFailure()           {}

// CounterMetrics keeps in-process counters for the stats endpoint
type CounterMetrics struct {
	joins          atomic.Uint64
	roomsCreated   atomic.Uint64
	rejectedJoins  atomic.Uint64
	moves          atomic.Uint64
	movesDelivered atomic.Uint64
	leaves         atomic.Uint64
	roomsDeleted   atomic.Uint64
	sendFailures   atomic.Uint64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{}
}

func (m *CounterMetrics) RecordJoin(isNewRoom bool) {
	m.joins.Add(1)
	if isNewRoom {
		m.roomsCreated.Add(1)
	}
}

func (m *CounterMetrics) RecordRejectedJoin() {
	m.rejectedJoins.Add(1)
}

func (m *CounterMetrics) RecordMove(recipients int) {
	m.moves.Add(1)
	m.movesDelivered.Add(uint64(recipients))
}

func (m *CounterMetrics) RecordLeave(roomDeleted bool) {
	m.leaves.Add(1)
	if roomDeleted {
		m.roomsDeleted.Add(1)
	}
}

func (m *CounterMetrics) RecordSendFailure() {
	m.sendFailures.Add(1)
}

// Snapshot returns the current counter values
func (m *CounterMetrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"joins":           m.joins.Load(),
		"rooms_created":   m.roomsCreated.Load(),
		"rejected_joins":  m.rejectedJoins.Load(),
		"moves":           m.moves.Load(),
		"moves_delivered": m.movesDelivered.Load(),
		"leaves":          m.leaves.Load(),
		"rooms_deleted":   m.roomsDeleted.Load(),
		"send_failures":   m.sendFailures.Load(),
	}
}
