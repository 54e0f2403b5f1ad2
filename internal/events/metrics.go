package events

import (
	"context"

	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
)

// TransitionCounter is the metrics surface for ledger entries.
// Satisfied by *metrics.Metrics.
type TransitionCounter interface {
	TransitionRecorded(trigger, toStatus string)
}

// MetricsSink counts committed transitions by trigger and target status.
type MetricsSink struct {
	m TransitionCounter
}

// NewMetricsSink creates a sink over m.
func NewMetricsSink(m TransitionCounter) *MetricsSink {
	return &MetricsSink{m: m}
}

// CycleTransitioned implements growcycle.EventSink.
func (s *MetricsSink) CycleTransitioned(_ context.Context, _ *growcycle.Cycle, t *growcycle.Transition) {
	s.m.TransitionRecorded(string(t.Trigger), string(t.ToStatus))
}
