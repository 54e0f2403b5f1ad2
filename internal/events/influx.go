package events

import (
	"context"

	"github.com/nerrad567/gray-logic-grow/internal/command"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/influxdb"
)

// PointWriter is the InfluxDB surface the recorder needs.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WriteCycleTransition(p influxdb.CycleTransitionPoint)
	WriteCommandStatus(p influxdb.CommandStatusPoint)
}

// InfluxRecorder writes cycle transitions and command changes as points.
type InfluxRecorder struct {
	w PointWriter
}

// NewInfluxRecorder creates a recorder over w.
func NewInfluxRecorder(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{w: w}
}

// CycleTransitioned implements growcycle.EventSink.
func (r *InfluxRecorder) CycleTransitioned(_ context.Context, c *growcycle.Cycle, t *growcycle.Transition) {
	r.w.WriteCycleTransition(influxdb.CycleTransitionPoint{
		ZoneID:     c.ZoneID,
		CycleID:    c.ID,
		RevisionID: c.RevisionID,
		Trigger:    string(t.Trigger),
		FromStatus: string(t.FromStatus),
		ToStatus:   string(t.ToStatus),
		PhaseID:    c.CurrentPhaseID,
		At:         t.CreatedAt,
	})
}

// CommandChanged implements command.EventSink.
func (r *InfluxRecorder) CommandChanged(_ context.Context, c *command.Command) {
	r.w.WriteCommandStatus(influxdb.CommandStatusPoint{
		ZoneID:     c.ZoneID,
		NodeID:     c.NodeID,
		CmdID:      c.CmdID,
		Cmd:        c.Cmd,
		Status:     string(c.Status),
		ErrorCode:  c.ErrorCode,
		DurationMS: c.DurationMS,
		At:         c.UpdatedAt,
	})
}
