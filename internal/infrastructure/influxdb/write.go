package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the engine.
const (
	MeasurementCycleTransition = "grow_cycle_transition"
	MeasurementCommandStatus   = "grow_command_status"
)

// CycleTransitionPoint is one ledger row as written to InfluxDB.
type CycleTransitionPoint struct {
	ZoneID     string
	CycleID    string
	RevisionID string
	Trigger    string
	FromStatus string
	ToStatus   string
	PhaseID    string
	At         time.Time
}

// WriteCycleTransition records a cycle transition. Non-blocking.
func (c *Client) WriteCycleTransition(p CycleTransitionPoint) {
	tags := map[string]string{
		"zone_id":   p.ZoneID,
		"trigger":   p.Trigger,
		"to_status": p.ToStatus,
	}
	fields := map[string]interface{}{
		"grow_cycle_id": p.CycleID,
	}
	if p.FromStatus != "" {
		fields["from_status"] = p.FromStatus
	}
	if p.RevisionID != "" {
		fields["revision_id"] = p.RevisionID
	}
	if p.PhaseID != "" {
		fields["phase_id"] = p.PhaseID
	}
	c.WritePointWithTime(MeasurementCycleTransition, tags, fields, p.At)
}

// CommandStatusPoint is one command state change as written to InfluxDB.
type CommandStatusPoint struct {
	ZoneID     string
	NodeID     string
	CmdID      string
	Cmd        string
	Status     string
	ErrorCode  string
	DurationMS *int64
	At         time.Time
}

// WriteCommandStatus records a command state change. Non-blocking.
func (c *Client) WriteCommandStatus(p CommandStatusPoint) {
	tags := map[string]string{
		"zone_id": p.ZoneID,
		"cmd":     p.Cmd,
		"status":  p.Status,
	}
	if p.NodeID != "" {
		tags["node_id"] = p.NodeID
	}
	fields := map[string]interface{}{
		"cmd_id": p.CmdID,
	}
	if p.ErrorCode != "" {
		fields["error_code"] = p.ErrorCode
	}
	if p.DurationMS != nil {
		fields["duration_ms"] = *p.DurationMS
	}
	c.WritePointWithTime(MeasurementCommandStatus, tags, fields, p.At)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
// Points written while disconnected are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
