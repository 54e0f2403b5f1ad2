package command

import (
	"slices"
	"time"
)

// Status is the delivery state of a hardware command.
type Status string

// Command statuses.
const (
	StatusQueued     Status = "QUEUED"
	StatusSent       Status = "SENT"
	StatusAccepted   Status = "ACCEPTED"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
	StatusTimeout    Status = "TIMEOUT"
	StatusSendFailed Status = "SEND_FAILED"
)

// allowedTransitions lists the legal status moves. ACCEPTED may still fail
// or time out, and SENT may complete directly when a node skips its
// accepted ack. SEND_FAILED is only reachable before ACCEPTED.
//
//	QUEUED ──► SENT ──► ACCEPTED ──► DONE
//	   │         │          │
//	   └─────────┴──────────┴──► FAILED | TIMEOUT (| SEND_FAILED before ACCEPTED)
var allowedTransitions = map[Status][]Status{
	StatusQueued:   {StatusSent, StatusSendFailed, StatusFailed, StatusTimeout},
	StatusSent:     {StatusAccepted, StatusDone, StatusSendFailed, StatusFailed, StatusTimeout},
	StatusAccepted: {StatusDone, StatusFailed, StatusTimeout},
}

// CanTransition reports whether a command may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusAccepted, StatusDone, StatusFailed, StatusTimeout, StatusSendFailed:
		return true
	}
	return false
}

// IsFinal reports whether no further status writes take effect.
func (s Status) IsFinal() bool {
	return s == StatusDone || s.IsFailed()
}

// IsDone reports successful completion.
func (s Status) IsDone() bool {
	return s == StatusDone
}

// IsFailed reports any unsuccessful final status.
func (s Status) IsFailed() bool {
	return s == StatusFailed || s == StatusTimeout || s == StatusSendFailed
}

// AckType classifies an acknowledgement from a node.
type AckType string

// Ack types.
const (
	AckAccepted AckType = "accepted"
	AckExecuted AckType = "executed"
	AckVerified AckType = "verified"
	AckError    AckType = "error"
)

// IsValid reports whether t is a known ack type.
func (t AckType) IsValid() bool {
	return t == AckAccepted || t == AckExecuted || t == AckVerified || t == AckError
}

// Confirms reports whether the ack says the action physically happened.
func (t AckType) Confirms() bool {
	return t == AckExecuted || t == AckVerified
}

// Command is one actuation intent addressed to a zone, optionally narrowed
// to a node and channel.
type Command struct {
	ID           string         `json:"id"`
	CmdID        string         `json:"cmd_id"`
	ZoneID       string         `json:"zone_id"`
	CycleID      string         `json:"grow_cycle_id,omitempty"`
	NodeID       string         `json:"node_id,omitempty"`
	Channel      string         `json:"channel,omitempty"`
	Cmd          string         `json:"cmd"`
	Params       map[string]any `json:"params"`
	Status       Status         `json:"status"`
	CreatedBy    string         `json:"created_by,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	AckAt        *time.Time     `json:"ack_at,omitempty"`
	FailedAt     *time.Time     `json:"failed_at,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ResultCode   *int           `json:"result_code,omitempty"`
	DurationMS   *int64         `json:"duration_ms,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsFinal reports whether the command has reached a final status.
func (c *Command) IsFinal() bool { return c.Status.IsFinal() }

// IsDone reports whether the command completed successfully.
func (c *Command) IsDone() bool { return c.Status.IsDone() }

// IsFailed reports whether the command ended unsuccessfully.
func (c *Command) IsFailed() bool { return c.Status.IsFailed() }

// Ack is one acknowledgement received for a command. Acks are append-only
// and never change the command's status on their own.
type Ack struct {
	ID              string         `json:"id"`
	CommandID       string         `json:"command_id"`
	AckType         AckType        `json:"ack_type"`
	MeasuredCurrent *float64       `json:"measured_current,omitempty"`
	MeasuredFlow    *float64       `json:"measured_flow,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"created_at"`
}

// DispatchInput describes a command to record.
type DispatchInput struct {
	CmdID   string         `json:"cmd_id"`
	ZoneID  string         `json:"zone_id"`
	NodeID  string         `json:"node_id,omitempty"`
	Channel string         `json:"channel,omitempty"`
	CycleID string         `json:"grow_cycle_id,omitempty"`
	Cmd     string         `json:"cmd"`
	Params  map[string]any `json:"params,omitempty"`
}

// AckInput describes an acknowledgement to append.
type AckInput struct {
	AckType         AckType        `json:"ack_type"`
	MeasuredCurrent *float64       `json:"measured_current,omitempty"`
	MeasuredFlow    *float64       `json:"measured_flow,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// StatusUpdate is an explicit status write from the acknowledging side.
type StatusUpdate struct {
	Status       Status `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ResultCode   *int   `json:"result_code,omitempty"`
	DurationMS   *int64 `json:"duration_ms,omitempty"`
}

// Filter narrows ListCommands.
type Filter struct {
	ZoneID string
	Status Status
	Limit  int
}

// Intent is what a Transport delivers to the field.
type Intent struct {
	CmdID   string         `json:"cmd_id"`
	Cmd     string         `json:"cmd"`
	Params  map[string]any `json:"params"`
	ZoneID  string         `json:"zone_id"`
	NodeID  string         `json:"node_id,omitempty"`
	Channel string         `json:"channel,omitempty"`
}

// IntentOf returns the delivery payload of a command.
func IntentOf(c *Command) Intent {
	return Intent{
		CmdID:   c.CmdID,
		Cmd:     c.Cmd,
		Params:  c.Params,
		ZoneID:  c.ZoneID,
		NodeID:  c.NodeID,
		Channel: c.Channel,
	}
}
