package command

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/location"
)

// Input limits.
const (
	maxCmdIDLength        = 128
	maxCmdLength          = 64
	maxChannelLength      = 64
	maxErrorCodeLength    = 64
	maxErrorMessageLength = 1000
)

var (
	cmdIDPattern   = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	cmdNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)
)

// Logger defines the logging interface used by the tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives command counters. Satisfied by *metrics.Metrics.
type Observer interface {
	CountDispatch(created bool)
	CommandStatusChanged(status string)
	AckRecorded(ackType string)
	TimeoutsSwept(n int)
}

type noopObserver struct{}

func (noopObserver) CountDispatch(bool)          {}
func (noopObserver) CommandStatusChanged(string) {}
func (noopObserver) AckRecorded(string)          {}
func (noopObserver) TimeoutsSwept(int)           {}

// Transport delivers a command intent to the field. A nil error means the
// intent was queued for delivery, not that it was carried out.
type Transport interface {
	Deliver(ctx context.Context, intent Intent) error
}

// EventSink observes committed command changes. Sinks must not block.
type EventSink interface {
	CommandChanged(ctx context.Context, c *Command)
}

// PlaceLookup resolves the zone and node a command is addressed to.
// Satisfied by *location.SQLiteRepository.
type PlaceLookup interface {
	GetZone(ctx context.Context, id string) (*location.Zone, error)
	GetNode(ctx context.Context, id string) (*location.Node, error)
}

// CycleLookup resolves the grow cycle a command is issued for.
// Satisfied by *growcycle.SQLiteRepository.
type CycleLookup interface {
	GetCycle(ctx context.Context, id string) (*growcycle.Cycle, error)
}

// Tracker records command intents and follows them to a final status.
// Dispatch only records; delivery happens in Send, and completion is
// reported back through RecordAck and UpdateStatus.
type Tracker struct {
	repo      Repository
	places    PlaceLookup
	cycles    CycleLookup
	authz     auth.Authorizer
	transport Transport
	audit     *audit.Recorder
	observer  Observer
	sinks     []EventSink
	logger    Logger
	now       func() time.Time
}

// NewTracker creates a command tracker.
func NewTracker(repo Repository, places PlaceLookup, cycles CycleLookup, authz auth.Authorizer) *Tracker {
	return &Tracker{
		repo:     repo,
		places:   places,
		cycles:   cycles,
		authz:    authz,
		observer: noopObserver{},
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// SetTransport sets the delivery transport used by Send.
func (t *Tracker) SetTransport(tr Transport) {
	t.transport = tr
}

// SetObserver sets the metrics observer.
func (t *Tracker) SetObserver(o Observer) {
	t.observer = o
}

// SetAuditRecorder sets the recorder for dispatches and sweeps.
func (t *Tracker) SetAuditRecorder(r *audit.Recorder) {
	t.audit = r
}

// AddEventSink registers a sink for committed command changes.
func (t *Tracker) AddEventSink(sink EventSink) {
	t.sinks = append(t.sinks, sink)
}

// ─── Dispatch ───────────────────────────────────────────────────────

func (in *DispatchInput) validate() error {
	in.CmdID = strings.TrimSpace(in.CmdID)
	in.Cmd = strings.TrimSpace(in.Cmd)
	switch {
	case in.CmdID == "":
		return ErrInvalidCommand.Withf("cmd_id is required")
	case len(in.CmdID) > maxCmdIDLength:
		return ErrInvalidCommand.Withf("cmd_id exceeds %d characters", maxCmdIDLength)
	case !cmdIDPattern.MatchString(in.CmdID):
		return ErrInvalidCommand.Withf("cmd_id %q contains invalid characters", in.CmdID)
	case in.ZoneID == "":
		return ErrInvalidCommand.Withf("zone_id is required")
	case in.Cmd == "":
		return ErrInvalidCommand.Withf("cmd is required")
	case len(in.Cmd) > maxCmdLength || !cmdNamePattern.MatchString(in.Cmd):
		return ErrInvalidCommand.Withf("cmd %q must be a lowercase name of at most %d characters", in.Cmd, maxCmdLength)
	case in.Channel != "" && in.NodeID == "":
		return ErrInvalidCommand.Withf("channel requires node_id")
	case len(in.Channel) > maxChannelLength:
		return ErrInvalidCommand.Withf("channel exceeds %d characters", maxChannelLength)
	}
	if in.Params == nil {
		in.Params = map[string]any{}
	}
	return nil
}

// Dispatch records a QUEUED command. Dispatching an already recorded cmd_id
// returns the existing command with created false.
func (t *Tracker) Dispatch(ctx context.Context, actor auth.ActorContext, in DispatchInput) (*Command, bool, error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	if err := auth.Require(ctx, t.authz, actor, auth.CapCommandDispatch, auth.ZoneScope(in.ZoneID)); err != nil {
		return nil, false, err
	}

	// Retries must not depend on the zone, node or cycle still being valid.
	if existing, err := t.repo.GetByCmdID(ctx, in.CmdID); err == nil {
		return t.existing(ctx, actor, existing, in)
	} else if !errors.Is(err, ErrCommandNotFound) {
		return nil, false, err
	}

	if err := t.checkAddress(ctx, in); err != nil {
		return nil, false, err
	}

	now := t.now()
	c := &Command{
		ID:        uuid.NewString(),
		CmdID:     in.CmdID,
		ZoneID:    in.ZoneID,
		CycleID:   in.CycleID,
		NodeID:    in.NodeID,
		Channel:   in.Channel,
		Cmd:       in.Cmd,
		Params:    in.Params,
		Status:    StatusQueued,
		CreatedBy: actor.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var found *Command
	err := t.repo.InTx(ctx, func(tx Repository) error {
		existing, err := tx.GetByCmdID(ctx, in.CmdID)
		if err == nil {
			found = existing
			return nil
		}
		if !errors.Is(err, ErrCommandNotFound) {
			return err
		}
		return tx.CreateCommand(ctx, c)
	})
	if errors.Is(err, errCmdIDTaken) {
		found, err = t.repo.GetByCmdID(ctx, in.CmdID)
	}
	if err != nil {
		return nil, false, err
	}
	if found != nil {
		return t.existing(ctx, actor, found, in)
	}

	t.observer.CountDispatch(true)
	t.audit.Record(ctx, audit.ActionDispatch, audit.EntityCommand, c.ID, actor.ActorID, map[string]any{
		"cmd_id":  c.CmdID,
		"cmd":     c.Cmd,
		"zone_id": c.ZoneID,
	})
	t.logger.Info("command dispatched", "cmd_id", c.CmdID, "cmd", c.Cmd, "zone_id", c.ZoneID,
		"node_id", c.NodeID, "channel", c.Channel, "actor", actor.ActorID)
	t.emit(ctx, c)
	return c, true, nil
}

// existing answers a repeated dispatch with the recorded command.
func (t *Tracker) existing(ctx context.Context, actor auth.ActorContext, c *Command, in DispatchInput) (*Command, bool, error) {
	if err := auth.Require(ctx, t.authz, actor, auth.CapCommandDispatch, auth.ZoneScope(c.ZoneID)); err != nil {
		return nil, false, err
	}
	if c.ZoneID != in.ZoneID || c.Cmd != in.Cmd || !reflect.DeepEqual(c.Params, normalizeParams(in.Params)) {
		t.logger.Warn("cmd_id reused with a different payload; returning the recorded command",
			"cmd_id", c.CmdID, "recorded_cmd", c.Cmd, "requested_cmd", in.Cmd)
	}
	t.observer.CountDispatch(false)
	return c, false, nil
}

// normalizeParams round-trips params through the column encoding so that
// numbers compare equal to what was stored.
func normalizeParams(p map[string]any) map[string]any {
	s, err := marshalMap(p)
	if err != nil {
		return p
	}
	return unmarshalMap(s)
}

// checkAddress verifies the zone, node, channel and cycle fit together.
func (t *Tracker) checkAddress(ctx context.Context, in DispatchInput) error {
	zone, err := t.places.GetZone(ctx, in.ZoneID)
	if err != nil {
		return err
	}
	if in.NodeID != "" {
		node, err := t.places.GetNode(ctx, in.NodeID)
		if err != nil {
			return err
		}
		serves, err := node.Owner.Serves(zone)
		if err != nil {
			return err
		}
		if !serves {
			return ErrInvalidCommand.WithID(in.NodeID).Withf("node %s does not serve zone %s", in.NodeID, in.ZoneID)
		}
		if in.Channel != "" && !node.HasChannel(in.Channel) {
			return ErrInvalidCommand.WithID(in.NodeID).Withf("node %s has no channel %q", in.NodeID, in.Channel)
		}
	}
	if in.CycleID != "" {
		c, err := t.cycles.GetCycle(ctx, in.CycleID)
		if err != nil {
			return err
		}
		if c.ZoneID != in.ZoneID {
			return ErrInvalidCommand.WithID(in.CycleID).Withf("grow cycle %s belongs to zone %s", in.CycleID, c.ZoneID)
		}
	}
	return nil
}

// ─── Delivery ───────────────────────────────────────────────────────

// Send hands a QUEUED command to the transport and records the outcome as
// SENT or SEND_FAILED. The command is claimed as SENT before delivery, so
// concurrent sends deliver it once. Commands past QUEUED are returned unchanged.
func (t *Tracker) Send(ctx context.Context, actor auth.ActorContext, cmdID string) (*Command, error) {
	c, err := t.authorized(ctx, actor, auth.CapCommandDispatch, cmdID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusQueued {
		return c, nil
	}
	if t.transport == nil {
		return nil, ErrNoTransport.WithID(cmdID)
	}

	c, claimed, err := t.claim(ctx, cmdID)
	if err != nil || !claimed {
		return c, err
	}
	if err := t.transport.Deliver(ctx, IntentOf(c)); err != nil {
		t.logger.Warn("command delivery failed", "cmd_id", cmdID, "error", err)
		return t.applyStatus(ctx, cmdID, StatusUpdate{
			Status:       StatusSendFailed,
			ErrorCode:    "transport_error",
			ErrorMessage: truncate(err.Error(), maxErrorMessageLength),
		})
	}
	t.changed(ctx, c)
	return c, nil
}

// claim moves a QUEUED command to SENT. claimed is false when the command
// had already left QUEUED.
func (t *Tracker) claim(ctx context.Context, cmdID string) (c *Command, claimed bool, err error) {
	err = t.repo.InTx(ctx, func(tx Repository) error {
		var err error
		if c, err = tx.GetByCmdID(ctx, cmdID); err != nil {
			return err
		}
		if c.Status != StatusQueued {
			return nil
		}
		stamp(c, StatusUpdate{Status: StatusSent}, t.now())
		claimed = true
		return tx.UpdateCommand(ctx, c)
	})
	if err != nil {
		return nil, false, err
	}
	return c, claimed, nil
}

// ─── Acknowledgements ───────────────────────────────────────────────

func (in *AckInput) validate() error {
	switch {
	case !in.AckType.IsValid():
		return ErrInvalidAck.Withf("unknown ack_type %q", in.AckType)
	case len(in.ErrorMessage) > maxErrorMessageLength:
		return ErrInvalidAck.Withf("error_message exceeds %d characters", maxErrorMessageLength)
	case in.MeasuredCurrent != nil && *in.MeasuredCurrent < 0:
		return ErrInvalidAck.Withf("measured_current must not be negative")
	case in.MeasuredFlow != nil && *in.MeasuredFlow < 0:
		return ErrInvalidAck.Withf("measured_flow must not be negative")
	}
	if in.Metadata == nil {
		in.Metadata = map[string]any{}
	}
	return nil
}

// RecordAck appends an acknowledgement. It never changes the command's
// status, and acks for final commands are recorded like any other.
func (t *Tracker) RecordAck(ctx context.Context, actor auth.ActorContext, cmdID string, in AckInput) (*Ack, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := t.authorized(ctx, actor, auth.CapCommandAck, cmdID)
	if err != nil {
		return nil, err
	}

	a := &Ack{
		ID:              uuid.NewString(),
		CommandID:       c.ID,
		AckType:         in.AckType,
		MeasuredCurrent: in.MeasuredCurrent,
		MeasuredFlow:    in.MeasuredFlow,
		ErrorMessage:    in.ErrorMessage,
		Metadata:        in.Metadata,
		CreatedAt:       t.now(),
	}
	if err := t.repo.AppendAck(ctx, a); err != nil {
		return nil, err
	}

	t.observer.AckRecorded(string(a.AckType))
	t.logger.Debug("command ack recorded", "cmd_id", cmdID, "ack_type", a.AckType,
		"status", c.Status, "late", c.IsFinal())
	return a, nil
}

// ─── Status ─────────────────────────────────────────────────────────

func (u *StatusUpdate) validate() error {
	switch {
	case !u.Status.IsValid():
		return ErrInvalidStatusUpdate.Withf("unknown status %q", u.Status)
	case u.Status == StatusQueued:
		return ErrInvalidStatusUpdate.Withf("a command cannot return to QUEUED")
	case len(u.ErrorCode) > maxErrorCodeLength:
		return ErrInvalidStatusUpdate.Withf("error_code exceeds %d characters", maxErrorCodeLength)
	case len(u.ErrorMessage) > maxErrorMessageLength:
		return ErrInvalidStatusUpdate.Withf("error_message exceeds %d characters", maxErrorMessageLength)
	case u.DurationMS != nil && *u.DurationMS < 0:
		return ErrInvalidStatusUpdate.Withf("duration_ms must not be negative")
	}
	return nil
}

// UpdateStatus applies an explicit status write. Writes to a final command,
// or to the status it already has, return it unchanged.
func (t *Tracker) UpdateStatus(ctx context.Context, actor auth.ActorContext, cmdID string, upd StatusUpdate) (*Command, error) {
	if err := upd.validate(); err != nil {
		return nil, err
	}
	if _, err := t.authorized(ctx, actor, auth.CapCommandAck, cmdID); err != nil {
		return nil, err
	}
	return t.applyStatus(ctx, cmdID, upd)
}

// applyStatus re-reads the command in a write transaction and moves it.
func (t *Tracker) applyStatus(ctx context.Context, cmdID string, upd StatusUpdate) (*Command, error) {
	var (
		c       *Command
		changed bool
	)
	err := t.repo.InTx(ctx, func(tx Repository) error {
		var err error
		if c, err = tx.GetByCmdID(ctx, cmdID); err != nil {
			return err
		}
		if c.IsFinal() || c.Status == upd.Status {
			return nil
		}
		if !CanTransition(c.Status, upd.Status) {
			return ErrIllegalStatus.WithID(cmdID).Withf("cannot move command from %s to %s", c.Status, upd.Status)
		}
		stamp(c, upd, t.now())
		changed = true
		return tx.UpdateCommand(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		t.changed(ctx, c)
	}
	return c, nil
}

// changed reports a committed status move.
func (t *Tracker) changed(ctx context.Context, c *Command) {
	t.observer.CommandStatusChanged(string(c.Status))
	t.logger.Info("command status changed", "cmd_id", c.CmdID, "status", c.Status, "error_code", c.ErrorCode)
	t.emit(ctx, c)
}

// stamp moves c to upd.Status and fills the matching timestamps.
func stamp(c *Command, upd StatusUpdate, now time.Time) {
	c.Status = upd.Status
	switch {
	case upd.Status == StatusSent:
		if c.SentAt == nil {
			c.SentAt = &now
		}
	case upd.Status == StatusAccepted:
		c.AckAt = &now
	case upd.Status.IsDone():
		c.AckAt = &now
		if upd.DurationMS == nil && c.SentAt != nil {
			ms := now.Sub(*c.SentAt).Milliseconds()
			c.DurationMS = &ms
		}
	case upd.Status.IsFailed():
		c.FailedAt = &now
	}
	if upd.ErrorCode != "" {
		c.ErrorCode = upd.ErrorCode
	}
	if upd.ErrorMessage != "" {
		c.ErrorMessage = upd.ErrorMessage
	}
	if upd.ResultCode != nil {
		c.ResultCode = upd.ResultCode
	}
	if upd.DurationMS != nil {
		c.DurationMS = upd.DurationMS
	}
	c.UpdatedAt = now
}

// SweepTimeouts moves SENT and ACCEPTED commands with no activity for
// olderThan to TIMEOUT and returns them.
func (t *Tracker) SweepTimeouts(ctx context.Context, actor auth.ActorContext, olderThan time.Duration) ([]Command, error) {
	if olderThan <= 0 {
		return nil, ErrInvalidSweep.Withf("older_than must be positive, got %s", olderThan)
	}
	if len(actor.Zones) > 0 {
		return nil, auth.ErrForbidden.Withf("actor %q is limited to specific zones; sweeps cover every zone", actor.ActorID)
	}
	if err := auth.Require(ctx, t.authz, actor, auth.CapCommandAck, auth.GlobalScope()); err != nil {
		return nil, err
	}

	now := t.now()
	cutoff := now.Add(-olderThan)
	var swept []Command
	err := t.repo.InTx(ctx, func(tx Repository) error {
		stale, err := tx.StaleCommands(ctx, cutoff)
		if err != nil {
			return err
		}
		for i := range stale {
			c := &stale[i]
			stamp(c, StatusUpdate{
				Status:       StatusTimeout,
				ErrorCode:    "timeout",
				ErrorMessage: fmt.Sprintf("no completion within %s", olderThan),
			}, now)
			if err := tx.UpdateCommand(ctx, c); err != nil {
				return err
			}
		}
		swept = stale
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.observer.TimeoutsSwept(len(swept))
	if len(swept) == 0 {
		return swept, nil
	}
	ids := make([]string, 0, len(swept))
	for i := range swept {
		ids = append(ids, swept[i].CmdID)
		t.observer.CommandStatusChanged(string(StatusTimeout))
		t.emit(ctx, &swept[i])
	}
	t.audit.Record(ctx, audit.ActionSweep, audit.EntityCommand, "", actor.ActorID, map[string]any{
		"count":   len(swept),
		"cutoff":  cutoff.Format(time.RFC3339),
		"cmd_ids": ids,
	})
	t.logger.Info("command timeouts swept", "count", len(swept), "older_than", olderThan, "actor", actor.ActorID)
	return swept, nil
}

// ─── Readers ────────────────────────────────────────────────────────

// authorized loads a command and checks capability against its zone.
func (t *Tracker) authorized(ctx context.Context, actor auth.ActorContext, capability auth.Capability, cmdID string) (*Command, error) {
	c, err := t.repo.GetByCmdID(ctx, cmdID)
	if err != nil {
		return nil, err
	}
	if err := auth.Require(ctx, t.authz, actor, capability, auth.ZoneScope(c.ZoneID)); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns a command by cmd_id.
func (t *Tracker) Get(ctx context.Context, actor auth.ActorContext, cmdID string) (*Command, error) {
	return t.authorized(ctx, actor, auth.CapCycleRead, cmdID)
}

// List returns commands matching filter, newest first.
func (t *Tracker) List(ctx context.Context, actor auth.ActorContext, filter Filter) ([]Command, error) {
	scope := auth.GlobalScope()
	if filter.ZoneID != "" {
		scope = auth.ZoneScope(filter.ZoneID)
	} else if len(actor.Zones) > 0 {
		return nil, auth.ErrForbidden.Withf("actor %q is limited to specific zones; filter by zone_id", actor.ActorID)
	}
	if err := auth.Require(ctx, t.authz, actor, auth.CapCycleRead, scope); err != nil {
		return nil, err
	}
	return t.repo.ListCommands(ctx, filter)
}

// ListAcks returns a command's acknowledgements in arrival order.
func (t *Tracker) ListAcks(ctx context.Context, actor auth.ActorContext, cmdID string) ([]Ack, error) {
	c, err := t.authorized(ctx, actor, auth.CapCycleRead, cmdID)
	if err != nil {
		return nil, err
	}
	return t.repo.ListAcks(ctx, c.ID)
}

// LatestAck returns the authoritative acknowledgement, or nil when none arrived.
func (t *Tracker) LatestAck(ctx context.Context, actor auth.ActorContext, cmdID string) (*Ack, error) {
	c, err := t.authorized(ctx, actor, auth.CapCycleRead, cmdID)
	if err != nil {
		return nil, err
	}
	return t.repo.LatestAck(ctx, c.ID)
}

// Confirmed reports whether the latest acknowledgement says the action
// physically happened.
func (t *Tracker) Confirmed(ctx context.Context, actor auth.ActorContext, cmdID string) (bool, error) {
	a, err := t.LatestAck(ctx, actor, cmdID)
	if err != nil || a == nil {
		return false, err
	}
	return a.AckType.Confirms(), nil
}

func (t *Tracker) emit(ctx context.Context, c *Command) {
	for _, sink := range t.sinks {
		sink.CommandChanged(ctx, c)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
