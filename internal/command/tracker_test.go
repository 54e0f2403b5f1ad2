package command

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-grow/internal/audit"
	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/location"
	"github.com/nerrad567/gray-logic-grow/internal/testutil"
)

var (
	t0 = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	operator   = auth.NewActor("op-1", auth.RoleOperator)
	service    = auth.NewActor("svc-irrigation", auth.RoleService)
	agronomist = auth.NewActor("agro-1", auth.RoleAgronomist)
	viewer     = auth.NewActor("viewer-1", auth.RoleViewer)
	zoneBOnly  = auth.NewActor("op-b", auth.RoleAdmin, "zone-b")
)

// fakeCycles resolves grow cycles from a fixed map.
type fakeCycles map[string]*growcycle.Cycle

func (f fakeCycles) GetCycle(_ context.Context, id string) (*growcycle.Cycle, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, growcycle.ErrCycleNotFound.WithID(id)
}

// fakeTransport records delivered intents and fails when err is set.
type fakeTransport struct {
	mu      sync.Mutex
	intents []Intent
	err     error
}

func (f *fakeTransport) Deliver(_ context.Context, intent Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.intents = append(f.intents, intent)
	return nil
}

// countingObserver tallies observer calls.
type countingObserver struct {
	mu       sync.Mutex
	created  int
	repeated int
	statuses []string
	acks     []string
	swept    int
}

func (o *countingObserver) CountDispatch(created bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if created {
		o.created++
	} else {
		o.repeated++
	}
}

func (o *countingObserver) CommandStatusChanged(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *countingObserver) AckRecorded(ackType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acks = append(o.acks, ackType)
}

func (o *countingObserver) TimeoutsSwept(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.swept += n
}

type fixture struct {
	db        *sql.DB
	tracker   *Tracker
	transport *fakeTransport
	observer  *countingObserver
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.OpenDB(t)
	testutil.SeedZone(t, db, "zone-a")
	testutil.SeedZone(t, db, "zone-b")
	testutil.SeedCycle(t, db, "cycle-a", "zone-a", string(growcycle.StatusRunning))

	places := location.NewSQLiteRepository(db)
	require.NoError(t, places.CreateNode(ctx, &location.Node{
		ID: "node-a", UID: "uid-node-a", Name: "Valve bank A", NodeType: "irrigation",
		Owner: location.ZoneOwner("zone-a"), Channels: []string{"valve1", "pump"},
	}))
	require.NoError(t, places.CreateNode(ctx, &location.Node{
		ID: "node-gh", UID: "uid-node-gh", Name: "Roof vents", NodeType: "climate",
		Owner: location.GreenhouseOwner("gh-test"), Channels: []string{"vent"},
	}))

	cycles := fakeCycles{
		"cycle-a": {ID: "cycle-a", ZoneID: "zone-a", Status: growcycle.StatusRunning},
	}

	f := &fixture{
		db:        db,
		transport: &fakeTransport{},
		observer:  &countingObserver{},
		now:       t0,
	}
	f.tracker = NewTracker(NewSQLiteRepository(db), places, cycles, auth.CapabilityAuthorizer{})
	f.tracker.SetClock(func() time.Time { return f.now })
	f.tracker.SetTransport(f.transport)
	f.tracker.SetObserver(f.observer)
	f.tracker.SetAuditRecorder(audit.NewRecorder(audit.NewSQLiteRepository(db), nil))
	return f
}

func (f *fixture) at(d time.Duration) {
	f.now = t0.Add(d)
}

func valveOpen(cmdID string) DispatchInput {
	return DispatchInput{
		CmdID:   cmdID,
		ZoneID:  "zone-a",
		NodeID:  "node-a",
		Channel: "valve1",
		CycleID: "cycle-a",
		Cmd:     "valve_open",
		Params:  map[string]any{"seconds": 30},
	}
}

// sent dispatches and sends a command.
func (f *fixture) sent(t *testing.T, cmdID string) *Command {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen(cmdID))
	require.NoError(t, err)
	c, err := f.tracker.Send(ctx, operator, cmdID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, c.Status)
	return c
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-0001"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, "op-1", first.CreatedBy)
	assert.True(t, first.CreatedAt.Equal(t0))

	f.at(time.Minute)
	second, created, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-0001"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 30.0, second.Params["seconds"], 1e-9)

	assert.Equal(t, 1, testutil.Count(t, f.db, "commands", "cmd_id = ?", "irr-0001"))
	assert.Equal(t, 1, testutil.Count(t, f.db, "audit_logs", "entity_type = ? AND action = ?", audit.EntityCommand, audit.ActionDispatch))
	assert.Equal(t, 1, f.observer.created)
	assert.Equal(t, 1, f.observer.repeated)
}

func TestDispatchRepeatAfterSendReturnsCurrentState(t *testing.T) {
	f := newFixture(t)
	f.sent(t, "irr-0002")

	c, created, err := f.tracker.Dispatch(context.Background(), operator, valveOpen("irr-0002"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, StatusSent, c.Status)
}

func TestConcurrentDispatchCreatesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, ok, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-race"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[c.ID] = true
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, testutil.Count(t, f.db, "commands", "cmd_id = ?", "irr-race"))
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	with := func(mod func(*DispatchInput)) DispatchInput {
		in := valveOpen("irr-valid")
		mod(&in)
		return in
	}

	tests := []struct {
		name    string
		in      DispatchInput
		wantErr error
	}{
		{"missing cmd_id", with(func(in *DispatchInput) { in.CmdID = " " }), ErrInvalidCommand},
		{"cmd_id characters", with(func(in *DispatchInput) { in.CmdID = "irr 1" }), ErrInvalidCommand},
		{"missing zone", with(func(in *DispatchInput) { in.ZoneID = "" }), ErrInvalidCommand},
		{"missing cmd", with(func(in *DispatchInput) { in.Cmd = "" }), ErrInvalidCommand},
		{"cmd name", with(func(in *DispatchInput) { in.Cmd = "Open Valve" }), ErrInvalidCommand},
		{"channel without node", with(func(in *DispatchInput) { in.NodeID = "" }), ErrInvalidCommand},
		{"unknown zone", with(func(in *DispatchInput) { in.ZoneID = "zone-x"; in.CycleID = "" }), location.ErrZoneNotFound},
		{"unknown node", with(func(in *DispatchInput) { in.NodeID = "node-x" }), location.ErrNodeNotFound},
		{"node of another zone", with(func(in *DispatchInput) { in.ZoneID = "zone-b"; in.CycleID = "" }), ErrInvalidCommand},
		{"unknown channel", with(func(in *DispatchInput) { in.Channel = "valve9" }), ErrInvalidCommand},
		{"unknown cycle", with(func(in *DispatchInput) { in.CycleID = "cycle-x" }), growcycle.ErrCycleNotFound},
		{
			"cycle of another zone",
			with(func(in *DispatchInput) { in.ZoneID = "zone-b"; in.NodeID = "node-gh"; in.Channel = "vent" }),
			ErrInvalidCommand,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.tracker.Dispatch(ctx, operator, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, testutil.Count(t, f.db, "commands", ""))
}

func TestDispatchAddressing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Greenhouse-owned nodes serve every zone of their house.
	c, _, err := f.tracker.Dispatch(ctx, operator, DispatchInput{
		CmdID: "vent-1", ZoneID: "zone-b", NodeID: "node-gh", Channel: "vent", Cmd: "vent_set",
		Params: map[string]any{"percent": 40},
	})
	require.NoError(t, err)
	assert.Equal(t, "node-gh", c.NodeID)

	// A zone-wide command needs neither node nor cycle.
	c, _, err = f.tracker.Dispatch(ctx, operator, DispatchInput{CmdID: "flush-1", ZoneID: "zone-a", Cmd: "flush"})
	require.NoError(t, err)
	assert.Empty(t, c.NodeID)
	assert.Empty(t, c.Params)
}

func TestDispatchAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.tracker.Dispatch(ctx, viewer, valveOpen("irr-a"))
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, _, err = f.tracker.Dispatch(ctx, agronomist, valveOpen("irr-a"))
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, _, err = f.tracker.Dispatch(ctx, zoneBOnly, valveOpen("irr-a"))
	assert.ErrorIs(t, err, auth.ErrForbidden)

	_, _, err = f.tracker.Dispatch(ctx, operator, valveOpen("irr-a"))
	require.NoError(t, err)

	// Replaying a cmd_id must not reveal a command in a zone the actor cannot reach.
	in := DispatchInput{CmdID: "irr-a", ZoneID: "zone-b", Cmd: "flush"}
	_, _, err = f.tracker.Dispatch(ctx, zoneBOnly, in)
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestSendDeliversIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-send"))
	require.NoError(t, err)

	f.at(10 * time.Second)
	c, err := f.tracker.Send(ctx, operator, "irr-send")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, c.Status)
	require.NotNil(t, c.SentAt)
	assert.True(t, c.SentAt.Equal(t0.Add(10*time.Second)))

	require.Len(t, f.transport.intents, 1)
	intent := f.transport.intents[0]
	assert.Equal(t, "irr-send", intent.CmdID)
	assert.Equal(t, "valve_open", intent.Cmd)
	assert.Equal(t, "node-a", intent.NodeID)
	assert.Equal(t, "valve1", intent.Channel)

	again, err := f.tracker.Send(ctx, operator, "irr-send")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, again.Status)
	assert.Len(t, f.transport.intents, 1, "a sent command is not delivered twice")
}

func TestSendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.transport.err = errors.New("mqtt: client not connected")

	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-fail"))
	require.NoError(t, err)
	c, err := f.tracker.Send(ctx, operator, "irr-fail")
	require.NoError(t, err)
	assert.Equal(t, StatusSendFailed, c.Status)
	assert.Equal(t, "transport_error", c.ErrorCode)
	assert.Contains(t, c.ErrorMessage, "not connected")
	assert.NotNil(t, c.FailedAt)
	assert.True(t, c.IsFinal())
	assert.True(t, c.IsFailed())
	assert.Equal(t, []string{string(StatusSendFailed)}, f.observer.statuses)
}

func TestConcurrentSendDeliversOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-twice"))
	require.NoError(t, err)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.tracker.Send(ctx, operator, "irr-twice")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if c.Status != StatusSent {
				errs = append(errs, errors.New("unexpected status "+string(c.Status)))
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, f.transport.intents, 1)
	assert.Equal(t, []string{string(StatusSent)}, f.observer.statuses)
}

func TestSendWithoutTransport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.SetTransport(nil)

	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-none"))
	require.NoError(t, err)
	_, err = f.tracker.Send(ctx, operator, "irr-none")
	assert.ErrorIs(t, err, ErrNoTransport)

	c, err := f.tracker.Get(ctx, viewer, "irr-none")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, c.Status)
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sent(t, "irr-life")

	f.at(time.Second)
	c, err := f.tracker.UpdateStatus(ctx, service, "irr-life", StatusUpdate{Status: StatusAccepted})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, c.Status)
	require.NotNil(t, c.AckAt)

	f.at(3 * time.Second)
	rc := 0
	c, err = f.tracker.UpdateStatus(ctx, service, "irr-life", StatusUpdate{Status: StatusDone, ResultCode: &rc})
	require.NoError(t, err)
	assert.True(t, c.IsDone())
	require.NotNil(t, c.DurationMS)
	assert.Equal(t, int64(3000), *c.DurationMS)
	require.NotNil(t, c.ResultCode)
	assert.Zero(t, *c.ResultCode)

	f.at(time.Minute)
	c, err = f.tracker.UpdateStatus(ctx, service, "irr-life", StatusUpdate{Status: StatusFailed, ErrorCode: "late"})
	require.NoError(t, err, "writes to a final command are ignored")
	assert.Equal(t, StatusDone, c.Status)
	assert.Empty(t, c.ErrorCode)

	stored, err := f.tracker.Get(ctx, viewer, "irr-life")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, stored.Status)
	assert.Equal(t, []string{"SENT", "ACCEPTED", "DONE"}, f.observer.statuses)
}

func TestRepeatedStatusWriteIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sent(t, "irr-dup")

	f.at(time.Second)
	first, err := f.tracker.UpdateStatus(ctx, service, "irr-dup", StatusUpdate{Status: StatusAccepted})
	require.NoError(t, err)
	f.at(2 * time.Second)
	second, err := f.tracker.UpdateStatus(ctx, service, "irr-dup", StatusUpdate{Status: StatusAccepted})
	require.NoError(t, err)
	assert.True(t, second.AckAt.Equal(*first.AckAt))
}

func TestIllegalStatusMoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-q"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		upd     StatusUpdate
		wantErr error
	}{
		{"queued to accepted", StatusUpdate{Status: StatusAccepted}, ErrIllegalStatus},
		{"queued to done", StatusUpdate{Status: StatusDone}, ErrIllegalStatus},
		{"back to queued", StatusUpdate{Status: StatusQueued}, ErrInvalidStatusUpdate},
		{"unknown status", StatusUpdate{Status: "LOST"}, ErrInvalidStatusUpdate},
		{"negative duration", StatusUpdate{Status: StatusFailed, DurationMS: func() *int64 { v := int64(-1); return &v }()}, ErrInvalidStatusUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tracker.UpdateStatus(ctx, service, "irr-q", tt.upd)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err = f.tracker.UpdateStatus(ctx, operator, "irr-q", StatusUpdate{Status: StatusFailed})
	assert.ErrorIs(t, err, auth.ErrForbidden, "operators dispatch but do not acknowledge")
	_, err = f.tracker.UpdateStatus(ctx, service, "irr-missing", StatusUpdate{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestAcceptedCommandCanStillFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sent(t, "irr-stall")
	_, err := f.tracker.UpdateStatus(ctx, service, "irr-stall", StatusUpdate{Status: StatusAccepted})
	require.NoError(t, err)
	c, err := f.tracker.UpdateStatus(ctx, service, "irr-stall", StatusUpdate{Status: StatusFailed, ErrorCode: "valve_stuck"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, c.Status)
	assert.Equal(t, "valve_stuck", c.ErrorCode)

	// Nodes that skip the accepted ack report completion straight from SENT.
	f.sent(t, "irr-quick")
	c, err = f.tracker.UpdateStatus(ctx, service, "irr-quick", StatusUpdate{Status: StatusDone})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, c.Status)

	_, err = f.tracker.UpdateStatus(ctx, service, "irr-stall", StatusUpdate{Status: StatusSendFailed})
	require.NoError(t, err, "writes to a final command are ignored")
}

func TestAcksNeverChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sent(t, "irr-ack")
	_, err := f.tracker.UpdateStatus(ctx, service, "irr-ack", StatusUpdate{Status: StatusDone})
	require.NoError(t, err)

	flow := 1.8
	a, err := f.tracker.RecordAck(ctx, service, "irr-ack", AckInput{AckType: AckExecuted, MeasuredFlow: &flow})
	require.NoError(t, err)
	assert.Equal(t, AckExecuted, a.AckType)
	assert.NotNil(t, a.Metadata)

	_, err = f.tracker.RecordAck(ctx, service, "irr-ack", AckInput{AckType: AckError, ErrorMessage: "flow sensor stuck"})
	require.NoError(t, err, "late acks on final commands are accepted")

	stored, err := f.tracker.Get(ctx, viewer, "irr-ack")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, stored.Status)
	assert.Equal(t, 2, testutil.Count(t, f.db, "command_acks", ""))

	c, err := f.tracker.Get(ctx, viewer, "irr-ack")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, c.Status)

	acks, err := f.tracker.ListAcks(ctx, viewer, "irr-ack")
	require.NoError(t, err)
	require.Len(t, acks, 2)
	assert.Equal(t, AckExecuted, acks[0].AckType)
	require.NotNil(t, acks[0].MeasuredFlow)
	assert.InDelta(t, 1.8, *acks[0].MeasuredFlow, 1e-9)
	assert.Nil(t, acks[0].MeasuredCurrent)
	assert.Equal(t, []string{"executed", "error"}, f.observer.acks)
}

func TestLatestAckAndConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sent(t, "irr-latest")

	latest, err := f.tracker.LatestAck(ctx, viewer, "irr-latest")
	require.NoError(t, err)
	assert.Nil(t, latest)
	ok, err := f.tracker.Confirmed(ctx, viewer, "irr-latest")
	require.NoError(t, err)
	assert.False(t, ok)

	// Both acks share a timestamp; insertion order decides.
	_, err = f.tracker.RecordAck(ctx, service, "irr-latest", AckInput{AckType: AckAccepted})
	require.NoError(t, err)
	_, err = f.tracker.RecordAck(ctx, service, "irr-latest", AckInput{AckType: AckVerified, Metadata: map[string]any{"source": "flow meter"}})
	require.NoError(t, err)

	latest, err = f.tracker.LatestAck(ctx, viewer, "irr-latest")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, AckVerified, latest.AckType)
	assert.Equal(t, "flow meter", latest.Metadata["source"])
	ok, err = f.tracker.Confirmed(ctx, viewer, "irr-latest")
	require.NoError(t, err)
	assert.True(t, ok)

	f.at(time.Second)
	_, err = f.tracker.RecordAck(ctx, service, "irr-latest", AckInput{AckType: AckError, ErrorMessage: "valve reopened"})
	require.NoError(t, err)
	ok, err = f.tracker.Confirmed(ctx, viewer, "irr-latest")
	require.NoError(t, err)
	assert.False(t, ok, "a later error ack supersedes the verification")
}

func TestRecordAckValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sent(t, "irr-v")

	negative := -0.5
	tests := []struct {
		name    string
		actor   auth.ActorContext
		cmdID   string
		in      AckInput
		wantErr error
	}{
		{"unknown ack type", service, "irr-v", AckInput{AckType: "done"}, ErrInvalidAck},
		{"negative current", service, "irr-v", AckInput{AckType: AckExecuted, MeasuredCurrent: &negative}, ErrInvalidAck},
		{"unknown command", service, "irr-x", AckInput{AckType: AckAccepted}, ErrCommandNotFound},
		{"operator cannot ack", operator, "irr-v", AckInput{AckType: AckAccepted}, auth.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tracker.RecordAck(ctx, tt.actor, tt.cmdID, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, testutil.Count(t, f.db, "command_acks", ""))
}

func TestSweepTimeouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.sent(t, "stale-sent")
	f.sent(t, "fresh-accepted")
	f.sent(t, "done")
	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("queued"))
	require.NoError(t, err)

	f.at(4 * time.Minute)
	_, err = f.tracker.UpdateStatus(ctx, service, "fresh-accepted", StatusUpdate{Status: StatusAccepted})
	require.NoError(t, err)
	_, err = f.tracker.UpdateStatus(ctx, service, "done", StatusUpdate{Status: StatusDone})
	require.NoError(t, err)

	f.at(5 * time.Minute)
	swept, err := f.tracker.SweepTimeouts(ctx, service, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "stale-sent", swept[0].CmdID)
	assert.Equal(t, StatusTimeout, swept[0].Status)
	assert.Equal(t, "timeout", swept[0].ErrorCode)

	for cmdID, want := range map[string]Status{
		"stale-sent":     StatusTimeout,
		"fresh-accepted": StatusAccepted,
		"done":           StatusDone,
		"queued":         StatusQueued,
	} {
		c, err := f.tracker.Get(ctx, viewer, cmdID)
		require.NoError(t, err)
		assert.Equal(t, want, c.Status, cmdID)
	}

	f.at(7 * time.Minute)
	swept, err = f.tracker.SweepTimeouts(ctx, service, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "fresh-accepted", swept[0].CmdID)

	assert.Equal(t, 2, f.observer.swept)
	assert.Equal(t, 2, testutil.Count(t, f.db, "audit_logs", "action = ?", audit.ActionSweep))
}

func TestSweepTimeoutsRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tracker.SweepTimeouts(ctx, service, 0)
	assert.ErrorIs(t, err, ErrInvalidSweep)
	_, err = f.tracker.SweepTimeouts(ctx, operator, time.Minute)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.tracker.SweepTimeouts(ctx, zoneBOnly, time.Minute)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	swept, err := f.tracker.SweepTimeouts(ctx, service, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.Zero(t, testutil.Count(t, f.db, "audit_logs", "action = ?", audit.ActionSweep), "empty sweeps are not audited")
}

func TestListCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sent(t, "irr-1")
	f.at(time.Second)
	_, _, err := f.tracker.Dispatch(ctx, operator, valveOpen("irr-2"))
	require.NoError(t, err)
	_, _, err = f.tracker.Dispatch(ctx, operator, DispatchInput{CmdID: "vent-1", ZoneID: "zone-b", Cmd: "vent_set"})
	require.NoError(t, err)

	all, err := f.tracker.List(ctx, viewer, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	zoneA, err := f.tracker.List(ctx, viewer, Filter{ZoneID: "zone-a"})
	require.NoError(t, err)
	require.Len(t, zoneA, 2)
	assert.Equal(t, "irr-2", zoneA[0].CmdID, "newest first")

	queued, err := f.tracker.List(ctx, viewer, Filter{ZoneID: "zone-a", Status: StatusQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "irr-2", queued[0].CmdID)

	_, err = f.tracker.List(ctx, zoneBOnly, Filter{})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.tracker.List(ctx, zoneBOnly, Filter{ZoneID: "zone-a"})
	assert.ErrorIs(t, err, auth.ErrForbidden)
	_, err = f.tracker.Get(ctx, zoneBOnly, "irr-1")
	assert.ErrorIs(t, err, auth.ErrForbidden)
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status                  Status
		final, done, failed, ok bool
	}{
		{StatusQueued, false, false, false, true},
		{StatusSent, false, false, false, true},
		{StatusAccepted, false, false, false, true},
		{StatusDone, true, true, false, true},
		{StatusFailed, true, false, true, true},
		{StatusTimeout, true, false, true, true},
		{StatusSendFailed, true, false, true, true},
		{"LOST", false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.final, tt.status.IsFinal())
			assert.Equal(t, tt.done, tt.status.IsDone())
			assert.Equal(t, tt.failed, tt.status.IsFailed())
			assert.Equal(t, tt.ok, tt.status.IsValid())
		})
	}

	assert.True(t, CanTransition(StatusQueued, StatusSendFailed))
	assert.True(t, CanTransition(StatusSent, StatusDone))
	assert.True(t, CanTransition(StatusAccepted, StatusTimeout))
	assert.False(t, CanTransition(StatusAccepted, StatusSendFailed))
	assert.False(t, CanTransition(StatusDone, StatusFailed))
	assert.False(t, CanTransition(StatusQueued, StatusAccepted))

	assert.True(t, AckVerified.Confirms())
	assert.False(t, AckAccepted.Confirms())
}
