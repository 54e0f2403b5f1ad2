package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-grow/internal/testutil"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeBroker records publishes and subscriptions.
type fakeBroker struct {
	published []published
	handlers  map[string]mqtt.MessageHandler
	err       error
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, published{topic, payload, qos, retained})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if b.err != nil {
		return b.err
	}
	if b.handlers == nil {
		b.handlers = map[string]mqtt.MessageHandler{}
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Topics() mqtt.Topics {
	return mqtt.NewTopics("greenhouse")
}

func TestMQTTTransportPublishesIntent(t *testing.T) {
	broker := &fakeBroker{}
	tr := NewMQTTTransport(broker, 1)

	err := tr.Deliver(context.Background(), Intent{
		CmdID: "irr-1", Cmd: "valve_open", Params: map[string]any{"seconds": 30},
		ZoneID: "zone-a", NodeID: "node-a", Channel: "valve1",
	})
	require.NoError(t, err)
	require.Len(t, broker.published, 1)

	msg := broker.published[0]
	assert.Equal(t, "greenhouse/command/zone-a/node-a", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "irr-1", got["cmd_id"])
	assert.Equal(t, "valve_open", got["cmd"])
	assert.Equal(t, map[string]any{"seconds": 30.0}, got["params"])
}

func TestMQTTTransportZoneWideAndFailures(t *testing.T) {
	broker := &fakeBroker{}
	tr := NewMQTTTransport(broker, 0)

	require.NoError(t, tr.Deliver(context.Background(), Intent{CmdID: "flush-1", Cmd: "flush", ZoneID: "zone-b"}))
	assert.Equal(t, "greenhouse/command/zone-b/_zone", broker.published[0].topic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Deliver(ctx, Intent{CmdID: "x", Cmd: "flush", ZoneID: "zone-b"}), context.Canceled)

	broker.err = mqtt.ErrNotConnected
	assert.ErrorIs(t, tr.Deliver(context.Background(), Intent{CmdID: "y", Cmd: "flush", ZoneID: "zone-b"}), mqtt.ErrNotConnected)
}

func TestTrackerSendsOverMQTT(t *testing.T) {
	f := newFixture(t)
	broker := &fakeBroker{}
	f.tracker.SetTransport(NewMQTTTransport(broker, 1))

	c := f.sent(t, "irr-mqtt")
	assert.Equal(t, StatusSent, c.Status)
	require.Len(t, broker.published, 1)
	assert.Equal(t, "greenhouse/command/zone-a/node-a", broker.published[0].topic)
}

func TestAckListener(t *testing.T) {
	f := newFixture(t)
	f.sent(t, "irr-ack-1")

	broker := &fakeBroker{}
	listener := NewAckListener(f.tracker, service)
	require.NoError(t, listener.Start(broker, 1))
	handler := broker.handlers["greenhouse/ack/+/+"]
	require.NotNil(t, handler, "listener subscribes to every ack topic")

	topic := "greenhouse/ack/zone-a/node-a"
	require.NoError(t, handler(topic, []byte(`{"cmd_id":"irr-ack-1","ack_type":"accepted"}`)))
	c, err := f.tracker.Get(context.Background(), viewer, "irr-ack-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, c.Status, "an ack without a status leaves the command alone")

	require.NoError(t, handler(topic, []byte(
		`{"cmd_id":"irr-ack-1","ack_type":"executed","measured_current":0.42,"status":"DONE","result_code":0}`)))
	c, err = f.tracker.Get(context.Background(), viewer, "irr-ack-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, c.Status)

	// Duplicate delivery of a failure after completion is recorded but ignored.
	require.NoError(t, handler(topic, []byte(
		`{"cmd_id":"irr-ack-1","ack_type":"error","error_message":"retry storm","status":"FAILED"}`)))
	c, err = f.tracker.Get(context.Background(), viewer, "irr-ack-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, c.Status)
	assert.Equal(t, 3, testutil.Count(t, f.db, "command_acks", ""))
}

func TestAckListenerRejectsBadMessages(t *testing.T) {
	f := newFixture(t)
	f.sent(t, "irr-bad")
	listener := NewAckListener(f.tracker, service)
	topic := "greenhouse/ack/zone-a/node-a"

	assert.Error(t, listener.Handle(topic, []byte(`not json`)))
	assert.ErrorIs(t, listener.Handle(topic, []byte(`{"ack_type":"accepted"}`)), ErrInvalidAck)
	assert.ErrorIs(t, listener.Handle(topic, []byte(`{"cmd_id":"irr-bad","ack_type":"bogus"}`)), ErrInvalidAck)
	assert.ErrorIs(t, listener.Handle(topic, []byte(`{"cmd_id":"irr-nope","ack_type":"accepted"}`)), ErrCommandNotFound)
	assert.ErrorIs(t, listener.Handle(topic, []byte(`{"cmd_id":"irr-bad","ack_type":"accepted","status":"QUEUED"}`)), ErrInvalidStatusUpdate)

	broker := &fakeBroker{err: errors.New("broker down")}
	assert.Error(t, listener.Start(broker, 1))
}
