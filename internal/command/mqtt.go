package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/mqtt"
)

// ackHandleTimeout bounds the database work done for one ack message.
const ackHandleTimeout = 5 * time.Second

// Publisher is the broker surface MQTTTransport needs.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
}

// Subscriber is the broker surface AckListener needs.
// Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Topics() mqtt.Topics
}

// MQTTTransport publishes command intents on the command topic of their
// zone and node. Intents are never retained.
type MQTTTransport struct {
	pub Publisher
	qos byte
}

// NewMQTTTransport creates a transport publishing at qos.
func NewMQTTTransport(pub Publisher, qos byte) *MQTTTransport {
	return &MQTTTransport{pub: pub, qos: qos}
}

// Deliver implements Transport.
func (t *MQTTTransport) Deliver(ctx context.Context, intent Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encoding command %s: %w", intent.CmdID, err)
	}
	return t.pub.Publish(t.pub.Topics().Command(intent.ZoneID, intent.NodeID), payload, t.qos, false)
}

// AckMessage is the payload nodes publish on their ack topic. Status is
// optional; when present it is applied as an explicit status write after
// the ack is recorded.
type AckMessage struct {
	CmdID string `json:"cmd_id"`
	AckInput
	Status     Status `json:"status,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	ResultCode *int   `json:"result_code,omitempty"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

// AckListener feeds acknowledgements from the broker into a Tracker.
type AckListener struct {
	tracker *Tracker
	actor   auth.ActorContext
	logger  Logger
}

// NewAckListener creates a listener acting as actor.
func NewAckListener(tracker *Tracker, actor auth.ActorContext) *AckListener {
	return &AckListener{tracker: tracker, actor: actor, logger: noopLogger{}}
}

// SetLogger sets the logger for the listener.
func (l *AckListener) SetLogger(logger Logger) {
	l.logger = logger
}

// Start subscribes to every ack topic.
func (l *AckListener) Start(sub Subscriber, qos byte) error {
	topic := sub.Topics().AllAcks()
	if err := sub.Subscribe(topic, qos, l.Handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	l.logger.Info("command ack listener started", "topic", topic)
	return nil
}

// Handle processes one ack message.
func (l *AckListener) Handle(topic string, payload []byte) error {
	var msg AckMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding ack on %s: %w", topic, err)
	}
	if msg.CmdID == "" {
		return ErrInvalidAck.Withf("ack on %s has no cmd_id", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ackHandleTimeout)
	defer cancel()

	if _, err := l.tracker.RecordAck(ctx, l.actor, msg.CmdID, msg.AckInput); err != nil {
		return fmt.Errorf("recording ack for %s: %w", msg.CmdID, err)
	}
	if msg.Status == "" {
		return nil
	}

	upd := StatusUpdate{
		Status:       msg.Status,
		ErrorCode:    msg.ErrorCode,
		ErrorMessage: msg.ErrorMessage,
		ResultCode:   msg.ResultCode,
		DurationMS:   msg.DurationMS,
	}
	if _, err := l.tracker.UpdateStatus(ctx, l.actor, msg.CmdID, upd); err != nil {
		return fmt.Errorf("applying status %s to %s: %w", msg.Status, msg.CmdID, err)
	}
	return nil
}
