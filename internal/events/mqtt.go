package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/command"
	"github.com/nerrad567/gray-logic-grow/internal/growcycle"
	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/mqtt"
)

// Logger is the logging surface used by sinks.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Publisher is the broker surface the announcer needs.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
}

// CycleMessage is published on the zone's cycle event topic.
type CycleMessage struct {
	Type       string                `json:"type"`
	Timestamp  time.Time             `json:"timestamp"`
	Cycle      *growcycle.Cycle      `json:"cycle"`
	Transition *growcycle.Transition `json:"transition"`
}

// CommandMessage is published on the zone's command event topic.
type CommandMessage struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Command   *command.Command `json:"command"`
}

// Message types.
const (
	TypeCycleTransition = "cycle_transition"
	TypeCommandStatus   = "command_status"
)

// MQTTAnnouncer publishes cycle transitions and command changes.
// Cycle events are retained so a late subscriber sees the zone's latest
// transition; command events are not.
type MQTTAnnouncer struct {
	pub    Publisher
	qos    byte
	logger Logger
}

// NewMQTTAnnouncer creates an announcer publishing at qos.
func NewMQTTAnnouncer(pub Publisher, qos byte) *MQTTAnnouncer {
	return &MQTTAnnouncer{pub: pub, qos: qos, logger: noopLogger{}}
}

// SetLogger sets the logger for publish failures.
func (a *MQTTAnnouncer) SetLogger(logger Logger) {
	a.logger = logger
}

// CycleTransitioned implements growcycle.EventSink.
func (a *MQTTAnnouncer) CycleTransitioned(_ context.Context, c *growcycle.Cycle, t *growcycle.Transition) {
	msg := CycleMessage{Type: TypeCycleTransition, Timestamp: t.CreatedAt, Cycle: c, Transition: t}
	a.publish(a.pub.Topics().CycleEvent(c.ZoneID), msg, true)
}

// CommandChanged implements command.EventSink.
func (a *MQTTAnnouncer) CommandChanged(_ context.Context, c *command.Command) {
	msg := CommandMessage{Type: TypeCommandStatus, Timestamp: c.UpdatedAt, Command: c}
	a.publish(a.pub.Topics().CommandEvent(c.ZoneID), msg, false)
}

func (a *MQTTAnnouncer) publish(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		a.logger.Warn("encoding event failed", "topic", topic, "error", err)
		return
	}
	if err := a.pub.Publish(topic, payload, a.qos, retained); err != nil {
		a.logger.Warn("publishing event failed", "topic", topic, "error", err)
	}
}
