package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/config"
)

// testConfig returns a configuration for a local broker at 127.0.0.1:1883.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS:         1,
		TopicPrefix: "growtest",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("broker tests skipped in -short mode")
	}
	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Skipf("no MQTT broker available: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("greenhouse")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Command", topics.Command("zone-a", "node-7"), "greenhouse/command/zone-a/node-7"},
		{"CommandZoneWide", topics.Command("zone-a", ""), "greenhouse/command/zone-a/_zone"},
		{"AllAcks", topics.AllAcks(), "greenhouse/ack/+/+"},
		{"CycleEvent", topics.CycleEvent("zone-a"), "greenhouse/event/cycle/zone-a"},
		{"CommandEvent", topics.CommandEvent("zone-a"), "greenhouse/event/command/zone-a"},
		{"SystemStatus", topics.SystemStatus(), "greenhouse/system/status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestNewTopicsDefaultPrefix(t *testing.T) {
	if got := NewTopics("").SystemStatus(); got != "greenhouse/system/status" {
		t.Errorf("SystemStatus() = %q, want default prefix", got)
	}
	if got := NewTopics("site-2").AllAcks(); got != "site-2/ack/+/+" {
		t.Errorf("AllAcks() = %q, want custom prefix", got)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := statusPayload("online", "growcore", "")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"growcore"`) {
		t.Errorf("online payload = %s", online)
	}
	if strings.Contains(online, `"reason"`) {
		t.Errorf("online payload carries a reason: %s", online)
	}
	offline := statusPayload("offline", "growcore", "graceful_shutdown")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
	var decoded map[string]string
	if err := json.Unmarshal([]byte(offline), &decoded); err != nil {
		t.Fatalf("offline payload is not JSON: %v", err)
	}
	if decoded["timestamp"] == "" {
		t.Error("offline payload has no timestamp")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("growcore-opts")
	cfg.Auth.Username = "engine"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "growcore-opts" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "engine" {
		t.Errorf("Username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want TLS enabled")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{subscriptions: map[string]subscription{}}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"invalid qos", "growtest/command/z/n", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized payload", "growtest/command/z/n", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "growtest/command/z/n", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: map[string]subscription{}}
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("growtest/ack/+/+", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("growtest/ack/+/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if err := client.Subscribe("growtest/ack/+/+", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want ErrNotConnected", err)
	}
	if len(client.subscriptions) != 0 {
		t.Errorf("restore set has %d topics after rejected subscribes, want 0", len(client.subscriptions))
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t, "growtest-health")

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}

	client.Close() //nolint:errcheck // Closing to test disconnected state
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestAckRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "growtest-roundtrip")
	topics := client.Topics()

	var (
		mu       sync.Mutex
		received []string
	)
	done := make(chan struct{}, 1)
	err := client.Subscribe(topics.AllAcks(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		received = append(received, topic+" "+string(payload))
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	client.subMu.RLock()
	_, restored := client.subscriptions[topics.AllAcks()]
	client.subMu.RUnlock()
	if !restored {
		t.Error("ack subscription missing from the reconnect restore set")
	}

	if err := client.Publish("growtest/ack/zone-a/node-7", []byte(`{"cmd_id":"c-1"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no message received within 5s")
	}
	mu.Lock()
	defer mu.Unlock()
	if received[0] != `growtest/ack/zone-a/node-7 {"cmd_id":"c-1"}` {
		t.Errorf("received %q", received[0])
	}
}

func TestHandlerErrorsAreContained(t *testing.T) {
	client := connectOrSkip(t, "growtest-handler")
	topic := "growtest/ack/zone-b/node-1"

	calls := make(chan struct{}, 2)
	err := client.Subscribe(topic, 1, func(string, []byte) error {
		calls <- struct{}{}
		panic("handler blew up")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := client.Publish(topic, []byte("{}"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("handler call %d not received; a panic must not stop delivery", i+1)
		}
	}
	if !client.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}
