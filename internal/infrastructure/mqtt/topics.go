package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "greenhouse"

// zoneWide stands in for the node segment of a command addressed to a
// whole zone.
const zoneWide = "_zone"

// Topics builds the topic hierarchy under one prefix.
//
//	topics := mqtt.NewTopics("greenhouse")
//	topics.Command("zone-a", "node-7")
//	// Returns: "greenhouse/command/zone-a/node-7"
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Command returns the topic a command intent is published on. An empty
// nodeID addresses the whole zone.
//
// Example: greenhouse/command/zone-a/node-7
func (t Topics) Command(zoneID, nodeID string) string {
	if nodeID == "" {
		nodeID = zoneWide
	}
	return fmt.Sprintf("%s/command/%s/%s", t.Prefix, zoneID, nodeID)
}

// AllAcks matches every acknowledgement topic.
//
// Pattern: greenhouse/ack/+/+
func (t Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+/+", t.Prefix)
}

// CycleEvent returns the topic grow cycle transitions are announced on.
//
// Example: greenhouse/event/cycle/zone-a
func (t Topics) CycleEvent(zoneID string) string {
	return fmt.Sprintf("%s/event/cycle/%s", t.Prefix, zoneID)
}

// CommandEvent returns the topic command state changes are announced on.
//
// Example: greenhouse/event/command/zone-a
func (t Topics) CommandEvent(zoneID string) string {
	return fmt.Sprintf("%s/event/command/%s", t.Prefix, zoneID)
}

// SystemStatus returns the retained engine status topic.
//
// Example: greenhouse/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix)
}
