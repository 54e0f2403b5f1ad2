package location

import (
	"fmt"
	"time"
)

// Greenhouse is a physical house containing one or more zones.
type Greenhouse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Zone is an independently controlled growing area within a greenhouse.
type Zone struct {
	ID           string    `json:"id"`
	GreenhouseID string    `json:"greenhouse_id"`
	Name         string    `json:"name"`
	Code         string    `json:"code,omitempty"`
	AreaM2       *float64  `json:"area_m2,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OwnerKind tags which entity owns a node.
type OwnerKind string

// Owner kinds.
const (
	OwnerZone       OwnerKind = "zone"
	OwnerGreenhouse OwnerKind = "greenhouse"
)

// Owner identifies the zone or greenhouse a node belongs to.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

// ZoneOwner returns an Owner for a zone.
func ZoneOwner(id string) Owner { return Owner{Kind: OwnerZone, ID: id} }

// GreenhouseOwner returns an Owner for a greenhouse.
func GreenhouseOwner(id string) Owner { return Owner{Kind: OwnerGreenhouse, ID: id} }

// Serves reports whether a node with this owner may act on zone.
// Zone-owned nodes serve only their zone; greenhouse-owned nodes serve
// every zone in the greenhouse.
func (o Owner) Serves(zone *Zone) (bool, error) {
	switch o.Kind {
	case OwnerZone:
		return o.ID == zone.ID, nil
	case OwnerGreenhouse:
		return o.ID == zone.GreenhouseID, nil
	default:
		return false, fmt.Errorf("%w: unknown owner kind %q", ErrInvalidOwner, o.Kind)
	}
}

// Node is a field controller exposing actuator channels.
type Node struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	NodeType  string    `json:"node_type"`
	Owner     Owner     `json:"owner"`
	Channels  []string  `json:"channels"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasChannel reports whether the node exposes channel.
func (n *Node) HasChannel(channel string) bool {
	for _, c := range n.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// Plant is a cultivar grown by a cycle.
type Plant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Variety   string    `json:"variety,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
