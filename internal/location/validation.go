package location

import (
	"regexp"
	"strings"
)

const (
	maxNameLength = 100
	maxChannels   = 64
)

var channelRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateName checks if a location name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName.Withf("name cannot be empty")
	}
	if len(name) > maxNameLength {
		return ErrInvalidName.Withf("name exceeds %d characters", maxNameLength)
	}
	return nil
}

// ValidateNode validates a Node before persistence.
func ValidateNode(n *Node) error {
	if err := ValidateName(n.Name); err != nil {
		return err
	}
	if strings.TrimSpace(n.UID) == "" {
		return ErrInvalidNode.Withf("node uid cannot be empty")
	}
	switch n.Owner.Kind {
	case OwnerZone, OwnerGreenhouse:
	default:
		return ErrInvalidOwner.Withf("owner kind must be zone or greenhouse, got %q", n.Owner.Kind)
	}
	if n.Owner.ID == "" {
		return ErrInvalidOwner.Withf("owner id is required")
	}
	if len(n.Channels) > maxChannels {
		return ErrInvalidNode.Withf("node exposes more than %d channels", maxChannels)
	}
	for _, c := range n.Channels {
		if !channelRegex.MatchString(c) {
			return ErrInvalidNode.Withf("channel %q must be lowercase alphanumeric with underscores", c)
		}
	}
	return nil
}
