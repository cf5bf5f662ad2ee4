package types

import (
	"fmt"
	"strings"
)

// DeliveryMode selects how the destination broker is asked to handle a message.
type DeliveryMode int

const (
	// Direct is best-effort delivery with no broker acknowledgement.
	Direct DeliveryMode = iota
	// Persistent waits for the broker to acknowledge each message.
	Persistent
)

func (m DeliveryMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Persistent:
		return "persistent"
	default:
		return fmt.Sprintf("DeliveryMode(%d)", int(m))
	}
}

// ParseDeliveryMode accepts "direct" or "persistent" (case-insensitive).
// An empty string is Direct.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return Direct, nil
	case "persistent":
		return Persistent, nil
	default:
		return Direct, fmt.Errorf("unknown delivery mode %q", s)
	}
}

// UnmarshalText lets DeliveryMode be decoded from environment variables and YAML.
func (m *DeliveryMode) UnmarshalText(text []byte) error {
	mode, err := ParseDeliveryMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (m DeliveryMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// OutboundMessage is one message bound for the destination broker. It is built
// per inbound event and consumed immediately by a publish.
type OutboundMessage struct {
	Topic   string
	Payload []byte
	Mode    DeliveryMode
}
