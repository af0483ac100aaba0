package broker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ladiesman540/crane-platform/internal/adapters/gateway"
	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// AddressAliases lists the keys a broker payload may carry the device
// address under, in priority order.
var AddressAliases = []string{"addr", "mac", "mac_address"}

const previewLen = 100

// MessageNormalizer parses broker message bodies. Once the address alias and
// battery fallback are resolved the body is a gateway event.
type MessageNormalizer struct {
	events *gateway.EventNormalizer
}

func NewMessageNormalizer(seq *gateway.Sequencer) *MessageNormalizer {
	return &MessageNormalizer{events: gateway.NewEventNormalizer(seq)}
}

func (n *MessageNormalizer) Normalize(body []byte) (domain.Reading, error) {
	var ev gateway.Event
	if err := json.Unmarshal(body, &ev); err != nil || ev == nil {
		return domain.Reading{}, fmt.Errorf("%w: %q", domain.ErrMalformedPayload, Preview(body))
	}

	addr := ""
	for _, key := range AddressAliases {
		if s, ok := ev[key].(string); ok && strings.TrimSpace(s) != "" {
			addr = s
			break
		}
	}
	if addr == "" {
		return domain.Reading{}, domain.ErrMissingAddress
	}
	for _, key := range AddressAliases {
		delete(ev, key)
	}
	ev["addr"] = addr

	if ev["battery_percent"] == nil {
		if b, ok := ev["battery"]; ok {
			ev["battery_percent"] = b
		}
	}
	delete(ev, "battery")

	return n.events.Normalize(ev)
}

// Preview returns at most the first 100 characters of a message body.
func Preview(body []byte) string {
	s := []rune(string(body))
	if len(s) > previewLen {
		return string(s[:previewLen])
	}
	return string(s)
}

var _ ports.Normalizer[[]byte] = (*MessageNormalizer)(nil)
