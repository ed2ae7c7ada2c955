package conversation

import (
	"strings"

	"github.com/google/uuid"
)

// InboundMessage is the normalized view of a gateway webhook payload. Gateways
// disagree on envelope shape, so extraction probes a fixed list of JSON paths
// in priority order.
type InboundMessage struct {
	PhoneNumber       string
	Text              string
	ExternalMessageID string
	InstanceName      string
	ProfessionalID    uuid.UUID // set when the payload carries an explicit tenant id
	FromMe            bool
	Event             string
}

var phonePaths = [][]string{
	{"data", "key", "remoteJid"},
	{"data", "remoteJid"},
	{"key", "remoteJid"},
	{"remoteJid"},
	{"sender"},
	{"from"},
	{"phoneNumber"},
	{"phone"},
}

var textPaths = [][]string{
	{"data", "message", "conversation"},
	{"data", "message", "extendedTextMessage", "text"},
	{"message", "conversation"},
	{"message", "extendedTextMessage", "text"},
	{"message", "text"},
	{"text"},
	{"body"},
	{"content"},
}

var messageIDPaths = [][]string{
	{"data", "key", "id"},
	{"key", "id"},
	{"messageId"},
	{"id"},
}

var instancePaths = [][]string{
	{"instance"},
	{"instanceName"},
	{"instance", "instanceName"},
}

var professionalIDPaths = [][]string{
	{"professionalId"},
	{"data", "professionalId"},
}

// ParsePayload extracts the inbound message from an arbitrary webhook body.
// Missing fields come back zero-valued; the processor decides what is fatal.
func ParsePayload(payload map[string]any) InboundMessage {
	msg := InboundMessage{
		PhoneNumber:       extractPhone(probeString(payload, phonePaths)),
		Text:              strings.TrimSpace(probeString(payload, textPaths)),
		ExternalMessageID: probeString(payload, messageIDPaths),
		InstanceName:      probeString(payload, instancePaths),
		Event:             probeString(payload, [][]string{{"event"}}),
	}

	if raw := probeString(payload, professionalIDPaths); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			msg.ProfessionalID = id
		}
	}
	if v, ok := probe(payload, []string{"data", "key", "fromMe"}); ok {
		if b, ok := v.(bool); ok {
			msg.FromMe = b
		}
	} else if v, ok := probe(payload, []string{"key", "fromMe"}); ok {
		if b, ok := v.(bool); ok {
			msg.FromMe = b
		}
	}

	return msg
}

// IsSupportedEvent filters gateway event types: only new-message upserts drive
// the dialogue. An absent event field is treated as a plain message post.
func (m InboundMessage) IsSupportedEvent() bool {
	switch m.Event {
	case "", "messages.upsert", "message", "onmessage":
		return true
	default:
		return false
	}
}

// extractPhone turns a gateway JID (5511987654321@s.whatsapp.net) or any
// phone-looking string into bare digits. Fewer than 10 digits is garbage.
func extractPhone(raw string) string {
	if raw == "" {
		return ""
	}
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return ""
	}
	return digits
}

func probeString(payload map[string]any, paths [][]string) string {
	for _, path := range paths {
		if v, ok := probe(payload, path); ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func probe(payload map[string]any, path []string) (any, bool) {
	var current any = payload
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
