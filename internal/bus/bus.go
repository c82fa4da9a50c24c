// Package bus carries match lifecycle and transport updates between server
// instances.
package bus

import (
	"context"
	"encoding/json"

	"RoomGroup/internal/protocol"
)

type Topic string

const (
	TopicMatchStarted Topic = "match-started"
	TopicMatchEnded   Topic = "match-ended"
	TopicMatchExited  Topic = "match-exited"
	TopicUDPUpdate    Topic = "udp-update"
	TopicTCPUpdate    Topic = "tcp-update"
	TopicDeliver      Topic = "client-deliver"
)

// Delivery selects how instances treat an event.
type Delivery string

const (
	// Fanout events are handled by every instance.
	Fanout Delivery = "fanout"
	// Race events are meant for one instance. The claim is best effort:
	// a handler may still see the same event on several instances and
	// must be idempotent.
	Race Delivery = "race"
)

type Event struct {
	ID       string   `json:"id"`
	Topic    Topic    `json:"topic"`
	Delivery Delivery `json:"delivery"`
	Origin   string   `json:"origin"`

	GroupID  string          `json:"groupId,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Kind     protocol.Kind   `json:"kind,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// Recipients of a TopicDeliver event; Payload is then a protocol.Envelope.
	Recipients []string `json:"recipients,omitempty"`
}

type Handler func(ctx context.Context, evt Event)

type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe registers h for every event, including ones this instance
	// published. It returns once the subscription is live.
	Subscribe(ctx context.Context, h Handler) error
	HealthCheck(ctx context.Context) error
	Close() error
}
