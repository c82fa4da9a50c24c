package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed content of a client envelope, one type per header.
type Payload interface {
	Header() string
}

type Search struct{}

type Leave struct{}

type Broadcast struct {
	Delivery json.RawMessage `json:"delivery"`
}

type Confirm struct {
	MatchID string
}

type Exit struct {
	MatchID string
}

type StateUpdate struct {
	State json.RawMessage `json:"state"`
}

// MessageUpdate and WorldUpdate are free-form objects; the router tags them
// with the sender before relaying.
type MessageUpdate struct {
	Body map[string]any
}

type WorldUpdate struct {
	Body map[string]any
}

func (Search) Header() string        { return HeaderSearch }
func (Leave) Header() string         { return HeaderLeave }
func (Broadcast) Header() string     { return HeaderBroadcast }
func (Confirm) Header() string       { return HeaderConfirm }
func (Exit) Header() string          { return HeaderExit }
func (StateUpdate) Header() string   { return HeaderState }
func (MessageUpdate) Header() string { return HeaderMessage }
func (WorldUpdate) Header() string   { return HeaderWorld }

// Parse validates env.Content against the shape its header requires.
func Parse(env Envelope) (Payload, error) {
	switch env.Header {
	case HeaderSearch:
		return Search{}, nil
	case HeaderLeave:
		return Leave{}, nil
	case HeaderBroadcast:
		var b Broadcast
		if err := decodeObject(env.Content, &b); err != nil {
			return nil, err
		}
		return b, nil
	case HeaderConfirm:
		id, err := matchID(env.Content)
		if err != nil {
			return nil, err
		}
		return Confirm{MatchID: id}, nil
	case HeaderExit:
		id, err := matchID(env.Content)
		if err != nil {
			return nil, err
		}
		return Exit{MatchID: id}, nil
	case HeaderState:
		var s StateUpdate
		if err := decodeObject(env.Content, &s); err != nil {
			return nil, err
		}
		return s, nil
	case HeaderMessage:
		body, err := object(env.Content)
		if err != nil {
			return nil, err
		}
		return MessageUpdate{Body: body}, nil
	case HeaderWorld:
		body, err := object(env.Content)
		if err != nil {
			return nil, err
		}
		return WorldUpdate{Body: body}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownHeader, env.Header)
	}
}

func object(raw json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, ErrMalformed
	}
	return m, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if _, err := object(raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformed
	}
	return nil
}

func matchID(raw json.RawMessage) (string, error) {
	m, err := object(raw)
	if err != nil {
		return "", ErrMissingMatchID
	}
	id, ok := m["matchId"].(string)
	if !ok || id == "" {
		return "", ErrMissingMatchID
	}
	return id, nil
}
