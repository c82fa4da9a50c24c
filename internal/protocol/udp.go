package protocol

import (
	"fmt"
)

// Kind tags a transport update relayed over the bus.
type Kind string

const (
	KindState   Kind = "state"
	KindMessage Kind = "message"
	KindWorld   Kind = "world"
)

// KindOf maps an update header to its kind.
func KindOf(header string) (Kind, bool) {
	switch header {
	case HeaderState:
		return KindState, true
	case HeaderMessage:
		return KindMessage, true
	case HeaderWorld:
		return KindWorld, true
	}
	return "", false
}

// UDPUpdate is a structurally valid unreliable packet. Sender is what the
// packet claims; nothing here proves it.
type UDPUpdate struct {
	Kind   Kind
	Target string
	Group  string
	Sender string
	Body   map[string]any
}

// ParseUDP accepts only update headers whose content is an object carrying
// string tid, gid and uid fields.
func ParseUDP(env Envelope) (UDPUpdate, error) {
	kind, ok := KindOf(env.Header)
	if !ok {
		return UDPUpdate{}, fmt.Errorf("%w: %q", ErrUnknownHeader, env.Header)
	}
	body, err := object(env.Content)
	if err != nil {
		return UDPUpdate{}, err
	}
	tid, ok1 := body["tid"].(string)
	gid, ok2 := body["gid"].(string)
	uid, ok3 := body["uid"].(string)
	if !ok1 || !ok2 || !ok3 {
		return UDPUpdate{}, ErrMalformed
	}
	return UDPUpdate{Kind: kind, Target: tid, Group: gid, Sender: uid, Body: body}, nil
}
