// Package protocol defines the JSON envelope shared by both transports, the
// header constants and the typed payload for each header.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TypeInternal marks envelopes routed by the room layer.
const TypeInternal = "internal"

const (
	prefix = "RGS:"
	Notify = ":NOTIFY"
)

const (
	HeaderBroadcast = prefix + "BROADCAST"
	HeaderSearch    = prefix + "SEARCH"
	HeaderLeave     = prefix + "LEAVE"
	HeaderConfirm   = prefix + "CONFIRM"
	HeaderDisband   = prefix + "DISBAND" // server only
	HeaderStart     = prefix + "START"   // server only
	HeaderEnd       = prefix + "END"     // server only
	HeaderExit      = prefix + "EXIT"
	HeaderState     = prefix + "STATE"
	HeaderMessage   = prefix + "MESSAGE"
	HeaderWorld     = prefix + "WORLD"
)

// Values of the "mm" field in server notices.
const (
	MMFound          = "MATCH-FOUND"
	MMConfirmed      = "MATCH-CONFIRMED"
	MMStart          = "MATCH-START"
	MMDisbandTimeout = "MATCH-DISBAND-TIMEOUT"
	MMExit           = "MATCH-EXIT"
	MMClose          = "MATCH-CLOSE"
	MMEnd            = "MATCH-END"
	ReasonTimeout    = "timeout"
	ReasonStart      = "start"
)

var (
	ErrNotInternal    = errors.New("envelope type is not internal")
	ErrUnknownHeader  = errors.New("unknown header")
	ErrMissingMatchID = errors.New("missing matchId")
	ErrMalformed      = errors.New("malformed content")
)

type Envelope struct {
	Type    string          `json:"type"`
	Header  string          `json:"header"`
	Content json.RawMessage `json:"content,omitempty"`
	From    string          `json:"from,omitempty"`
}

// New builds an internal envelope. content must be JSON encodable; a value
// that fails to encode is sent as null.
func New(header string, content any) Envelope {
	raw, err := json.Marshal(content)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Envelope{Type: TypeInternal, Header: header, Content: raw}
}

// Decode parses a frame and rejects anything not addressed to the room layer.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != TypeInternal {
		return Envelope{}, ErrNotInternal
	}
	return env, nil
}

// MatchNotice is the content of every match lifecycle message sent to clients.
type MatchNotice struct {
	MM      string `json:"mm"`
	MatchID string `json:"matchId"`
	Reason  string `json:"reason,omitempty"`
	Leaver  string `json:"leaver,omitempty"`
}

// Ack acknowledges a successful SEARCH or LEAVE.
type Ack struct {
	Successful bool `json:"successful"`
}

// ExitAck is sent to the client that left a match.
type ExitAck struct {
	Leaver string `json:"leaver"`
}
