package matchmaker

import (
	"context"
	"errors"
	"time"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/stats"
)

const (
	// Interval separates the end of one cycle from the start of the next.
	Interval = 3200 * time.Millisecond
	// MaxLifetime bounds a confirmation round.
	MaxLifetime = 2 * time.Minute
	// DisbandGrace lets the DISBAND notice reach clients before the group is erased.
	DisbandGrace = 250 * time.Millisecond
)

var (
	ErrAutoActive     = errors.New("cannot run manually while automatic matchmaking is active")
	ErrAlreadyRunning = errors.New("automatic matchmaking is already active")
)

// Match is a freshly formed lobby.
type Match struct {
	GroupID   string
	Members   []string
	CreatedAt time.Time
}

// Outcome is the result of one item of a cycle (a chunk or a confirmation
// record). Items never cancel each other.
type Outcome struct {
	GroupID string
	Members []string
	Result  string
	Err     error
}

// Notifier delivers an envelope to the current members of a group.
type Notifier interface {
	BroadcastToGroup(ctx context.Context, groupID string, msg protocol.Envelope, except ...string) error
}

// EventFunc receives local lifecycle events.
type EventFunc func(ctx context.Context, evt stats.MatchEvent, groupID, clientID string)

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
