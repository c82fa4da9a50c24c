package logic

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
)

// Source is the transport an update arrived on.
type Source string

const (
	SourceTCP Source = "tcp"
	SourceUDP Source = "udp"
)

// MaxHertz bounds the tick rate.
const MaxHertz = 1000

// Sender delivers an envelope to the members of a group.
type Sender interface {
	BroadcastToGroup(ctx context.Context, groupID string, msg protocol.Envelope, except ...string) error
}

// Frame is what the logic broadcasts on every tick.
type Frame struct {
	MatchID  string                     `json:"matchId"`
	Tick     uint64                     `json:"tick"`
	States   map[string]json.RawMessage `json:"states"`
	Messages []map[string]any           `json:"messages,omitempty"`
	World    []map[string]any           `json:"world,omitempty"`
}

// Logic broadcasts the authoritative state of one running match at a fixed
// rate until it is ended, its duration elapses or every member has left.
type Logic struct {
	GroupID string

	hertz    int
	duration time.Duration
	members  map[string]struct{}
	states   StateStore
	sender   Sender
	now      func() time.Time
	log      *log.Logger

	mu        sync.Mutex
	startedAt time.Time
	left      map[string]struct{}
	messages  []map[string]any
	world     []map[string]any
	tick      uint64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// OnEnded is called when the logic finishes on its own, not after End.
	OnEnded func(groupID string)
}

func NewLogic(groupID string, members []string, hertz int, duration time.Duration, states StateStore, sender Sender) *Logic {
	hertz = min(max(hertz, 1), MaxHertz)
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return &Logic{
		GroupID:  groupID,
		hertz:    hertz,
		duration: duration,
		members:  set,
		states:   states,
		sender:   sender,
		now:      time.Now,
		log:      utils.Logger("logic").With("group", groupID),
		left:     make(map[string]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until the logic finishes.
func (l *Logic) Run(ctx context.Context) {
	l.mu.Lock()
	l.startedAt = l.now()
	l.mu.Unlock()

	finished := l.loop(ctx)
	close(l.done)
	if finished && l.OnEnded != nil {
		go l.OnEnded(l.GroupID)
	}
}

// loop reports true when the match finished by itself.
func (l *Logic) loop(ctx context.Context) bool {
	ticker := time.NewTicker(time.Second / time.Duration(l.hertz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.stop:
			return false
		case <-ticker.C:
		}

		if l.expired() {
			l.log.Info("state logic reached its duration")
			return true
		}
		if l.deserted() {
			l.log.Info("every member left, ending state logic")
			return true
		}
		l.broadcast(ctx)
	}
}

func (l *Logic) expired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Sub(l.startedAt) >= l.duration
}

func (l *Logic) deserted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.members) > 0 && len(l.left) >= len(l.members)
}

func (l *Logic) broadcast(ctx context.Context) {
	// Buffered updates go out even without states so they cannot pile up.
	states, err := l.states.States(ctx, l.GroupID)
	if err != nil {
		l.log.Debug("state read failed, sending frame without states", "err", err)
	}

	l.mu.Lock()
	l.tick++
	frame := Frame{
		MatchID:  l.GroupID,
		Tick:     l.tick,
		States:   states,
		Messages: l.messages,
		World:    l.world,
	}
	l.messages, l.world = nil, nil
	l.mu.Unlock()

	if err := l.sender.BroadcastToGroup(ctx, l.GroupID, protocol.New(protocol.HeaderState, frame)); err != nil {
		l.log.Debug("state broadcast failed", "tick", frame.Tick, "err", err)
	}
}

// End stops the logic and waits for its loop to return.
func (l *Logic) End() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// ClientLeft marks a member as gone; the logic ends once all are gone.
func (l *Logic) ClientLeft(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.members[clientID]; ok {
		l.left[clientID] = struct{}{}
	}
}

func (l *Logic) active(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, member := l.members[clientID]
	_, gone := l.left[clientID]
	return member && !gone
}

// HandleUpdate consumes a relayed transport update. UDP updates carry an
// unverified uid and are only accepted from current members.
func (l *Logic) HandleUpdate(ctx context.Context, src Source, kind protocol.Kind, payload json.RawMessage) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil || body == nil {
		l.log.Debug("dropping undecodable update", "source", src, "kind", kind)
		return
	}

	if src == SourceUDP {
		uid, _ := body["uid"].(string)
		if !l.active(uid) {
			l.log.Debug("dropping udp update from non-member", "uid", uid, "kind", kind)
			return
		}
		if kind == protocol.KindState {
			l.storeUDPState(ctx, uid, body)
			return
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch kind {
	case protocol.KindMessage:
		l.messages = append(l.messages, body)
	case protocol.KindWorld:
		l.world = append(l.world, body)
	}
}

func (l *Logic) storeUDPState(ctx context.Context, uid string, body map[string]any) {
	state, ok := body["state"]
	if !ok {
		state = body
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := l.states.UpdateState(ctx, l.GroupID, uid, raw); err != nil {
		l.log.Error("storing udp state failed", "uid", uid, "err", err)
	}
}
