package matchmaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/registry"
	"RoomGroup/internal/stats"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"
)

type openRound struct {
	groupID  string
	openedAt time.Time
}

// Coordinator owns the confirmation rounds opened by this instance and
// resolves each one exactly once, to started or to disbanded.
type Coordinator struct {
	reg       registry.Registry
	store     ConfirmationStore
	notify    Notifier
	lobbySize int

	maxLifetime time.Duration
	grace       time.Duration
	now         func() time.Time
	log         *log.Logger

	mu   sync.Mutex
	open map[string]time.Time

	OnEvent EventFunc
}

func NewCoordinator(reg registry.Registry, store ConfirmationStore, notify Notifier, lobbySize int) *Coordinator {
	return &Coordinator{
		reg:         reg,
		store:       store,
		notify:      notify,
		lobbySize:   lobbySize,
		maxLifetime: MaxLifetime,
		grace:       DisbandGrace,
		now:         time.Now,
		log:         utils.Logger("confirm"),
		open:        make(map[string]time.Time),
	}
}

// Open starts a confirmation round for a freshly matched lobby and asks its
// members to confirm. The store record is created lazily by the first
// confirmation.
func (c *Coordinator) Open(ctx context.Context, m Match) {
	c.mu.Lock()
	c.open[m.GroupID] = c.now()
	c.mu.Unlock()

	c.log.Info("match group awaiting confirmation", "group", m.GroupID, "members", m.Members)
	c.emit(ctx, stats.Matched, m.GroupID, "")

	msg := protocol.New(protocol.HeaderConfirm, protocol.MatchNotice{MM: protocol.MMFound, MatchID: m.GroupID})
	if err := c.notify.BroadcastToGroup(ctx, m.GroupID, msg); err != nil {
		c.log.Error("confirm request broadcast failed", "group", m.GroupID, "err", err)
	}
}

// Pending returns the ids of unresolved rounds.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.open))
	for id := range c.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// take removes a round and reports whether the caller is the one resolving it.
func (c *Coordinator) take(groupID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[groupID]; !ok {
		return false
	}
	delete(c.open, groupID)
	return true
}

// RunCycle evaluates every open round independently.
func (c *Coordinator) RunCycle(ctx context.Context) []Outcome {
	c.mu.Lock()
	rounds := make([]openRound, 0, len(c.open))
	for id, at := range c.open {
		rounds = append(rounds, openRound{groupID: id, openedAt: at})
	}
	c.mu.Unlock()

	if len(rounds) == 0 {
		return nil
	}
	start := time.Now()
	ctx, span := startSpan(ctx, "confirmation.cycle", attribute.Int("rounds", len(rounds)))
	outcomes := iter.Map(rounds, func(r *openRound) Outcome {
		return c.evaluate(ctx, *r)
	})
	endSpan(span, outcomes)
	for _, o := range Failed(outcomes) {
		c.log.Error("confirmation evaluation failed", "group", o.GroupID, "err", o.Err)
	}
	c.log.Debug("confirmation cycle done", "rounds", len(rounds), "took", time.Since(start))
	return outcomes
}

func (c *Coordinator) evaluate(ctx context.Context, r openRound) Outcome {
	if c.now().Sub(r.openedAt) >= c.maxLifetime {
		return c.disband(ctx, r.groupID)
	}

	n, err := c.store.Size(ctx, r.groupID)
	if err != nil {
		return Outcome{GroupID: r.groupID, Err: err}
	}
	switch {
	case n == 0:
		c.log.Debug("no confirmations yet", "group", r.groupID)
		return Outcome{GroupID: r.groupID, Result: "nothing confirmed yet"}
	case n < int64(c.lobbySize):
		c.log.Debug("awaiting more confirmations", "group", r.groupID, "confirmed", n, "lobby", c.lobbySize)
		return Outcome{GroupID: r.groupID, Result: "awaiting more confirmations"}
	}
	return c.start(ctx, r.groupID)
}

func (c *Coordinator) start(ctx context.Context, groupID string) Outcome {
	if !c.take(groupID) {
		return Outcome{GroupID: groupID, Result: "already resolved"}
	}
	c.log.Info("all members confirmed, starting match", "group", groupID)

	if err := c.store.Erase(ctx, groupID); err != nil {
		c.log.Warn("confirmation cleanup failed", "group", groupID, "err", err)
	}
	msg := protocol.New(protocol.HeaderStart, protocol.MatchNotice{
		MM: protocol.MMStart, MatchID: groupID, Reason: protocol.ReasonStart,
	})
	if err := c.notify.BroadcastToGroup(ctx, groupID, msg); err != nil {
		c.log.Error("start broadcast failed", "group", groupID, "err", err)
	}
	c.emit(ctx, stats.Started, groupID, "")
	return Outcome{GroupID: groupID, Result: "match started"}
}

func (c *Coordinator) disband(ctx context.Context, groupID string) Outcome {
	if !c.take(groupID) {
		return Outcome{GroupID: groupID, Result: "already resolved"}
	}
	c.log.Info("confirmation timed out, disbanding", "group", groupID)

	if err := c.store.Erase(ctx, groupID); err != nil {
		c.log.Warn("confirmation cleanup failed", "group", groupID, "err", err)
	}
	msg := protocol.New(protocol.HeaderDisband, protocol.MatchNotice{
		MM: protocol.MMDisbandTimeout, MatchID: groupID, Reason: protocol.ReasonTimeout,
	})
	if err := c.notify.BroadcastToGroup(ctx, groupID, msg); err != nil {
		c.log.Error("disband broadcast failed", "group", groupID, "err", err)
	}

	timer := time.NewTimer(c.grace)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	if err := c.reg.Erase(context.WithoutCancel(ctx), groupID); err != nil {
		c.log.Warn("disbanded group cleanup failed", "group", groupID, "err", err)
	}
	c.emit(ctx, stats.Disbanded, groupID, "")
	return Outcome{GroupID: groupID, Result: "disbanded"}
}

// OnConfirm records a member's confirmation of matchID. Confirmations from
// non-members are dropped.
func (c *Coordinator) OnConfirm(ctx context.Context, clientID string, p protocol.Confirm) {
	member, err := c.reg.Contains(ctx, p.MatchID, clientID)
	if err != nil {
		c.log.Error("membership check failed", "group", p.MatchID, "client", clientID, "err", err)
		return
	}
	if !member {
		c.log.Warn("confirmation from non-member dropped", "group", p.MatchID, "client", clientID)
		return
	}

	if err := c.store.Push(ctx, p.MatchID, clientID); err != nil {
		c.log.Error("storing confirmation failed", "group", p.MatchID, "client", clientID, "err", err)
		return
	}
	c.log.Info("client confirmed match", "group", p.MatchID, "client", clientID)

	msg := protocol.New(protocol.HeaderConfirm+protocol.Notify, protocol.MatchNotice{
		MM: protocol.MMConfirmed, MatchID: p.MatchID,
	})
	msg.From = clientID
	if err := c.notify.BroadcastToGroup(ctx, p.MatchID, msg); err != nil {
		c.log.Error("confirmation notice broadcast failed", "group", p.MatchID, "err", err)
	}
}

func (c *Coordinator) emit(ctx context.Context, evt stats.MatchEvent, groupID, clientID string) {
	if c.OnEvent != nil {
		c.OnEvent(ctx, evt, groupID, clientID)
	}
}
