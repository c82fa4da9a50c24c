// Package room is the matchmaking layer of a server instance. It dispatches
// client envelopes by header, turns local lifecycle events into bus events
// and drives the state logic of running matches from bus events.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RoomGroup/internal/bus"
	"RoomGroup/internal/logic"
	"RoomGroup/internal/matchmaker"
	"RoomGroup/internal/protocol"
	"RoomGroup/internal/registry"
	"RoomGroup/internal/router"
	"RoomGroup/internal/stats"
	"RoomGroup/internal/udp"
	"RoomGroup/internal/utils"
	"RoomGroup/internal/websocket"

	"github.com/charmbracelet/log"
)

var ErrUDPConfig = errors.New("udp transport requested without udp configuration")

type Options struct {
	InstanceID  string
	QueueGroup  string
	LobbySize   int
	SulHertz    int
	SulDuration time.Duration
	UDPEnabled  bool
	UDPPort     string
}

// UDPInfo is the part of the unreliable transport the server reports on.
type UDPInfo interface {
	Info() udp.Info
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Registry      registry.Registry
	Confirmations matchmaker.ConfirmationStore
	States        logic.StateStore
	Bus           bus.Bus
	Hub           websocket.HubInterface
	UDP           UDPInfo
}

type Server struct {
	opts Options
	reg  registry.Registry
	bus  bus.Bus
	hub  websocket.HubInterface
	udp  UDPInfo

	stats  *stats.Stats
	queue  *matchmaker.Queue
	coord  *matchmaker.Coordinator
	sched  *matchmaker.Scheduler
	logics *logic.Manager
	router *router.Router
	grace  time.Duration
	log    *log.Logger
}

func New(opts Options, deps Deps) (*Server, error) {
	if opts.UDPEnabled && (opts.UDPPort == "" || deps.UDP == nil) {
		return nil, ErrUDPConfig
	}

	s := &Server{
		opts:  opts,
		reg:   deps.Registry,
		bus:   deps.Bus,
		hub:   deps.Hub,
		udp:   deps.UDP,
		stats: stats.New(),
		grace: matchmaker.DisbandGrace,
		log:   utils.Logger("room").With("instance", opts.InstanceID),
	}

	s.queue = matchmaker.NewQueue(deps.Registry, opts.QueueGroup, opts.LobbySize)
	s.coord = matchmaker.NewCoordinator(deps.Registry, deps.Confirmations, s, opts.LobbySize)
	s.queue.OnMatched = s.coord.Open
	s.coord.OnEvent = s.emit
	s.sched = matchmaker.NewScheduler(s.queue, s.coord)

	s.logics = logic.NewManager(deps.Registry, deps.States, s, opts.SulHertz, opts.SulDuration)
	s.logics.OnEnded = func(groupID string) {
		s.EndMatch(context.Background(), groupID)
	}
	s.router = router.New(deps.Registry, deps.States, opts.QueueGroup, s.publish)
	return s, nil
}

// Open prepares the queue group and joins the bus. It returns once this
// instance receives cluster events.
func (s *Server) Open(ctx context.Context) error {
	if err := s.reg.Ensure(ctx, s.opts.QueueGroup); err != nil {
		return fmt.Errorf("ensure queue group: %w", err)
	}
	if err := s.bus.HealthCheck(ctx); err != nil {
		return fmt.Errorf("bus health check: %w", err)
	}
	if err := s.bus.Subscribe(ctx, s.onBus); err != nil {
		return fmt.Errorf("subscribe to bus: %w", err)
	}
	s.log.Info("room group layer active", "queue", s.opts.QueueGroup, "lobbySize", s.opts.LobbySize)
	return nil
}

// Close stops automatic matchmaking and every local state logic.
func (s *Server) Close() error {
	s.sched.Stop()
	s.logics.StopAll()
	return s.bus.Close()
}

// RunAutoMatchmaking starts the completion-gated matchmaking loop.
func (s *Server) RunAutoMatchmaking(ctx context.Context) error {
	return s.sched.Start(ctx)
}

// ExecuteMatchmaking runs one queue pass; it fails while automatic mode is on.
func (s *Server) ExecuteMatchmaking(ctx context.Context) ([]matchmaker.Outcome, error) {
	return s.sched.RunMatchmaking(ctx)
}

// ExecuteConfirmation runs one confirmation pass; it fails while automatic
// mode is on.
func (s *Server) ExecuteConfirmation(ctx context.Context) ([]matchmaker.Outcome, error) {
	return s.sched.RunConfirmation(ctx)
}

// EndMatch is called by the logic of a match once it is over.
func (s *Server) EndMatch(ctx context.Context, groupID string) {
	msg := protocol.New(protocol.HeaderEnd, protocol.MatchNotice{MM: protocol.MMEnd, MatchID: groupID})
	if err := s.BroadcastToGroup(ctx, groupID, msg); err != nil {
		s.log.Warn("end notice broadcast failed", "group", groupID, "err", err)
	}
	s.emit(ctx, stats.Ended, groupID, "")

	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	if err := s.reg.Erase(context.WithoutCancel(ctx), groupID); err != nil {
		s.log.Warn("ended group cleanup failed", "group", groupID, "err", err)
	}
}

func (s *Server) ServerInfo() stats.ServerInfo {
	info := stats.ServerInfo{
		Snapshot: s.stats.Snapshot(),
		Now:      time.Now(),
		Logics:   s.logics.Len(),
		TCP:      s.hub.Info(),
	}
	if s.udp != nil {
		info.UDP = s.udp.Info()
	}
	return info
}

// emit counts a local lifecycle event and publishes the ones other
// instances act on.
func (s *Server) emit(ctx context.Context, evt stats.MatchEvent, groupID, clientID string) {
	s.stats.Record(evt)

	var out bus.Event
	switch evt {
	case stats.Started:
		out = bus.Event{Topic: bus.TopicMatchStarted, Delivery: bus.Race, GroupID: groupID}
	case stats.Ended:
		out = bus.Event{Topic: bus.TopicMatchEnded, Delivery: bus.Fanout, GroupID: groupID}
	case stats.Exited:
		out = bus.Event{Topic: bus.TopicMatchExited, Delivery: bus.Fanout, GroupID: groupID, ClientID: clientID}
	default:
		return
	}
	if err := s.publish(ctx, out); err != nil {
		s.log.Error("publishing lifecycle event failed", "event", evt, "group", groupID, "err", err)
	}
}

func (s *Server) publish(ctx context.Context, evt bus.Event) error {
	evt.Origin = s.opts.InstanceID
	s.stats.BusOut()
	return s.bus.Publish(ctx, evt)
}

func (s *Server) onBus(ctx context.Context, evt bus.Event) {
	s.stats.BusIn()

	switch evt.Topic {
	case bus.TopicMatchStarted:
		created, err := s.logics.Start(ctx, evt.GroupID)
		if err != nil {
			s.log.Error("starting state logic failed", "group", evt.GroupID, "err", err)
			return
		}
		if !created {
			s.log.Debug("state logic already running", "group", evt.GroupID)
		}
	case bus.TopicMatchEnded:
		s.logics.End(ctx, evt.GroupID)
	case bus.TopicMatchExited:
		s.logics.ClientLeft(evt.GroupID, evt.ClientID)
	case bus.TopicUDPUpdate:
		s.logics.HandleUpdate(ctx, evt.GroupID, logic.SourceUDP, evt.Kind, evt.Payload)
	case bus.TopicTCPUpdate:
		s.logics.HandleUpdate(ctx, evt.GroupID, logic.SourceTCP, evt.Kind, evt.Payload)
	case bus.TopicDeliver:
		if evt.Origin == s.opts.InstanceID {
			return
		}
		var msg protocol.Envelope
		if err := json.Unmarshal(evt.Payload, &msg); err != nil {
			s.log.Warn("undecodable delivery", "err", err)
			return
		}
		if local, _ := s.hub.Local(evt.Recipients); len(local) > 0 {
			s.hub.BroadcastToClients(local, msg)
		}
	default:
		s.log.Debug("ignoring bus event", "topic", evt.Topic)
	}
}
