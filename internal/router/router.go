// Package router demultiplexes state, message and world updates arriving on
// either transport and forwards them towards the logic of their match.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"RoomGroup/internal/bus"
	"RoomGroup/internal/logic"
	"RoomGroup/internal/protocol"
	"RoomGroup/internal/registry"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
)

// Relayer publishes an update for cluster-wide consumption.
type Relayer func(ctx context.Context, evt bus.Event) error

type Router struct {
	reg        registry.Registry
	states     logic.StateStore
	queueGroup string
	relay      Relayer
	log        *log.Logger
}

func New(reg registry.Registry, states logic.StateStore, queueGroup string, relay Relayer) *Router {
	return &Router{
		reg:        reg,
		states:     states,
		queueGroup: queueGroup,
		relay:      relay,
		log:        utils.Logger("router"),
	}
}

// MatchOf resolves the single match a client is in. A client in the queue,
// in no group or in several groups has no well-defined match.
func (r *Router) MatchOf(ctx context.Context, clientID string) (string, bool, error) {
	groups, err := r.reg.GroupsOf(ctx, clientID)
	if err != nil {
		return "", false, fmt.Errorf("groups of %s: %w", clientID, err)
	}
	if len(groups) != 1 || groups[0] == r.queueGroup {
		return "", false, nil
	}
	return groups[0], true, nil
}

// HandleTCP routes an update from an authenticated connection. State is
// written straight to the shared store; messages and world changes are
// tagged with the sender and relayed.
func (r *Router) HandleTCP(ctx context.Context, clientID string, p protocol.Payload) error {
	gid, ok, err := r.MatchOf(ctx, clientID)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Warn("update from client outside a match", "client", clientID, "header", p.Header())
		return nil
	}

	switch p := p.(type) {
	case protocol.StateUpdate:
		return r.states.UpdateState(ctx, gid, clientID, p.State)
	case protocol.MessageUpdate:
		return r.forward(ctx, bus.TopicTCPUpdate, protocol.KindMessage, gid, clientID, tag(p.Body, "tcpId", clientID))
	case protocol.WorldUpdate:
		return r.forward(ctx, bus.TopicTCPUpdate, protocol.KindWorld, gid, clientID, tag(p.Body, "tcpId", clientID))
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownHeader, p.Header())
	}
}

// HandleUDP checks only the shape of a datagram. Whether the claimed sender
// belongs to the claimed group is left to the match logic.
func (r *Router) HandleUDP(ctx context.Context, peerID string, env protocol.Envelope) error {
	u, err := protocol.ParseUDP(env)
	if err != nil {
		r.log.Debug("dropping udp packet", "peer", peerID, "header", env.Header, "err", err)
		return err
	}
	return r.forward(ctx, bus.TopicUDPUpdate, u.Kind, u.Group, u.Sender, tag(u.Body, "udpId", peerID))
}

func (r *Router) forward(ctx context.Context, topic bus.Topic, kind protocol.Kind, gid, sender string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s update: %w", kind, err)
	}
	return r.relay(ctx, bus.Event{
		Topic:    topic,
		Delivery: bus.Fanout,
		GroupID:  gid,
		ClientID: sender,
		Kind:     kind,
		Payload:  payload,
	})
}

func tag(body map[string]any, key, value string) map[string]any {
	out := make(map[string]any, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	out[key] = value
	return out
}
