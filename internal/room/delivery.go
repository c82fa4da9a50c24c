package room

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"RoomGroup/internal/bus"
	"RoomGroup/internal/protocol"
)

// BroadcastToGroup sends msg to the current members of a group, except the
// listed ids. Members connected elsewhere are reached through the bus.
func (s *Server) BroadcastToGroup(ctx context.Context, groupID string, msg protocol.Envelope, except ...string) error {
	members, err := s.reg.List(ctx, groupID)
	if err != nil {
		return fmt.Errorf("list members of %s: %w", groupID, err)
	}
	members = slices.DeleteFunc(members, func(id string) bool {
		return slices.Contains(except, id)
	})
	return s.deliver(ctx, members, msg)
}

// Send delivers msg to one client wherever it is connected.
func (s *Server) Send(ctx context.Context, clientID string, msg protocol.Envelope) error {
	return s.deliver(ctx, []string{clientID}, msg)
}

func (s *Server) deliver(ctx context.Context, ids []string, msg protocol.Envelope) error {
	if len(ids) == 0 {
		return nil
	}
	local, remote := s.hub.Local(ids)
	if len(local) == 1 {
		s.hub.SendToClient(local[0], msg)
	} else if len(local) > 1 {
		s.hub.BroadcastToClients(local, msg)
	}
	if len(remote) == 0 {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	return s.publish(ctx, bus.Event{
		Topic:      bus.TopicDeliver,
		Delivery:   bus.Fanout,
		Recipients: remote,
		Payload:    payload,
	})
}
