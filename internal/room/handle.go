package room

import (
	"context"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/stats"
)

// HandleMessage dispatches an envelope from a connected client. Malformed
// or unauthorized input is logged and dropped without a reply.
func (s *Server) HandleMessage(ctx context.Context, clientID string, env protocol.Envelope) {
	p, err := protocol.Parse(env)
	if err != nil {
		s.log.Warn("dropping client message", "client", clientID, "header", env.Header, "err", err)
		return
	}

	switch p := p.(type) {
	case protocol.Search:
		s.search(ctx, clientID)
	case protocol.Leave:
		s.leave(ctx, clientID)
	case protocol.Broadcast:
		s.broadcastToQueue(ctx, clientID, p)
	case protocol.Confirm:
		if s.isQueue(clientID, p.MatchID) {
			return
		}
		s.coord.OnConfirm(ctx, clientID, p)
	case protocol.Exit:
		if s.isQueue(clientID, p.MatchID) {
			return
		}
		s.exit(ctx, clientID, p)
	case protocol.StateUpdate, protocol.MessageUpdate, protocol.WorldUpdate:
		if err := s.router.HandleTCP(ctx, clientID, p); err != nil {
			s.log.Error("routing update failed", "client", clientID, "header", p.Header(), "err", err)
		}
	}
}

// isQueue reports whether a match-scoped message names the queue group.
func (s *Server) isQueue(clientID, matchID string) bool {
	if matchID != s.opts.QueueGroup {
		return false
	}
	s.log.Warn("queue group is not a match, dropping", "client", clientID)
	return true
}

// HandleDatagram routes an envelope from the unreliable transport.
func (s *Server) HandleDatagram(ctx context.Context, peerID string, env protocol.Envelope) error {
	return s.router.HandleUDP(ctx, peerID, env)
}

// HandleClose cleans up after a client whose connection is gone. Peers of
// its match are told and the exit is counted once.
func (s *Server) HandleClose(ctx context.Context, clientID string) {
	groupID, inMatch, err := s.router.MatchOf(ctx, clientID)
	if err != nil {
		s.log.Error("resolving match of closed client failed", "client", clientID, "err", err)
	}
	if _, err := s.reg.LeaveAll(ctx, clientID); err != nil {
		s.log.Error("leaving groups failed", "client", clientID, "err", err)
	}
	if !inMatch {
		s.log.Debug("client closed outside a match", "client", clientID)
		return
	}

	s.log.Info("client closed during match", "client", clientID, "group", groupID)
	msg := protocol.New(protocol.HeaderExit, protocol.MatchNotice{
		MM: protocol.MMClose, MatchID: groupID, Leaver: clientID,
	})
	if err := s.BroadcastToGroup(ctx, groupID, msg, clientID); err != nil {
		s.log.Warn("close notice broadcast failed", "group", groupID, "err", err)
	}
	s.emit(ctx, stats.Exited, groupID, clientID)
}

func (s *Server) ack(ctx context.Context, clientID, header string, content any) {
	if err := s.Send(ctx, clientID, protocol.New(header, content)); err != nil {
		s.log.Warn("ack failed", "client", clientID, "header", header, "err", err)
	}
}

// search queues a client that is in no group at all.
func (s *Server) search(ctx context.Context, clientID string) {
	groups, err := s.reg.GroupsOf(ctx, clientID)
	if err != nil {
		s.log.Error("reading groups failed", "client", clientID, "err", err)
		return
	}
	if len(groups) > 0 {
		s.log.Warn("client already in a group, not queueing", "client", clientID, "groups", groups)
		return
	}
	if err := s.reg.Push(ctx, s.opts.QueueGroup, clientID); err != nil {
		s.log.Error("queueing client failed", "client", clientID, "err", err)
		return
	}
	s.log.Info("client joined matchmaking queue", "client", clientID)
	s.ack(ctx, clientID, protocol.HeaderSearch, protocol.Ack{Successful: true})
}

func (s *Server) leave(ctx context.Context, clientID string) {
	if err := s.reg.Remove(ctx, s.opts.QueueGroup, clientID); err != nil {
		s.log.Error("removing client from queue failed", "client", clientID, "err", err)
		return
	}
	s.log.Info("client left matchmaking queue", "client", clientID)
	s.ack(ctx, clientID, protocol.HeaderLeave, protocol.Ack{Successful: true})
}

func (s *Server) broadcastToQueue(ctx context.Context, clientID string, p protocol.Broadcast) {
	msg := protocol.Envelope{
		Type:    protocol.TypeInternal,
		Header:  protocol.HeaderBroadcast,
		Content: p.Delivery,
		From:    clientID,
	}
	if err := s.BroadcastToGroup(ctx, s.opts.QueueGroup, msg, clientID); err != nil {
		s.log.Warn("queue broadcast failed", "client", clientID, "err", err)
	}
}

// exit removes a member from its match. Peers hear about it before the
// leaver gets its acknowledgement.
func (s *Server) exit(ctx context.Context, clientID string, p protocol.Exit) {
	member, err := s.reg.Contains(ctx, p.MatchID, clientID)
	if err != nil {
		s.log.Error("membership check failed", "group", p.MatchID, "client", clientID, "err", err)
		return
	}
	if !member {
		s.log.Warn("exit from non-member dropped", "group", p.MatchID, "client", clientID)
		return
	}

	s.log.Info("client exiting match", "client", clientID, "group", p.MatchID)
	if err := s.reg.Remove(ctx, p.MatchID, clientID); err != nil {
		s.log.Warn("removing client from match failed", "group", p.MatchID, "client", clientID, "err", err)
	}

	msg := protocol.New(protocol.HeaderExit, protocol.MatchNotice{
		MM: protocol.MMExit, MatchID: p.MatchID, Leaver: clientID,
	})
	if err := s.BroadcastToGroup(ctx, p.MatchID, msg, clientID); err != nil {
		s.log.Warn("exit notice broadcast failed", "group", p.MatchID, "err", err)
	}
	s.ack(ctx, clientID, protocol.HeaderExit, protocol.ExitAck{Leaver: clientID})
	s.emit(ctx, stats.Exited, p.MatchID, clientID)
}
