// Package udp is the unreliable transport: one datagram socket, JSON
// envelopes, peers identified by their remote address.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
)

const maxDatagram = 64 * 1024

// Info is the UDP part of the server info.
type Info struct {
	Port     int    `json:"port"`
	Peers    int    `json:"peers"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// PacketHandler consumes a decoded envelope; an error counts the packet as
// dropped.
type PacketHandler func(ctx context.Context, peerID string, env protocol.Envelope) error

type Server struct {
	addr        string
	peerTimeout time.Duration
	log         *log.Logger

	conn *net.UDPConn

	mu    sync.RWMutex
	peers map[string]*peer

	received atomic.Uint64
	dropped  atomic.Uint64

	OnPacket PacketHandler
}

type peer struct {
	addr     *net.UDPAddr
	lastSeen time.Time
}

func NewServer(addr string, peerTimeout time.Duration) *Server {
	return &Server{
		addr:        addr,
		peerTimeout: peerTimeout,
		peers:       make(map[string]*peer),
		log:         utils.Logger("udp"),
	}
}

// Listen binds the socket so misconfiguration surfaces before Run.
func (s *Server) Listen() error {
	la, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve udp address %q: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return fmt.Errorf("listen udp %q: %w", s.addr, err)
	}
	s.conn = conn
	s.log.Info("udp server listening", "addr", conn.LocalAddr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run reads datagrams until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()
	go s.pruneLoop(ctx)

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("udp read failed", "err", err)
			continue
		}
		s.received.Add(1)
		id := s.touch(from)

		env, err := protocol.Decode(buf[:n])
		if err != nil {
			s.dropped.Add(1)
			s.log.Debug("dropping undecodable datagram", "peer", id, "err", err)
			continue
		}
		env.From = id
		if s.OnPacket == nil {
			continue
		}
		if err := s.OnPacket(ctx, id, env); err != nil {
			s.dropped.Add(1)
		}
	}
}

func (s *Server) touch(addr *net.UDPAddr) string {
	id := addr.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[id]; ok {
		p.lastSeen = time.Now()
	} else {
		s.peers[id] = &peer{addr: addr, lastSeen: time.Now()}
	}
	return id
}

func (s *Server) pruneLoop(ctx context.Context) {
	if s.peerTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.peerTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.prune(now); n > 0 {
				s.log.Debug("pruned silent peers", "count", n)
			}
		}
	}
}

func (s *Server) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.peers {
		if now.Sub(p.lastSeen) >= s.peerTimeout {
			delete(s.peers, id)
			n++
		}
	}
	return n
}

func (s *Server) Info() Info {
	s.mu.RLock()
	peers := len(s.peers)
	s.mu.RUnlock()

	port := 0
	if a, ok := s.Addr().(*net.UDPAddr); ok {
		port = a.Port
	}
	return Info{
		Port:     port,
		Peers:    peers,
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
	}
}
