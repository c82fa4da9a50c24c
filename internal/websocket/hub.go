package websocket

import (
	"sync"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
)

type HubInterface interface {
	BroadcastToClients(ids []string, msg protocol.Envelope)
	SendToClient(id string, msg protocol.Envelope)
	// Local splits ids into clients connected here and everyone else.
	Local(ids []string) (local, remote []string)
	Info() Info
	Close()
}

// Info is the hub's part of the server info.
type Info struct {
	Connections int `json:"connections"`
}

type Hub struct {
	clients    map[string]*Client // client id -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastReq
	sendOne    chan sendReq
	quit       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	log        *log.Logger

	// OnIncoming runs on the reader goroutine of the sending client.
	OnIncoming func(clientID string, msg protocol.Envelope)
	// OnClose runs once a client's last connection is gone.
	OnClose func(clientID string)
}

type broadcastReq struct {
	IDs     []string
	Message protocol.Envelope
}

type sendReq struct {
	ID      string
	Message protocol.Envelope
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastReq),
		sendOne:    make(chan sendReq),
		quit:       make(chan struct{}),
		log:        utils.Logger("hub"),
	}
}

func (h *Hub) Run() {
	h.log.Info("hub started")

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[c.ID]; ok && old != c {
				// a reconnect replaces the previous connection
				close(old.Send)
			}
			h.clients[c.ID] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", "client", c.ID, "connections", n)

		case c := <-h.unregister:
			h.mu.Lock()
			cur, ok := h.clients[c.ID]
			if ok && cur == c {
				delete(h.clients, c.ID)
				close(c.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if ok && cur == c {
				h.log.Debug("client unregistered", "client", c.ID, "connections", n)
				if h.OnClose != nil {
					go h.OnClose(c.ID)
				}
			}

		case req := <-h.broadcast:
			h.mu.RLock()
			for _, id := range req.IDs {
				if client, ok := h.clients[id]; ok {
					h.push(client, req.Message)
				}
			}
			h.mu.RUnlock()

		case req := <-h.sendOne:
			h.mu.RLock()
			if client, ok := h.clients[req.ID]; ok {
				h.push(client, req.Message)
			}
			h.mu.RUnlock()

		case <-h.quit:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.Send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) push(c *Client, msg protocol.Envelope) {
	select {
	case c.Send <- msg:
	default:
		h.log.Warn("client send buffer full, dropping message", "client", c.ID, "header", msg.Header)
	}
}

// BroadcastToClients sends msg to every listed client connected here.
func (h *Hub) BroadcastToClients(ids []string, msg protocol.Envelope) {
	select {
	case h.broadcast <- broadcastReq{IDs: ids, Message: msg}:
	case <-h.quit:
	}
}

func (h *Hub) SendToClient(id string, msg protocol.Envelope) {
	select {
	case h.sendOne <- sendReq{ID: id, Message: msg}:
	case <-h.quit:
	}
}

func (h *Hub) Local(ids []string) (local, remote []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if _, ok := h.clients[id]; ok {
			local = append(local, id)
		} else {
			remote = append(remote, id)
		}
	}
	return local, remote
}

func (h *Hub) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Info{Connections: len(h.clients)}
}

func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}
