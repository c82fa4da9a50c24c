package logic

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"RoomGroup/internal/protocol"
	"RoomGroup/internal/registry"
	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
)

// Manager owns the state logic instances running on this instance.
type Manager struct {
	mu     sync.RWMutex
	logics map[string]*Logic // groupID -> logic

	reg      registry.Registry
	states   StateStore
	sender   Sender
	hertz    int
	duration time.Duration
	log      *log.Logger

	// OnEnded is called when a logic finishes by itself.
	OnEnded func(groupID string)
}

func NewManager(reg registry.Registry, states StateStore, sender Sender, hertz int, duration time.Duration) *Manager {
	return &Manager{
		logics:   make(map[string]*Logic),
		reg:      reg,
		states:   states,
		sender:   sender,
		hertz:    hertz,
		duration: duration,
		log:      utils.Logger("logic"),
	}
}

// Start runs the logic for a match unless one is already running here.
// It reports whether a new logic was created.
func (m *Manager) Start(ctx context.Context, groupID string) (bool, error) {
	m.mu.RLock()
	_, exists := m.logics[groupID]
	m.mu.RUnlock()
	if exists {
		return false, nil
	}

	members, err := m.reg.List(ctx, groupID)
	if err != nil {
		return false, fmt.Errorf("list members of %s: %w", groupID, err)
	}

	m.mu.Lock()
	if _, ok := m.logics[groupID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	l := NewLogic(groupID, members, m.hertz, m.duration, m.states, m.sender)
	l.OnEnded = m.OnEnded
	m.logics[groupID] = l
	m.mu.Unlock()

	go func() {
		l.Run(context.WithoutCancel(ctx))
		m.remove(groupID, l)
	}()

	m.log.Info("state logic started", "group", groupID, "members", len(members))
	return true, nil
}

func (m *Manager) remove(groupID string, l *Logic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logics[groupID] == l {
		delete(m.logics, groupID)
	}
}

func (m *Manager) get(groupID string) *Logic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logics[groupID]
}

// End stops the logic of a match if it runs here and drops its shared state.
func (m *Manager) End(ctx context.Context, groupID string) bool {
	l := m.get(groupID)
	if l == nil {
		return false
	}
	l.End()
	m.remove(groupID, l)
	if err := m.states.Erase(ctx, groupID); err != nil {
		m.log.Warn("erasing match state failed", "group", groupID, "err", err)
	}
	m.log.Info("state logic ended", "group", groupID)
	return true
}

func (m *Manager) ClientLeft(groupID, clientID string) bool {
	l := m.get(groupID)
	if l == nil {
		return false
	}
	l.ClientLeft(clientID)
	return true
}

// HandleUpdate hands a relayed update to the local logic. Updates for
// matches not running here are ignored.
func (m *Manager) HandleUpdate(ctx context.Context, groupID string, src Source, kind protocol.Kind, payload json.RawMessage) bool {
	l := m.get(groupID)
	if l == nil {
		return false
	}
	l.HandleUpdate(ctx, src, kind, payload)
	return true
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logics)
}

// StopAll ends every local logic without erasing shared state.
func (m *Manager) StopAll() {
	m.mu.Lock()
	logics := m.logics
	m.logics = make(map[string]*Logic)
	m.mu.Unlock()

	for _, l := range logics {
		l.End()
	}
}
