package matchmaker

import (
	"context"
	"sync"
	"time"

	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
)

// Scheduler runs the queue pass and then the confirmation pass. A cycle
// starts only after the previous one, including all of its per-item work,
// has settled; manual runs share the same gate.
type Scheduler struct {
	queue    *Queue
	coord    *Coordinator
	interval time.Duration
	log      *log.Logger

	cycleMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(q *Queue, c *Coordinator) *Scheduler {
	return &Scheduler{
		queue:    q,
		coord:    c,
		interval: Interval,
		log:      utils.Logger("scheduler"),
	}
}

// Start enables automatic mode. Only one instance per queue should call it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("automatic matchmaking active", "interval", s.interval)
	return nil
}

// Stop cancels automatic mode and waits for the running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.cycle(ctx)
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if _, err := s.queue.RunCycle(ctx); err != nil {
		s.log.Error("matchmaking cycle failed", "err", err)
	}
	if ctx.Err() != nil {
		return
	}
	s.coord.RunCycle(ctx)
}

// RunMatchmaking runs one queue pass by hand.
func (s *Scheduler) RunMatchmaking(ctx context.Context) ([]Outcome, error) {
	if s.Active() {
		return nil, ErrAutoActive
	}
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.queue.RunCycle(ctx)
}

// RunConfirmation runs one confirmation pass by hand.
func (s *Scheduler) RunConfirmation(ctx context.Context) ([]Outcome, error) {
	if s.Active() {
		return nil, ErrAutoActive
	}
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.coord.RunCycle(ctx), nil
}
