// Package discovery advertises a server instance in redis under a key that
// expires unless it is refreshed.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Service is what an instance advertises.
type Service struct {
	Name       string `json:"name"`
	Zone       string `json:"zone"`
	Host       string `json:"host"`
	InstanceID string `json:"instanceId"`
	TCP        string `json:"tcp"`
	UDP        string `json:"udp,omitempty"`
}

func prefix(zone, name string) string {
	return "rgs:services:" + zone + ":" + name + ":"
}

func (s Service) key() string {
	return prefix(s.Zone, s.Name) + s.InstanceID
}

type Registrar struct {
	rdb *redis.Client
	svc Service
	ttl time.Duration
	log *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistrar(rdb *redis.Client, svc Service, ttl time.Duration) *Registrar {
	return &Registrar{
		rdb: rdb,
		svc: svc,
		ttl: ttl,
		log: utils.Logger("discovery"),
	}
}

func (r *Registrar) write(ctx context.Context) error {
	data, err := json.Marshal(r.svc)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.svc.key(), data, r.ttl).Err()
}

// Register writes the entry and keeps refreshing it until Deregister.
func (r *Registrar) Register(ctx context.Context) error {
	if err := r.write(ctx); err != nil {
		return fmt.Errorf("register %s: %w", r.svc.key(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.heartbeat(ctx, r.done)

	r.log.Info("service registered", "key", r.svc.key(), "ttl", r.ttl)
	return nil
}

func (r *Registrar) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := r.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.write(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("service heartbeat failed", "key", r.svc.key(), "err", err)
			}
		}
	}
}

// Deregister stops the heartbeat and removes the entry.
func (r *Registrar) Deregister(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if err := r.rdb.Del(ctx, r.svc.key()).Err(); err != nil {
		return fmt.Errorf("deregister %s: %w", r.svc.key(), err)
	}
	r.log.Info("service deregistered", "key", r.svc.key())
	return nil
}

// Peers lists the live instances advertised under this registrar's service.
func (r *Registrar) Peers(ctx context.Context) ([]Service, error) {
	return List(ctx, r.rdb, r.svc.Zone, r.svc.Name)
}

// List returns the live instances of a service in a zone.
func List(ctx context.Context, rdb *redis.Client, zone, name string) ([]Service, error) {
	var out []Service
	iter := rdb.Scan(ctx, 0, prefix(zone, name)+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var s Service
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
