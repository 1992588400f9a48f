package view

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("view not found")

// Registry holds one Controller per client session.
type Registry struct {
	client  WeatherClient
	opts    Options
	idleTTL time.Duration
	// OnRemove runs after a view is deleted or evicted. The view emits no
	// events once it has been removed.
	OnRemove func(id string)

	mu    sync.RWMutex
	views map[string]*Controller
}

func NewRegistry(client WeatherClient, opts Options, idleTTL time.Duration) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{client: client, opts: opts, idleTTL: idleTTL, views: make(map[string]*Controller)}
}

func (r *Registry) Create() *Controller {
	c := New(uuid.NewString(), r.client, r.opts)
	r.mu.Lock()
	r.views[c.ID()] = c
	r.mu.Unlock()
	return c
}

func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.views[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	c, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	c.close()
	if r.OnRemove != nil {
		r.OnRemove(id)
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.views)
}

// Evict removes views idle for longer than the registry's TTL.
func (r *Registry) Evict() int {
	if r.idleTTL <= 0 {
		return 0
	}
	cutoff := r.opts.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var removed []string
	for id, c := range r.views {
		if c.LastActive().Before(cutoff) {
			delete(r.views, id)
			c.close()
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	if r.OnRemove != nil {
		for _, id := range removed {
			r.OnRemove(id)
		}
	}
	return len(removed)
}

func (r *Registry) RunEviction(ctx context.Context, interval time.Duration, extra ...func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				slog.Info("evicted idle views", "count", n, "remaining", r.Len())
			}
			for _, fn := range extra {
				fn()
			}
		}
	}
}
