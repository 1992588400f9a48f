package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(newClient(), Options{}, time.Minute)
	var removed []string
	reg.OnRemove = func(id string) { removed = append(removed, id) }

	c := reg.Create()
	if c.ID() == "" {
		t.Fatal("expected generated id")
	}
	got, err := reg.Get(c.ID())
	if err != nil || got != c {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if st := got.State(); st.ID != c.ID() {
		t.Fatalf("state id mismatch: %q", st.ID)
	}

	if err := reg.Delete(c.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Get(c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := reg.Delete(c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if len(removed) != 1 || removed[0] != c.ID() {
		t.Fatalf("unexpected removals: %v", removed)
	}
}

func TestRegistryEvictsIdleViews(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry(newClient(), Options{Now: clock.Now}, 30*time.Minute)
	var removed []string
	reg.OnRemove = func(id string) { removed = append(removed, id) }

	idle := reg.Create()
	active := reg.Create()

	clock.Advance(20 * time.Minute)
	active.State()
	clock.Advance(15 * time.Minute)

	if n := reg.Evict(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := reg.Get(idle.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatal("idle view should be gone")
	}
	if _, err := reg.Get(active.ID()); err != nil {
		t.Fatal("active view should remain")
	}
	if len(removed) != 1 || removed[0] != idle.ID() {
		t.Fatalf("unexpected removals: %v", removed)
	}
}

func TestRegistryWithoutTTLNeverEvicts(t *testing.T) {
	reg := NewRegistry(newClient(), Options{}, 0)
	reg.Create()
	if n := reg.Evict(); n != 0 {
		t.Fatalf("expected no evictions, got %d", n)
	}
}

func TestRemovedViewEmitsNoEvents(t *testing.T) {
	tests := []struct {
		name   string
		remove func(t *testing.T, reg *Registry, clock *fakeClock, id string)
	}{
		{
			name: "delete",
			remove: func(t *testing.T, reg *Registry, _ *fakeClock, id string) {
				if err := reg.Delete(id); err != nil {
					t.Fatalf("delete: %v", err)
				}
			},
		},
		{
			name: "evict",
			remove: func(t *testing.T, reg *Registry, clock *fakeClock, _ string) {
				clock.Advance(time.Hour)
				if n := reg.Evict(); n != 1 {
					t.Fatalf("expected 1 eviction, got %d", n)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient()
			release := make(chan struct{})
			entered := make(chan struct{})
			client.forwardHook = func(string) {
				close(entered)
				<-release
			}
			clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
			rec := &recorder{}
			reg := NewRegistry(client, Options{Location: time.UTC, Listener: rec, Now: clock.Now}, 30*time.Minute)
			var removedAt int
			reg.OnRemove = func(string) {
				rec.mu.Lock()
				removedAt = len(rec.events)
				rec.mu.Unlock()
			}

			c := reg.Create()
			done := make(chan struct{})
			go func() {
				c.Search(context.Background(), "Paris")
				close(done)
			}()
			<-entered

			tt.remove(t, reg, clock, c.ID())
			close(release)
			<-done

			rec.mu.Lock()
			defer rec.mu.Unlock()
			if len(rec.events) != removedAt {
				t.Fatalf("removed view emitted %d events after removal: %+v", len(rec.events)-removedAt, rec.events[removedAt:])
			}
			for _, ev := range rec.events {
				if ev.Condition != "" {
					t.Fatalf("unexpected ready event from removed view: %+v", ev)
				}
			}
		})
	}
}
