package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "weatherview:", ttl), mr
}

func TestRedis_GetSet(t *testing.T) {
	tests := []struct {
		name   string
		seed   map[string]string
		key    string
		want   string
		wantOK bool
	}{
		{name: "miss", key: "geo:nowhere"},
		{name: "hit under prefix", seed: map[string]string{"weatherview:geo:oslo": "x"}, key: "geo:oslo", want: "x", wantOK: true},
		{name: "unprefixed key is not visible", seed: map[string]string{"geo:oslo": "x"}, key: "geo:oslo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mr := newTestRedis(t, time.Minute)
			for k, v := range tt.seed {
				if err := mr.Set(k, v); err != nil {
					t.Fatalf("seed %s: %v", k, err)
				}
			}

			got, ok, err := r.Get(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if ok != tt.wantOK || string(got) != tt.want {
				t.Fatalf("Get(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRedis_SetUsesPrefixAndTTL(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	if err := r.Set(ctx, "geo:paris", []byte(`{"name":"Paris"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("weatherview:geo:paris") {
		t.Fatal("expected value stored under the prefixed key")
	}
	if mr.Exists("geo:paris") {
		t.Fatal("value should not be stored without the prefix")
	}
	if ttl := mr.TTL("weatherview:geo:paris"); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, err := r.Get(ctx, "geo:paris"); err != nil || ok {
		t.Fatalf("expected miss after ttl, ok=%v err=%v", ok, err)
	}
}

func TestRedis_JSONHelpers(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	type entry struct {
		Name string `json:"name"`
	}
	if err := SetJSON(ctx, r, "geo:lyon", entry{Name: "Lyon"}); err != nil {
		t.Fatalf("set json: %v", err)
	}
	got, ok := GetJSON[entry](ctx, r, "geo:lyon")
	if !ok || got.Name != "Lyon" {
		t.Fatalf("unexpected json round trip: %+v, %v", got, ok)
	}

	if _, ok := GetJSON[entry](ctx, r, "geo:missing"); ok {
		t.Fatal("expected miss for absent key")
	}

	mr.Close()
	if _, _, err := r.Get(ctx, "geo:lyon"); err == nil {
		t.Fatal("expected error when redis is down")
	}
	if _, ok := GetJSON[entry](ctx, r, "geo:lyon"); ok {
		t.Fatal("unreachable redis should read as a miss")
	}
}
