package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/argus/internal/adapter/tiered"
	"github.com/Strob0t/argus/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTiered_Compliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), time.Minute), nil)
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["fp1"] = []byte("val1")

	val, found, err := c.Get(context.Background(), "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val1" {
		t.Fatalf("expected L1 hit val1, got %q %v", val, found)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["fp2"] = []byte("val2")

	val, found, err := c.Get(context.Background(), "fp2")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val2" {
		t.Fatalf("expected L2 hit val2, got %q %v", val, found)
	}
	if string(l1.data["fp2"]) != "val2" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls["fp2"] != 5*time.Minute {
		t.Fatalf("expected backfill ttl 5m, got %v", l1.ttls["fp2"])
	}
}

func TestTiered_L1FailureFallsThrough(t *testing.T) {
	l1 := newMemCache()
	l1.err = errors.New("l1 down")
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "fp3", []byte("v"), time.Hour); err != nil {
		t.Fatalf("L1 failure must not fail Set: %v", err)
	}
	val, found, err := c.Get(context.Background(), "fp3")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("expected L2 hit, got %q %v %v", val, found, err)
	}
}

func TestTiered_L2FailureSurfaces(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errors.New("l2 down")
	c := tiered.New(l1, l2, time.Minute)

	if _, _, err := c.Get(context.Background(), "fp4"); err == nil {
		t.Fatal("expected L2 error on miss")
	}
	if err := c.Set(context.Background(), "fp4", []byte("v"), time.Hour); err == nil {
		t.Fatal("expected L2 error on Set")
	}
}

func TestTiered_SetCapsL1TTL(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "fp5", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if l1.ttls["fp5"] != time.Minute || l2.ttls["fp5"] != time.Hour {
		t.Fatalf("unexpected ttls l1=%v l2=%v", l1.ttls["fp5"], l2.ttls["fp5"])
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["fp6"] = []byte("v")
	l2.data["fp6"] = []byte("v")

	if err := c.Delete(context.Background(), "fp6"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["fp6"]; ok {
		t.Fatal("expected fp6 deleted from L1")
	}
	if _, ok := l2.data["fp6"]; ok {
		t.Fatal("expected fp6 deleted from L2")
	}
}
