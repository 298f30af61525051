// Package cachetest provides a behavioural test suite shared by cache adapters.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/argus/internal/port/cache"
)

// Run runs the standard compliance suite against any Cache implementation.
// settle is called after every write for backends that apply writes
// asynchronously; it may be nil.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	wait := func() {
		if settle != nil {
			settle()
		}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "fp-set", []byte(`{"content":"plan"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		wait()
		val, found, err := c.Get(ctx, "fp-set")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"content":"plan"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "fp-missing")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "fp-del", []byte("v"), time.Minute)
		wait()
		if err := c.Delete(ctx, "fp-del"); err != nil {
			t.Fatal(err)
		}
		wait()
		_, found, err := c.Get(ctx, "fp-del")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "fp-never"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("ReplaceWholeEntry", func(t *testing.T) {
		_ = c.Set(ctx, "fp-ow", []byte("first response"), time.Minute)
		wait()
		_ = c.Set(ctx, "fp-ow", []byte("v2"), time.Minute)
		wait()
		val, found, err := c.Get(ctx, "fp-ow")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})
}
