package blackboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStore(t *testing.T) *RedisStore {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	store := NewRedisStore(&redis.Options{Addr: s.Addr()}, nil)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetWatch(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watch, err := store.Watch(ctx, "foo")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	ver, err := store.Put(ctx, "foo", "bar", time.Second)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	val, v, err := store.Get(ctx, "foo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val.(string) != "bar" || v != ver {
		t.Fatalf("unexpected value %v or version %d", val, v)
	}
	select {
	case upd := <-watch:
		if upd.Key != "foo" || upd.Version != ver {
			t.Fatalf("unexpected update %+v", upd)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for watch event")
	}
}

func TestPutBumpsVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := store.Put(ctx, "k", want, 0)
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if got != want {
			t.Fatalf("expected version %d got %d", want, got)
		}
	}
}

func TestPutVersionedRejectsStale(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ok, err := store.PutVersioned(ctx, "mem", 5, map[string]any{"v": 5})
	if err != nil || !ok {
		t.Fatalf("first write: ok=%v err=%v", ok, err)
	}
	ok, err = store.PutVersioned(ctx, "mem", 3, map[string]any{"v": 3})
	if err != nil {
		t.Fatalf("stale write: %v", err)
	}
	if ok {
		t.Fatal("stale version must not be written")
	}
	val, ver, err := store.Get(ctx, "mem")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ver != 5 || val.(map[string]any)["v"].(float64) != 5 {
		t.Fatalf("unexpected %v@%d", val, ver)
	}
}

func TestGetMissingAndDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "gone", 1, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	val, ver, err := store.Get(ctx, "gone")
	if err != nil || val != nil || ver != 0 {
		t.Fatalf("expected missing key, got %v@%d err=%v", val, ver, err)
	}
}
