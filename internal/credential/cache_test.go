package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/nerrad567/vendorsync/internal/infrastructure/config"
	"github.com/nerrad567/vendorsync/internal/infrastructure/redis"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := redis.Connect(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis.Connect() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCache(store), mr
}

func TestCache_SetGet(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, Session{Server: "uk", Key: "k1", KeyID: "1"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := cache.Get(ctx, "uk")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Key != "k1" || got.KeyID != "1" || got.Server != "uk" {
		t.Errorf("Get() = %+v, want {uk k1 1}", got)
	}

	if v, _ := mr.Get("secure_ak_uk"); v != "k1" {
		t.Errorf("secure_ak_uk = %q, want k1", v)
	}
	if v, _ := mr.Get("secure_ak_id_uk"); v != "1" {
		t.Errorf("secure_ak_id_uk = %q, want 1", v)
	}
}

func TestCache_Miss(t *testing.T) {
	cache, _ := newTestCache(t)

	got, err := cache.Get(context.Background(), "nowhere")
	if err != nil || got != nil {
		t.Errorf("Get() = %+v, %v; want nil, nil", got, err)
	}
}

func TestCache_PartialEntryIsMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Set("secure_ak_uk", "k1")

	got, err := cache.Get(context.Background(), "uk")
	if err != nil || got != nil {
		t.Errorf("Get() with only key stored = %+v, %v; want nil, nil", got, err)
	}
}

func TestCache_InvalidateThenGetMisses(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, Session{Server: "uk", Key: "k1", KeyID: "1"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cache.Invalidate(ctx, "uk"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	got, err := cache.Get(ctx, "uk")
	if err != nil || got != nil {
		t.Errorf("Get() after Invalidate = %+v, %v; want nil, nil", got, err)
	}
	if mr.Exists("secure_ak_uk") || mr.Exists("secure_ak_id_uk") {
		t.Error("keys still present after Invalidate()")
	}

	// Invalidating an empty entry is harmless.
	if err := cache.Invalidate(ctx, "uk"); err != nil {
		t.Errorf("second Invalidate() error = %v", err)
	}
}

func TestCache_ServersAreIndependent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_ = cache.Set(ctx, Session{Server: "uk", Key: "a", KeyID: "1"})
	_ = cache.Set(ctx, Session{Server: "nl", Key: "b", KeyID: "2"})
	_ = cache.Invalidate(ctx, "uk")

	got, err := cache.Get(ctx, "nl")
	if err != nil || got == nil || got.Key != "b" {
		t.Errorf("Get(nl) = %+v, %v; want key b", got, err)
	}
}

func TestCache_SetValidation(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, Session{Key: "a", KeyID: "1"}); !errors.Is(err, ErrNoServer) {
		t.Errorf("Set() without server error = %v, want ErrNoServer", err)
	}
	if err := cache.Set(ctx, Session{Server: "uk", Key: "a"}); !errors.Is(err, ErrIncomplete) {
		t.Errorf("Set() without key id error = %v, want ErrIncomplete", err)
	}
}

func TestCache_StoreDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	if _, err := cache.Get(context.Background(), "uk"); err == nil {
		t.Error("Get() with store down expected error")
	}
}
