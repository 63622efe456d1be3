package grants

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func testRedisIndex(t *testing.T, retention time.Duration) (*RedisIndex, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	index, err := NewRedisIndex("redis://"+srv.Addr(), retention)
	if err != nil {
		t.Fatalf("new redis index: %v", err)
	}
	t.Cleanup(func() { index.Close() })
	return index, srv
}

func TestRedisIndexPutGetDelete(t *testing.T) {
	index, srv := testRedisIndex(t, time.Minute)
	ctx := context.Background()

	g := Grant{ID: "g-1", FileName: "merged-out.pdf", SizeBytes: 42, ExpiresAt: time.Now().Add(time.Minute).UTC()}
	if err := index.Put(ctx, g); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := srv.TTL(grantKeyPrefix + "g-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("grant TTL not set correctly, got %v", ttl)
	}

	got, err := index.Get(ctx, "g-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileName != g.FileName || got.SizeBytes != g.SizeBytes {
		t.Fatalf("unexpected grant: %+v", got)
	}

	if err := index.Delete(ctx, "g-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := index.Get(ctx, "g-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisIndexExpiry(t *testing.T) {
	index, srv := testRedisIndex(t, time.Minute)
	ctx := context.Background()

	g := Grant{ID: "g-2", FileName: "out.zip", ExpiresAt: time.Now().Add(time.Minute).UTC()}
	if err := index.Put(ctx, g); err != nil {
		t.Fatalf("put: %v", err)
	}
	srv.FastForward(2 * time.Minute)
	if _, err := index.Get(ctx, "g-2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestRedisIndexMissing(t *testing.T) {
	index, _ := testRedisIndex(t, time.Minute)
	if _, err := index.Get(context.Background(), "never"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
