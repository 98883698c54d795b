package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis and cleans test keys. Skipped when
// Redis is not reachable.
func newTestStore(t *testing.T, gateway string) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client, gateway)
}

func TestConnectAndGet(t *testing.T) {
	store := newTestStore(t, "gw-1")
	ctx := context.Background()

	if err := store.Connect(ctx, "test_u1"); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	rec, err := store.Get(ctx, "test_u1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a presence record")
	}
	if rec.Gateway != "gw-1" {
		t.Errorf("expected gateway gw-1, got %q", rec.Gateway)
	}
	if rec.ConnectedAt == 0 || rec.LastSeen == 0 {
		t.Errorf("expected timestamps to be set, got %+v", rec)
	}
}

func TestGet_NotPresent(t *testing.T) {
	store := newTestStore(t, "gw-1")

	rec, err := store.Get(context.Background(), "test_absent")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record, got %+v", rec)
	}
}

func TestTouch_UpdatesLastSeen(t *testing.T) {
	store := newTestStore(t, "gw-1")
	ctx := context.Background()

	store.Connect(ctx, "test_touch")

	// Force an older last_seen so Touch visibly advances it.
	store.client.HSet(ctx, KeyPrefix+"test_touch", "last_seen", 1)

	if err := store.Touch(ctx, "test_touch"); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	rec, _ := store.Get(ctx, "test_touch")
	if rec == nil || rec.LastSeen <= 1 {
		t.Errorf("expected last_seen to advance, got %+v", rec)
	}
}

func TestDisconnect_RemovesOwnRecord(t *testing.T) {
	store := newTestStore(t, "gw-1")
	ctx := context.Background()

	store.Connect(ctx, "test_dc")
	if err := store.Disconnect(ctx, "test_dc"); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	rec, _ := store.Get(ctx, "test_dc")
	if rec != nil {
		t.Errorf("expected record removed, got %+v", rec)
	}
}

func TestDisconnect_LeavesNewerNodeRecord(t *testing.T) {
	// The user reconnected to gw-2; gw-1's trailing disconnect must not
	// delete the newer record.
	gw1 := newTestStore(t, "gw-1")
	ctx := context.Background()

	gw2 := NewStore(gw1.client, "gw-2")
	gw2.Connect(ctx, "test_move")

	if err := gw1.Disconnect(ctx, "test_move"); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	rec, _ := gw1.Get(ctx, "test_move")
	if rec == nil || rec.Gateway != "gw-2" {
		t.Errorf("expected gw-2 record to survive, got %+v", rec)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	store := newTestStore(t, "gw-1")

	if err := store.Disconnect(context.Background(), "test_never"); err != nil {
		t.Errorf("Disconnect() on absent record: %v", err)
	}
}
