package registry

import (
	"context"
	"testing"
	"time"

	"tictactoe-room-server/internal/game"
)

func TestCreateRejectsDuplicateCode(t *testing.T) {
	reg := New(context.Background(), nil)
	room := game.NewRoom("ABCDEF", context.Background())
	if err := reg.Create(room); err != nil {
		t.Fatalf("expected the first create to succeed, got %v", err)
	}
	if err := reg.Create(game.NewRoom("ABCDEF", context.Background())); err == nil {
		t.Fatalf("expected a duplicate code to be rejected")
	}
}

func TestTryGetRoomAndExists(t *testing.T) {
	reg := New(context.Background(), nil)
	if _, ok := reg.TryGetRoom("ABCDEF"); ok {
		t.Fatalf("expected an unknown code to miss")
	}
	room := game.NewRoom("ABCDEF", context.Background())
	reg.Create(room)
	got, ok := reg.TryGetRoom("ABCDEF")
	if !ok || got != room {
		t.Fatalf("expected TryGetRoom to return the same room pointer")
	}
	if !reg.Exists("ABCDEF") {
		t.Fatalf("expected Exists to report true for a registered code")
	}
}

func TestDeleteRemovesRoomAndCancelsItsContext(t *testing.T) {
	reg := New(context.Background(), nil)
	room := game.NewRoom("ABCDEF", context.Background())
	reg.Create(room)

	reg.Delete("ABCDEF")

	if reg.Exists("ABCDEF") {
		t.Fatalf("expected the room to be gone after Delete")
	}
	select {
	case <-room.Context().Done():
	default:
		t.Fatalf("expected Delete to cancel the room's context")
	}
}

func TestGetAllAndGetCount(t *testing.T) {
	reg := New(context.Background(), nil)
	reg.Create(game.NewRoom("AAAAAA", context.Background()))
	reg.Create(game.NewRoom("BBBBBB", context.Background()))

	if reg.GetCount() != 2 {
		t.Fatalf("expected 2 rooms, got %d", reg.GetCount())
	}
	if len(reg.GetAll()) != 2 {
		t.Fatalf("expected GetAll to return 2 rooms")
	}
}

func TestSnapshotServesThroughCacheAndMissesOnDeletedRoom(t *testing.T) {
	reg := New(context.Background(), newMemoryCache())
	room := game.NewRoom("ABCDEF", context.Background())
	room.AddConnection("p1", "c1", 2)
	reg.Create(room)

	snap, ok := reg.Snapshot(context.Background(), "ABCDEF", time.Minute)
	if !ok || snap.Code != "ABCDEF" {
		t.Fatalf("expected a snapshot for a live room, got ok=%v snap=%+v", ok, snap)
	}

	reg.Delete("ABCDEF")
	if _, ok := reg.Snapshot(context.Background(), "ABCDEF", time.Minute); ok {
		t.Fatalf("expected Snapshot to miss once the room is deleted, even if cached")
	}
}

// memoryCache is a trivial RoomCache double used only to exercise the
// registry's read-through path without pulling in ristretto/redis.
type memoryCache struct {
	entries map[string]game.Snapshot
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]game.Snapshot)}
}

func (c *memoryCache) GetSnapshot(_ context.Context, code string) (game.Snapshot, bool) {
	snap, ok := c.entries[code]
	return snap, ok
}

func (c *memoryCache) SetSnapshot(_ context.Context, code string, snap game.Snapshot, _ time.Duration) {
	c.entries[code] = snap
}

func (c *memoryCache) Invalidate(_ context.Context, code string) {
	delete(c.entries, code)
}
