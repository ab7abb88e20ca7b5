package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tictactoe-room-server/internal/game"
)

// RoomCache fronts the registry's read-heavy paths (§4.3: single-room
// TTL ~1h, all-rooms TTL ~5min). It is never authoritative: every
// mutation goes through Registry's map first, then invalidates the
// cache entry for that code.
type RoomCache interface {
	GetSnapshot(ctx context.Context, code string) (game.Snapshot, bool)
	SetSnapshot(ctx context.Context, code string, snap game.Snapshot, ttl time.Duration)
	Invalidate(ctx context.Context, code string)
}

// RistrettoRoomCache is the default in-process cache, adapted from the
// teacher's store.MemoryStore shape but backed by ristretto so
// snapshot reads don't contend with the registry's own mutex under
// heavy polling (e.g. GetGameState spam from a reconnecting client).
type RistrettoRoomCache struct {
	cache *ristretto.Cache
}

// NewRistrettoRoomCache builds a bounded in-process cache.
func NewRistrettoRoomCache() (*RistrettoRoomCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoRoomCache{cache: c}, nil
}

func (c *RistrettoRoomCache) GetSnapshot(_ context.Context, code string) (game.Snapshot, bool) {
	v, ok := c.cache.Get(code)
	if !ok {
		return game.Snapshot{}, false
	}
	snap, ok := v.(game.Snapshot)
	return snap, ok
}

func (c *RistrettoRoomCache) SetSnapshot(_ context.Context, code string, snap game.Snapshot, ttl time.Duration) {
	c.cache.SetWithTTL(code, snap, 1, ttl)
}

func (c *RistrettoRoomCache) Invalidate(_ context.Context, code string) {
	c.cache.Del(code)
}

// RedisRoomCache is the optional shared cache (§4.3), adapted from the
// teacher's store.RedisStore: same addr/TTL/JSON-blob pattern, but
// storing a read-only game.Snapshot instead of the teacher's
// matching-game RoomData.
type RedisRoomCache struct {
	client *redis.Client
}

// NewRedisRoomCache dials addr and verifies connectivity.
func NewRedisRoomCache(addr string) (*RedisRoomCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisRoomCache{client: client}, nil
}

func (c *RedisRoomCache) Close() error {
	return c.client.Close()
}

func (c *RedisRoomCache) key(code string) string {
	return "room-snapshot:" + code
}

func (c *RedisRoomCache) GetSnapshot(ctx context.Context, code string) (game.Snapshot, bool) {
	data, err := c.client.Get(ctx, c.key(code)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).WithField("room", code).Warn("redis cache read failed")
		}
		return game.Snapshot{}, false
	}
	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logrus.WithError(err).WithField("room", code).Warn("redis cache entry corrupt")
		return game.Snapshot{}, false
	}
	return snap, true
}

func (c *RedisRoomCache) SetSnapshot(ctx context.Context, code string, snap game.Snapshot, ttl time.Duration) {
	data, err := json.Marshal(snap)
	if err != nil {
		logrus.WithError(err).WithField("room", code).Warn("failed to marshal room snapshot for cache")
		return
	}
	if err := c.client.Set(ctx, c.key(code), data, ttl).Err(); err != nil {
		logrus.WithError(err).WithField("room", code).Warn("redis cache write failed")
	}
}

func (c *RedisRoomCache) Invalidate(ctx context.Context, code string) {
	if err := c.client.Del(ctx, c.key(code)).Err(); err != nil {
		logrus.WithError(err).WithField("room", code).Warn("redis cache invalidation failed")
	}
}
