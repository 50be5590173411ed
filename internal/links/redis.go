package links

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the pairs.
const DefaultRedisKey = "caldavsync:links"

type hashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisStore keeps pairs in a Redis hash. The hash is read once when the
// store opens; Save writes back only the pairs added since.
type RedisStore struct {
	*pairs
	client hashClient
	key    string
}

// RedisOptions configures DialRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// DialRedis connects to Redis and loads the current pairs.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
	}

	store, err := openRedis(ctx, client, opts.Key)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

func openRedis(ctx context.Context, client hashClient, key string) (*RedisStore, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	links, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load links from redis: %w", err)
	}
	return &RedisStore{pairs: newPairs(links), client: client, key: key}, nil
}

// Save writes pairs added or changed since the store was opened.
func (s *RedisStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}

	values := make([]interface{}, 0, 2*len(s.dirty))
	for aRef := range s.dirty {
		values = append(values, aRef, s.links[aRef])
	}
	if err := s.client.HSet(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to save links to redis: %w", err)
	}
	s.dirty = make(map[string]struct{})
	return nil
}
