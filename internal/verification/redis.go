package verification

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const namespace = "verify"

// consumeScript deletes the key only when its value matches the submitted
// code. Running it server-side makes the compare and the delete one step,
// so a code can be consumed exactly once.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore backs the code service with redis; the TTL doubles as garbage
// collection for unconsumed codes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Set(ctx context.Context, key, code string, ttl time.Duration) error {
	return s.client.Set(ctx, namespace+":"+key, code, ttl).Err()
}

func (s *RedisStore) Consume(ctx context.Context, key, code string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{namespace + ":" + key}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
