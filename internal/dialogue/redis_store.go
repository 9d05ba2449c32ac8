package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/digkill/TGAssistantBot/internal/config"
)

const redisKeyPrefix = "dialogue:"

// redisStateTTL bounds keys left behind by crashed replicas.
const redisStateTTL = 24 * time.Hour

var deleteIfTokenScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local ok, st = pcall(cjson.decode, raw)
if not ok or st['token'] ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore shares dialogue states between bot replicas.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisClient connects to the configured Redis server and pings it.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func redisKey(userID int64) string {
	return redisKeyPrefix + strconv.FormatInt(userID, 10)
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (State, bool, error) {
	raw, err := s.rdb.Get(ctx, redisKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("get dialogue state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("decode dialogue state: %w", err)
	}
	return st, true, nil
}

func (s *RedisStore) Set(ctx context.Context, userID int64, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode dialogue state: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(userID), raw, redisStateTTL).Err(); err != nil {
		return fmt.Errorf("set dialogue state: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.rdb.Del(ctx, redisKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete dialogue state: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteIfToken(ctx context.Context, userID int64, token string) (bool, error) {
	n, err := deleteIfTokenScript.Run(ctx, s.rdb, []string{redisKey(userID)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("delete dialogue state by token: %w", err)
	}
	return n == 1, nil
}
