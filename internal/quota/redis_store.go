package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ubuygold/studygen/internal/model"
)

const usageKeyPrefix = "studygen:usage:"

// The read, compare and increment run inside one script so Redis executes them atomically.
var checkAndIncrementScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= limit then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
redis.call('EXPIREAT', KEYS[1], ARGV[2])
return {1, current}
`)

// RedisStore keeps counters as one Redis string per (day, user) that expires a day after the day ends.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore creates a CounterStore backed by rdb.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func usageKey(userID, day string) string {
	return usageKeyPrefix + day + ":" + userID
}

func (s *RedisStore) CheckAndIncrement(ctx context.Context, userID, day string, limit int) (bool, int, error) {
	dayStart, err := time.Parse(model.DayLayout, day)
	if err != nil {
		return false, 0, fmt.Errorf("parsing usage day %q: %w", day, err)
	}
	expireAt := dayStart.Add(48 * time.Hour).Unix()

	vals, err := checkAndIncrementScript.Run(ctx, s.rdb, []string{usageKey(userID, day)}, limit, expireAt).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis check-and-increment: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("redis check-and-increment: unexpected reply %v", vals)
	}
	return vals[0] == 1, int(vals[1]), nil
}

func (s *RedisStore) Usage(ctx context.Context, userID, day string) (int, error) {
	v, err := s.rdb.Get(ctx, usageKey(userID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading redis usage: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Report(ctx context.Context, day string) (*Report, error) {
	report := &Report{Day: day}
	iter := s.rdb.Scan(ctx, 0, usageKeyPrefix+day+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading redis usage: %w", err)
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing redis usage %q: %w", iter.Val(), err)
		}
		report.Users++
		report.Generations += n
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning redis usage: %w", err)
	}
	return report, nil
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, database int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       database,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}
