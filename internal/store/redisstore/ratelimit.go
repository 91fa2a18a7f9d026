package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimits keeps each bucket as a sorted set scored by attempt time in
// nanoseconds. Members are random so simultaneous attempts are all counted.
type RateLimits struct {
	client redis.UniversalClient
}

func NewRateLimits(client redis.UniversalClient) *RateLimits {
	return &RateLimits{client: client}
}

// reserveScript trims the bucket and adds the attempt only while it is below
// the limit. Returns the reserved flag followed by the remaining scores.
//
// KEYS[1] bucket, ARGV: cutoff, score, window ms, limit, member.
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local reserved = 0
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[4]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	reserved = 1
end
local out = {reserved}
local entries = redis.call('ZRANGE', KEYS[1], 0, -1, 'WITHSCORES')
for i = 2, #entries, 2 do
	out[#out + 1] = entries[i]
end
return out
`)

// releaseScript removes a single member scored at ARGV[1].
var releaseScript = redis.NewScript(`
local m = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1], 'LIMIT', 0, 1)
if #m > 0 then
	return redis.call('ZREM', KEYS[1], m[1])
end
return 0
`)

func (r *RateLimits) Add(ctx context.Context, key string, at time.Time, window time.Duration) error {
	cutoff := at.Add(-window).UnixNano()
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixNano()), Member: uuid.NewString()})
		p.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		p.PExpire(ctx, key, window)
		return nil
	})
	return err
}

func (r *RateLimits) Reserve(ctx context.Context, key string, at time.Time, window time.Duration, limit int) ([]time.Time, bool, error) {
	res, err := reserveScript.Run(ctx, r.client, []string{key},
		strconv.FormatInt(at.Add(-window).UnixNano(), 10),
		strconv.FormatInt(at.UnixNano(), 10),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, false, err
	}
	if len(res) == 0 {
		return nil, false, fmt.Errorf("reserve %s: empty reply", key)
	}

	reserved, _ := res[0].(int64)
	out := make([]time.Time, 0, len(res)-1)
	for _, v := range res[1:] {
		s, _ := v.(string)
		score, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false, fmt.Errorf("reserve %s: bad score %q: %w", key, s, err)
		}
		out = append(out, time.Unix(0, int64(score)))
	}
	return out, reserved == 1, nil
}

func (r *RateLimits) Release(ctx context.Context, key string, at time.Time) error {
	score := strconv.FormatFloat(float64(at.UnixNano()), 'f', -1, 64)
	return releaseScript.Run(ctx, r.client, []string{key}, score).Err()
}

func (r *RateLimits) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	entries, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, time.Unix(0, int64(e.Score)))
	}
	return out, nil
}

func (r *RateLimits) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
