package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps daily attendance counters around long enough for
// end-of-term reporting without growing redis forever.
const counterTTL = 120 * 24 * time.Hour

// Redis wraps the redis client used for the check-in queue and the daily
// attendance counters.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// IncrDailyCount bumps the attendance counter for the given date (YYYY-MM-DD).
func (r *Redis) IncrDailyCount(ctx context.Context, date string) error {
	key := dailyCountKey(date)
	if err := r.Client.Incr(ctx, key).Err(); err != nil {
		return err
	}
	return r.Client.Expire(ctx, key, counterTTL).Err()
}

// DailyCount reads the attendance counter for the given date; a missing
// key counts as zero.
func (r *Redis) DailyCount(ctx context.Context, date string) (int64, error) {
	n, err := r.Client.Get(ctx, dailyCountKey(date)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func dailyCountKey(date string) string {
	return "presenca:count:" + date
}
