package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepsake/internal/ratelimit/models"
)

type store interface {
	AllowN(ctx context.Context, key string, cost int, limit models.Limit, now time.Time) (*models.Result, error)
	Reset(ctx context.Context, key string) error
}

func stores(t *testing.T) map[string]store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]store{
		"memory": NewInMemoryBucketStore(),
		"redis":  NewRedisBucketStore(client, ""),
	}
}

func TestSlidingWindow(t *testing.T) {
	ctx := context.Background()
	limit := models.Limit{Requests: 3, Window: time.Minute}
	t0 := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := "actor:subject:a:api"

			for i := range 3 {
				res, err := s.AllowN(ctx, key, 1, limit, t0.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				assert.True(t, res.Allowed)
				assert.Equal(t, 2-i, res.Remaining)
				assert.Equal(t, t0.Add(time.Minute), res.ResetAt, "reset follows the oldest request")
			}

			res, err := s.AllowN(ctx, key, 1, limit, t0.Add(10*time.Second))
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
			assert.Equal(t, 3, res.Limit)
			assert.Equal(t, 50, res.RetryAfter)

			res, err = s.AllowN(ctx, key, 1, limit, t0.Add(time.Minute))
			require.NoError(t, err)
			assert.True(t, res.Allowed, "the oldest request left the window")
			assert.Equal(t, t0.Add(time.Minute+time.Second), res.ResetAt)

			other, err := s.AllowN(ctx, "actor:subject:b:api", 1, limit, t0.Add(10*time.Second))
			require.NoError(t, err)
			assert.True(t, other.Allowed, "keys are independent")
		})
	}
}

func TestCostAndReset(t *testing.T) {
	ctx := context.Background()
	limit := models.Limit{Requests: 5, Window: time.Minute}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := "actor:device:tablet:sync"

			res, err := s.AllowN(ctx, key, 4, limit, now)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 1, res.Remaining)

			res, err = s.AllowN(ctx, key, 2, limit, now)
			require.NoError(t, err)
			assert.False(t, res.Allowed, "cost above what remains is denied whole")
			assert.Equal(t, 1, res.Remaining)

			require.NoError(t, s.Reset(ctx, key))
			res, err = s.AllowN(ctx, key, 5, limit, now)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
		})
	}
}

func TestInMemorySweep(t *testing.T) {
	s := NewInMemoryBucketStore()
	ctx := context.Background()
	limit := models.Limit{Requests: 2, Window: time.Minute}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.AllowN(ctx, "old", 1, limit, now)
	require.NoError(t, err)
	_, err = s.AllowN(ctx, "fresh", 1, limit, now.Add(50*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Sweep(now.Add(90*time.Second)))
	assert.Len(t, s.buckets, 1)
	assert.Contains(t, s.buckets, "fresh")
}

func TestRedisKeysExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisBucketStore(client, "rl")

	_, err := s.AllowN(context.Background(), "k", 1, models.Limit{Requests: 1, Window: time.Minute}, time.Now())
	require.NoError(t, err)
	require.True(t, mr.Exists("rl:k"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("rl:k"))
}
