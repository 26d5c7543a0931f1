//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepsake/pkg/testutil/containers"
)

func TestRedisLockerAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	scheduler := NewRedis(rc.Client, "")
	replica := NewRedis(rc.Client, "")

	release, ok, err := scheduler.TryAcquire(ctx, "subject:7", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = replica.TryAcquire(ctx, "subject:7", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second process must not take a held subject")

	require.NoError(t, release(ctx))
	assert.ErrorIs(t, release(ctx), ErrNotHeld)

	release, ok, err = replica.TryAcquire(ctx, "subject:7", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, release(ctx))
}
