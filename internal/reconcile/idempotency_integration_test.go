//go:build integration

package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/pkg/testutil/containers"
)

func TestRedisIdempotency(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	guard := NewRedisIdempotency(rc.Client)
	ctx := context.Background()

	first, err := guard.FirstSeen(ctx, "msg-001")
	require.NoError(t, err)
	assert.True(t, first)

	replay, err := guard.FirstSeen(ctx, "msg-001")
	require.NoError(t, err)
	assert.False(t, replay)

	other, err := guard.FirstSeen(ctx, "msg-002")
	require.NoError(t, err)
	assert.True(t, other)

	ttl, err := rc.Client.TTL(ctx, "reconcile:message:msg-001").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Hours(), float64(24))
}
