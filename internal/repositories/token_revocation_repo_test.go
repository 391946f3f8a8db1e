package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenRevocationRepository_RevokeAndCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewTokenRevocationRepository(client)
	ctx := context.Background()

	revoked, err := repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.RevokeToken(ctx, "jti-1", "EMP0042", time.Now().Add(10*time.Minute)))

	revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl := mr.TTL(revokedTokenKeyPrefix + "jti-1")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestTokenRevocationRepository_EntryExpiresWithToken(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewTokenRevocationRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.RevokeToken(ctx, "jti-2", "EMP0042", time.Now().Add(time.Minute)))
	mr.FastForward(2 * time.Minute)

	revoked, err := repo.IsTokenRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestTokenRevocationRepository_AlreadyExpiredIgnored(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewTokenRevocationRepository(client)

	require.NoError(t, repo.RevokeToken(context.Background(), "jti-3", "EMP0042", time.Now().Add(-time.Second)))

	assert.False(t, mr.Exists(revokedTokenKeyPrefix+"jti-3"))
}

func TestTokenRevocationRepository_RedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewTokenRevocationRepository(client)
	mr.Close()

	_, err := repo.IsTokenRevoked(context.Background(), "jti-4")
	assert.Error(t, err)
}
