package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions("localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)
	assert.Equal(t, time.Second, opts.ReadTimeout)

	opts, err = RedisOptions("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, time.Second, opts.WriteTimeout)

	_, err = RedisOptions("redis://cache:6380/notadb")
	assert.Error(t, err)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(mr.Addr())
	require.NoError(t, err)
	require.NoError(t, r.Client.Ping(context.Background()).Err())
	require.NoError(t, r.Close())

	var missing *Redis
	assert.NoError(t, missing.Close())
}
