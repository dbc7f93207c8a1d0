package redis

import (
	"context"
	"net"
	"strconv"
	"testing"

	"marketplace-ledger/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisConfig(t *testing.T, addr string) config.RedisConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.RedisConfig{Host: host, Port: p}
}

func TestRedisAddr(t *testing.T) {
	cfg := config.RedisConfig{Host: "redis.example.com", Port: 6380}
	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestNewClient_Connects(t *testing.T) {
	s := miniredis.RunT(t)

	client, err := NewClient(context.Background(), redisConfig(t, s.Addr()), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "balance:probe", "1", 0).Err())
	assert.True(t, s.Exists("balance:probe"))
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := redisConfig(t, s.Addr())
	s.Close()

	client, err := NewClient(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "pinging redis")
}
