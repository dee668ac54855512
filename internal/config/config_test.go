package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, int64(1000), cfg.AckTimeoutMS)
	assert.Equal(t, int64(1024), cfg.StreamMaxLen)
	assert.Equal(t, 20, cfg.PoolSize)
	assert.Equal(t, int64(1000), cfg.FIFOQueueMaxLen)
	assert.Equal(t, int64(1000), cfg.PriorityQueueMaxLen)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("ATOM_BROKER_ADDR", "redis.example:6380")
	os.Setenv("ATOM_POOL_SIZE", "5")
	defer os.Unsetenv("ATOM_BROKER_ADDR")
	defer os.Unsetenv("ATOM_POOL_SIZE")

	cfg, err := Load("nonexistent-element", nil)
	require.NoError(t, err)
	assert.Equal(t, "redis.example:6380", cfg.BrokerAddr)
	assert.Equal(t, 5, cfg.PoolSize)
}
