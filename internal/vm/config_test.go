package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.GCThreshold)
	assert.False(t, cfg.GCStress)
	assert.False(t, cfg.GCLog)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOXY_GC_THRESHOLD", "5")
	t.Setenv("LOXY_GC_STRESS", "true")
	t.Setenv("LOXY_GC_LOG", "true")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GCThreshold)
	assert.True(t, cfg.GCStress)
	assert.True(t, cfg.GCLog)
}

func TestConfigRejectsGarbage(t *testing.T) {
	t.Setenv("LOXY_GC_THRESHOLD", "not-a-number")
	_, err := ConfigFromEnv()
	require.Error(t, err)
}
