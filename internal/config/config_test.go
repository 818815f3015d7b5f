package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/promo",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.NoError(t, err)
	require.Equal(t, 12, cfg.StackingMaxCandidates)
	require.Equal(t, 2*time.Second, cfg.AllocationTimeout)
	require.Equal(t, 15*time.Minute, cfg.ReservationGrace)
	require.Equal(t, ":9090", cfg.OpsAddr())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":                  "postgres://localhost:5432/promo",
		"REDIS_URL":                     "redis://localhost:6379/0",
		"PROMO_STACKING_MAX_CANDIDATES": "8",
		"FLASH_ALLOCATION_TIMEOUT":      "500ms",
		"OPS_PORT":                      "8081",
	})
	require.NoError(t, err)
	require.Equal(t, 8, cfg.StackingMaxCandidates)
	require.Equal(t, 500*time.Millisecond, cfg.AllocationTimeout)
	require.Equal(t, ":8081", cfg.OpsAddr())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.Error(t, err)
}

func TestLoadRejectsBadCandidateCap(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"DATABASE_URL":                  "postgres://localhost:5432/promo",
		"REDIS_URL":                     "redis://localhost:6379/0",
		"PROMO_STACKING_MAX_CANDIDATES": "0",
	})
	require.Error(t, err)
}
