package retry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControllerAdaptivePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	ctrl, err := NewController(Policy{
		Strategy:        StrategyAdaptive,
		InitialDelay:    100 * time.Millisecond,
		ExponentialBase: 2,
		MaxAttempts:     -1,
	}, "cam1.example.com:554", dir, 0.1)
	require.NoError(t, err)

	_, strategy, _, ok := ctrl.NextDelay(1)
	require.True(t, ok)

	ctrl.RecordOutcome(strategy, true, false, 30*time.Second)
	require.NoError(t, ctrl.Persist())

	require.FileExists(t, filepath.Join(dir, "adaptive-retry.yaml"))

	reloaded, err := NewController(Policy{
		Strategy:        StrategyAdaptive,
		InitialDelay:    100 * time.Millisecond,
		ExponentialBase: 2,
		MaxAttempts:     -1,
	}, "cam1.example.com:554", dir, 0.1)
	require.NoError(t, err)

	rec := reloaded.record()
	require.NotEmpty(t, rec.Strategies)
}

func TestControllerAdaptivePrunesOldEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "adaptive-retry.yaml")

	cf := &cacheFile{
		SchemaVersion: cacheSchemaVersion,
		Servers: map[string]*serverRecord{
			cacheKey("stale.example.com:554"): {
				Strategies: map[string]*strategyStats{"linear": {Successes: 1}},
				LastSeen:   time.Now().Add(-8 * 24 * time.Hour),
			},
		},
	}
	require.NoError(t, saveCache(path, cf))

	loaded, err := loadCache(path)
	require.NoError(t, err)
	require.Empty(t, loaded.Servers)
}

func TestChangeDetectorFlagsDivergence(t *testing.T) {
	var cd changeDetector
	for i := 0; i < 20; i++ {
		cd.record(true)
	}
	require.False(t, cd.record(true))

	diverged := false
	for i := 0; i < 20; i++ {
		if cd.record(false) {
			diverged = true
		}
	}
	require.True(t, diverged)
}
