package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasjlepore/mhealth-windows/window"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProcessorFeatures, cfg.Processor)
	assert.Equal(t, 12800*time.Millisecond, cfg.Window())
	assert.Equal(t, cfg.Window(), cfg.Step())
	assert.Equal(t, time.Second, cfg.GapThreshold())
	assert.Equal(t, 0.2, cfg.Threshold)
	assert.Equal(t, "spline", cfg.Method)
	assert.Equal(t, "csv", cfg.Format)
	assert.Equal(t, DefaultOps, cfg.Ops)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mh.yaml")
	body := "processor: labels\nwindow_ms: 6400\nformat: parquet\nops: [mean, std]\nworkers: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("MH_WORKERS", "8")
	t.Setenv("MH_PID", "SPADES_2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProcessorLabels, cfg.Processor)
	assert.Equal(t, int64(6400), cfg.WindowMS)
	assert.Equal(t, int64(6400), cfg.StepMS)
	assert.Equal(t, "parquet", cfg.Format)
	assert.Equal(t, []string{"mean", "std"}, cfg.Ops)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "SPADES_2", cfg.PID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"processor": func(c *Config) { c.Processor = "calibrate" },
		"format":    func(c *Config) { c.Format = "xlsx" },
		"method":    func(c *Config) { c.Method = "cubic" },
		"workers":   func(c *Config) { c.Workers = 0 },
		"rate":      func(c *Config) { c.Rate = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	long := *base
	long.WindowMS = 3 * 3600 * 1000
	long.StepMS = long.WindowMS
	require.ErrorIs(t, long.Validate(), window.ErrInvalidWindowConfig)

	long.Processor = ProcessorResample
	require.NoError(t, long.Validate())
}
