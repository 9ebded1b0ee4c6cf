package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 200*time.Millisecond, cfg.RegenerationDelay.Std())
	assert.Equal(t, 2*time.Second, cfg.DiagnosticsClearDelay.Std())
	assert.Equal(t, 10, cfg.MaxTrackingCount)
	assert.Equal(t, []string{".tmpl", ".loom"}, cfg.Extensions)
	assert.True(t, cfg.Analyzers)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysPresentFields(t *testing.T) {
	cfg, err := Load(map[string]any{
		"regeneration_delay":       "50ms",
		"ignored_diagnostic_codes": []string{"LOOM1001"},
		"analyzers":                false,
	})
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.RegenerationDelay.Std())
	assert.Equal(t, []string{"LOOM1001"}, cfg.IgnoredDiagnosticCodes)
	assert.False(t, cfg.Analyzers)
	assert.Equal(t, "views", cfg.RootPackage, "absent fields keep their value")
}

func TestLoadNil(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestOverlayErrors(t *testing.T) {
	tests := map[string]any{
		"bad duration":      map[string]any{"regeneration_delay": "soon"},
		"negative duration": map[string]any{"diagnostics_clear_delay": "-1s"},
		"zero tracking":     map[string]any{"max_tracking_count": 0},
		"bad extension":     map[string]any{"extensions": []string{"tmpl"}},
		"wrong type":        map[string]any{"workers": "many"},
	}
	for name, v := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Default().Overlay(v)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.toml")
	data := `
regeneration_delay = "1s"
line_diff_threshold = 1024
extensions = [".html"]
unknown_key = 1
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.RegenerationDelay.Std())
	assert.Equal(t, 1024, cfg.LineDiffThreshold)
	assert.Equal(t, []string{".html"}, cfg.Extensions)
	assert.Equal(t, 10, cfg.MaxTrackingCount)

	// initializationOptions take precedence over the file.
	cfg, err = cfg.Overlay(map[string]any{"line_diff_threshold": 2048})
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.LineDiffThreshold)
	assert.Equal(t, time.Second, cfg.RegenerationDelay.Std())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`workers = 0`), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "workers")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON(strings.NewReader(`{"root_package": "pages", "output_sweep_interval": "1m"}`))
	require.NoError(t, err)
	assert.Equal(t, "pages", cfg.RootPackage)
	assert.Equal(t, time.Minute, cfg.OutputSweepInterval.Std())
}

func TestDefaultStorePath(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/var/state")
	assert.Equal(t, filepath.Join("/var/state", "loom", "projects.db"), DefaultStorePath())
}
