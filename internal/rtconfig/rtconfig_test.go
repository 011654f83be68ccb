package rtconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysOntoDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
sequence_step = 4
moveable_sequence_enabled = false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4, cfg.SequenceStep)
	assert.False(t, cfg.MoveableSequenceEnabled)
	// Untouched fields keep their default values.
	assert.Equal(t, Default().HazardDomainSlots, cfg.HazardDomainSlots)
}

func TestLoadMalformedFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyAcceptsEveryLogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", ""} {
		cfg := Default()
		cfg.LogLevel = lvl
		Apply(cfg) // must not panic on an unrecognized or empty level
	}
}
