package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecTable(t *testing.T) {
	d := Default()
	assert.Equal(t, uint16(24455), d.SignalingPort)
	assert.Equal(t, uint16(24454), d.MediaPort)
	assert.False(t, d.EnableTLS)
	assert.Equal(t, []string{"*"}, d.AllowedOrigins)
	assert.Equal(t, float32(30.0), d.ProximityRange)
	assert.Equal(t, uint32(48000), d.SampleRate)
	assert.Equal(t, uint32(80), d.JitterBufferMs)
	assert.Equal(t, uint32(10), d.FECPercent)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signaling_port: 9000\nproximity_range: 50\n"), 0o600))

	cfg, coerced, err := Load(path, nil)
	require.NoError(t, err)
	assert.False(t, coerced)
	assert.Equal(t, uint16(9000), cfg.SignalingPort)
	assert.Equal(t, float32(50), cfg.ProximityRange)
	assert.Equal(t, uint32(48000), cfg.SampleRate, "unspecified fields keep their default")
}

func TestMissingYAMLFileFallsBackToDefaults(t *testing.T) {
	cfg, coerced, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	assert.False(t, coerced)
	assert.Equal(t, Default(), cfg)
}

func TestFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signaling_port: 9000\n"), 0o600))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--signaling-port=7000"}))

	cfg, _, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, uint16(7000), cfg.SignalingPort, "flag must win over file")
}

func TestUnsupportedSampleRateIsCoercedAndReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample_rate: 44100\n"), 0o600))

	cfg, coerced, err := Load(path, nil)
	require.NoError(t, err)
	assert.True(t, coerced)
	assert.Equal(t, uint32(48000), cfg.SampleRate)
}

func TestJitterBufferClampedToSpecBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voiced.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jitter_buffer_ms: 5\n"), 0o600))
	cfg, _, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), cfg.JitterBufferMs)

	require.NoError(t, os.WriteFile(path, []byte("jitter_buffer_ms: 999\n"), 0o600))
	cfg, _, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), cfg.JitterBufferMs)
}
