package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProducesSimulatedBoard(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "simulated", cfg.Board.Kind)
	assert.Greater(t, cfg.Board.SampleRate, 0.0)
	assert.Greater(t, cfg.Network.CommandPort, 0)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nosuchfile.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysYamlOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daqcore.yaml")
	yaml := `
board:
  kind: serial
  device: /dev/ttyUSB0
  sampleRateHertz: 25000
network:
  commandPort: 9001
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "serial", cfg.Board.Kind)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Board.Device)
	assert.Equal(t, 25000.0, cfg.Board.SampleRate)
	assert.Equal(t, 9001, cfg.Network.CommandPort)
	// Fields untouched by the override keep their defaults.
	assert.Equal(t, Default().Disk.Dir, cfg.Disk.Dir)
}

func TestLoadMalformedYamlErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("board: [this is not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFlagsApplyOverridesOnlyNonZeroValues(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--sample-rate=40000", "--disk-dir=/data"}))

	cfg := Default()
	flags.Apply(&cfg)

	assert.Equal(t, 40000.0, cfg.Board.SampleRate)
	assert.Equal(t, "/data", cfg.Disk.Dir)
	// command-port and log-level were not passed, so they stay default.
	assert.Equal(t, Default().Network.CommandPort, cfg.Network.CommandPort)
	assert.Equal(t, Default().LogLevel, cfg.LogLevel)
}

func TestBoardDriverConfigProjectsBoardFields(t *testing.T) {
	cfg := Default()
	rate, perBlock, streams, channels := cfg.BoardDriverConfig()
	assert.Equal(t, cfg.Board.SampleRate, rate)
	assert.Equal(t, cfg.Board.SamplesPerBlock, perBlock)
	assert.Equal(t, cfg.Board.NumStreams, streams)
	assert.Equal(t, cfg.Board.ChannelsPerStream, channels)
}
