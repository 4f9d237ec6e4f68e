// Package config loads the daemon's startup configuration from a YAML
// file, then applies pflag command-line overrides — the same two-stage
// shape as the teacher's config.go (a file parsed up front) plus
// cmd/direwolf/main.go's pflag option set layered on top of it.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// BoardConfig selects and configures the BoardDriver capability.
type BoardConfig struct {
	Kind   string `yaml:"kind"`   // "simulated" or "serial"
	Device string `yaml:"device"` // serial device path, ignored for "simulated"
	Baud   int    `yaml:"baud"`

	SampleRate        float64 `yaml:"sampleRateHertz"`
	SamplesPerBlock   int     `yaml:"samplesPerBlock"`
	NumStreams        int     `yaml:"numStreams"`
	ChannelsPerStream int     `yaml:"channelsPerStream"`
	StimController    bool    `yaml:"stimController"`
	NumAdc            int     `yaml:"numAdc"`
	NumDac            int     `yaml:"numDac"`
	StimStepSizeUa    float64 `yaml:"stimStepSizeMicroamps"`
}

// NetworkConfig lists every TCP listener the daemon opens.
type NetworkConfig struct {
	CommandPort  int `yaml:"commandPort"`
	WaveformPort int `yaml:"waveformPort"`
	SpikePort    int `yaml:"spikePort"`

	// DnsSdEnabled announces the command port via mDNS/DNS-SD, the same
	// discovery convenience the teacher's dns_sd.go provides for the KISS
	// TCP service.
	DnsSdEnabled bool   `yaml:"dnsSdEnabled"`
	DnsSdName    string `yaml:"dnsSdName"`
}

// DiskConfig configures the reference FileSink.
type DiskConfig struct {
	Dir          string `yaml:"dir"`
	FilePattern  string `yaml:"filePattern"`
	Granularity  int    `yaml:"writeGranularitySamples"`
	LowCutoffHz  float64 `yaml:"lowCutoffHz"`
	HighCutoffHz float64 `yaml:"highCutoffHz"`
}

// AudioConfig configures the AudioStage.
type AudioConfig struct {
	FramesPerBuffer int     `yaml:"framesPerBuffer"`
	ThresholdCounts float32 `yaml:"thresholdCounts"`
}

// DeviceIoConfig toggles the optional hotplug/GPIO/console glue in
// internal/deviceio; none of it is required for the pipeline itself to
// run.
type DeviceIoConfig struct {
	WatchUsbAttach   bool   `yaml:"watchUsbAttach"`
	StatusGpioChip   string `yaml:"statusGpioChip"`
	StatusGpioLine   int    `yaml:"statusGpioLine"`
	EnableConsolePty bool   `yaml:"enableConsolePty"`
}

// Config is the daemon's full startup configuration.
type Config struct {
	Board     BoardConfig    `yaml:"board"`
	Network   NetworkConfig  `yaml:"network"`
	Disk      DiskConfig     `yaml:"disk"`
	Audio     AudioConfig    `yaml:"audio"`
	DeviceIo  DeviceIoConfig `yaml:"deviceIo"`
	LogLevel  string         `yaml:"logLevel"`
	WaveFifoCapacitySamples uint64 `yaml:"waveFifoCapacitySamples"`
	RingFifoBlocks          int    `yaml:"ringFifoBlocks"`
}

// Default returns the configuration a fresh checkout runs against without
// any file or flags: a simulated board, one port of 32 amplifier
// channels, recordings written under ./recordings, every network listener
// on an unprivileged port.
func Default() Config {
	return Config{
		Board: BoardConfig{
			Kind:              "simulated",
			SampleRate:        20000,
			SamplesPerBlock:   128,
			NumStreams:        1,
			ChannelsPerStream: 32,
			NumAdc:            2,
			NumDac:            2,
			StimStepSizeUa:    1.0,
		},
		Network: NetworkConfig{
			CommandPort:  7777,
			WaveformPort: 7778,
			SpikePort:    7779,
		},
		Disk: DiskConfig{
			Dir:          "recordings",
			FilePattern:  "acq_%Y%m%d_%H%M%S",
			Granularity:  64,
			LowCutoffHz:  300,
			HighCutoffHz: 7500,
		},
		Audio: AudioConfig{
			FramesPerBuffer: 256,
			ThresholdCounts: 0,
		},
		LogLevel:                "info",
		WaveFifoCapacitySamples: 1 << 20,
		RingFifoBlocks:          64,
	}
}

// Load reads a YAML file at path into a Default()-seeded Config. A
// missing file is not an error — the defaults stand — but a malformed
// one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags binds pflag overrides onto cfg's fields so command-line options
// take precedence over the config file, the same two-layer precedence
// cmd/direwolf/main.go applies on top of config_init.
type Flags struct {
	ConfigFile  *string
	SampleRate  *float64
	CommandPort *int
	DiskDir     *string
	LogLevel    *string
}

// RegisterFlags defines the override flags on fs, returning handles the
// caller reads back after fs.Parse.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{
		ConfigFile:  fs.StringP("config-file", "c", "", "YAML configuration file."),
		SampleRate:  fs.Float64P("sample-rate", "r", 0, "Override board.sampleRateHertz."),
		CommandPort: fs.IntP("command-port", "p", 0, "Override network.commandPort."),
		DiskDir:     fs.StringP("disk-dir", "d", "", "Override disk.dir."),
		LogLevel:    fs.StringP("log-level", "l", "", "Override logLevel (debug, info, warn, error)."),
	}
}

// Apply layers non-zero flag values onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.SampleRate != nil && *f.SampleRate > 0 {
		cfg.Board.SampleRate = *f.SampleRate
	}
	if f.CommandPort != nil && *f.CommandPort > 0 {
		cfg.Network.CommandPort = *f.CommandPort
	}
	if f.DiskDir != nil && *f.DiskDir != "" {
		cfg.Disk.Dir = *f.DiskDir
	}
	if f.LogLevel != nil && *f.LogLevel != "" {
		cfg.LogLevel = *f.LogLevel
	}
}

// BoardDriverConfig projects the parts of Config the board package's
// Config type needs.
func (c Config) BoardDriverConfig() (sampleRate float64, samplesPerBlock, numStreams, channelsPerStream int) {
	return c.Board.SampleRate, c.Board.SamplesPerBlock, c.Board.NumStreams, c.Board.ChannelsPerStream
}
