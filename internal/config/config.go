// Package config loads the static configuration surface (spec §6)
// once at startup: a YAML file overlaid with command-line flags of
// the same names, file-then-flag precedence. Nothing downstream ever
// re-reads a Config after cmd/voiced calls Load — components receive
// the fields they need at construction time, mirroring how the
// teacher's main.go reads its flag.* values once and threads them
// into NewRoom/NewServer rather than passing *flag.FlagSet around.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the complete static configuration surface from spec §6.
type Config struct {
	SignalingPort   uint16   `yaml:"signaling_port"`
	MediaPort       uint16   `yaml:"media_port"`
	EnableTLS       bool     `yaml:"enable_tls"`
	TLSCertPath     string   `yaml:"tls_cert_path"`
	TLSKeyPath      string   `yaml:"tls_key_path"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ProximityRange  float32  `yaml:"proximity_range"`
	SampleRate      uint32   `yaml:"sample_rate"`
	JitterBufferMs  uint32   `yaml:"jitter_buffer_ms"`
	FECPercent      uint32   `yaml:"fec_percent"`
}

// Default returns the spec-mandated defaults (spec §6's table).
func Default() Config {
	return Config{
		SignalingPort:  24455,
		MediaPort:      24454,
		EnableTLS:      false,
		AllowedOrigins: []string{"*"},
		ProximityRange: 30.0,
		SampleRate:     48000,
		JitterBufferMs: 80,
		FECPercent:     10,
	}
}

// validSampleRates mirrors codec.SampleRate's enumeration; duplicated
// here (as plain uint32) so this package has no dependency on
// internal/codec for a single validity check.
var validSampleRates = map[uint32]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// clamp applies spec-mandated bounds and coercions that are not simply
// "use the default if unset": sample_rate outside the enumerated set
// becomes 48000 and clamp reports that it did so (spec §4.9, design note
// §9 — the caller logs the coercion), fec_percent is capped at 20,
// jitter_buffer_ms is clamped to [20, 200], and a non-positive
// proximity_range becomes 30.
func (c *Config) clamp() (coercedSampleRate bool) {
	if !validSampleRates[c.SampleRate] {
		c.SampleRate = 48000
		coercedSampleRate = true
	}
	if c.FECPercent > 20 {
		c.FECPercent = 20
	}
	if c.JitterBufferMs < 20 {
		c.JitterBufferMs = 20
	}
	if c.JitterBufferMs > 200 {
		c.JitterBufferMs = 200
	}
	if c.ProximityRange <= 0 {
		c.ProximityRange = 30.0
	}
	return coercedSampleRate
}

// Load reads yamlPath (if non-empty and present) over the defaults,
// then overlays any flags in fs that were explicitly set by the user,
// so flag wins over file and file wins over default (spec §6). It
// returns the resolved Config and whether the sample rate had to be
// coerced, so the caller (cmd/voiced) can log it.
func Load(yamlPath string, fs *pflag.FlagSet) (Config, bool, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, false, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		case os.IsNotExist(err):
			// Absent file is not an error; defaults stand.
		default:
			return Config{}, false, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	if fs != nil {
		overlayFlags(&cfg, fs)
	}

	coerced := cfg.clamp()
	return cfg, coerced, nil
}

// overlayFlags applies any pflag values the user actually set
// (fs.Changed), leaving file/default values alone otherwise — this is
// the "flag wins over file" half of the precedence rule.
func overlayFlags(cfg *Config, fs *pflag.FlagSet) {
	if fs.Changed("signaling-port") {
		if v, err := fs.GetUint16("signaling-port"); err == nil {
			cfg.SignalingPort = v
		}
	}
	if fs.Changed("media-port") {
		if v, err := fs.GetUint16("media-port"); err == nil {
			cfg.MediaPort = v
		}
	}
	if fs.Changed("enable-tls") {
		if v, err := fs.GetBool("enable-tls"); err == nil {
			cfg.EnableTLS = v
		}
	}
	if fs.Changed("tls-cert-path") {
		if v, err := fs.GetString("tls-cert-path"); err == nil {
			cfg.TLSCertPath = v
		}
	}
	if fs.Changed("tls-key-path") {
		if v, err := fs.GetString("tls-key-path"); err == nil {
			cfg.TLSKeyPath = v
		}
	}
	if fs.Changed("allowed-origins") {
		if v, err := fs.GetStringSlice("allowed-origins"); err == nil {
			cfg.AllowedOrigins = v
		}
	}
	if fs.Changed("proximity-range") {
		if v, err := fs.GetFloat32("proximity-range"); err == nil {
			cfg.ProximityRange = v
		}
	}
	if fs.Changed("sample-rate") {
		if v, err := fs.GetUint32("sample-rate"); err == nil {
			cfg.SampleRate = v
		}
	}
	if fs.Changed("jitter-buffer-ms") {
		if v, err := fs.GetUint32("jitter-buffer-ms"); err == nil {
			cfg.JitterBufferMs = v
		}
	}
	if fs.Changed("fec-percent") {
		if v, err := fs.GetUint32("fec-percent"); err == nil {
			cfg.FECPercent = v
		}
	}
}

// RegisterFlags adds every config flag to fs with spec-default values,
// so pflag's usage text doubles as the config reference.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Uint16("signaling-port", d.SignalingPort, "bind port for the framed reliable transport")
	fs.Uint16("media-port", d.MediaPort, "bind port for the datagram transport")
	fs.Bool("enable-tls", d.EnableTLS, "terminate TLS in-process on the framed transport")
	fs.String("tls-cert-path", "", "TLS certificate path (used when --enable-tls)")
	fs.String("tls-key-path", "", "TLS key path (used when --enable-tls)")
	fs.StringSlice("allowed-origins", d.AllowedOrigins, "framed-transport origin allow-list (\"*\" means any)")
	fs.Float32("proximity-range", d.ProximityRange, "proximity resolver radius R")
	fs.Uint32("sample-rate", d.SampleRate, "server-selected Opus sample rate")
	fs.Uint32("jitter-buffer-ms", d.JitterBufferMs, "default jitter buffer depth B in milliseconds")
	fs.Uint32("fec-percent", d.FECPercent, "encoder-side forward error correction ratio hint")
}
