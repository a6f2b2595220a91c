// Package config loads and validates tutti-core's settings via Viper,
// following the search-path/defaults/validate shape this corpus uses for
// CLI tools (config file in the working directory, falling back to an
// XDG config directory with a generated default).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName    = "tutti-core"
	ConfigType = "yaml"

	DefaultConfig = `# tutti-core engine configuration

# Audio
sample_rate: 48000       # audio callback sample rate, Hz
buffer_frames: 256       # audio callback buffer size, frames

# Transport
initial_bpm: 120         # starting tempo
time_sig_numerator: 4
time_sig_denominator: 4

# Assets
soundfont_path: ""       # .sf2 path for the software synth node; empty disables it
capture_dir: "captures"  # directory recorded WAV files are written into

# Logging
log_level: "info"        # debug, info, warn, error
`
)

// Settings holds every tunable the engine reads at startup.
type Settings struct {
	SampleRate   int `mapstructure:"sample_rate"`
	BufferFrames int `mapstructure:"buffer_frames"`

	InitialBPM        float64 `mapstructure:"initial_bpm"`
	TimeSigNumerator  uint32  `mapstructure:"time_sig_numerator"`
	TimeSigDenominator uint32 `mapstructure:"time_sig_denominator"`

	SoundFontPath string `mapstructure:"soundfont_path"`
	CaptureDir    string `mapstructure:"capture_dir"`

	LogLevel string `mapstructure:"log_level"`
}

// Init wires Viper defaults and config-file search, creating a default
// config file under the user's config directory if none is found.
func Init() error {
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("buffer_frames", 256)
	viper.SetDefault("initial_bpm", 120)
	viper.SetDefault("time_sig_numerator", 4)
	viper.SetDefault("time_sig_denominator", 4)
	viper.SetDefault("soundfont_path", "")
	viper.SetDefault("capture_dir", "captures")
	viper.SetDefault("log_level", "info")

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := os.MkdirAll(configPath, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := os.WriteFile(configFile, []byte(DefaultConfig), 0o644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get unmarshals and validates the currently loaded configuration.
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks every setting against the engine's actual operating
// range (spec.md §4.1's sample-rate-independent design still needs a
// real rate; §4.3's tempo map clamps BPM to [1,999] independently, this
// just keeps a garbage config from reaching that point at all).
func (s *Settings) Validate() error {
	var errs []error

	if s.SampleRate < 8000 || s.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 384000 Hz, got %d", s.SampleRate))
	}
	if s.BufferFrames < 32 || s.BufferFrames > 8192 {
		errs = append(errs, fmt.Errorf("buffer_frames must be between 32 and 8192, got %d", s.BufferFrames))
	}
	if s.BufferFrames&(s.BufferFrames-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_frames should be a power of 2, got %d", s.BufferFrames))
	}
	if s.InitialBPM < 1 || s.InitialBPM > 999 {
		errs = append(errs, fmt.Errorf("initial_bpm must be between 1 and 999, got %v", s.InitialBPM))
	}
	if s.TimeSigDenominator == 0 {
		errs = append(errs, fmt.Errorf("time_sig_denominator must not be zero"))
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", s.LogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
