// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/avolkin/midibeat/internal/model"
)

// FileConfig represents the TOML configuration file. Every field is a
// pointer: nil means "not set, keep the default".
type FileConfig struct {
	MIDI   MIDIConfig   `toml:"midi"`
	Remote RemoteConfig `toml:"remote"`
	Tempo  TempoConfig  `toml:"tempo"`
}

// MIDIConfig maps MIDI input settings.
type MIDIConfig struct {
	Device *string `toml:"device"`
}

// RemoteConfig maps the companion TCP tempo output.
type RemoteConfig struct {
	Enabled *bool `toml:"enabled"`
	Port    *int  `toml:"port"`
}

// TempoConfig maps the detection engine tunables.
type TempoConfig struct {
	MinBPM         *float64 `toml:"min-bpm"`
	MaxBPM         *float64 `toml:"max-bpm"`
	Resolution     *float64 `toml:"resolution"`
	ToleranceMs    *float64 `toml:"tolerance-ms"`
	TolerancePct   *float64 `toml:"tolerance-pct"`
	Falloff        *string  `toml:"falloff"`
	MaxHarmonic    *int     `toml:"max-harmonic"`
	HarmonicDecay  *float64 `toml:"harmonic-decay"`
	MaxOnsets      *int     `toml:"max-onsets"`
	MaxAgeSec      *float64 `toml:"max-age-sec"`
	MinIntervalMs  *float64 `toml:"min-interval-ms"`
	MinIntervals   *int     `toml:"min-intervals"`
	MinProminence  *float64 `toml:"min-prominence"`
	Hysteresis     *float64 `toml:"hysteresis"`
	SmoothingBins  *int     `toml:"smoothing-bins"`
	MinAgeWeight   *float64 `toml:"min-age-weight"`
	VelocityWeight *float64 `toml:"velocity-weight"`
	PitchWeight    *float64 `toml:"pitch-weight"`
	OctaveWeight   *float64 `toml:"octave-weight"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Detection overlays the file's tempo section onto the engine defaults
// and validates the result. Malformed values are rejected here, at the
// configuration boundary, before they reach the engine.
func (fc FileConfig) Detection() (model.Detection, error) {
	d := model.DefaultDetection()
	tc := fc.Tempo

	applyFloat(&d.Range.Min, tc.MinBPM)
	applyFloat(&d.Range.Max, tc.MaxBPM)
	applyFloat(&d.Resolution, tc.Resolution)
	if tc.ToleranceMs != nil {
		d.Tolerance.Absolute = time.Duration(*tc.ToleranceMs * float64(time.Millisecond))
		d.Tolerance.Relative = 0
	}
	if tc.TolerancePct != nil {
		d.Tolerance.Relative = *tc.TolerancePct / 100
		d.Tolerance.Absolute = 0
	}
	if tc.Falloff != nil {
		d.Tolerance.Shape = model.FalloffShape(*tc.Falloff)
	}
	applyInt(&d.MaxHarmonic, tc.MaxHarmonic)
	applyFloat(&d.HarmonicDecay, tc.HarmonicDecay)
	applyInt(&d.Window.MaxOnsets, tc.MaxOnsets)
	if tc.MaxAgeSec != nil {
		d.Window.MaxAge = time.Duration(*tc.MaxAgeSec * float64(time.Second))
	}
	if tc.MinIntervalMs != nil {
		d.MinInterval = time.Duration(*tc.MinIntervalMs * float64(time.Millisecond))
	}
	applyInt(&d.MinIntervals, tc.MinIntervals)
	applyFloat(&d.MinProminence, tc.MinProminence)
	applyFloat(&d.HysteresisMargin, tc.Hysteresis)
	applyInt(&d.SmoothingBins, tc.SmoothingBins)
	applyFloat(&d.MinAgeWeight, tc.MinAgeWeight)
	applyFloat(&d.VelocityWeight, tc.VelocityWeight)
	applyFloat(&d.PitchWeight, tc.PitchWeight)
	applyFloat(&d.OctaveWeight, tc.OctaveWeight)

	if err := d.Validate(); err != nil {
		return model.Detection{}, err
	}
	return d, nil
}

// RemotePort returns the configured TCP port for tempo push, validated.
func (fc FileConfig) RemotePort(fallback int) (int, error) {
	port := fallback
	if fc.Remote.Port != nil {
		port = *fc.Remote.Port
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: remote port %d out of range", model.ErrInvalidConfig, port)
	}
	return port, nil
}

// RemoteEnabled reports whether the tempo push server should run.
func (fc FileConfig) RemoteEnabled(fallback bool) bool {
	if fc.Remote.Enabled != nil {
		return *fc.Remote.Enabled
	}
	return fallback
}

// Device returns the configured MIDI device path, or fallback when unset.
func (fc FileConfig) Device(fallback string) string {
	if fc.MIDI.Device != nil && *fc.MIDI.Device != "" {
		return *fc.MIDI.Device
	}
	return fallback
}

func applyFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func applyInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}
