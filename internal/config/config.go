package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/povfan/internal/logic/fan"
	"github.com/cjeanneret/povfan/internal/logic/geometry"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// Defaults applied by Load when a value is missing.
const (
	DefaultLEDCount        = 50
	DefaultBladeCount      = 2
	DefaultMode            = "inscribe"
	DefaultSimInterval     = 0.0001 // s
	DefaultTimingDuration  = 5.0    // s
	DefaultPlotPath        = "rotation.png"
	DefaultListen          = ":8080"
	DefaultWebScanInterval = 0.002 // s
)

// FanConfig describes the fan as a whole.
type FanConfig struct {
	LEDCount   int     `yaml:"led_count"`   // LEDs per blade
	BladeCount int     `yaml:"blade_count"` // blades, evenly spaced
	RotationHz float64 `yaml:"rotation_hz"` // rotations per second; negative = clockwise
	Mode       string  `yaml:"mode"`        // inscribe, circum_tb or circum_lr
	Image      string  `yaml:"image"`       // source image path
}

// BladeConfig describes the geometry shared by every blade.
// Margins and justify use pointers: zero and false are meaningful values.
type BladeConfig struct {
	LengthCm       float64  `yaml:"length_cm"`
	MarginCenterCm *float64 `yaml:"margin_center_cm,omitempty"`
	MarginEndCm    *float64 `yaml:"margin_end_cm,omitempty"`
	MinSpacingCm   float64  `yaml:"min_spacing_cm"`
	Justify        *bool    `yaml:"justify,omitempty"`
}

// DefaultsConfig contains run parameters.
type DefaultsConfig struct {
	DebugLevel      int     `yaml:"debug_level"`       // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	Parallel        bool    `yaml:"parallel"`          // sample blades concurrently
	SimIntervalS    float64 `yaml:"sim_interval_s"`    // time step of the rotation scan
	TimingDurationS float64 `yaml:"timing_duration_s"` // length of the loop timing run
	PlotPath        string  `yaml:"plot_path"`         // where sim writes the rotation plot
}

// WebConfig configures the HTTP viewer.
type WebConfig struct {
	Listen        string  `yaml:"listen"`
	ScanIntervalS float64 `yaml:"scan_interval_s"` // time step of scans streamed to the viewer
}

// Config aggregates all application configuration.
type Config struct {
	Fan      FanConfig      `yaml:"fan"`
	Blade    BladeConfig    `yaml:"blade"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Web      WebConfig      `yaml:"web"`
}

// ValidateConfigPath accepts only .yaml files that sit directly in a
// configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if strings.Contains(filepath.ToSlash(path), "..") {
		return fmt.Errorf("config path %q must not contain '..'", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.applyDefaults(); err != nil {
		// The zero configuration always validates.
		panic(err)
	}
	return cfg
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", geometry.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func (c *Config) applyDefaults() error {
	// Fan
	if c.Fan.LEDCount == 0 {
		c.Fan.LEDCount = DefaultLEDCount
	}
	if c.Fan.LEDCount < 1 {
		return invalid("fan.led_count must be >= 1, got %d", c.Fan.LEDCount)
	}
	if c.Fan.BladeCount == 0 {
		c.Fan.BladeCount = DefaultBladeCount
	}
	if c.Fan.BladeCount < 1 {
		return invalid("fan.blade_count must be >= 1, got %d", c.Fan.BladeCount)
	}
	if c.Fan.RotationHz == 0 {
		c.Fan.RotationHz = geometry.DefaultRotationHz
	}
	if c.Fan.Mode == "" {
		c.Fan.Mode = DefaultMode
	}
	if _, err := geometry.ParseFitMode(c.Fan.Mode); err != nil {
		return fmt.Errorf("fan.mode: %w", err)
	}

	// Blade
	if c.Blade.LengthCm == 0 {
		c.Blade.LengthCm = geometry.DefaultLength
	}
	if c.Blade.MarginCenterCm == nil {
		v := geometry.DefaultMarginCenter
		c.Blade.MarginCenterCm = &v
	}
	if c.Blade.MarginEndCm == nil {
		v := geometry.DefaultMarginEnd
		c.Blade.MarginEndCm = &v
	}
	if c.Blade.MinSpacingCm == 0 {
		c.Blade.MinSpacingCm = geometry.DefaultMinSpacing
	}
	if c.Blade.Justify == nil {
		v := true
		c.Blade.Justify = &v
	}
	if c.Blade.MinSpacingCm < 0 {
		return invalid("blade.min_spacing_cm must be > 0, got %.2f", c.Blade.MinSpacingCm)
	}
	if *c.Blade.MarginCenterCm < 0 || *c.Blade.MarginEndCm < 0 {
		return invalid("blade margins must be >= 0, got %.2f and %.2f", *c.Blade.MarginCenterCm, *c.Blade.MarginEndCm)
	}
	if usable := c.BladeParams().UsableLength(); usable <= 0 {
		return invalid("blade.length_cm leaves no room for LEDs (usable length %.2f cm)", usable)
	}

	// Defaults
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return invalid("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.SimIntervalS == 0 {
		c.Defaults.SimIntervalS = DefaultSimInterval
	}
	if c.Defaults.SimIntervalS < 0 {
		return invalid("defaults.sim_interval_s must be > 0, got %g", c.Defaults.SimIntervalS)
	}
	if c.Defaults.TimingDurationS == 0 {
		c.Defaults.TimingDurationS = DefaultTimingDuration
	}
	if c.Defaults.TimingDurationS < 0 {
		return invalid("defaults.timing_duration_s must be > 0, got %g", c.Defaults.TimingDurationS)
	}
	if c.Defaults.PlotPath == "" {
		c.Defaults.PlotPath = DefaultPlotPath
	}

	// Web
	if c.Web.Listen == "" {
		c.Web.Listen = DefaultListen
	}
	if c.Web.ScanIntervalS == 0 {
		c.Web.ScanIntervalS = DefaultWebScanInterval
	}
	if c.Web.ScanIntervalS < 0 {
		return invalid("web.scan_interval_s must be > 0, got %g", c.Web.ScanIntervalS)
	}
	return nil
}

// FitMode returns the parsed fitting mode. Load has already validated it.
func (c *Config) FitMode() geometry.FitMode {
	m, _ := geometry.ParseFitMode(c.Fan.Mode)
	return m
}

// BladeParams returns the blade geometry described by the configuration.
func (c *Config) BladeParams() geometry.Params {
	p := geometry.DefaultParams(c.Fan.LEDCount)
	p.RotationHz = c.Fan.RotationHz
	if c.Blade.LengthCm != 0 {
		p.Length = c.Blade.LengthCm
	}
	if c.Blade.MarginCenterCm != nil {
		p.MarginCenter = *c.Blade.MarginCenterCm
	}
	if c.Blade.MarginEndCm != nil {
		p.MarginEnd = *c.Blade.MarginEndCm
	}
	if c.Blade.MinSpacingCm != 0 {
		p.MinSpacing = c.Blade.MinSpacingCm
	}
	if c.Blade.Justify != nil {
		p.Justify = *c.Blade.Justify
	}
	return p
}

// FanOptions returns the inputs of fan.New. The image is loaded from
// Fan.Image by the fan itself.
func (c *Config) FanOptions() fan.Options {
	return fan.Options{
		LEDCount:   c.Fan.LEDCount,
		BladeCount: c.Fan.BladeCount,
		RotationHz: c.Fan.RotationHz,
		Mode:       c.FitMode(),
		Blade:      c.BladeParams(),
		ImagePath:  c.Fan.Image,
		Parallel:   c.Defaults.Parallel,
	}
}

// TimingDuration returns the length of the loop timing run.
func (c *Config) TimingDuration() time.Duration {
	return time.Duration(c.Defaults.TimingDurationS * float64(time.Second))
}
