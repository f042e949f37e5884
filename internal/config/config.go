package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	SourceExec   = "exec"
	SourceSerial = "serial"
)

// Duration is a time.Duration written as a string like "10ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the acquisition configuration. The JSON schema mirrors the
// command line flags, which override whatever the file sets.
type Config struct {
	Command  string `json:"command"`
	Source   string `json:"source"`
	BaudRate int    `json:"baud_rate"`

	Sensors     int    `json:"sensors"`
	BufferSize  int    `json:"buffer_size"`
	Integration bool   `json:"integration"`
	Reduction   string `json:"reduction"`
	Delimiter   string `json:"delimiter"`

	PositionsFile string `json:"positions_file"`

	PollInterval Duration `json:"poll_interval"`
	StopGrace    Duration `json:"stop_grace"`

	ColorMin float64 `json:"color_min"`
	ColorMax float64 `json:"color_max"`

	OutputDir   string `json:"output_dir"`
	RenderEvery int    `json:"render_every"`

	LogFile       string `json:"log_file"`
	LogLevel      string `json:"log_level"`
	LogMaxSizeMB  int    `json:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Source:        SourceExec,
		BaudRate:      460800,
		Sensors:       8,
		BufferSize:    1,
		Reduction:     "mean",
		Delimiter:     ",",
		PollInterval:  Duration(10 * time.Millisecond),
		StopGrace:     Duration(2 * time.Second),
		ColorMin:      0,
		ColorMax:      100,
		OutputDir:     ".",
		RenderEvery:   10,
		LogFile:       "rtgraph.log",
		LogLevel:      "info",
		LogMaxSizeMB:  1,
		LogMaxBackups: 2,
	}
}

// Load reads a JSON config on top of the defaults; fields the file omits keep
// their default value.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Source {
	case SourceExec, SourceSerial:
	default:
		errs = append(errs, fmt.Errorf("source must be %q or %q, got %q", SourceExec, SourceSerial, c.Source))
	}
	if c.Source == SourceSerial && c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.Sensors < 1 {
		errs = append(errs, fmt.Errorf("sensors must be at least 1, got %d", c.Sensors))
	}
	if c.BufferSize < 1 {
		errs = append(errs, fmt.Errorf("buffer_size must be at least 1, got %d", c.BufferSize))
	}
	if c.Reduction != "mean" && c.Reduction != "sum" {
		errs = append(errs, fmt.Errorf("reduction must be \"mean\" or \"sum\", got %q", c.Reduction))
	}
	if len(c.Delimiter) != 1 {
		errs = append(errs, fmt.Errorf("delimiter must be a single byte, got %q", c.Delimiter))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.StopGrace <= 0 {
		errs = append(errs, errors.New("stop_grace must be positive"))
	}
	if !(c.ColorMax > c.ColorMin) {
		errs = append(errs, fmt.Errorf("color_max (%g) must be greater than color_min (%g)", c.ColorMax, c.ColorMin))
	}
	if c.RenderEvery < 0 {
		errs = append(errs, fmt.Errorf("render_every must not be negative, got %d", c.RenderEvery))
	}
	if c.LogMaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("log_max_size_mb must be at least 1, got %d", c.LogMaxSizeMB))
	}
	if c.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log_max_backups must not be negative, got %d", c.LogMaxBackups))
	}

	return errors.Join(errs...)
}
