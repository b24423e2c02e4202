package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Header job kinds
const (
	KindDefines = "defines"
	KindHex     = "hex"
	KindROM     = "rom"
)

// Config is the root configuration structure
type Config struct {
	App     AppConfig     `json:"app" yaml:"app"`
	Format  FormatConfig  `json:"format" yaml:"format"`
	Headers []HeaderJob   `json:"headers" yaml:"headers"`
	Upload  UploadConfig  `json:"upload" yaml:"upload"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name       string `json:"name" yaml:"name"`
	ScriptName string `json:"script_name" yaml:"script_name"` // Named in every header's Desc line
}

// FormatConfig controls header boilerplate
type FormatConfig struct {
	BannerWidth int    `json:"banner_width" yaml:"banner_width"`
	DateFormat  string `json:"date_format" yaml:"date_format"` // "ymd" or "mdy"
}

// HeaderJob describes one generated header file
type HeaderJob struct {
	Name    string     `json:"name" yaml:"name"`     // Prefix for file name, include guard and identifiers
	Kind    string     `json:"kind" yaml:"kind"`     // defines, hex, rom
	Output  string     `json:"output" yaml:"output"` // Directory; empty writes to stdout
	Source  string     `json:"source" yaml:"source"` // Intel HEX input for kind=hex
	Defines []Define   `json:"defines" yaml:"defines"`
	ROM     *ROMConfig `json:"rom,omitempty" yaml:"rom,omitempty"`
}

// Define is one #define in a defines job; order is preserved
type Define struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// ROMConfig describes the descriptors of a configuration ROM
type ROMConfig struct {
	ArrayName string   `json:"array_name" yaml:"array_name"` // Defaults to <name>x
	Capacity  int      `json:"capacity" yaml:"capacity"`     // Words
	Hashes    []string `json:"hashes" yaml:"hashes"`         // 40 hex digit commit ids
	Text      []string `json:"text" yaml:"text"`
	JSONFile  string   `json:"json_file" yaml:"json_file"` // Compressed into the image
}

// UploadConfig streams an Intel HEX file to a board over serial
type UploadConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Device         string `json:"device" yaml:"device"` // e.g., "/dev/ttyUSB1"
	BaudRate       int    `json:"baud_rate" yaml:"baud_rate"`
	HexFile        string `json:"hex_file" yaml:"hex_file"`
	ReadTimeoutSec int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	RecordDelayMs  int    `json:"record_delay_ms" yaml:"record_delay_ms"` // Pause between records
}

// NATSConfig contains event publication settings; empty URL disables it
type NATSConfig struct {
	URL           string `json:"url" yaml:"url"`
	Subject       string `json:"subject" yaml:"subject"`
	MaxReconnects int    `json:"max_reconnects" yaml:"max_reconnects"`
}

// LoggingConfig contains logging and log rotation settings
type LoggingConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"` // Empty logs to stderr
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress"`
	Level      string `json:"level" yaml:"level"` // debug, info, warn, error
}

// Load reads and parses the configuration file. The extension selects
// the format: .yaml/.yml use YAML, anything else JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}

	// Relative paths in the file resolve against its directory
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes configuration bytes and applies defaults without validating
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults fills in default values for optional fields
func (c *Config) setDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "htools"
	}
	if c.App.ScriptName == "" {
		c.App.ScriptName = c.App.Name
	}

	// Format defaults
	if c.Format.BannerWidth == 0 {
		c.Format.BannerWidth = 80
	}
	if c.Format.DateFormat == "" {
		c.Format.DateFormat = "ymd"
	}

	// ROM defaults
	for i := range c.Headers {
		job := &c.Headers[i]
		if job.Kind != KindROM {
			continue
		}
		if job.ROM == nil {
			job.ROM = &ROMConfig{}
		}
		if job.ROM.ArrayName == "" {
			job.ROM.ArrayName = job.Name + "x"
		}
		if job.ROM.Capacity == 0 {
			job.ROM.Capacity = 2048
		}
	}

	// Upload defaults
	if c.Upload.BaudRate == 0 {
		c.Upload.BaudRate = 115200
	}
	if c.Upload.ReadTimeoutSec == 0 {
		c.Upload.ReadTimeoutSec = 5
	}

	// NATS defaults
	if c.NATS.Subject == "" {
		c.NATS.Subject = "htools.events"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}

	// Logging defaults
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	for i := range c.Headers {
		job := &c.Headers[i]
		job.Source = abs(job.Source)
		job.Output = abs(job.Output)
		if job.ROM != nil {
			job.ROM.JSONFile = abs(job.ROM.JSONFile)
		}
	}
	c.Upload.HexFile = abs(c.Upload.HexFile)
}

// Helper methods for time conversions
func (u *UploadConfig) ReadTimeout() time.Duration {
	return time.Duration(u.ReadTimeoutSec) * time.Second
}

func (u *UploadConfig) RecordDelay() time.Duration {
	return time.Duration(u.RecordDelayMs) * time.Millisecond
}
