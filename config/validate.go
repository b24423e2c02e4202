package config

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Valid log levels
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	// Valid date orderings
	validDateFormats = map[string]bool{
		"ymd": true,
		"mdy": true,
	}

	// C identifier, used for job names, array names and macro names
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// Commit id: 40 hex digits
	hashPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)
)

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.validateFormat(); err != nil {
		return fmt.Errorf("format config: %w", err)
	}

	if err := c.validateHeaders(); err != nil {
		return fmt.Errorf("headers config: %w", err)
	}

	if err := c.validateUpload(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.validateNATS(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

func (c *Config) validateFormat() error {
	if c.Format.BannerWidth < 0 {
		return fmt.Errorf("banner_width must be non-negative, got: %d", c.Format.BannerWidth)
	}

	if !validDateFormats[strings.ToLower(c.Format.DateFormat)] {
		return fmt.Errorf("invalid date_format %s, must be one of: ymd, mdy", c.Format.DateFormat)
	}

	return nil
}

func (c *Config) validateHeaders() error {
	if len(c.Headers) == 0 && !c.Upload.Enabled {
		return fmt.Errorf("at least one header must be configured")
	}

	namesSeen := make(map[string]bool)

	for i, job := range c.Headers {
		if !identifierPattern.MatchString(job.Name) {
			return fmt.Errorf("header %d: name must be a C identifier, got: %q", i, job.Name)
		}

		// File names are lower-cased, so names must be unique ignoring case
		key := strings.ToLower(job.Name)
		if namesSeen[key] {
			return fmt.Errorf("header %d: duplicate name %s", i, job.Name)
		}
		namesSeen[key] = true

		switch job.Kind {
		case KindDefines:
			if len(job.Defines) == 0 {
				return fmt.Errorf("header %d (%s): defines job needs at least one define", i, job.Name)
			}
			for _, d := range job.Defines {
				if !identifierPattern.MatchString(d.Name) {
					return fmt.Errorf("header %d (%s): define name must be a C identifier, got: %q", i, job.Name, d.Name)
				}
			}
		case KindHex:
			if job.Source == "" {
				return fmt.Errorf("header %d (%s): source is required for hex jobs", i, job.Name)
			}
		case KindROM:
			if err := validateROM(job.ROM); err != nil {
				return fmt.Errorf("header %d (%s): %w", i, job.Name, err)
			}
		default:
			return fmt.Errorf("header %d (%s): invalid kind %q, must be one of: defines, hex, rom", i, job.Name, job.Kind)
		}
	}

	return nil
}

func validateROM(r *ROMConfig) error {
	if r == nil {
		return fmt.Errorf("rom section is required for rom jobs")
	}

	if !identifierPattern.MatchString(r.ArrayName) {
		return fmt.Errorf("array_name must be a C identifier, got: %q", r.ArrayName)
	}

	if r.Capacity <= 0 || r.Capacity > 65535 {
		return fmt.Errorf("capacity must be between 1 and 65535, got: %d", r.Capacity)
	}

	for _, h := range r.Hashes {
		if !hashPattern.MatchString(h) {
			return fmt.Errorf("hash must be 40 hex digits, got: %s", h)
		}
	}

	if len(r.Hashes) == 0 && len(r.Text) == 0 && r.JSONFile == "" {
		return fmt.Errorf("rom needs at least one hash, text or json_file")
	}

	return nil
}

func (c *Config) validateUpload() error {
	if !c.Upload.Enabled {
		return nil
	}

	if c.Upload.Device == "" {
		return fmt.Errorf("device is required")
	}

	if c.Upload.HexFile == "" {
		return fmt.Errorf("hex_file is required")
	}

	if c.Upload.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got: %d", c.Upload.BaudRate)
	}

	if c.Upload.ReadTimeoutSec <= 0 {
		return fmt.Errorf("read_timeout_sec must be positive, got: %d", c.Upload.ReadTimeoutSec)
	}

	if c.Upload.RecordDelayMs < 0 {
		return fmt.Errorf("record_delay_ms must be non-negative, got: %d", c.Upload.RecordDelayMs)
	}

	return nil
}

func (c *Config) validateNATS() error {
	// Empty URL disables event publication
	if c.NATS.URL == "" {
		return nil
	}

	if !strings.HasPrefix(c.NATS.URL, "nats://") {
		return fmt.Errorf("url must start with nats://, got: %s", c.NATS.URL)
	}

	if c.NATS.Subject == "" {
		return fmt.Errorf("subject is required")
	}

	// -1 means unlimited reconnects (NATS client convention)
	if c.NATS.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects must be -1 (unlimited) or non-negative, got: %d", c.NATS.MaxReconnects)
	}

	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive, got: %d", c.Logging.MaxSizeMB)
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative, got: %d", c.Logging.MaxBackups)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}
