package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"htools/header"
)

// Destination writes rendered headers to a directory, or to stdout when
// no directory is given, and announces each one through the publisher.
type Destination struct {
	stdout    io.Writer
	publisher *EventPublisher
	logger    *slog.Logger
	mu        sync.Mutex
}

// DestinationConfig contains configuration for Destination
type DestinationConfig struct {
	Stdout    io.Writer       // nil = os.Stdout
	Publisher *EventPublisher // optional
	Logger    *slog.Logger
}

// NewDestination creates a new Destination
func NewDestination(cfg *DestinationConfig) *Destination {
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Destination{
		stdout:    stdout,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Write stores content for the header called name under dir and returns
// the path written ("-" for stdout).
func (d *Destination) Write(dir, name, content string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dir == "" {
		if err := header.Write(d.stdout, content); err != nil {
			return "", fmt.Errorf("failed to write %s to stdout: %w", name, err)
		}
		d.logger.Info("Wrote header",
			"name", name,
			"path", "-",
			"bytes", len(content)+1)

		d.publisher.PublishHeaderWritten(name, "-", len(content)+1)
		return "-", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, header.FileName(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	writeErr := header.Write(f, content)
	closeErr := f.Close()
	if writeErr != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, closeErr)
	}

	d.logger.Info("Wrote header",
		"name", name,
		"path", path,
		"bytes", len(content)+1)

	d.publisher.PublishHeaderWritten(name, path, len(content)+1)
	return path, nil
}
