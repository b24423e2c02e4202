package serial

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"htools/hexrec"
)

// Escape makes the board abandon a transfer in progress
const Escape = 0x1B

// ErrDeviceFault is returned when the board rejects a record
var ErrDeviceFault = errors.New("board rejected record")

// Stats summarizes an upload
type Stats struct {
	Records      int
	BytesWritten int64
	Unsent       int // records left after the board ended the transfer
}

// Uploader streams Intel HEX records to a board waiting in hex-file mode.
// The board echoes a dot per verified byte and ends each record with a
// status line.
type Uploader struct {
	Delay  time.Duration // pause between records
	Logger *slog.Logger
}

// NewUploader creates an Uploader
func NewUploader(delay time.Duration, logger *slog.Logger) *Uploader {
	return &Uploader{Delay: delay, Logger: logger}
}

// Upload sends records in order and waits for the board's verdict on each.
// Cancelling ctx sends Escape and returns the context error.
func (u *Uploader) Upload(ctx context.Context, port Port, records []hexrec.Record) (Stats, error) {
	var stats Stats
	reader := bufio.NewReader(port)

	for i, rec := range records {
		select {
		case <-ctx.Done():
			u.abort(port)
			return stats, ctx.Err()
		default:
		}

		line := rec.String() + "\r\n"
		n, err := io.WriteString(port, line)
		stats.BytesWritten += int64(n)
		if err != nil {
			return stats, fmt.Errorf("record %d: write to %s: %w", i, port.Device(), err)
		}

		status, err := u.awaitStatus(reader)
		if err != nil {
			return stats, fmt.Errorf("record %d (%04X): %w", i, rec.Address, err)
		}
		if isFault(status) {
			u.abort(port)
			return stats, fmt.Errorf("record %d (%04X): %w: %s", i, rec.Address, ErrDeviceFault, status)
		}
		stats.Records++

		u.logger().Debug("Record accepted",
			"device", port.Device(),
			"record", i,
			"address", fmt.Sprintf("%04X", rec.Address),
			"status", status)

		// Any non-data record makes the board leave hex-file mode
		if rec.Type != hexrec.TypeData {
			stats.Unsent = len(records) - i - 1
			if stats.Unsent > 0 {
				u.logger().Warn("Board ended transfer before last record",
					"device", port.Device(),
					"record", i,
					"type", rec.Type.String(),
					"unsent", stats.Unsent)
			}
			break
		}

		if u.Delay > 0 {
			select {
			case <-ctx.Done():
				u.abort(port)
				return stats, ctx.Err()
			case <-time.After(u.Delay):
			}
		}
	}

	u.logger().Info("Upload complete",
		"device", port.Device(),
		"records", stats.Records,
		"unsent", stats.Unsent,
		"bytes", stats.BytesWritten)

	return stats, nil
}

// awaitStatus skips console chatter until a record verdict arrives
func (u *Uploader) awaitStatus(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		status := strings.TrimSpace(strings.TrimLeft(line, "."))
		if status != "" && (isFault(status) || isAccepted(status)) {
			return status, nil
		}
		if err != nil {
			return "", fmt.Errorf("waiting for status: %w", err)
		}
		if status != "" {
			u.logger().Debug("Console output", "line", status)
		}
	}
}

func (u *Uploader) abort(port Port) {
	if _, err := port.Write([]byte{Escape}); err != nil {
		u.logger().Warn("Failed to send escape", "device", port.Device(), "error", err)
	}
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}

func isAccepted(status string) bool {
	// "rtype N" acknowledges a non-data record
	return status == "OK" || strings.HasPrefix(status, "rtype")
}

func isFault(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "fault") ||
		strings.HasPrefix(s, "bad") ||
		strings.Contains(s, "not yet handled")
}
