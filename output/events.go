package output

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Event types - these are the discrete events we publish
const (
	EventRunStart      = "run_start"
	EventRunComplete   = "run_complete"
	EventHeaderWritten = "header_written"
	EventUploadDone    = "upload_done"
	EventError         = "error"
)

// Event is the base structure for all events published to NATS.
// Keep it simple and flat for easy querying.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      string         `json:"type"`
	RunID     string         `json:"run"`
	Instance  string         `json:"instance"`
	Header    string         `json:"header,omitempty"` // Job name
	Message   string         `json:"msg,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Publisher is the part of a NATS connection the EventPublisher needs
type Publisher interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
}

// EventPublisher publishes discrete events to NATS.
// It's designed to be optional - if nil, nothing breaks.
type EventPublisher struct {
	conn     Publisher
	subject  string
	runID    string
	instance string
	logger   *slog.Logger
}

// EventPublisherConfig contains configuration for EventPublisher
type EventPublisherConfig struct {
	Conn     Publisher
	Subject  string // e.g., "htools.events"
	RunID    string
	Instance string
	Logger   *slog.Logger
}

// NewEventPublisher creates a new EventPublisher.
// Returns nil if conn is nil (disabled mode).
func NewEventPublisher(cfg *EventPublisherConfig) *EventPublisher {
	if cfg == nil || cfg.Conn == nil {
		return nil
	}
	// A typed nil connection still counts as disabled
	if nc, ok := cfg.Conn.(*NATSConnection); ok && nc == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EventPublisher{
		conn:     cfg.Conn,
		subject:  cfg.Subject,
		runID:    cfg.RunID,
		instance: cfg.Instance,
		logger:   logger,
	}
}

// Publish sends an event to NATS. Safe to call on nil receiver.
func (e *EventPublisher) Publish(event Event) {
	if e == nil || e.conn == nil || !e.conn.IsConnected() {
		return
	}

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RunID == "" {
		event.RunID = e.runID
	}
	if event.Instance == "" {
		event.Instance = e.instance
	}

	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("Failed to marshal event", "error", err, "type", event.Type)
		return
	}

	if err := e.conn.Publish(e.subject, data); err != nil {
		e.logger.Warn("Failed to publish event", "error", err, "type", event.Type)
		return
	}

	e.logger.Debug("Published event",
		"type", event.Type,
		"header", event.Header,
		"message", event.Message)
}

// PublishRunStart publishes a run start event
func (e *EventPublisher) PublishRunStart(version string, jobs int) {
	e.Publish(Event{
		Type:    EventRunStart,
		Message: "Header generation started",
		Details: map[string]any{"version": version, "jobs": jobs},
	})
}

// PublishRunComplete publishes a run completion event
func (e *EventPublisher) PublishRunComplete(written int, elapsed time.Duration) {
	e.Publish(Event{
		Type:    EventRunComplete,
		Message: "Header generation finished",
		Details: map[string]any{"written": written, "elapsed_ms": elapsed.Milliseconds()},
	})
}

// PublishHeaderWritten publishes a header written event
func (e *EventPublisher) PublishHeaderWritten(name, path string, size int) {
	e.Publish(Event{
		Type:    EventHeaderWritten,
		Header:  name,
		Message: "Wrote " + path,
		Details: map[string]any{"path": path, "bytes": size},
	})
}

// PublishUploadDone publishes a serial upload completion event
func (e *EventPublisher) PublishUploadDone(device string, records int, bytes int64) {
	e.Publish(Event{
		Type:    EventUploadDone,
		Message: "Hex records uploaded to " + device,
		Details: map[string]any{"device": device, "records": records, "bytes": bytes},
	})
}

// PublishError publishes an error event
func (e *EventPublisher) PublishError(name, errMsg string) {
	e.Publish(Event{
		Type:    EventError,
		Header:  name,
		Message: errMsg,
	})
}
