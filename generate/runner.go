package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"htools/config"
	"htools/header"
	"htools/hexrec"
	"htools/output"
	"htools/rom"
	"htools/serial"

	"github.com/google/uuid"
)

// PortOpener opens the serial port used for uploads
type PortOpener func(device string, baudRate int, readTimeout time.Duration) (serial.Port, error)

// Runner renders every configured header and runs the optional upload
type Runner struct {
	cfg       *config.Config
	formatter *header.Formatter
	dest      *output.Destination
	publisher *output.EventPublisher
	openPort  PortOpener
	logger    *slog.Logger
	runID     string
}

// RunnerConfig contains configuration for Runner
type RunnerConfig struct {
	Config      *config.Config
	Destination *output.Destination
	Publisher   *output.EventPublisher // optional
	OpenPort    PortOpener             // nil = serial.OpenPort
	Now         func() time.Time       // nil = time.Now
	RunID       string                 // empty = new UUID
	Logger      *slog.Logger
}

// Result summarizes a run
type Result struct {
	RunID   string
	Written []string // paths, "-" for stdout
	Upload  *serial.Stats
}

// NewRunner creates a new Runner
func NewRunner(cfg *RunnerConfig) *Runner {
	runID := cfg.RunID
	if runID == "" {
		runID = NewRunID()
	}
	openPort := cfg.OpenPort
	if openPort == nil {
		openPort = func(device string, baudRate int, readTimeout time.Duration) (serial.Port, error) {
			return serial.OpenPort(device, baudRate, readTimeout)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		cfg: cfg.Config,
		formatter: &header.Formatter{
			Now:        cfg.Now,
			DateFormat: cfg.Config.Format.DateFormat,
		},
		dest:      cfg.Destination,
		publisher: cfg.Publisher,
		openPort:  openPort,
		logger:    logger.With("run", runID),
		runID:     runID,
	}
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// RunID returns the identifier attached to logs and events
func (r *Runner) RunID() string {
	return r.runID
}

// Run renders jobs in order. The first failure stops the run.
func (r *Runner) Run(ctx context.Context, version string) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: r.runID}

	r.logger.Info("Starting header generation", "jobs", len(r.cfg.Headers))
	r.publisher.PublishRunStart(version, len(r.cfg.Headers))

	for _, job := range r.cfg.Headers {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		content, err := r.Render(job)
		if err != nil {
			r.publisher.PublishError(job.Name, err.Error())
			return result, fmt.Errorf("header %s: %w", job.Name, err)
		}

		path, err := r.dest.Write(job.Output, job.Name, content)
		if err != nil {
			r.publisher.PublishError(job.Name, err.Error())
			return result, fmt.Errorf("header %s: %w", job.Name, err)
		}
		result.Written = append(result.Written, path)
	}

	if r.cfg.Upload.Enabled {
		stats, err := r.upload(ctx)
		if err != nil {
			r.publisher.PublishError("", err.Error())
			return result, fmt.Errorf("upload: %w", err)
		}
		result.Upload = stats
	}

	elapsed := time.Since(start)
	r.publisher.PublishRunComplete(len(result.Written), elapsed)
	r.logger.Info("Header generation finished",
		"written", len(result.Written),
		"elapsed", elapsed)

	return result, nil
}

// Render produces the complete text of one header job
func (r *Runner) Render(job config.HeaderJob) (string, error) {
	switch job.Kind {
	case config.KindDefines:
		return r.renderDefines(job), nil
	case config.KindHex:
		return r.renderHex(job)
	case config.KindROM:
		return r.renderROM(job)
	default:
		return "", fmt.Errorf("unknown kind %q", job.Kind)
	}
}

func (r *Runner) renderDefines(job config.HeaderJob) string {
	var b strings.Builder
	b.WriteString(r.formatter.Header(job.Name, "", r.cfg.App.ScriptName))
	b.WriteString("\n")
	b.WriteString(header.SectionLine("Definitions", r.cfg.Format.BannerWidth))
	b.WriteString("\n")
	for _, d := range job.Defines {
		b.WriteString(header.DefineLine(d.Name, d.Value))
		b.WriteString("\n")
	}
	b.WriteString(r.formatter.Footer(job.Name))
	return b.String()
}

func (r *Runner) renderHex(job config.HeaderJob) (string, error) {
	records, err := readHexFile(job.Source)
	if err != nil {
		return "", err
	}

	r.logger.Debug("Parsed hex file", "source", job.Source, "records", len(records))

	table := &hexrec.Table{
		Prefix:  job.Name,
		Script:  r.cfg.App.ScriptName,
		Source:  job.Source,
		Width:   r.cfg.Format.BannerWidth,
		Records: records,
	}
	return table.Render(r.formatter), nil
}

func (r *Runner) renderROM(job config.HeaderJob) (string, error) {
	b := rom.NewBuilder()
	for _, h := range job.ROM.Hashes {
		if err := b.AddHash(h); err != nil {
			return "", err
		}
	}
	for _, s := range job.ROM.Text {
		if err := b.AddText(s); err != nil {
			return "", err
		}
	}
	if job.ROM.JSONFile != "" {
		data, err := os.ReadFile(job.ROM.JSONFile)
		if err != nil {
			return "", fmt.Errorf("failed to read ROM json: %w", err)
		}
		if !json.Valid(data) {
			return "", fmt.Errorf("ROM json %s is not valid JSON", job.ROM.JSONFile)
		}
		if err := b.AddCompressed(data); err != nil {
			return "", err
		}
	}

	words, err := b.Words(job.ROM.Capacity)
	if err != nil {
		return "", err
	}

	r.logger.Debug("Built ROM image",
		"name", job.Name,
		"words", len(words),
		"capacity", job.ROM.Capacity)

	arr := &rom.Array{
		Name:     job.ROM.ArrayName,
		Prefix:   job.Name,
		Script:   r.cfg.App.ScriptName,
		Width:    r.cfg.Format.BannerWidth,
		Capacity: job.ROM.Capacity,
		Words:    words,
	}
	return arr.Render(r.formatter), nil
}

func (r *Runner) upload(ctx context.Context) (*serial.Stats, error) {
	up := r.cfg.Upload

	records, err := readHexFile(up.HexFile)
	if err != nil {
		return nil, err
	}

	port, err := r.openPort(up.Device, up.BaudRate, up.ReadTimeout())
	if err != nil {
		return nil, err
	}
	defer port.Close()

	r.logger.Info("Uploading hex records",
		"device", up.Device,
		"baud_rate", up.BaudRate,
		"records", len(records))

	uploader := serial.NewUploader(up.RecordDelay(), r.logger)
	stats, err := uploader.Upload(ctx, port, records)
	if err != nil {
		return nil, err
	}

	r.publisher.PublishUploadDone(up.Device, stats.Records, stats.BytesWritten)
	return &stats, nil
}

func readHexFile(path string) ([]hexrec.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hex file: %w", err)
	}
	defer f.Close()

	records, err := hexrec.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
