package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"htools/config"
	"htools/output"
	"htools/rom"
	"htools/serial"
)

const runtimeHex = `:0480CE000000001D91
:01FFA40080DC
:00000001FF
`

type recordingConn struct {
	mu    sync.Mutex
	types []string
}

func (c *recordingConn) Publish(subject string, data []byte) error {
	var e output.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	c.mu.Lock()
	c.types = append(c.types, e.Type)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) IsConnected() bool { return true }

// scriptedPort answers every record line with OK
type scriptedPort struct {
	pending bytes.Buffer
	written bytes.Buffer
	closed  bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.pending.Len() == 0 {
		return 0, serial.ErrReadTimeout
	}
	return p.pending.Read(b)
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.written.Write(b)
	if bytes.HasSuffix(b, []byte("\r\n")) {
		p.pending.WriteString("... OK\n")
	}
	return len(b), nil
}

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

func (p *scriptedPort) Device() string { return "/dev/ttyTEST" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedNow() time.Time {
	return time.Date(2025, 12, 3, 15, 4, 0, 0, time.Local)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func baseConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	hexPath := filepath.Join(dir, "runtime.hex")
	jsonPath := filepath.Join(dir, "build.json")
	writeFile(t, hexPath, runtimeHex)
	writeFile(t, jsonPath, `{"board":"marble","rev":"1.4"}`)

	cfg, err := config.Parse([]byte(`{}`), ".json")
	if err != nil {
		t.Fatal(err)
	}
	cfg.App.ScriptName = "gen_test"
	cfg.Headers = []config.HeaderJob{
		{
			Name:   "i2c_pm",
			Kind:   config.KindDefines,
			Output: filepath.Join(dir, "include"),
			Defines: []config.Define{
				{Name: "LM75_ADDR", Value: "0x90"},
				{Name: "MAX6639_ADDR", Value: "0x58"},
			},
		},
		{
			Name:   "xrp_runtime",
			Kind:   config.KindHex,
			Output: filepath.Join(dir, "include"),
			Source: hexPath,
		},
		{
			Name:   "config_rom",
			Kind:   config.KindROM,
			Output: filepath.Join(dir, "include"),
			ROM: &config.ROMConfig{
				ArrayName: "config_romx",
				Capacity:  2048,
				Hashes:    []string{"7ba5acc8c425250c97e697ff3d357421714f2f80"},
				Text:      []string{"LBNL BEDROCK ROM"},
				JSONFile:  jsonPath,
			},
		},
	}
	return cfg
}

func newTestRunner(cfg *config.Config, conn *recordingConn, port *scriptedPort) *Runner {
	logger := testLogger()
	var pub *output.EventPublisher
	if conn != nil {
		pub = output.NewEventPublisher(&output.EventPublisherConfig{
			Conn:    conn,
			Subject: "test.events",
			Logger:  logger,
		})
	}
	return NewRunner(&RunnerConfig{
		Config:      cfg,
		Destination: output.NewDestination(&output.DestinationConfig{Publisher: pub, Logger: logger}),
		Publisher:   pub,
		OpenPort: func(device string, baudRate int, readTimeout time.Duration) (serial.Port, error) {
			if port == nil {
				return nil, errors.New("no port")
			}
			return port, nil
		},
		Now:    fixedNow,
		RunID:  "run-test",
		Logger: logger,
	})
}

func TestRunWritesAllHeaders(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	conn := &recordingConn{}

	result, err := newTestRunner(cfg, conn, nil).Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.RunID != "run-test" {
		t.Errorf("RunID = %q, want run-test", result.RunID)
	}
	if len(result.Written) != 3 {
		t.Fatalf("len(Written) = %d, want 3", len(result.Written))
	}

	for _, name := range []string{"i2c_pm.h", "xrp_runtime.h", "config_rom.h"} {
		content, err := os.ReadFile(filepath.Join(dir, "include", name))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		guard := "__" + strings.ToUpper(strings.TrimSuffix(name, ".h")) + "_H_"
		if !strings.Contains(string(content), "#ifndef "+guard+"\n") {
			t.Errorf("%s missing guard open %s", name, guard)
		}
		if !strings.HasSuffix(string(content), "#endif /* "+guard+" */\n") {
			t.Errorf("%s missing guard close %s", name, guard)
		}
		if !strings.Contains(string(content), "Auto-generated by gen_test.") {
			t.Errorf("%s missing script name", name)
		}
	}

	wantTypes := []string{
		output.EventRunStart,
		output.EventHeaderWritten,
		output.EventHeaderWritten,
		output.EventHeaderWritten,
		output.EventRunComplete,
	}
	if strings.Join(conn.types, ",") != strings.Join(wantTypes, ",") {
		t.Errorf("events = %v, want %v", conn.types, wantTypes)
	}
}

func TestRenderDefines(t *testing.T) {
	cfg := baseConfig(t, t.TempDir())
	cfg.Format.BannerWidth = 30
	r := newTestRunner(cfg, nil, nil)

	got, err := r.Render(cfg.Headers[0])
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	wants := []string{
		" * Date: 2025-12-03\n",
		"/* ===== Definitions ====== */\n",
		"#define LM75_ADDR                  (0x90)\n",
		"#define MAX6639_ADDR               (0x58)\n",
	}
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q:\n%s", want, got)
		}
	}
}

func TestRenderDefinesMDY(t *testing.T) {
	cfg := baseConfig(t, t.TempDir())
	cfg.Format.DateFormat = "mdy"
	r := newTestRunner(cfg, nil, nil)

	got, err := r.Render(cfg.Headers[0])
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(got, " * Date: 12/3/2025\n") {
		t.Errorf("Render() missing mdy date:\n%s", got)
	}
}

func TestRenderROMDecodes(t *testing.T) {
	cfg := baseConfig(t, t.TempDir())
	r := newTestRunner(cfg, nil, nil)

	got, err := r.Render(cfg.Headers[2])
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(got, "static uint16_t config_romx[] = {\n  0x800a, 0x7ba5,") {
		t.Errorf("Render() array does not start with hash descriptor:\n%s", got)
	}
	if !strings.Contains(got, "#define CONFIG_ROM_SIZE            (2048)\n") {
		t.Errorf("Render() missing size define:\n%s", got)
	}

	// Rebuild the same image and confirm the JSON survives
	b := rom.NewBuilder()
	b.AddCompressed([]byte(`{"board":"marble","rev":"1.4"}`))
	words, _ := b.Words(0)
	descs, err := rom.Decode(words)
	if err != nil || len(descs) != 1 || !json.Valid(descs[0].Data) {
		t.Errorf("Decode() = %v, %v", descs, err)
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config, string)
		job    int
	}{
		{
			name:   "missing hex file",
			modify: func(c *config.Config, dir string) { c.Headers[1].Source = filepath.Join(dir, "missing.hex") },
			job:    1,
		},
		{
			name: "corrupt hex file",
			modify: func(c *config.Config, dir string) {
				writeFile(t, c.Headers[1].Source, ":0480CE000000001D92\n:00000001FF\n")
			},
			job: 1,
		},
		{
			name:   "rom over capacity",
			modify: func(c *config.Config, dir string) { c.Headers[2].ROM.Capacity = 8 },
			job:    2,
		},
		{
			name: "rom json invalid",
			modify: func(c *config.Config, dir string) {
				writeFile(t, c.Headers[2].ROM.JSONFile, "{not json")
			},
			job: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := baseConfig(t, dir)
			tt.modify(cfg, dir)

			if _, err := newTestRunner(cfg, nil, nil).Render(cfg.Headers[tt.job]); err == nil {
				t.Error("Render() expected error, got nil")
			}
		})
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	cfg.Headers[1].Source = filepath.Join(dir, "missing.hex")
	conn := &recordingConn{}

	result, err := newTestRunner(cfg, conn, nil).Run(context.Background(), "test")
	if err == nil {
		t.Fatal("Run() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "header xrp_runtime") {
		t.Errorf("Run() error = %q, want job name", err.Error())
	}
	if len(result.Written) != 1 {
		t.Errorf("len(Written) = %d, want 1", len(result.Written))
	}
	if conn.types[len(conn.types)-1] != output.EventError {
		t.Errorf("last event = %q, want error", conn.types[len(conn.types)-1])
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := baseConfig(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(cfg, nil, nil).Run(ctx, "test")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want %v", err, context.Canceled)
	}
}

func TestRunUpload(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	cfg.Headers = nil
	cfg.Upload = config.UploadConfig{
		Enabled:        true,
		Device:         "/dev/ttyTEST",
		BaudRate:       115200,
		HexFile:        filepath.Join(dir, "runtime.hex"),
		ReadTimeoutSec: 1,
	}
	port := &scriptedPort{}
	conn := &recordingConn{}

	result, err := newTestRunner(cfg, conn, port).Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Upload == nil || result.Upload.Records != 3 {
		t.Fatalf("Upload = %+v, want 3 records", result.Upload)
	}
	if !port.closed {
		t.Error("port was not closed after upload")
	}
	if !strings.HasPrefix(port.written.String(), ":0480CE000000001D91\r\n") {
		t.Errorf("written = %q", port.written.String())
	}

	found := false
	for _, typ := range conn.types {
		if typ == output.EventUploadDone {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, want upload_done", conn.types)
	}
}

func TestRunUploadOpenFails(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(t, dir)
	cfg.Headers = nil
	cfg.Upload = config.UploadConfig{
		Enabled:        true,
		Device:         "/dev/ttyTEST",
		BaudRate:       115200,
		HexFile:        filepath.Join(dir, "runtime.hex"),
		ReadTimeoutSec: 1,
	}

	_, err := newTestRunner(cfg, nil, nil).Run(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "upload") {
		t.Errorf("Run() error = %v, want upload failure", err)
	}
}

func TestNewRunIDUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b || len(a) != 36 {
		t.Errorf("NewRunID() = %q, %q", a, b)
	}
}
