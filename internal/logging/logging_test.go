package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: filepath.Join("does", "not", "exist", "owntube.log"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept warn")
	logger.Error("kept error")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0]["message"] != "kept warn" || entries[0]["level"] != "warn" {
		t.Errorf("Unexpected first entry %v", entries[0])
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.WithChannelID("UC123").
		WithVideoID("vid-1").
		WithJobID("job-1").
		WithField("height", 720).
		Info("tagged")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry["channel_id"] != "UC123" || entry["video_id"] != "vid-1" || entry["job_id"] != "job-1" {
		t.Errorf("Missing identifiers in %v", entry)
	}
	if entry["height"] != float64(720) {
		t.Errorf("Expected height 720, got %v", entry["height"])
	}
}

func TestLogAssetFetch(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogAssetFetch("http://example.com/a.jpg", "/tmp/a.jpg", 2048, time.Second, nil)
	logger.LogAssetFetch("http://example.com/b.jpg", "/tmp/b.jpg", 0, time.Second, errors.New("HTTP 404"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "info" || entries[0]["size_bytes"] != float64(2048) {
		t.Errorf("Unexpected success entry %v", entries[0])
	}
	if entries[1]["level"] != "warn" || entries[1]["error"] != "HTTP 404" {
		t.Errorf("Unexpected failure entry %v", entries[1])
	}
}

func TestLogIngestEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogIngestEvent("UC123", "imported", map[string]interface{}{"videos": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["event"] != "imported" || entries[0]["videos"] != float64(3) {
		t.Errorf("Unexpected entries %v", entries)
	}
}

func TestLogDownloadProgress(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	logger.LogDownloadProgress("vid-1", 720, "in_progress", 0.5)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["video_id"] != "vid-1" || entries[0]["state"] != "in_progress" {
		t.Errorf("Unexpected entry %v", entries[0])
	}
	if entries[0]["progress"] != 0.5 {
		t.Errorf("Expected progress 0.5, got %v", entries[0]["progress"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := Nop()
	logger.Info("nothing")
	logger.WithVideoID("x").Error("nothing")
}

func BenchmarkLogInfo(b *testing.B) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark message")
	}
}
