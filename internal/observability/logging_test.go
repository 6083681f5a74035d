package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "defaults", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.Slog() == nil {
				t.Error("Slog() is nil")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		lines int
	}{
		{"debug", 4},
		{"info", 3},
		{"warn", 2},
		{"warning", 2},
		{"error", 1},
		{"invalid", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: tt.level, Format: "json", Output: &buf})
			ctx := context.Background()
			logger.Debug(ctx, "debug message")
			logger.Info(ctx, "info message")
			logger.Warn(ctx, "warn message")
			logger.Error(ctx, "error message")

			got := strings.Count(strings.TrimSpace(buf.String()), "\n") + 1
			if buf.Len() == 0 {
				got = 0
			}
			if got != tt.lines {
				t.Errorf("expected %d lines, got %d: %s", tt.lines, got, buf.String())
			}
		})
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		log    func(l *Logger)
		secret string
	}{
		{
			name:   "anthropic key in message",
			log:    func(l *Logger) { l.Info(context.Background(), "using sk-ant-"+strings.Repeat("a", 40)) },
			secret: "sk-ant-" + strings.Repeat("a", 40),
		},
		{
			name:   "api key attribute by name",
			log:    func(l *Logger) { l.Info(context.Background(), "configured", "api_key", "plain-value") },
			secret: "plain-value",
		},
		{
			name: "error value",
			log: func(l *Logger) {
				l.Error(context.Background(), "call failed", "error", errors.New("Bearer abcdefghijklmnopqrstuvwxyz"))
			},
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name:   "through slog",
			log:    func(l *Logger) { l.Slog().Warn("retry", "detail", "password=hunter2hunter2") },
			secret: "hunter2hunter2",
		},
		{
			name:   "with fields",
			log:    func(l *Logger) { l.WithFields("token", "tok-123").Info(context.Background(), "hello") },
			secret: "tok-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Format: "json", Output: &buf})
			tt.log(logger)
			if strings.Contains(buf.String(), tt.secret) {
				t.Errorf("expected secret to be redacted, got %s", buf.String())
			}
			if !strings.Contains(buf.String(), "[REDACTED]") {
				t.Errorf("expected redaction marker, got %s", buf.String())
			}
		})
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := AddSessionID(context.Background(), "sess-1")
	ctx = AddRunID(ctx, "run-9")
	ctx = AddAgent(ctx, "lead")
	logger.Info(ctx, "iteration started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for key, want := range map[string]string{"session_id": "sess-1", "run_id": "run-9", "agent": "lead"} {
		if record[key] != want {
			t.Errorf("expected %s=%q, got %v", key, want, record[key])
		}
	}
	if GetSessionID(ctx) != "sess-1" || GetRunID(ctx) != "run-9" {
		t.Errorf("expected context getters to round trip")
	}
}
