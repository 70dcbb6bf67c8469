package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		input   string
		wantLvl slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			logger := newLogger(tt.input)
			if logger == nil {
				t.Fatal("newLogger returned nil")
			}
			if !logger.Enabled(context.Background(), tt.wantLvl) {
				t.Errorf("newLogger(%q): expected level %v to be enabled", tt.input, tt.wantLvl)
			}
			if tt.wantLvl > slog.LevelDebug && logger.Enabled(context.Background(), slog.LevelDebug) {
				t.Errorf("newLogger(%q): Debug should be disabled for level %v", tt.input, tt.wantLvl)
			}
		})
	}
}

func TestResolveMetricsDisabledByDefault(t *testing.T) {
	logger := newLogger("error")
	m, err := resolveMetrics(context.Background(), "", logger)
	if err != nil {
		t.Fatalf("resolveMetrics: %v", err)
	}
	if m != nil {
		t.Error("resolveMetrics(\"\") should return nil metrics")
	}
}

func TestResolveMetricsStartsServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := newLogger("error")

	m, err := resolveMetrics(ctx, "127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("resolveMetrics: %v", err)
	}
	if m == nil {
		t.Fatal("resolveMetrics with an addr should return non-nil metrics")
	}
}
