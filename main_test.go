package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"", false, true},
		{"bogus", false, true},
		{"error", false, false},
	}
	for _, tt := range tests {
		setupLogging(tt.level, "json")
		ctx := context.Background()
		if got := slog.Default().Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
			t.Errorf("level %q: debug enabled = %v", tt.level, got)
		}
		if got := slog.Default().Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
			t.Errorf("level %q: info enabled = %v", tt.level, got)
		}
	}
}
