package logging

import (
	"log/slog"
	"testing"
)

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tc := range cases {
		t.Setenv(levelEnv, tc.value)
		if got := levelFromEnv(); got != tc.want {
			t.Fatalf("level for %q: got %v, want %v", tc.value, got, tc.want)
		}
	}
}
