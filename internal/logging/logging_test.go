package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"metricboard/config"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  config.LogConfig
		want zapcore.Level
	}{
		{cfg: config.LogConfig{Level: "debug", Format: "console"}, want: zapcore.DebugLevel},
		{cfg: config.LogConfig{Level: "warn", Format: "json"}, want: zapcore.WarnLevel},
		{cfg: config.LogConfig{Level: "", Format: "json"}, want: zapcore.InfoLevel},
	}

	for _, tc := range tests {
		logger, err := New(tc.cfg)
		if err != nil {
			t.Fatalf("New(%+v): %v", tc.cfg, err)
		}
		if !logger.Core().Enabled(tc.want) {
			t.Fatalf("New(%+v): expected %s enabled", tc.cfg, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Fatalf("New(%+v): expected %s disabled", tc.cfg, tc.want-1)
		}
	}
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
