package switcher

import (
	"strings"
	"testing"
	"time"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyProcess, false},
		{"process", StrategyProcess, false},
		{" PIPE ", StrategyPipe, false},
		{"fifo", StrategyPipe, false},
		{"rtmp", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SafetyInterval != 2500*time.Millisecond {
		t.Errorf("SafetyInterval = %v", cfg.SafetyInterval)
	}
	if cfg.RetryLimit != 3 || cfg.SpawnConfirm != 700*time.Millisecond {
		t.Errorf("retry/confirm defaults = %d, %v", cfg.RetryLimit, cfg.SpawnConfirm)
	}
	// The output url has no default.
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "output url") {
		t.Errorf("Validate = %v, want missing output url", err)
	}
	cfg.Encoder.OutputURL = "rtmp://localhost/live/key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestConfig_Validate_reportsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoder.OutputURL = "rtmp://localhost/live/key"
	cfg.Strategy = StrategyPipe
	cfg.FIFOPath = ""
	cfg.GracefulTimeout = 0
	cfg.RetryLimit = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"fifo path", "graceful timeout", "retry limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
