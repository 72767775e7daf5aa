package main

import (
	"testing"
	"time"

	"github.com/roelfdiedericks/zaibridge/internal/config"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

func TestGlobalsLevel(t *testing.T) {
	tests := []struct {
		name       string
		g          Globals
		configured string
		want       int
	}{
		{"config only", Globals{}, "warn", LevelWarn},
		{"empty config", Globals{}, "", LevelInfo},
		{"debug flag wins", Globals{Debug: true}, "error", LevelDebug},
		{"trace beats debug", Globals{Debug: true, Trace: true}, "info", LevelTrace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.g.level(tt.configured); got != tt.want {
				t.Errorf("level(%q) = %d, want %d", tt.configured, got, tt.want)
			}
		})
	}
}

func TestCaptureOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Login.Interval = "250ms"
	cfg.Login.MaxAttempts = 7

	opts := captureOptions(cfg)
	if opts.Interval != 250*time.Millisecond || opts.MaxInterval != 5*time.Second {
		t.Errorf("intervals = %v / %v", opts.Interval, opts.MaxInterval)
	}
	if opts.MaxAttempts != 7 || opts.Domain != "z.ai" {
		t.Errorf("opts = %+v", opts)
	}
	if len(opts.URLs) != 2 || len(opts.TokenCookies) != 2 {
		t.Errorf("cookie settings not carried: %+v", opts)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	g := &Globals{Debug: true}
	t.Chdir(t.TempDir())

	cfg, path, err := g.load()
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Errorf("path = %q, want defaults", path)
	}
	if cfg.Model != "glm-5" {
		t.Errorf("Model = %q", cfg.Model)
	}
}
