package main

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/gpttools-desk/internal/config"
)

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:1420", true},
		{"http://127.0.0.1:48761", true},
		{"http://[::1]:48761", true},
		{"tauri://localhost", true},
		{"https://tauri.localhost", true},
		{"https://evil.example", false},
		{"http://localhost.evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/feed", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := localOrigin(r); got != tt.want {
				t.Errorf("localOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger := newLogger(config.LoggingConfig{Level: "nonsense", Format: "json"})
	if logger == nil {
		t.Fatal("newLogger returned nil")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled for an unknown level")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := retryPolicy(config.RetryConfig{Retries: 3, Delay: 250 * time.Millisecond})
	if p.Retries != 3 || p.Delay != 250*time.Millisecond {
		t.Errorf("policy = %+v", p)
	}
}
