package config

import (
	"testing"
	"time"
)

func TestLoadUsesChannelDefaults(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT_SECONDS", "")
	t.Setenv("RECONNECT_DELAY_SECONDS", "")
	t.Setenv("MAX_RECONNECTS", "")
	t.Setenv("DEBOUNCE_WINDOW_MS", "")

	cfg := Load()
	if cfg.IdleTimeout != 25*time.Minute {
		t.Fatalf("expected default idle timeout 25m, got %v", cfg.IdleTimeout)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("expected default reconnect delay 3s, got %v", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnects != 5 {
		t.Fatalf("expected default max reconnects 5, got %d", cfg.MaxReconnects)
	}
	if cfg.DebounceWindow != 100*time.Millisecond {
		t.Fatalf("expected default debounce window 100ms, got %v", cfg.DebounceWindow)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT_SECONDS", "60")
	t.Setenv("MAX_RECONNECTS", "2")
	t.Setenv("DEBOUNCE_WINDOW_MS", "250")
	t.Setenv("TOKEN_ISSUE_URL", "https://app.example/api/ws-token")

	cfg := Load()
	if cfg.IdleTimeout != time.Minute {
		t.Fatalf("expected idle timeout 60s, got %v", cfg.IdleTimeout)
	}
	if cfg.MaxReconnects != 2 {
		t.Fatalf("expected max reconnects 2, got %d", cfg.MaxReconnects)
	}
	if cfg.DebounceWindow != 250*time.Millisecond {
		t.Fatalf("expected debounce window 250ms, got %v", cfg.DebounceWindow)
	}
	if cfg.TokenIssueURL != "https://app.example/api/ws-token" {
		t.Fatalf("expected token url override, got %q", cfg.TokenIssueURL)
	}
}

func TestLoadIgnoresUnparsableNumbers(t *testing.T) {
	t.Setenv("MAX_RECONNECTS", "lots")

	cfg := Load()
	if cfg.MaxReconnects != 5 {
		t.Fatalf("expected fallback on parse failure, got %d", cfg.MaxReconnects)
	}
}
