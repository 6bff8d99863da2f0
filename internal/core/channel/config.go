package channel

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/taskchannel/internal/core/domain"
)

type Config struct {
	// Service labels logs and metrics.
	Service string

	// HandshakeTimeout bounds credential fetch plus transport handshake.
	HandshakeTimeout time.Duration
	// IdleTimeout tears the connection down after a window with no send
	// or receive activity. The next subscribe re-establishes it.
	IdleTimeout time.Duration
	// ReconnectDelay is the fixed delay between reconnect attempts after
	// an unexpected close.
	ReconnectDelay time.Duration
	// MaxReconnects bounds consecutive failed (re)connects before every
	// registered handler receives a synthetic terminal failure.
	MaxReconnects int
	// DebounceWindow coalesces a burst of subscribe/unsubscribe calls
	// into a single outbound update.
	DebounceWindow time.Duration
	// SettleDelay is a short cooperative pause after the post-connect
	// subscription flush, giving the server time to register the set.
	SettleDelay time.Duration

	// ConnectRate/ConnectBurst cap how fast churny callers can trigger
	// dials against the issuer and the endpoint.
	ConnectRate  rate.Limit
	ConnectBurst int

	// Terminal decides which inbound messages end a task. The status
	// strings are the external worker's contract, so this is pluggable.
	Terminal domain.TerminalFunc
}

func DefaultConfig() Config {
	return Config{
		Service:          "taskchannel",
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      25 * time.Minute,
		ReconnectDelay:   3 * time.Second,
		MaxReconnects:    5,
		DebounceWindow:   100 * time.Millisecond,
		SettleDelay:      150 * time.Millisecond,
		ConnectRate:      rate.Limit(1),
		ConnectBurst:     3,
		Terminal:         domain.DefaultTerminal,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.Service == "" {
		out.Service = def.Service
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = def.IdleTimeout
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = def.ReconnectDelay
	}
	if out.MaxReconnects <= 0 {
		out.MaxReconnects = def.MaxReconnects
	}
	if out.DebounceWindow <= 0 {
		out.DebounceWindow = def.DebounceWindow
	}
	if out.SettleDelay <= 0 {
		out.SettleDelay = def.SettleDelay
	}
	if out.ConnectRate <= 0 {
		out.ConnectRate = def.ConnectRate
	}
	if out.ConnectBurst <= 0 {
		out.ConnectBurst = def.ConnectBurst
	}
	if out.Terminal == nil {
		out.Terminal = domain.DefaultTerminal
	}

	return out
}
