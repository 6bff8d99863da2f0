package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kirillkom/taskchannel/internal/config"
	"github.com/kirillkom/taskchannel/internal/core/channel"
	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/infrastructure/taskstore/sqlite"
	"github.com/kirillkom/taskchannel/internal/infrastructure/token"
	"github.com/kirillkom/taskchannel/internal/infrastructure/transport/websocket"
	"github.com/kirillkom/taskchannel/internal/observability/logging"
	"github.com/kirillkom/taskchannel/internal/observability/metrics"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Tracker *channel.Tracker
	Metrics *metrics.ChannelMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger("taskchannel", cfg.LogLevel)

	if dir := filepath.Dir(cfg.TaskStorePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create task store dir: %w", err)
		}
	}
	db, err := sqlite.OpenDB(cfg.TaskStorePath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	store := sqlite.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	issuer := token.New(cfg.TokenIssueURL, token.Options{
		AuthHeader: cfg.SessionHeader,
		AuthValue:  cfg.SessionValue,
		Timeout:    cfg.HandshakeTimeout,
	})
	dialer := websocket.NewDialer(cfg.HandshakeTimeout)
	channelMetrics := metrics.NewChannelMetrics("taskchannel")

	tracker, err := channel.New(channel.Config{
		Service:          "taskchannel",
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		ReconnectDelay:   cfg.ReconnectDelay,
		MaxReconnects:    cfg.MaxReconnects,
		DebounceWindow:   cfg.DebounceWindow,
	}, channel.Deps{
		Issuer:  issuer,
		Dialer:  dialer,
		Store:   store,
		Sink:    &logSink{logger: logger},
		Logger:  logger,
		Metrics: channelMetrics,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init task channel: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Tracker: tracker,
		Metrics: channelMetrics,

		closeFn: func() {
			tracker.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// logSink surfaces intermediate progress in the structured log; terminal
// outcomes are reported by the tracker itself.
type logSink struct {
	logger *slog.Logger
}

func (s *logSink) Update(msg domain.ProgressMessage) {
	s.logger.Info("task_progress",
		"task_id", msg.TaskID,
		"state", msg.State,
		"progress", msg.Progress,
	)
}
