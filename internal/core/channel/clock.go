package channel

import (
	"context"
	"time"

	"github.com/kirillkom/taskchannel/internal/core/ports"
)

// SystemClock is the wall-clock implementation used outside tests.
func SystemClock() ports.Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return systemTimer{timer: time.AfterFunc(d, fn)}
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type systemTimer struct {
	timer *time.Timer
}

func (t systemTimer) Reset(d time.Duration) bool { return t.timer.Reset(d) }
func (t systemTimer) Stop() bool                 { return t.timer.Stop() }
