package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/unranked/internal/domain"
	"github.com/pscheid92/unranked/internal/platform/correlation"
	"github.com/pscheid92/unranked/internal/platform/version"
)

const DefaultHeartbeatInterval = 60 * time.Second

// Heartbeat periodically stores the current time under domain.KeyHeartbeat so
// the last moment the process was alive survives a restart.
type Heartbeat struct {
	saver    domain.Saver
	clock    clockwork.Clock
	interval time.Duration
}

func NewHeartbeat(saver domain.Saver, clock clockwork.Clock, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{saver: saver, clock: clock, interval: interval}
}

// Run beats once immediately and then every interval. It blocks until ctx is
// cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Heartbeat started", "interval", h.interval)

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Heartbeat stopped")
			return
		case <-ticker.Chan():
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	now := domain.TimestampOf(h.clock.Now())
	h.saver.Save(correlation.Ensure(ctx), domain.KeyHeartbeat, now)
	slog.DebugContext(ctx, "Heartbeat", "timestamp", int32(now))
}

// SinceLastHeartbeat describes how long ago last was recorded, for the
// startup message.
func SinceLastHeartbeat(now time.Time, last domain.UnixTimestamp) string {
	if last == 0 {
		return "First run"
	}
	return "Last heartbeat " + now.Sub(last.Time()).Truncate(time.Second).String() + " ago"
}

// StartupMessage is posted to the bot status channel once the process is up.
func StartupMessage(info version.Info, now time.Time, last domain.UnixTimestamp) string {
	return fmt.Sprintf("Unranked %s is up. %s", info, SinceLastHeartbeat(now, last))
}
