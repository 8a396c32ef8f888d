// presence.go rotates the bot's displayed status on a cron schedule.
package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/ccbot/pkg/ccbot/channels"
)

// presenceRotator cycles through a fixed list of status texts.
type presenceRotator struct {
	platform channels.PresenceChannel
	statuses []string
	cron     *cron.Cron
	logger   *slog.Logger

	mu  sync.Mutex
	idx int
}

// startPresence launches the status rotation when configured. The first
// status is set immediately; the rest follow the schedule.
func (b *Bot) startPresence(ctx context.Context) {
	statuses := b.cfg.Presence.Statuses
	schedule := b.cfg.Presence.Schedule
	if len(statuses) == 0 || schedule == "" {
		return
	}

	r := &presenceRotator{
		platform: b.platform,
		statuses: statuses,
		cron:     cron.New(),
		logger:   b.logger.With("component", "presence"),
	}
	r.apply(ctx)

	if _, err := r.cron.AddFunc(schedule, func() { r.rotate(ctx) }); err != nil {
		r.logger.Error("invalid presence schedule", "schedule", schedule, "error", err)
		return
	}
	r.cron.Start()
	b.presence = r

	r.logger.Info("presence rotation started",
		"statuses", len(statuses), "schedule", schedule)
}

// stopPresence halts the rotation if running.
func (b *Bot) stopPresence() {
	if b.presence == nil {
		return
	}
	stop := b.presence.cron.Stop()
	<-stop.Done()
	b.presence = nil
}

// rotate advances to the next status and applies it.
func (r *presenceRotator) rotate(ctx context.Context) {
	r.mu.Lock()
	r.idx = (r.idx + 1) % len(r.statuses)
	r.mu.Unlock()
	r.apply(ctx)
}

// apply sets the current status on the platform.
func (r *presenceRotator) apply(ctx context.Context) {
	r.mu.Lock()
	status := r.statuses[r.idx]
	r.mu.Unlock()

	if err := r.platform.SetStatus(ctx, status); err != nil {
		r.logger.Warn("failed to set status", "status", status, "error", err)
	}
}
