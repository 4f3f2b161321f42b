package application

import (
	"context"
	"log/slog"
	"time"
)

// Monitor drives the cache's periodic housekeeping: promote aged OPEN
// studies, clean up transmitted studies past retention, optionally
// queue completed studies to the autosend destination. A single
// goroutine; cycles never overlap.
type Monitor struct {
	Cache  *Cache
	Logger *slog.Logger

	// MinAge is how long a study must go without new objects before it
	// is COMPLETE. Also the cycle interval.
	MinAge time.Duration

	// Retention is how long SUCCESS studies are kept. Zero disables
	// cleanup.
	Retention time.Duration

	// AutoSendDest, when set, queues every COMPLETE study to this
	// destination each cycle.
	AutoSendDest string
}

// Run cycles until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.MinAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	now := time.Now().UTC()
	if err := m.Cache.CheckOpenStudies(ctx, now.Add(-m.MinAge)); err != nil {
		m.Logger.Error("check open studies", "error", err)
	}
	if m.Retention > 0 {
		if err := m.Cache.DeleteTransmittedStudies(ctx, now.Add(-m.Retention)); err != nil {
			m.Logger.Error("delete transmitted studies", "error", err)
		}
	}
	if m.AutoSendDest != "" {
		if err := m.Cache.SendCompleteStudies(ctx, m.AutoSendDest); err != nil {
			m.Logger.Error("autosend sweep", "destination", m.AutoSendDest, "error", err)
		}
	}
}
