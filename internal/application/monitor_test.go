package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/johnperry/ISN/internal/application"
	"github.com/johnperry/ISN/internal/domain"
)

// The monitor alone carries a study from ingest to SUCCESS when
// autosend is configured: promote after the quiet period, sweep to the
// destination, worker pool submits.
func TestMonitor_AutoSendPipeline(t *testing.T) {
	h := setupCache(t)
	ingest(t, h, "S1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := &application.Monitor{
		Cache:        h.cache,
		Logger:       h.cache.Logger,
		MinAge:       20 * time.Millisecond,
		Retention:    time.Hour,
		AutoSendDest: "dest1",
	}
	go mon.Run(ctx)

	s := waitForStatus(t, h, "S1", domain.StatusSuccess)
	if s.ObjectsSubmitted != 2 {
		t.Errorf("objectsSubmitted = %d, want 2", s.ObjectsSubmitted)
	}
	if s.Destination != "dest1" {
		t.Errorf("destination = %q", s.Destination)
	}
}
