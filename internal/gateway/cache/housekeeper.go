package cache

import (
	"context"
	"log/slog"
	"time"
)

// Housekeeper periodically purges expired entries so stores that do not
// expire keys on their own stay bounded.
type Housekeeper struct {
	Store    Store
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeper defaults the interval to 10 minutes.
func NewHousekeeper(store Store, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	return &Housekeeper{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background worker. Call Stop to shut it down.
func (h *Housekeeper) Start() {
	go h.run()
	h.Logger.Info("cache housekeeper started", "interval", h.Interval)
}

// Stop blocks until an in-progress purge finishes.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Info("cache housekeeper stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	h.purge()

	for {
		select {
		case <-ticker.C:
			h.purge()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Housekeeper) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), h.Interval)
	defer cancel()

	n, err := h.Store.Purge(ctx)
	if err != nil {
		h.Logger.Error("cache purge failed", "error", err)
		return
	}
	h.Logger.Debug("cache purge completed", "removed", n)
}
