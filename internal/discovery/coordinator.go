package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/curio-sh/curio/internal/entities"
)

// jitterDivisor spreads repeated runs by up to ±1/jitterDivisor of the
// configured interval, so long-lived watchers do not hit every origin at the
// same instant
const jitterDivisor = 10

// Coordinator periodically re-runs discovery until stopped
type Coordinator interface {
	// Start begins the watch loop and blocks until the context is
	// cancelled or Stop is called
	Start(ctx context.Context) error

	// Stop terminates the watch loop and waits for it to wind down
	Stop() error
}

// defaultCoordinator implements Coordinator on top of the discovery service
type defaultCoordinator struct {
	service    Service
	categories []entities.Category
	interval   time.Duration
	workers    int

	cancelFunc context.CancelFunc
	done       chan struct{}
}

var _ Coordinator = (*defaultCoordinator)(nil)

// NewCoordinator creates a watch-mode coordinator over the given categories
func NewCoordinator(service Service, categories []entities.Category, interval time.Duration, workers int) Coordinator {
	return &defaultCoordinator{
		service:    service,
		categories: categories,
		interval:   interval,
		workers:    workers,
		done:       make(chan struct{}),
	}
}

// Start implements Coordinator
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting discovery watch loop",
		"categories", c.categories,
		"interval", c.interval)

	watchCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	defer func() {
		close(c.done)
		slog.Info("Discovery watch loop shut down")
	}()

	reset, err := c.service.ResetInterrupted(watchCtx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted runs: %w", err)
	}
	if len(reset) > 0 {
		slog.Warn("Reset interrupted discovery runs", "categories", reset)
	}
	c.logLastSuccesses(watchCtx)

	interval := c.nextInterval()
	slog.Info("Configured watch interval",
		"base_interval", c.interval,
		"actual_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once up front so a fresh watcher does not idle a full interval
	// before its first pass
	c.runAll(watchCtx)

	for {
		select {
		case <-ticker.C:
			c.runAll(watchCtx)
			ticker.Reset(c.nextInterval())
		case <-watchCtx.Done():
			slog.Info("Discovery watch loop stopping")
			return nil
		}
	}
}

// Stop implements Coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping discovery watch loop")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// runAll runs one discovery pass over every watched category. A failing
// category is logged and does not keep the others from running.
func (c *defaultCoordinator) runAll(ctx context.Context) {
	for _, category := range c.categories {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.service.FetchAllEntities(ctx, category, c.workers); err != nil {
			slog.Error("Discovery run failed",
				"category", category,
				"error", err)
		}
	}
}

// logLastSuccesses surfaces when each watched category last completed, which
// makes restarts after long downtime visible in the logs
func (c *defaultCoordinator) logLastSuccesses(ctx context.Context) {
	statuses, err := c.service.RunStatuses(ctx)
	if err != nil {
		slog.Warn("Failed to load run statuses", "error", err)
		return
	}
	for _, category := range c.categories {
		st, ok := statuses[category]
		if !ok || st.LastSuccess == nil {
			continue
		}
		slog.Info("Last successful discovery",
			"category", category,
			"finished_at", st.LastSuccess)
	}
}

// nextInterval returns the configured interval with random jitter applied
func (c *defaultCoordinator) nextInterval() time.Duration {
	jitter := c.interval / jitterDivisor
	if jitter <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return c.interval + offset
}
