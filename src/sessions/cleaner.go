package sessions

import (
	"context"
	"time"

	"github.com/username/tradejournal/backend/src/logger"
)

// Cleaner periodically sweeps the registry for expired sessions and
// reclaims their files. One instance runs per process.
type Cleaner struct {
	registry *Registry
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewCleaner(registry *Registry, interval time.Duration) *Cleaner {
	return &Cleaner{registry: registry, interval: interval}
}

// Start begins the periodic sweep in a background goroutine.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		logger.L.Info("Session cleaner started", "interval", c.interval)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reclaimed, err := c.registry.Sweep(ctx)
				if err != nil {
					logger.L.Error("Session sweep failed", "error", err)
					continue
				}
				if reclaimed > 0 {
					logger.L.Info("Session sweep reclaimed expired sessions", "count", reclaimed)
				}
			case <-ctx.Done():
				logger.L.Info("Session cleaner stopped")
				return
			}
		}
	}()
}

// Stop cancels the recurring sweep and runs one final unconditional sweep
// of all remaining sessions' files before returning.
func (c *Cleaner) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.registry.PurgeAllFiles()
}
