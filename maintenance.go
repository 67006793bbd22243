package authguard

import (
	"context"
	"errors"
	"time"
)

// Sweep runs one maintenance pass: rate-limit entries, expired locks,
// expired refresh tokens and, when retention is configured and supported,
// old login history. A storage failure stops the pass and returns the
// partial report.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	start := c.clock.Now()
	var report SweepReport

	report.RateEntries = c.limiter.Sweep()
	report.Locks = c.locker.Sweep()

	n, err := c.refresh.SweepExpired(ctx)
	if err != nil {
		return report, storageErr(err)
	}
	report.RefreshTokens = n

	if retention := c.config.Maintenance.HistoryRetention; retention > 0 {
		if p, ok := c.history.(historyPruner); ok {
			n, err := p.Prune(ctx, start.Add(-retention))
			if err != nil {
				return report, storageErr(err)
			}
			report.HistoryRecords = n
		}
	}

	report.Duration = c.clock.Now().Sub(start)
	c.metrics.Inc(MetricSweepRuns)
	c.metrics.Add(MetricSweepRemoved, uint64(report.Total()))
	c.logger.DebugContext(ctx, "maintenance sweep",
		"rate_entries", report.RateEntries,
		"locks", report.Locks,
		"refresh_tokens", report.RefreshTokens,
		"history_records", report.HistoryRecords,
	)
	return report, nil
}

// StartMaintenance runs Sweep every interval in a background goroutine
// until ctx is cancelled or Close is called. A non-positive interval uses
// Config.Maintenance.Interval.
func (c *Coordinator) StartMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = c.config.Maintenance.Interval
	}
	if interval <= 0 {
		return errors.New("maintenance interval must be > 0")
	}

	c.maintMu.Lock()
	defer c.maintMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.maintStop != nil {
		return ErrMaintenanceRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.maintStop = cancel
	c.maintWG.Add(1)
	go func() {
		defer c.maintWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if _, err := c.Sweep(runCtx); err != nil && runCtx.Err() == nil {
					c.logger.ErrorContext(runCtx, "maintenance sweep failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// Close stops maintenance and drains the audit dispatcher. It is safe to
// call more than once.
func (c *Coordinator) Close() {
	if c == nil {
		return
	}
	c.maintMu.Lock()
	if c.closed {
		c.maintMu.Unlock()
		return
	}
	c.closed = true
	stop := c.maintStop
	c.maintMu.Unlock()

	if stop != nil {
		stop()
	}
	c.maintWG.Wait()
	c.audit.Close()
}
