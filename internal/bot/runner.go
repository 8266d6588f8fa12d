// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrStopped        = errors.New("bot was stopped and cannot be restarted")
)

// Start migrates the store, restores persisted state and launches the sampling and
// monitoring tickers. It returns once the tickers are running.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	switch {
	case b.stopped:
		b.mu.Unlock()
		return ErrStopped
	case b.running:
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.mu.Unlock()

	if err := b.store.RunMigrations(); err != nil {
		return fmt.Errorf("storage migrations: %w", err)
	}
	if err := b.restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	// Tickers stop on loopCtx; in-flight units keep workCtx until the shutdown grace ends.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	workCtx, stopWork := context.WithCancel(context.Background())

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		stopLoops()
		stopWork()
		return ErrAlreadyRunning
	}
	b.running = true
	b.startedAt = time.Now()
	b.stopLoops = stopLoops
	b.stopWork = stopWork
	b.workCtx = workCtx
	b.loops = make(chan error, 1)
	loops := b.loops
	b.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		b.runTicker(loopCtx, "sampling", b.cfg.SampleInterval, func() {
			b.sampler.Tick(workCtx)
		})
		return nil
	})
	g.Go(func() error {
		b.runTicker(loopCtx, "monitoring", b.cfg.MonitorInterval, func() {
			b.governor.Refresh(workCtx)
			b.positions.Tick(workCtx)
		})
		return nil
	})
	go func() { loops <- g.Wait() }()

	b.logger.Info("Bot started",
		zap.Duration("sample_interval", b.cfg.SampleInterval),
		zap.Duration("monitor_interval", b.cfg.MonitorInterval),
		zap.Float64("threshold", b.cfg.Threshold))
	return nil
}

// runTicker calls tick on every interval until ctx ends. tick must not block on
// external calls; it only dispatches units of work.
func (b *Bot) runTicker(ctx context.Context, name string, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	b.logger.Debug("Ticker started", zap.String("ticker", name))
	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("Ticker stopped", zap.String("ticker", name))
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Stop halts both tickers immediately, gives in-flight units (samples, evaluations and
// buys) the configured shutdown grace and then cancels them. Crossings still queued
// are discarded. Open positions are left ACTIVE in the store. The remaining event
// subscribers are drained until ctx ends. A stopped bot cannot be started again.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.running = false
	b.stopped = true
	stopLoops, stopWork, loops := b.stopLoops, b.stopWork, b.loops
	b.mu.Unlock()

	b.logger.Info("Stopping bot", zap.Duration("grace", b.cfg.ShutdownGrace))
	stopLoops()
	<-loops

	inflight := make(chan struct{})
	go func() {
		b.sampler.Wait()
		b.crossings.Wait()
		b.positions.Wait()
		close(inflight)
	}()

	grace := time.NewTimer(b.cfg.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-inflight:
	case <-grace.C:
		b.logger.Warn("Shutdown grace elapsed, abandoning in-flight work")
	case <-ctx.Done():
		b.logger.Warn("Stop context ended, abandoning in-flight work")
	}
	stopWork()

	select {
	case <-inflight:
	case <-ctx.Done():
	}

	b.crossingSub.Unsubscribe()
	if err := b.bus.Shutdown(ctx); err != nil {
		return fmt.Errorf("event dispatcher shutdown: %w", err)
	}
	stats := b.positions.Stats()
	b.logger.Info("Bot stopped",
		zap.Int("active_positions", stats.ActiveCount),
		zap.Int("completed_positions", stats.CompletedCount))
	return nil
}

// Run starts the bot, blocks until ctx ends and stops it with a fresh context
// bounded by twice the shutdown grace.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*b.cfg.ShutdownGrace+time.Second)
	defer cancel()
	return b.Stop(stopCtx)
}
