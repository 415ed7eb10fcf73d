package queue

import (
	"context"
	"log/slog"
	"time"
)

// Promotable is a broker that can release due repeat instances.
type Promotable interface {
	Promote(ctx context.Context, now time.Time, batch int) (int, error)
}

// Republisher is implemented by brokers that can re-deliver pending jobs
// whose delivery may have been lost.
type Republisher interface {
	RepublishStale(ctx context.Context, olderThan time.Time, batch int) (int, error)
}

// Promoter periodically promotes due repeat instances.
type Promoter struct {
	target     Promotable
	interval   time.Duration
	batch      int
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// PromoterConfig configures a Promoter.
type PromoterConfig struct {
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// NewPromoter creates a Promoter over target.
func NewPromoter(target Promotable, cfg PromoterConfig) *Promoter {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{
		target:     target,
		interval:   cfg.Interval,
		batch:      cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (p *Promoter) Run(ctx context.Context) {
	p.logger.Info("Promoter started",
		slog.Duration("interval", p.interval),
		slog.Int("batch_size", p.batch),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Promoter stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one promotion pass. Errors are logged, never returned.
func (p *Promoter) Tick(ctx context.Context) {
	now := p.now()

	promoted, err := p.target.Promote(ctx, now, p.batch)
	if err != nil {
		p.logger.Error("Failed to promote repeat instances", slog.Any("error", err))
	} else if promoted > 0 {
		p.logger.Info("Promoted repeat instances", slog.Int("count", promoted))
	}

	r, ok := p.target.(Republisher)
	if !ok || p.staleAfter <= 0 {
		return
	}
	republished, err := r.RepublishStale(ctx, now.Add(-p.staleAfter), p.batch)
	if err != nil {
		p.logger.Error("Failed to republish stale jobs", slog.Any("error", err))
		return
	}
	if republished > 0 {
		p.logger.Warn("Republished stale pending jobs", slog.Int("count", republished))
	}
}
