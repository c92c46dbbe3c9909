// Package stats periodically summarizes marketplace state into logs and
// gauges.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/metrics"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/internal/app/system"
	"github.com/songforge/marketplace/pkg/logger"
)

// Reporter samples catalog and treasury state on an interval.
type Reporter struct {
	store    storage.Store
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Reporter)(nil)

// NewReporter constructs a reporter. A non-positive interval defaults to one
// minute.
func NewReporter(store storage.Store, interval time.Duration, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewDefault("stats")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{store: store, interval: interval, log: log}
}

func (r *Reporter) Name() string { return "stats-reporter" }

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("stats reporter started")
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Reporter) tick(ctx context.Context) {
	var (
		songCount   int
		totalIssued uint64
		treasury    uint64
		paused      bool
	)
	err := r.store.ReadView(ctx, func(v storage.View) error {
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		paused = cfg.Paused

		treasury, err = v.Bank().Balance(ctx, market.Treasury)
		if err != nil {
			return err
		}

		// Page through the catalog; ids are dense so this terminates.
		const page = 500
		for offset := 0; ; offset += page {
			songs, err := v.ListSongs(ctx, offset, page)
			if err != nil {
				return err
			}
			for _, rec := range songs {
				totalIssued += rec.Issued
			}
			songCount += len(songs)
			if len(songs) < page {
				return nil
			}
		}
	})
	if err != nil {
		r.log.WithError(err).Warn("stats sample failed")
		return
	}

	metrics.SetTreasuryBalance(treasury)
	metrics.SetPaused(paused)
	r.log.WithField("songs", songCount).
		WithField("units_issued", totalIssued).
		WithField("treasury", treasury).
		WithField("paused", paused).
		Debug("marketplace stats")
}
