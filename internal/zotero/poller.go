package zotero

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Poller periodically checks the library for new PDF attachments. With
// auto-sync enabled it queues them through the sync service and notifies the
// processing worker.
type Poller struct {
	sync     *SyncService
	interval time.Duration
	autoSync bool
	onQueued func() // worker trigger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(syncService *SyncService, interval time.Duration, autoSync bool, onQueued func()) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if autoSync {
		log.Info().Msg("zotero poller: auto-sync enabled")
	} else {
		log.Info().Msg("zotero poller: auto-sync disabled, manual sync required")
	}
	return &Poller{sync: syncService, interval: interval, autoSync: autoSync, onQueued: onQueued}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		log.Warn().Msg("zotero poller already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
	log.Info().Dur("interval", p.interval).Msg("zotero poller started")
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("zotero poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("zotero polling error")
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	if !p.sync.Enabled() {
		return nil
	}

	newCount, err := p.sync.NewItemCount(ctx)
	if err != nil {
		return err
	}
	if newCount == 0 {
		return nil
	}
	log.Info().Int("count", newCount).Msg("new documents found in zotero")

	if !p.autoSync {
		log.Info().Msg("use /zotero/sync/new to download (auto-sync disabled)")
		return nil
	}

	result, err := p.sync.SyncNewOnly(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("queued", result.Synced).Int("skipped", result.Skipped).Int("failed", result.Failed).Msg("auto-sync complete")
	if result.Synced > 0 && p.onQueued != nil {
		p.onQueued()
	}
	return nil
}
