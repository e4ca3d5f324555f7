package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Poller refresca la secuencia de mensajes a intervalo fijo usando el id del
// ultimo mensaje conocido como cursor. Solo actua mientras hay conversacion
// adoptada y al menos un mensaje; un tick que encuentra un fetch anterior en
// vuelo se salta, nunca se encola.
type Poller struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger

	inFlight atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPoller crea el scheduler; con interval <= 0 usa 5 segundos.
func NewPoller(svc *Service, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		svc:      svc,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start arranca el loop de polling en una goroutine propia. Se detiene al
// cancelar ctx o al llamar Stop.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

// Stop cancela el timer y espera a que el loop termine; despues de Stop no
// se dispara ningun tick mas.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Poller) tick(ctx context.Context) {
	lastID := p.svc.LastMessageID()
	if lastID == 0 {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("poll tick skipped, fetch in flight")
		return
	}
	go func() {
		defer p.inFlight.Store(false)
		if err := p.svc.FetchMessages(ctx, lastID); err != nil {
			p.logger.Warn("poll fetch failed", zap.Int64("since_id", lastID), zap.Error(err))
		}
	}()
}
