package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/broker"
)

type RelayConfig struct {
	Interval time.Duration
	// MinAge keeps the relay away from events whose inline publish is still running.
	MinAge    time.Duration
	BatchSize int
}

// Relay republishes events that were stored but never confirmed.
type Relay struct {
	p   *Publisher
	cfg RelayConfig
}

func NewRelay(p *Publisher, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.MinAge < 0 {
		cfg.MinAge = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{p: p, cfg: cfg}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.p.logger.Error("outbox relay failed", "err", err)
				continue
			}
			if n > 0 {
				r.p.logger.Info("outbox relay republished events", "count", n)
			}
		}
	}
}

// RunOnce publishes one batch of pending events and returns how many were confirmed.
// Rows stay locked while publishing so concurrent relays skip them.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	var sent int
	err := r.p.tx.InTx(ctx, func(ctx context.Context) error {
		pending, err := r.p.repo.Pending(ctx, r.p.now().Add(-r.cfg.MinAge), r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("fetch pending events: %w", err)
		}

		ids := make([]uuid.UUID, 0, len(pending))
		for _, evt := range pending {
			if err := r.p.send(ctx, evt); err != nil {
				r.p.logger.Warn("relay publish failed", "event_id", evt.ID.String(), "event_type", evt.EventType, "err", err)
				if broker.IsConnectivity(err) {
					break
				}
				continue
			}
			ids = append(ids, evt.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := r.p.repo.MarkProcessed(ctx, ids, r.p.now()); err != nil {
			return fmt.Errorf("mark events processed: %w", err)
		}
		sent = len(ids)
		return nil
	})
	return sent, err
}
