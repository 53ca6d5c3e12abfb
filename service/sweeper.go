package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/layer-3/paygate/internal/metrics"
	"github.com/layer-3/paygate/ports"
)

// expiring is the part of a stored challenge or receipt the sweeper reads.
type expiring struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

var sweptPrefixes = []struct {
	prefix string
	kind   string
}{
	{challengePrefix, "challenge"},
	{tokenPrefix, "token"},
}

// Start runs the expiry sweeper until ctx is done or Stop is called.
// Calling Start on a running service does nothing.
func (s *PaymentService) Start(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.sweepCancel = cancel
	s.sweepDone = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("sweep failed", "err", err)
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for an in-flight pass to finish.
func (s *PaymentService) Stop() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweepCancel == nil {
		return
	}
	s.sweepCancel()
	<-s.sweepDone
	s.sweepCancel = nil
	s.sweepDone = nil
}

// Sweep deletes challenges and access tokens whose expiry has passed and
// returns how many entries were removed. Live entries are never touched.
func (s *PaymentService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0

	for _, p := range sweptPrefixes {
		var expired []string
		err := s.store.Iterate(ctx, p.prefix, func(key string, value []byte) bool {
			var e expiring
			if err := json.Unmarshal(value, &e); err != nil {
				s.logger.Warn("skipping undecodable entry", "key", key, "err", err)
				return true
			}
			if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
				expired = append(expired, key)
			}
			return ctx.Err() == nil
		})
		if err != nil {
			return removed, err
		}

		for _, key := range expired {
			if err := s.store.Delete(ctx, key); err != nil {
				return removed, err
			}
		}
		removed += len(expired)
		metrics.SweptEntries.WithLabelValues(p.kind).Add(float64(len(expired)))
	}

	if c, ok := s.store.(ports.Compactor); ok {
		n, err := c.Cleanup(ctx)
		if err != nil {
			return removed, err
		}
		metrics.SweptEntries.WithLabelValues("compacted").Add(float64(n))
	}

	if removed > 0 {
		s.logger.Debug("sweep finished", "removed", removed)
	}
	return removed, nil
}
