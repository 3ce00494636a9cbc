package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grimm.is/warden/internal/stats"
)

// Start loads persisted snapshots and polls every configured stats kind and
// the exposure view on the poll interval until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	if s.cache != nil {
		if n := s.cache.Warm(); n > 0 {
			s.log.Info("loaded persisted snapshots", "count", n)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.log.Info("starting poller", "interval", s.interval.String())
	go s.run(ctx, s.done)
	return nil
}

// Stop halts the poller and waits for the current cycle to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("poller stopped")
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one cycle: every stats kind through the cache, then exposure.
// Metrics are updated from the results.
func (s *Service) Poll(ctx context.Context) error {
	id := uuid.New().String()
	log := s.log.WithFields(map[string]any{"cycle": id})
	start := s.clock.Now()

	var errs []error
	if s.cache != nil {
		for _, kind := range s.cache.Kinds() {
			res, err := s.cache.Get(ctx, kind)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				continue
			}
			if res.Err != nil {
				errs = append(errs, fmt.Errorf("%s (serving %s): %w", kind, res.State, res.Err))
			}
			s.recordSnapshot(res.Snapshot)
		}
	}

	if s.sockets != nil {
		if _, err := s.Exposure(ctx); err != nil {
			errs = append(errs, fmt.Errorf("exposure: %w", err))
		}
	}

	if err := ctx.Err(); err != nil {
		// Stopped mid-cycle.
		return err
	}
	err := errors.Join(errs...)
	s.metrics.RecordPoll(err == nil)
	if err != nil {
		log.Warn("poll cycle degraded", "error", err)
	} else {
		log.Debug("poll cycle complete", "duration", s.clock.Since(start).String())
	}
	return err
}

func (s *Service) recordSnapshot(snap *stats.Snapshot) {
	if snap == nil {
		return
	}
	for _, iface := range snap.Interfaces {
		s.metrics.RecordInterface(iface.Name, iface.RxBytes, iface.TxBytes, iface.RxRate, iface.TxRate)
	}
	if c := snap.Connections; c != nil {
		s.metrics.RecordConnections("tcp", c.TCP)
		s.metrics.RecordConnections("udp", c.UDP)
		s.metrics.RecordConnections("icmp", c.ICMP)
		s.metrics.RecordConnections("other", c.Other)
	}
}
