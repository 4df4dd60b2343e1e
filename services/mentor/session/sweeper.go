// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically abandons idle sessions. It is the external scheduler
// the ledger's SweepAbandoned contract expects; the ledger itself never
// schedules anything.
type Sweeper struct {
	ledger   *Ledger
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	// OnSwept, when set, is invoked with the count of each nonempty sweep.
	// Wired by main to the sweep metric.
	OnSwept func(count int)
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(ledger *Ledger, interval time.Duration) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins periodic sweeping in a background goroutine.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the sweeper and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := s.ledger.now().Add(-s.ledger.cfg.IdleThreshold)
	swept, err := s.ledger.SweepAbandoned(ctx, cutoff)
	if err != nil {
		slog.Warn("Session sweep failed", "error", err)
		return
	}
	if swept > 0 {
		slog.Info("Abandoned idle sessions", "count", swept)
		if s.OnSwept != nil {
			s.OnSwept(swept)
		}
	}
}
