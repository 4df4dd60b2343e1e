// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	storage "github.com/jinterlante1206/MentorLocal/services/mentor/storage/badger"
)

// Events live under time-ordered keys so iteration order is insertion order
// and the oldest records are the first the pruner meets.
const keyEventPrefix = "event:"

// Config tunes event retention.
type Config struct {
	// Retention is the per-event TTL.
	Retention time.Duration

	// MaxEvents caps the stored event count (capped-collection semantics:
	// oldest records are evicted past the ceiling).
	MaxEvents int

	// PruneEvery triggers a cap check once per this many appends.
	PruneEvery uint64
}

// DefaultConfig returns production retention settings.
func DefaultConfig() Config {
	return Config{
		Retention:  30 * 24 * time.Hour,
		MaxEvents:  50000,
		PruneEvery: 128,
	}
}

// Recorder is the append-only analytics sink. Record is fire-and-forget:
// a failed write is logged and dropped, it never fails the originating
// request. No component other than this one queries the event store.
type Recorder struct {
	db  *storage.DB
	cfg Config

	appends atomic.Uint64

	now func() time.Time
}

// NewRecorder creates an event recorder.
func NewRecorder(db *storage.DB, cfg Config) *Recorder {
	return &Recorder{db: db, cfg: cfg, now: time.Now}
}

// Record appends an event. Never returns an error; failures are logged.
func (r *Recorder) Record(ctx context.Context, kind EventKind, payload map[string]interface{}, accountID, sessionID string) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		AccountID: accountID,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: r.now().UTC(),
	}

	doc, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Dropping analytics event, marshal failed", "kind", kind, "error", err)
		return
	}
	key := fmt.Sprintf("%s%020d:%s", keyEventPrefix, ev.Timestamp.UnixNano(), ev.ID)

	err = r.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry([]byte(key), doc)
		if r.cfg.Retention > 0 {
			entry = entry.WithTTL(r.cfg.Retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		slog.Warn("Dropping analytics event, write failed", "kind", kind, "error", err)
		return
	}

	if n := r.appends.Add(1); r.cfg.PruneEvery > 0 && n%r.cfg.PruneEvery == 0 {
		r.prune(ctx)
	}
}

// prune enforces the event cap by deleting the oldest keys past MaxEvents.
func (r *Recorder) prune(ctx context.Context) {
	var overflow [][]byte
	err := r.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyEventPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		if len(keys) > r.cfg.MaxEvents {
			overflow = keys[:len(keys)-r.cfg.MaxEvents]
		}
		return nil
	})
	if err != nil {
		slog.Warn("Event cap check failed", "error", err)
		return
	}
	if len(overflow) == 0 {
		return
	}

	err = r.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		for _, key := range overflow {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("Event cap pruning failed", "error", err)
		return
	}
	slog.Info("Pruned analytics events past cap", "evicted", len(overflow))
}

// forEach streams stored events in timestamp order.
func (r *Recorder) forEach(ctx context.Context, fn func(Event)) error {
	return r.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyEventPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var ev Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				slog.Warn("Skipping undecodable analytics event", "error", err)
				continue
			}
			fn(ev)
		}
		return nil
	})
}

// DailyCount is one cell of the day-by-kind usage grid.
type DailyCount struct {
	Day   string    `json:"day"` // YYYY-MM-DD, UTC
	Kind  EventKind `json:"kind"`
	Count int       `json:"count"`
}

// DailyCounts aggregates event counts grouped by UTC day and event kind,
// for events at or after since.
func (r *Recorder) DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error) {
	grid := make(map[string]map[EventKind]int)
	err := r.forEach(ctx, func(ev Event) {
		if ev.Timestamp.Before(since) {
			return
		}
		day := ev.Timestamp.UTC().Format("2006-01-02")
		if grid[day] == nil {
			grid[day] = make(map[EventKind]int)
		}
		grid[day][ev.Kind]++
	})
	if err != nil {
		return nil, err
	}

	var out []DailyCount
	for day, kinds := range grid {
		for kind, count := range kinds {
			out = append(out, DailyCount{Day: day, Kind: kind, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

// PlatformRollup aggregates hint/analysis usage per platform using the
// "platform" payload field.
func (r *Recorder) PlatformRollup(ctx context.Context, since time.Time) (map[string]int, error) {
	rollup := make(map[string]int)
	err := r.forEach(ctx, func(ev Event) {
		if ev.Timestamp.Before(since) {
			return
		}
		platform, _ := ev.Payload["platform"].(string)
		if platform == "" {
			return
		}
		rollup[platform]++
	})
	if err != nil {
		return nil, err
	}
	return rollup, nil
}

// LatencyPercentiles summarizes the "response_time_ms" payload field for one
// event kind.
type LatencyPercentiles struct {
	Kind  EventKind `json:"kind"`
	Count int       `json:"count"`
	P50   float64   `json:"p50"`
	P95   float64   `json:"p95"`
	P99   float64   `json:"p99"`
}

// ResponseTimePercentiles computes p50/p95/p99 of recorded response times
// for the given kind since the cutoff.
func (r *Recorder) ResponseTimePercentiles(ctx context.Context, kind EventKind, since time.Time) (LatencyPercentiles, error) {
	var samples []float64
	err := r.forEach(ctx, func(ev Event) {
		if ev.Kind != kind || ev.Timestamp.Before(since) {
			return
		}
		if ms, ok := ev.Payload["response_time_ms"].(float64); ok {
			samples = append(samples, ms)
		}
	})
	if err != nil {
		return LatencyPercentiles{}, err
	}

	out := LatencyPercentiles{Kind: kind, Count: len(samples)}
	if len(samples) == 0 {
		return out, nil
	}
	sort.Float64s(samples)
	out.P50 = percentile(samples, 0.50)
	out.P95 = percentile(samples, 0.95)
	out.P99 = percentile(samples, 0.99)
	return out, nil
}

// AccountEngagement summarizes one account's recorded activity.
type AccountEngagement struct {
	AccountID      string     `json:"account_id"`
	SessionsOpened int        `json:"sessions_opened"`
	HintsRequested int        `json:"hints_requested"`
	CodeAnalyses   int        `json:"code_analyses"`
	FirstSeen      *time.Time `json:"first_seen,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
}

// Engagement aggregates per-account usage over the whole retained window.
func (r *Recorder) Engagement(ctx context.Context, accountID string) (AccountEngagement, error) {
	out := AccountEngagement{AccountID: accountID}
	err := r.forEach(ctx, func(ev Event) {
		if ev.AccountID != accountID {
			return
		}
		switch ev.Kind {
		case EventSessionStarted:
			out.SessionsOpened++
		case EventHintRequested:
			out.HintsRequested++
		case EventCodeAnalyzed:
			out.CodeAnalyses++
		}
		ts := ev.Timestamp
		if out.FirstSeen == nil || ts.Before(*out.FirstSeen) {
			out.FirstSeen = &ts
		}
		if out.LastSeen == nil || ts.After(*out.LastSeen) {
			out.LastSeen = &ts
		}
	})
	if err != nil {
		return AccountEngagement{}, err
	}
	return out, nil
}

// percentile uses nearest-rank on an ascending sample slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
