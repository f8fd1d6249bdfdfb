// Copyright 2025 The xarb Authors
// This file is part of the xarb library.
//
// The xarb library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The xarb library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the xarb library. If not, see <http://www.gnu.org/licenses/>.

package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

const replayPageSize = 100

// replayPageLimit bounds the Replay search so a runaway stream cannot pin
// the scan loop.
const replayPageLimit = 100

// Stats is one scan's snapshot. The monitor replaces it wholesale per scan;
// Snapshot returns a copy, so readers never tear.
type Stats struct {
	// TotalCount is the authoritative stream length, not the sample size.
	TotalCount int64
	SampleSize int
	ByCode     map[string]int
	OldestAge  time.Duration
	LastScan   time.Time
	Replayed   uint64
	Trimmed    int64
}

// Monitor periodically samples the dead-letter stream, trims old entries
// and auto-replays the retryable subset back to the execution stream.
type Monitor struct {
	client     streams.Client
	cfg        config.ConsumerConfig
	dlqStream  string
	execStream string

	mu       sync.Mutex
	stats    Stats
	cooldown map[string]time.Time
	replayed uint64

	now  func() time.Time
	quit chan struct{}
	wg   sync.WaitGroup
	log  log.Logger
}

// NewMonitor binds the monitor to the two streams.
func NewMonitor(client streams.Client, cfg config.ConsumerConfig, dlqStream, execStream string) *Monitor {
	return &Monitor{
		client:     client,
		cfg:        cfg,
		dlqStream:  dlqStream,
		execStream: execStream,
		cooldown:   make(map[string]time.Time),
		now:        time.Now,
		quit:       make(chan struct{}),
		log:        log.New("component", "dlq-monitor"),
	}
}

// SetNow injects the clock, for tests.
func (m *Monitor) SetNow(now func() time.Time) { m.now = now }

// Start launches the scan loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop terminates the scan loop and waits for it.
func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ScanInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := m.Scan(ctx); err != nil {
				// Transient stream errors never tear down the loop.
				m.log.Warn("DLQ scan failed", "err", err)
			}
			cancel()
		case <-m.quit:
			return
		}
	}
}

// Scan runs one monitor pass: sample, count by code, trim, auto-replay.
func (m *Monitor) Scan(ctx context.Context) error {
	now := m.now()
	total, err := m.client.XLen(ctx, m.dlqStream)
	if err != nil {
		return err
	}
	sample, err := m.client.XRange(ctx, m.dlqStream, "-", "+", m.cfg.MaxMessagesPerScan)
	if err != nil {
		return err
	}

	stats := Stats{
		TotalCount: total,
		SampleSize: len(sample),
		ByCode:     make(map[string]int),
		LastScan:   now,
	}
	var oldest int64
	for _, e := range sample {
		entry := entryFromValues(e.Values)
		code := entry.Code()
		if code == "" {
			code = "UNKNOWN"
		}
		stats.ByCode[code]++
		if entry.Timestamp > 0 && (oldest == 0 || entry.Timestamp < oldest) {
			oldest = entry.Timestamp
		}
	}
	if oldest > 0 {
		stats.OldestAge = now.Sub(time.UnixMilli(oldest))
	}

	stats.Trimmed = m.trim(ctx, now)
	if m.cfg.AutoRecoveryEnabled {
		m.recover(ctx, sample, now)
	}

	m.mu.Lock()
	stats.Replayed = m.replayed
	m.stats = stats
	m.mu.Unlock()

	metrics.DLQLength.Set(float64(total))
	metrics.DLQOldestAge.Set(stats.OldestAge.Seconds())
	return nil
}

// trim drops entries past the age cutoff and caps the stream length. Both
// trims are approximate.
func (m *Monitor) trim(ctx context.Context, now time.Time) int64 {
	var trimmed int64
	if age := m.cfg.MaxMessageAge.Duration(); age > 0 {
		n, err := m.client.XTrimMinID(ctx, m.dlqStream, streams.MinIDForAge(now, age))
		if err != nil {
			m.log.Warn("DLQ age trim failed", "err", err)
		}
		trimmed += n
	}
	if m.cfg.MaxStreamLength > 0 {
		n, err := m.client.XTrimMaxLen(ctx, m.dlqStream, m.cfg.MaxStreamLength)
		if err != nil {
			m.log.Warn("DLQ length trim failed", "err", err)
		}
		trimmed += n
	}
	return trimmed
}

// recover replays up to MaxAutoReplaysPerScan retryable entries. VAL_*
// entries are permanently bad and never replayed; replayed ids enter the
// cooldown set.
func (m *Monitor) recover(ctx context.Context, sample []streams.Entry, now time.Time) {
	m.pruneCooldown(now)
	replays := 0
	for _, e := range sample {
		if replays >= m.cfg.MaxAutoReplaysPerScan {
			break
		}
		entry := entryFromValues(e.Values)
		if !types.IsReplayableCode(entry.Code()) {
			continue
		}
		if m.inCooldown(entry.OpportunityID, now) {
			continue
		}
		if err := m.replayEntry(ctx, e.ID, entry, now); err != nil {
			m.log.Warn("Auto-replay failed", "entry", e.ID, "opportunity", entry.OpportunityID, "err", err)
			continue
		}
		replays++
	}
}

// Replay locates the entry by id, paginating through the stream, and
// replays it regardless of its code. Manual replay still honors the
// payload requirement but not the retryable set.
func (m *Monitor) Replay(ctx context.Context, entryID string) error {
	cursor := "-"
	for page := 0; page < replayPageLimit; page++ {
		entries, err := m.client.XRange(ctx, m.dlqStream, cursor, "+", replayPageSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if e.ID == entryID {
				return m.replayEntry(ctx, e.ID, entryFromValues(e.Values), m.now())
			}
		}
		last := entries[len(entries)-1].ID
		if last == cursor {
			break
		}
		cursor = last
	}
	return fmt.Errorf("dlq: entry %s not found", entryID)
}

// replayEntry annotates the preserved payload and re-publishes it to the
// execution stream, then deletes the dead-letter entry.
func (m *Monitor) replayEntry(ctx context.Context, entryID string, entry *types.DLQEntry, now time.Time) error {
	if entry.OriginalPayload == "" {
		return fmt.Errorf("dlq: entry %s has no preserved payload", entryID)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(entry.OriginalPayload), &payload); err != nil {
		return fmt.Errorf("dlq: entry %s payload unparseable: %w", entryID, err)
	}
	payload["replayed"] = true
	payload["originalError"] = entry.Error
	payload["replayedAt"] = now.UnixMilli()
	annotated, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := m.client.XAdd(ctx, m.execStream, map[string]string{"data": string(annotated)}); err != nil {
		return err
	}
	if err := m.client.XDel(ctx, m.dlqStream, entryID); err != nil {
		m.log.Warn("Replayed entry not deleted", "entry", entryID, "err", err)
	}

	m.mu.Lock()
	m.cooldown[entry.OpportunityID] = now.Add(m.cfg.ReplayCooldown.Duration())
	m.replayed++
	m.mu.Unlock()
	metrics.DLQReplays.Inc()
	m.log.Info("Dead-letter entry replayed", "entry", entryID, "opportunity", entry.OpportunityID, "code", entry.Code())
	return nil
}

func (m *Monitor) inCooldown(oppID string, now time.Time) bool {
	if oppID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.cooldown[oppID]
	return ok && now.Before(until)
}

func (m *Monitor) pruneCooldown(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, until := range m.cooldown {
		if !now.Before(until) {
			delete(m.cooldown, id)
		}
	}
}

// Snapshot returns a copy of the latest scan's stats.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	out.ByCode = make(map[string]int, len(m.stats.ByCode))
	for k, v := range m.stats.ByCode {
		out.ByCode[k] = v
	}
	return out
}
