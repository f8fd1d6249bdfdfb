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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

const (
	testDLQ  = "arb:dlq"
	testExec = "arb:execution"
)

func monitorCfg() config.ConsumerConfig {
	cfg := config.Defaults().Consumer
	cfg.AutoRecoveryEnabled = true
	return cfg
}

func deadLetter(t *testing.T, mem *streams.Memory, w *Writer, oppID, errStr, payload string) string {
	t.Helper()
	id, err := w.Write(context.Background(), &types.DLQEntry{
		OriginalMessageID: "1-0",
		OriginalStream:    testExec,
		OpportunityID:     oppID,
		OpportunityType:   "single-chain",
		Error:             errStr,
		OriginalPayload:   payload,
	})
	require.NoError(t, err)
	return id
}

func TestWriterPreservesPayload(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "xarb-executor", "instance-1")

	payload := `{"id":"opp-1","kind":"single-chain","amountIn":"1000"}`
	deadLetter(t, mem, w, "opp-1", "[VAL_ZERO_AMOUNT] amount is zero", payload)

	entries, err := mem.XRange(context.Background(), testDLQ, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entryFromValues(entries[0].Values)
	require.Equal(t, "opp-1", entry.OpportunityID)
	require.Equal(t, "VAL_ZERO_AMOUNT", entry.Code())
	require.Equal(t, payload, entry.OriginalPayload)
	require.Equal(t, "xarb-executor", entry.Service)
	require.NotZero(t, entry.Timestamp)
}

func TestScanStats(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "svc", "i1")
	mon := NewMonitor(mem, monitorCfg(), testDLQ, testExec)

	deadLetter(t, mem, w, "a", "[VAL_EXPIRED] stale", `{"id":"a"}`)
	deadLetter(t, mem, w, "b", "[VAL_EXPIRED] stale", `{"id":"b"}`)
	deadLetter(t, mem, w, "c", "[ERR_REVERT] swap reverted", `{"id":"c"}`)

	require.NoError(t, mon.Scan(context.Background()))
	stats := mon.Snapshot()
	require.Equal(t, int64(3), stats.TotalCount)
	require.Equal(t, 3, stats.SampleSize)
	require.Equal(t, 2, stats.ByCode["VAL_EXPIRED"])
	require.Equal(t, 1, stats.ByCode["ERR_REVERT"])
	require.NotZero(t, stats.LastScan)
}

func TestAutoRecoveryReplaysRetryable(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "svc", "i1")
	mon := NewMonitor(mem, monitorCfg(), testDLQ, testExec)

	payload := `{"id":"opp-2","kind":"single-chain","amountIn":"5"}`
	deadLetter(t, mem, w, "opp-2", "[ERR_NONCE] nonce too low", payload)

	require.NoError(t, mon.Scan(context.Background()))

	replayed, err := mem.XRange(context.Background(), testExec, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, replayed, 1)

	var annotated map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(replayed[0].Values["data"]), &annotated))
	require.Equal(t, true, annotated["replayed"])
	require.Equal(t, "[ERR_NONCE] nonce too low", annotated["originalError"])
	require.NotNil(t, annotated["replayedAt"])
	require.Equal(t, "opp-2", annotated["id"])

	// The dead-letter entry is consumed by the replay.
	n, err := mem.XLen(context.Background(), testDLQ)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAutoRecoveryNeverReplaysValidation(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "svc", "i1")
	mon := NewMonitor(mem, monitorCfg(), testDLQ, testExec)

	deadLetter(t, mem, w, "bad", "[VAL_INVALID_AMOUNT] not digits", `{"id":"bad"}`)
	deadLetter(t, mem, w, "meh", "[ERR_REVERT] reverted", `{"id":"meh"}`)

	require.NoError(t, mon.Scan(context.Background()))
	n, err := mem.XLen(context.Background(), testExec)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCooldownBlocksSecondReplay(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "svc", "i1")
	mon := NewMonitor(mem, monitorCfg(), testDLQ, testExec)
	now := time.Unix(1700000000, 0)
	mon.SetNow(func() time.Time { return now })

	payload := `{"id":"loop","kind":"single-chain"}`
	deadLetter(t, mem, w, "loop", "[ERR_NO_PROVIDER] dial failed", payload)
	require.NoError(t, mon.Scan(context.Background()))

	// The same id fails again within the cooldown window.
	deadLetter(t, mem, w, "loop", "[ERR_NO_PROVIDER] dial failed", payload)
	now = now.Add(time.Minute)
	require.NoError(t, mon.Scan(context.Background()))
	n, _ := mem.XLen(context.Background(), testExec)
	require.Equal(t, int64(1), n)

	// Past the 5-minute cooldown the entry is eligible again.
	now = now.Add(5 * time.Minute)
	require.NoError(t, mon.Scan(context.Background()))
	n, _ = mem.XLen(context.Background(), testExec)
	require.Equal(t, int64(2), n)
}

func TestReplayCapPerScan(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "svc", "i1")
	cfg := monitorCfg()
	cfg.MaxAutoReplaysPerScan = 2
	mon := NewMonitor(mem, cfg, testDLQ, testExec)

	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		deadLetter(t, mem, w, id, "[ERR_APPROVAL] allowance", `{"id":"`+id+`"}`)
	}
	require.NoError(t, mon.Scan(context.Background()))
	n, _ := mem.XLen(context.Background(), testExec)
	require.Equal(t, int64(2), n)
}

func TestManualReplayRequiresPayload(t *testing.T) {
	mem := streams.NewMemory()
	w := NewWriter(mem, testDLQ, "svc", "i1")
	cfg := monitorCfg()
	cfg.AutoRecoveryEnabled = false
	mon := NewMonitor(mem, cfg, testDLQ, testExec)

	id := deadLetter(t, mem, w, "opp-3", "[ERR_REVERT] reverted", "")
	require.Error(t, mon.Replay(context.Background(), id))

	good := deadLetter(t, mem, w, "opp-4", "[ERR_REVERT] reverted", `{"id":"opp-4"}`)
	require.NoError(t, mon.Replay(context.Background(), good))

	require.Error(t, mon.Replay(context.Background(), "999999-0"))
}

func TestAutoTrim(t *testing.T) {
	mem := streams.NewMemory()
	base := time.Unix(1700000000, 0)
	memNow := base
	mem.SetNow(func() time.Time { return memNow })

	w := NewWriter(mem, testDLQ, "svc", "i1")
	w.now = func() time.Time { return memNow }
	deadLetter(t, mem, w, "old", "[ERR_REVERT] x", `{"id":"old"}`)

	memNow = base.Add(25 * time.Hour)
	deadLetter(t, mem, w, "new", "[ERR_REVERT] x", `{"id":"new"}`)

	cfg := monitorCfg()
	cfg.AutoRecoveryEnabled = false
	mon := NewMonitor(mem, cfg, testDLQ, testExec)
	mon.SetNow(func() time.Time { return memNow })

	require.NoError(t, mon.Scan(context.Background()))
	entries, err := mem.XRange(context.Background(), testDLQ, "-", "+", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "new", entryFromValues(entries[0].Values).OpportunityID)
}
