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

package executor

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/breaker"
	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/dlq"
	"github.com/nvx-labs/xarb/strategy"
	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

// scriptedStrategy returns canned results, optionally blocking until
// released so concurrency behavior is observable.
type scriptedStrategy struct {
	mu      sync.Mutex
	results []*types.ExecutionResult
	block   chan struct{} // nil means return immediately
	panics  bool
	calls   int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) Execute(ctx context.Context, opp *types.Opportunity, _ *strategy.Context) *types.ExecutionResult {
	if s.panics {
		panic("scripted failure")
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return types.Failure(opp.ID, s.Name(), opp.Chain(),
				types.WrapCoded(types.CodeTimeout, ctx.Err()))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return &types.ExecutionResult{OpportunityID: opp.ID, Strategy: s.Name(), Success: true, Chain: opp.Chain()}
	}
	res := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return res
}

func (s *scriptedStrategy) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func failure(code string) *types.ExecutionResult {
	return types.Failure("opp-1", "scripted", "ethereum", types.NewCodedError(code, "scripted"))
}

func testOpp(id string) *types.Opportunity {
	return &types.Opportunity{
		ID:        id,
		Kind:      types.KindSingleChain,
		BuyChain:  "ethereum",
		SellChain: "ethereum",
		TokenIn:   "0x01",
		TokenOut:  "0x02",
		AmountIn:  big.NewInt(1),
		Raw:       []byte(`{"id":"` + id + `"}`),
	}
}

type fixture struct {
	orch  *Orchestrator
	strat *scriptedStrategy
	brk   *breaker.Breaker
	mem   *streams.Memory
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Breaker = config.BreakerConfig{
		Enabled:             true,
		FailureThreshold:    5,
		CooldownPeriod:      config.Millis(5 * time.Minute),
		HalfOpenMaxAttempts: 1,
	}
	cfg.Executor.ExecutionTimeout = config.Millis(200 * time.Millisecond)
	cfg.Executor.ShutdownGrace = config.Millis(time.Second)
	if mutate != nil {
		mutate(cfg)
	}

	brk, err := breaker.New(cfg.Breaker)
	require.NoError(t, err)

	strat := &scriptedStrategy{}
	reg := strategy.NewRegistry()
	reg.Register(types.KindSingleChain, strat)

	mem := streams.NewMemory()
	writer := dlq.NewWriter(mem, "test:dlq", "xarb-executor", "test-1")
	sc := &strategy.Context{Stats: &types.ExecutionStats{}}

	return &fixture{
		orch:  New(cfg.Executor, brk, reg, sc, writer, false),
		strat: strat,
		brk:   brk,
		mem:   mem,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	res := f.orch.Execute(context.Background(), testOpp("opp-1"))
	require.True(t, res.Success)
	require.Equal(t, uint64(1), f.orch.Snapshot().Attempted)
	require.Equal(t, uint64(1), f.orch.Snapshot().Succeeded)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.results = []*types.ExecutionResult{failure(types.CodeRevert)}

	for i := 0; i < 5; i++ {
		res := f.orch.Execute(context.Background(), testOpp("opp-1"))
		require.Equal(t, types.CodeRevert, res.ErrorCode())
	}
	require.Equal(t, breaker.Open, f.brk.StateNow())

	// The sixth opportunity is dropped at the gate, not executed.
	res := f.orch.Execute(context.Background(), testOpp("opp-6"))
	require.Equal(t, types.CodeCircuitOpen, res.ErrorCode())
	require.Equal(t, 5, f.strat.callCount())
	require.Equal(t, uint64(1), f.orch.Snapshot().CircuitBlocks)
}

func TestLockConflict(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.orch.Execute(context.Background(), testOpp("opp-1"))
	}()

	require.Eventually(t, func() bool {
		return f.orch.inflight.Contains("opp-1")
	}, time.Second, time.Millisecond)

	res := f.orch.Execute(context.Background(), testOpp("opp-1"))
	require.Equal(t, types.CodeLockConflict, res.ErrorCode())
	require.Equal(t, uint64(1), f.orch.Snapshot().LockConflicts)

	close(f.strat.block)
	wg.Wait()
}

func TestQueueFull(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Executor.MaxConcurrent = 1
		cfg.Executor.ExecutionTimeout = config.Millis(5 * time.Second)
	})
	f.strat.block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.orch.Execute(context.Background(), testOpp("opp-1"))
	}()
	require.Eventually(t, func() bool {
		return f.orch.active.Load() == 1
	}, time.Second, time.Millisecond)

	res := f.orch.Execute(context.Background(), testOpp("opp-2"))
	require.Equal(t, types.CodeQueueFull, res.ErrorCode())
	require.Equal(t, uint64(1), f.orch.Snapshot().QueueRejects)

	close(f.strat.block)
	wg.Wait()
}

func TestExecutionTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.block = make(chan struct{})
	defer close(f.strat.block)

	res := f.orch.Execute(context.Background(), testOpp("opp-1"))
	require.Equal(t, types.CodeTimeout, res.ErrorCode())
	require.Equal(t, uint64(1), f.orch.Snapshot().TimedOut)
}

func TestPanicBecomesCodedFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.panics = true

	res := f.orch.Execute(context.Background(), testOpp("opp-1"))
	require.Equal(t, types.CodeUnexpected, res.ErrorCode())
	require.Equal(t, uint64(1), f.orch.Snapshot().Failed)
}

func TestEnvironmentFailureIsDeadLettered(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.results = []*types.ExecutionResult{failure(types.CodeNoProvider)}

	f.orch.Execute(context.Background(), testOpp("opp-1"))
	n, err := f.mem.XLen(context.Background(), "test:dlq")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestEconomicFailureIsNotDeadLettered(t *testing.T) {
	f := newFixture(t, nil)
	f.strat.results = []*types.ExecutionResult{failure(types.CodeLowProfit)}

	f.orch.Execute(context.Background(), testOpp("opp-1"))
	n, err := f.mem.XLen(context.Background(), "test:dlq")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestHalfOpenProbeClosesBreaker(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Breaker.CooldownPeriod = config.Millis(time.Millisecond)
	})
	f.strat.results = []*types.ExecutionResult{
		failure(types.CodeRevert), failure(types.CodeRevert), failure(types.CodeRevert),
		failure(types.CodeRevert), failure(types.CodeRevert),
		{OpportunityID: "opp-1", Strategy: "scripted", Success: true, Chain: "ethereum"},
	}
	for i := 0; i < 5; i++ {
		f.orch.Execute(context.Background(), testOpp("opp-1"))
	}
	require.Equal(t, breaker.Open, f.brk.StateNow())

	time.Sleep(5 * time.Millisecond)
	res := f.orch.Execute(context.Background(), testOpp("opp-1"))
	require.True(t, res.Success)
	require.Equal(t, breaker.Closed, f.brk.StateNow())
}

func TestShutdownRejectsNewWork(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Shutdown())

	res := f.orch.Execute(context.Background(), testOpp("opp-1"))
	require.Equal(t, types.CodeShutdown, res.ErrorCode())
	require.Zero(t, f.strat.callCount())
}
