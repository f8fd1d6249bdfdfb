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

// Package executor turns validated opportunities into at most one
// transaction submission each: breaker gate, per-id inflight lock, bounded
// concurrency, bounded wall-clock, breaker outcome recording.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/breaker"
	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/dlq"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/strategy"
	"github.com/nvx-labs/xarb/types"
)

// localCodes are outcomes decided inside this process, before or instead of
// touching a chain. They are never dead-lettered: retrying identical input
// cannot change a local decision.
var localCodes = mapset.NewSet(
	types.CodeCircuitOpen,
	types.CodeLockConflict,
	types.CodeQueueFull,
	types.CodeShutdown,
	types.CodeGasSpike,
	types.CodeLowProfit,
	types.CodePriceDeviation,
	types.CodeQuoteExpired,
	types.CodeSimRevert,
	types.CodeSimRevertDest,
)

// Orchestrator owns the shared strategy context and enforces the execution
// contract around every strategy call.
type Orchestrator struct {
	cfg      config.ExecutorConfig
	breaker  *breaker.Breaker
	registry *strategy.Registry
	sc       *strategy.Context
	dlq      *dlq.Writer // nil disables failure dead-lettering
	simMode  bool

	inflight mapset.Set[string]
	active   atomic.Int64
	shutdown atomic.Bool

	breakerSub event.Subscription
	breakerCh  chan breaker.StateChangeEvent
	wg         sync.WaitGroup
	log        log.Logger
}

// New wires the orchestrator. The strategy context's shutdown flag is bound
// here so strategies observe orchestrator shutdown.
func New(cfg config.ExecutorConfig, brk *breaker.Breaker, registry *strategy.Registry, sc *strategy.Context, dlqWriter *dlq.Writer, simMode bool) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		breaker:  brk,
		registry: registry,
		sc:       sc,
		dlq:      dlqWriter,
		simMode:  simMode,
		inflight: mapset.NewSet[string](),
		log:      log.New("component", "executor"),
	}
	sc.ShuttingDown = o.ShuttingDown
	return o
}

// ShuttingDown reports whether shutdown has begun.
func (o *Orchestrator) ShuttingDown() bool { return o.shutdown.Load() }

// Start launches the breaker event mirror.
func (o *Orchestrator) Start() {
	o.breakerCh = make(chan breaker.StateChangeEvent, 16)
	o.breakerSub = o.breaker.SubscribeStateChanges(o.breakerCh)
	o.wg.Add(1)
	go o.mirrorBreaker()
}

func (o *Orchestrator) mirrorBreaker() {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.breakerCh:
			if !ok {
				return
			}
			metrics.CircuitBreakerState.Set(stateValue(ev.New))
			if ev.New == breaker.Open {
				metrics.CircuitBreakerTrips.Inc()
				o.sc.Stats.CircuitTrips.Add(1)
			}
		case <-o.breakerSub.Err():
			return
		}
	}
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.HalfOpen:
		return 1
	case breaker.Open:
		return 2
	}
	return 0
}

// Dispatch runs Execute on its own goroutine, tracked for shutdown.
func (o *Orchestrator) Dispatch(ctx context.Context, opp *types.Opportunity) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Execute(ctx, opp)
	}()
}

// Execute runs one opportunity end to end and returns its result. Failures
// are coded, never bare.
func (o *Orchestrator) Execute(ctx context.Context, opp *types.Opportunity) *types.ExecutionResult {
	if o.shutdown.Load() {
		return types.Failure(opp.ID, "", opp.Chain(),
			types.NewCodedError(types.CodeShutdown, "orchestrator is shutting down"))
	}

	// Breaker gate. The answer here is final for this opportunity; no
	// re-check happens mid-execution.
	if !o.breaker.CanExecute() {
		o.sc.Stats.CircuitBlocks.Add(1)
		metrics.CircuitBreakerBlocks.Inc()
		o.log.Warn("Execution blocked by open circuit", "opportunity", opp.ID)
		return types.Failure(opp.ID, "", opp.Chain(),
			types.NewCodedError(types.CodeCircuitOpen, "circuit breaker is open"))
	}

	// At-most-once per id in flight.
	if !o.inflight.Add(opp.ID) {
		o.sc.Stats.LockConflicts.Add(1)
		return types.Failure(opp.ID, "", opp.Chain(),
			types.Codef(types.CodeLockConflict, "opportunity %s is already executing", opp.ID))
	}
	defer o.inflight.Remove(opp.ID)

	// Bounded concurrency.
	if n := o.active.Add(1); n > int64(o.cfg.MaxConcurrent) {
		o.active.Add(-1)
		o.sc.Stats.QueueRejects.Add(1)
		metrics.QueueRejects.Inc()
		return types.Failure(opp.ID, "", opp.Chain(),
			types.Codef(types.CodeQueueFull, "%d executions already in flight", o.cfg.MaxConcurrent))
	}
	defer o.active.Add(-1)
	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	strat, err := o.registry.Resolve(opp, o.simMode)
	if err != nil {
		res := types.Failure(opp.ID, "", opp.Chain(), types.WrapCoded(types.CodeUnexpected, err))
		o.conclude(opp, res)
		return res
	}

	o.sc.Stats.Attempted.Add(1)
	metrics.ExecutionAttempts.WithLabelValues(opp.Chain(), strat.Name()).Inc()

	res := o.run(ctx, strat, opp)
	o.conclude(opp, res)
	return res
}

// run executes the strategy under the wall-clock budget with panic
// containment. On timeout any transaction already broadcast is left alone.
func (o *Orchestrator) run(ctx context.Context, strat strategy.Strategy, opp *types.Opportunity) *types.ExecutionResult {
	timeout := o.cfg.ExecutionTimeout.Duration()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan *types.ExecutionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error("Strategy panicked", "opportunity", opp.ID, "strategy", strat.Name(), "panic", r)
				done <- types.Failure(opp.ID, strat.Name(), opp.Chain(),
					types.Codef(types.CodeUnexpected, "strategy panic: %v", r))
			}
		}()
		done <- strat.Execute(execCtx, opp, o.sc)
	}()

	select {
	case res := <-done:
		if res == nil {
			res = types.Failure(opp.ID, strat.Name(), opp.Chain(),
				types.NewCodedError(types.CodeUnexpected, "strategy returned no result"))
		}
		metrics.ExecutionLatency.WithLabelValues(opp.Chain(), strat.Name()).Observe(time.Since(start).Seconds())
		return res
	case <-execCtx.Done():
		o.sc.Stats.TimedOut.Add(1)
		res := types.Failure(opp.ID, strat.Name(), opp.Chain(),
			types.Codef(types.CodeTimeout, "execution exceeded %s", timeout))
		res.Duration = time.Since(start)
		return res
	}
}

// conclude records the outcome on the breaker and the counters, and routes
// environment or on-chain failures to the dead-letter stream.
func (o *Orchestrator) conclude(opp *types.Opportunity, res *types.ExecutionResult) {
	if res.Success {
		o.breaker.RecordSuccess()
		o.sc.Stats.Succeeded.Add(1)
		metrics.ExecutionSuccesses.WithLabelValues(res.Chain, res.Strategy).Inc()
		o.log.Info("Execution succeeded", "opportunity", opp.ID, "strategy", res.Strategy,
			"chain", res.Chain, "tx", res.TxHash, "profitUsd", fmt.Sprintf("%.2f", res.ProfitUSD))
		return
	}

	o.breaker.RecordFailure()
	o.sc.Stats.Failed.Add(1)
	code := res.ErrorCode()
	metrics.ExecutionFailures.WithLabelValues(res.Chain, res.Strategy, code).Inc()
	o.log.Warn("Execution failed", "opportunity", opp.ID, "strategy", res.Strategy,
		"chain", res.Chain, "code", code, "err", res.Err)

	if o.dlq == nil || localCodes.Contains(code) {
		return
	}
	entry := &types.DLQEntry{
		OpportunityID:   opp.ID,
		OpportunityType: string(opp.Kind),
		Error:           res.Err.Error(),
		OriginalPayload: string(opp.Raw),
	}
	if _, err := o.dlq.Write(context.Background(), entry); err != nil {
		o.log.Error("Failed to dead-letter failed execution", "opportunity", opp.ID, "err", err)
	}
}

// Snapshot returns the stats counters.
func (o *Orchestrator) Snapshot() types.StatsSnapshot { return o.sc.Stats.Snapshot() }

// Shutdown stops intake and waits up to the grace period for inflight
// executions. Executions still running at the deadline are abandoned.
func (o *Orchestrator) Shutdown() error {
	o.shutdown.Store(true)
	if o.breakerSub != nil {
		o.breakerSub.Unsubscribe()
	}

	grace := o.cfg.ShutdownGrace.Duration()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.log.Info("Orchestrator drained")
		return nil
	case <-time.After(grace):
		o.log.Warn("Shutdown grace expired with executions in flight", "active", o.active.Load())
		return fmt.Errorf("executor: %d executions still active after %s", o.active.Load(), grace)
	}
}
