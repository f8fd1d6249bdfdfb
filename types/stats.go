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

package types

import "sync/atomic"

// ExecutionStats holds one monotonic counter per decision point in the
// pipeline. The orchestrator owns the instance; strategies and services hold
// non-owning references. All counters are atomic so a snapshot never tears.
type ExecutionStats struct {
	Received          atomic.Uint64
	Rejected          atomic.Uint64
	Attempted         atomic.Uint64
	Succeeded         atomic.Uint64
	Failed            atomic.Uint64
	TimedOut          atomic.Uint64
	LockConflicts     atomic.Uint64
	QueueRejects      atomic.Uint64
	Simulated         atomic.Uint64
	SimulationSkipped atomic.Uint64
	SimulatedReverts  atomic.Uint64
	CircuitTrips      atomic.Uint64
	CircuitBlocks     atomic.Uint64
	GasSpikeAborts    atomic.Uint64
	RiskCaution       atomic.Uint64
	Replayed          atomic.Uint64
}

// StatsSnapshot is a plain copy of the counters, safe to serialize.
type StatsSnapshot struct {
	Received          uint64 `json:"received"`
	Rejected          uint64 `json:"rejected"`
	Attempted         uint64 `json:"attempted"`
	Succeeded         uint64 `json:"succeeded"`
	Failed            uint64 `json:"failed"`
	TimedOut          uint64 `json:"timedOut"`
	LockConflicts     uint64 `json:"lockConflicts"`
	QueueRejects      uint64 `json:"queueRejects"`
	Simulated         uint64 `json:"simulated"`
	SimulationSkipped uint64 `json:"simulationSkipped"`
	SimulatedReverts  uint64 `json:"simulationPredictedReverts"`
	CircuitTrips      uint64 `json:"circuitBreakerTrips"`
	CircuitBlocks     uint64 `json:"circuitBreakerBlocks"`
	GasSpikeAborts    uint64 `json:"gasSpikeAborts"`
	RiskCaution       uint64 `json:"riskCaution"`
	Replayed          uint64 `json:"replayed"`
}

// Snapshot copies the current counter values.
func (s *ExecutionStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:          s.Received.Load(),
		Rejected:          s.Rejected.Load(),
		Attempted:         s.Attempted.Load(),
		Succeeded:         s.Succeeded.Load(),
		Failed:            s.Failed.Load(),
		TimedOut:          s.TimedOut.Load(),
		LockConflicts:     s.LockConflicts.Load(),
		QueueRejects:      s.QueueRejects.Load(),
		Simulated:         s.Simulated.Load(),
		SimulationSkipped: s.SimulationSkipped.Load(),
		SimulatedReverts:  s.SimulatedReverts.Load(),
		CircuitTrips:      s.CircuitTrips.Load(),
		CircuitBlocks:     s.CircuitBlocks.Load(),
		GasSpikeAborts:    s.GasSpikeAborts.Load(),
		RiskCaution:       s.RiskCaution.Load(),
		Replayed:          s.Replayed.Load(),
	}
}
