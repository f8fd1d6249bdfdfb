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

package strategy

import (
	"fmt"

	"github.com/nvx-labs/xarb/types"
)

// Registry maps opportunity kinds to strategies. Registration happens once
// at startup; resolution is read-only afterwards.
type Registry struct {
	byKind     map[types.Kind]Strategy
	simulation Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[types.Kind]Strategy)}
}

// Register binds a strategy to a kind.
func (r *Registry) Register(kind types.Kind, s Strategy) {
	r.byKind[kind] = s
}

// RegisterSimulation installs the strategy used in global simulation mode.
func (r *Registry) RegisterSimulation(s Strategy) {
	r.simulation = s
}

// Ready verifies the minimum viable registry: the single-chain default must
// exist, everything else is optional.
func (r *Registry) Ready() error {
	if _, ok := r.byKind[types.KindSingleChain]; !ok {
		return fmt.Errorf("strategy: single-chain strategy is required")
	}
	return nil
}

// Resolve picks the strategy for an opportunity. In simulation mode every
// opportunity routes to the simulation strategy; a kind with no registered
// strategy falls back to the single-chain default only for unrecognized
// kinds, never for cross-chain.
func (r *Registry) Resolve(opp *types.Opportunity, simulationMode bool) (Strategy, error) {
	if simulationMode {
		if r.simulation == nil {
			return nil, types.NewCodedError(types.CodeUnexpected, "simulation mode set but no simulation strategy registered")
		}
		return r.simulation, nil
	}
	switch opp.Kind {
	case types.KindCrossChain:
		s, ok := r.byKind[types.KindCrossChain]
		if !ok {
			return nil, types.NewCodedError(types.CodeUnexpected, "cross-chain opportunity but no cross-chain strategy registered")
		}
		return s, nil
	case types.KindIntentFill, types.KindSolanaBundle, types.KindCommitReveal:
		if s, ok := r.byKind[opp.Kind]; ok {
			return s, nil
		}
		return nil, types.Codef(types.CodeUnexpected, "no strategy registered for kind %s", opp.Kind)
	}
	s, ok := r.byKind[types.KindSingleChain]
	if !ok {
		return nil, types.NewCodedError(types.CodeUnexpected, "no single-chain strategy registered")
	}
	return s, nil
}
