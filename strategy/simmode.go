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
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/simulation"
	"github.com/nvx-labs/xarb/types"
)

// SimulationOnly is the global simulation-mode strategy: it runs the full
// planning path for an opportunity and stops at the simulation boundary.
// Nothing is ever broadcast.
type SimulationOnly struct {
	log log.Logger
}

// NewSimulationOnly returns the dry-run strategy.
func NewSimulationOnly() *SimulationOnly {
	return &SimulationOnly{log: log.New("component", "strategy", "strategy", "simulation")}
}

func (s *SimulationOnly) Name() string { return "simulation" }

func (s *SimulationOnly) Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult {
	start := time.Now()
	chain := opp.Chain()
	fail := func(err error) *types.ExecutionResult {
		var coded *types.CodedError
		if !errors.As(err, &coded) {
			coded = types.WrapCoded(types.CodeUnexpected, err)
		}
		res := types.Failure(opp.ID, s.Name(), chain, coded)
		res.Duration = time.Since(start)
		return res
	}

	cfg, ok := sc.Chains[chain]
	if !ok {
		return fail(types.Codef(types.CodeNoChain, "chain %s is not configured", chain))
	}
	if cfg.ExecutorContract == "" {
		return fail(types.Codef(types.CodeNoChain, "no executor contract on %s", chain))
	}
	wallet, ok := sc.Wallets.EVM(chain)
	if !ok {
		return fail(types.Codef(types.CodeNoProvider, "no wallet for chain %s", chain))
	}

	steps, err := sc.Steps.Steps(opp, chain, cfg.WrappedNative, cfg.SlippageBps)
	if err != nil {
		return fail(err)
	}
	calldata, err := executeCalldata(common.HexToAddress(opp.TokenIn), opp.AmountIn, steps)
	if err != nil {
		return fail(types.WrapCoded(types.CodeUnexpected, err))
	}

	res, err := sc.Sim.Simulate(ctx, &simulation.Request{
		Chain: chain,
		From:  wallet.Address,
		To:    common.HexToAddress(cfg.ExecutorContract),
		Data:  calldata,
	})
	if err != nil {
		return fail(types.WrapCoded(types.CodeSimError, err))
	}
	sc.Stats.Simulated.Add(1)
	if res.WillRevert {
		sc.Stats.SimulatedReverts.Add(1)
		return fail(types.Codef(types.CodeSimRevert, "simulation predicts revert: %s", res.RevertReason))
	}

	s.log.Info("Dry run passed simulation", "opportunity", opp.ID, "chain", chain, "provider", res.Provider)
	return &types.ExecutionResult{
		OpportunityID: opp.ID,
		Strategy:      s.Name(),
		Success:       true,
		Chain:         chain,
		ProfitUSD:     opp.ExpectedProfitUSD,
		Duration:      time.Since(start),
	}
}
