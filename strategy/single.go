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
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/dex"
	"github.com/nvx-labs/xarb/gas"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/simulation"
	"github.com/nvx-labs/xarb/types"
)

// SingleChain is the default strategy: both legs execute atomically through
// the chain's executor contract.
type SingleChain struct {
	log log.Logger
}

// NewSingleChain returns the default strategy.
func NewSingleChain() *SingleChain {
	return &SingleChain{log: log.New("component", "strategy", "strategy", "single-chain")}
}

func (s *SingleChain) Name() string { return "single-chain" }

func (s *SingleChain) Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult {
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
	client, err := sc.Providers.Client(ctx, chain)
	if err != nil {
		return fail(err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return fail(types.WrapCoded(types.CodeNoProvider, err))
	}
	metrics.GasPriceGwei.WithLabelValues(chain).Set(gas.WeiToGwei(gasPrice))
	if err := sc.Gas.Check(chain, gasPrice); err != nil {
		sc.Stats.GasSpikeAborts.Add(1)
		return fail(err)
	}

	steps, err := sc.Steps.Steps(opp, chain, cfg.WrappedNative, cfg.SlippageBps)
	if err != nil {
		return fail(err)
	}
	asset := common.HexToAddress(opp.TokenIn)
	calldata, err := executeCalldata(asset, opp.AmountIn, steps)
	if err != nil {
		return fail(types.WrapCoded(types.CodeUnexpected, err))
	}

	executor := common.HexToAddress(cfg.ExecutorContract)
	wallet, _ := sc.Wallets.EVM(chain)
	if wallet == nil {
		return fail(types.Codef(types.CodeNoProvider, "no wallet for chain %s", chain))
	}

	if ok, reason := sc.Sim.ShouldSimulate(opp); !ok {
		sc.Stats.SimulationSkipped.Add(1)
		s.log.Debug("Simulation skipped", "opportunity", opp.ID, "reason", reason)
	} else {
		res, err := sc.Sim.Simulate(ctx, &simulation.Request{
			Chain:    chain,
			From:     wallet.Address,
			To:       executor,
			Data:     calldata,
			GasPrice: gasPrice,
		})
		if err != nil {
			// A gate we cannot run is not a reason to drop a live
			// opportunity; the on-chain min-out still protects the trade.
			s.log.Warn("Simulation unavailable, proceeding unguarded", "opportunity", opp.ID, "err", err)
		} else {
			sc.Stats.Simulated.Add(1)
			if res.WillRevert {
				sc.Stats.SimulatedReverts.Add(1)
				return fail(types.Codef(types.CodeSimRevert, "simulation predicts revert: %s", res.RevertReason))
			}
		}
	}

	// Funding decision. The flash fee is priced only when the input asset
	// is the chain's wrapped native; otherwise it is already embedded in
	// the per-step minimum-out.
	// 300k gas covers a two-leg path; the receipt reprices the real cost.
	gasCostUSD := gas.CostUSD(300000, gasPrice, cfg.NativeTokenUSD)
	var flashFeeUSD float64
	if cfg.WrappedNative != "" && common.HexToAddress(cfg.WrappedNative) == asset {
		feeWei := dex.FlashFeeWei(opp.AmountIn, cfg.FlashLoanFeeBps)
		flashFeeUSD = gas.WeiToGwei(feeWei) / 1e9 * cfg.NativeTokenUSD
	}
	if dex.RecommendFunding(opp.ExpectedProfitUSD-gasCostUSD-flashFeeUSD, 0, false) == dex.Skip {
		return fail(types.Codef(types.CodeLowProfit, "expected profit %.4f USD does not cover costs", opp.ExpectedProfitUSD))
	}

	if sc.shuttingDown() {
		return fail(types.NewCodedError(types.CodeShutdown, "shutdown before broadcast"))
	}

	sender := &txSender{sc: sc, chain: chain}
	if err := sender.ensureAllowance(ctx, client, asset, executor, opp.AmountIn, gasPrice); err != nil {
		return fail(err)
	}
	txHash, receipt, err := sender.send(ctx, client, executor, calldata, gasPrice, 60*time.Second)
	if err != nil {
		res := fail(err)
		res.TxHash = txHash.Hex()
		return res
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		res := fail(types.Codef(types.CodeRevert, "arbitrage tx %s reverted", txHash.Hex()))
		res.TxHash = txHash.Hex()
		return res
	}

	realGasCost := gas.CostUSD(receipt.GasUsed, gasPrice, cfg.NativeTokenUSD)
	return &types.ExecutionResult{
		OpportunityID: opp.ID,
		Strategy:      s.Name(),
		Success:       true,
		Chain:         chain,
		TxHash:        txHash.Hex(),
		ProfitUSD:     opp.ExpectedProfitUSD - realGasCost,
		GasCostUSD:    realGasCost,
		Duration:      time.Since(start),
	}
}
