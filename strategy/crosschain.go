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

	"github.com/nvx-labs/xarb/bridge"
	"github.com/nvx-labs/xarb/dex"
	"github.com/nvx-labs/xarb/gas"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/simulation"
	"github.com/nvx-labs/xarb/types"
)

// bridgeFeeProfitCap rejects transfers whose bridge fee eats half or more
// of the expected profit.
const bridgeFeeProfitCap = 0.5

// defaultBridgeWait bounds the status polling phase.
const defaultBridgeWait = 5 * time.Minute

// CrossChain buys on the source chain, bridges the intermediate asset and
// sells on the destination chain. The pipeline order is strict: every
// guard that can fire before funds move must fire before funds move.
type CrossChain struct {
	maxBridgeWait time.Duration
	log           log.Logger
}

// NewCrossChain returns the cross-chain strategy.
func NewCrossChain() *CrossChain {
	return &CrossChain{
		maxBridgeWait: defaultBridgeWait,
		log:           log.New("component", "strategy", "strategy", "cross-chain"),
	}
}

func (s *CrossChain) Name() string { return "cross-chain" }

func (s *CrossChain) Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult {
	start := time.Now()
	source, dest := opp.BuyChain, opp.SellChain

	fail := func(chain string, err error) *types.ExecutionResult {
		var coded *types.CodedError
		if !errors.As(err, &coded) {
			coded = types.WrapCoded(types.CodeUnexpected, err)
		}
		res := types.Failure(opp.ID, s.Name(), chain, coded)
		res.Duration = time.Since(start)
		return res
	}

	sourceCfg, ok := sc.Chains[source]
	if !ok {
		return fail(source, types.Codef(types.CodeNoChain, "source chain %s is not configured", source))
	}
	destCfg, ok := sc.Chains[dest]
	if !ok {
		return fail(dest, types.Codef(types.CodeNoChain, "destination chain %s is not configured", dest))
	}

	sourceClient, err := sc.Providers.Client(ctx, source)
	if err != nil {
		return fail(source, err)
	}
	wallet, ok := sc.Wallets.EVM(source)
	if !ok {
		return fail(source, types.Codef(types.CodeNoProvider, "no wallet for chain %s", source))
	}

	// 1. Gas-spike guard on the source chain.
	gasPrice, err := sourceClient.SuggestGasPrice(ctx)
	if err != nil {
		return fail(source, types.WrapCoded(types.CodeNoProvider, err))
	}
	metrics.GasPriceGwei.WithLabelValues(source).Set(gas.WeiToGwei(gasPrice))
	if err := sc.Gas.Check(source, gasPrice); err != nil {
		sc.Stats.GasSpikeAborts.Add(1)
		return fail(source, err)
	}

	// 2. Quote the bridge and reject fee-heavy transfers.
	if sc.Bridges == nil {
		return fail(source, types.Codef(types.CodeNoBridge, "no bridge factory configured"))
	}
	br, err := sc.Bridges.BridgeFor(source, dest)
	if err != nil {
		return fail(source, types.WrapCoded(types.CodeNoBridge, err))
	}
	req := &bridge.Request{
		SourceChain: source,
		DestChain:   dest,
		Token:       opp.TokenIn,
		Amount:      opp.AmountIn,
		Recipient:   wallet.Address.Hex(),
	}
	quote, err := br.Quote(ctx, req)
	if err != nil {
		return fail(source, types.WrapCoded(types.CodeNoBridge, err))
	}
	if opp.ExpectedProfitUSD > 0 && quote.FeeUSD >= opp.ExpectedProfitUSD*bridgeFeeProfitCap {
		return fail(source, types.Codef(types.CodeLowProfit,
			"bridge fee %.2f USD consumes >= %.0f%% of expected profit %.2f USD",
			quote.FeeUSD, bridgeFeeProfitCap*100, opp.ExpectedProfitUSD))
	}

	// 3. Reserve the source nonce.
	sourceNonce, err := sc.Nonces.GetNextNonce(ctx, source, wallet.Address.Hex())
	if err != nil {
		return fail(source, err)
	}
	releaseNonce := func(reason string) {
		_ = sc.Nonces.FailTransaction(source, wallet.Address.Hex(), sourceNonce, reason)
	}

	// 4. Quote liveness: a stale quote releases the nonce and aborts.
	if quote.Expired(time.Now()) {
		releaseNonce("bridge quote expired")
		return fail(source, types.Codef(types.CodeQuoteExpired, "bridge quote via %s expired", quote.Route))
	}

	// 5. Simulate the destination sell before funds can strand.
	if aborted := s.simulateDestination(ctx, opp, sc, dest, destCfg.ExecutorContract); aborted != nil {
		releaseNonce("destination simulation predicted revert")
		sc.Stats.SimulatedReverts.Add(1)
		return fail(dest, aborted)
	}

	if sc.shuttingDown() {
		releaseNonce("shutdown")
		return fail(source, types.NewCodedError(types.CodeShutdown, "shutdown before bridge submit"))
	}

	// 6. Submit the bridge transfer.
	bridgeTx, transferID, err := br.Submit(ctx, req, quote)
	if err != nil {
		releaseNonce("bridge submit: " + err.Error())
		return fail(source, types.WrapCoded(types.CodeNoBridge, err))
	}
	_ = sc.Nonces.ConfirmTransaction(source, wallet.Address.Hex(), sourceNonce, bridgeTx)

	// 7-8. Poll for a terminal status; a timeout carries the source tx
	// hash for manual reconciliation.
	status, err := bridge.Await(ctx, br, transferID, s.maxBridgeWait, sc.ShuttingDown)
	if err != nil {
		res := fail(source, err)
		res.BridgeTxHash = bridgeTx
		return res
	}
	if status != bridge.StatusCompleted {
		res := fail(source, types.Codef(types.CodeBridgeTimeout, "bridge transfer %s ended %s", transferID, status))
		res.BridgeTxHash = bridgeTx
		return res
	}

	// 9. Destination sell. From here on a failure is partial: funds are on
	// the destination chain.
	sellTx, gasCostUSD, err := s.destinationSell(ctx, opp, sc, dest, destCfg.ExecutorContract, destCfg.NativeTokenUSD)
	if err != nil {
		res := fail(dest, err)
		res.BridgeTxHash = bridgeTx
		return res
	}

	// 10. Settle.
	sourceGasUSD := gas.CostUSD(150000, gasPrice, sourceCfg.NativeTokenUSD)
	return &types.ExecutionResult{
		OpportunityID: opp.ID,
		Strategy:      s.Name(),
		Success:       true,
		Chain:         dest,
		TxHash:        sellTx,
		BridgeTxHash:  bridgeTx,
		ProfitUSD:     opp.ExpectedProfitUSD - quote.FeeUSD - gasCostUSD - sourceGasUSD,
		GasCostUSD:    gasCostUSD + sourceGasUSD,
		BridgeFeeUSD:  quote.FeeUSD,
		Duration:      time.Since(start),
	}
}

// simulateDestination returns a non-nil error only when the sell is
// predicted to revert; simulation being unavailable never blocks.
func (s *CrossChain) simulateDestination(ctx context.Context, opp *types.Opportunity, sc *Context, dest, executorContract string) error {
	if executorContract == "" {
		return nil
	}
	wallet, ok := sc.Wallets.EVM(dest)
	if !ok {
		return nil
	}
	shouldRun, _ := sc.Sim.ShouldSimulate(opp)
	if !shouldRun {
		sc.Stats.SimulationSkipped.Add(1)
		return nil
	}
	executor := common.HexToAddress(executorContract)
	calldata, err := sellCalldata(opp, executor)
	if err != nil {
		return nil
	}
	res, err := sc.Sim.Simulate(ctx, &simulation.Request{
		Chain: dest,
		From:  wallet.Address,
		To:    executor,
		Data:  calldata,
	})
	if err != nil {
		s.log.Warn("Destination simulation unavailable", "opportunity", opp.ID, "chain", dest, "err", err)
		return nil
	}
	sc.Stats.Simulated.Add(1)
	if res.WillRevert {
		return types.Codef(types.CodeSimRevertDest,
			"destination sell on %s predicted to revert: %s", dest, res.RevertReason)
	}
	return nil
}

func (s *CrossChain) destinationSell(ctx context.Context, opp *types.Opportunity, sc *Context, dest, executorContract string, nativeUSD float64) (string, float64, error) {
	if executorContract == "" {
		return "", 0, types.Codef(types.CodeNoChain, "no executor contract on %s", dest)
	}
	client, err := sc.Providers.Client(ctx, dest)
	if err != nil {
		return "", 0, err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", 0, types.WrapCoded(types.CodeNoProvider, err)
	}
	executor := common.HexToAddress(executorContract)
	calldata, err := sellCalldata(opp, executor)
	if err != nil {
		return "", 0, types.WrapCoded(types.CodeUnexpected, err)
	}

	sender := &txSender{sc: sc, chain: dest}
	token := common.HexToAddress(opp.TokenIn)
	if err := sender.ensureAllowance(ctx, client, token, executor, opp.AmountIn, gasPrice); err != nil {
		return "", 0, err
	}
	txHash, receipt, err := sender.send(ctx, client, executor, calldata, gasPrice, 60*time.Second)
	if err != nil {
		return txHash.Hex(), 0, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return txHash.Hex(), 0, types.Codef(types.CodeRevert, "destination sell %s reverted", txHash.Hex())
	}
	return txHash.Hex(), gas.CostUSD(receipt.GasUsed, gasPrice, nativeUSD), nil
}

// sellCalldata encodes the single-leg destination sell through the
// executor contract, with the default slippage haircut as minimum-out.
func sellCalldata(opp *types.Opportunity, router common.Address) ([]byte, error) {
	step := []pathStep{{
		Router:       router,
		TokenIn:      common.HexToAddress(opp.TokenIn),
		TokenOut:     common.HexToAddress(opp.TokenOut),
		AmountOutMin: dex.MinOut(opp.AmountIn, dex.DefaultSlippageBps),
	}}
	packed, err := executeArgs.Pack(common.HexToAddress(opp.TokenIn), opp.AmountIn, step)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, executeSelector...), packed...), nil
}
