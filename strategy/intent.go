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
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/gas"
	"github.com/nvx-labs/xarb/types"
)

// intentOrder is the decoded Dutch-auction order carried in the
// opportunity's intent payload.
type intentOrder struct {
	Reactor         string `json:"reactor"`
	ChainID         int64  `json:"chainId"`
	ExclusiveFiller string `json:"exclusiveFiller,omitempty"`
	ExclusivityEnd  int64  `json:"exclusivityEnd,omitempty"` // unix ms
	DecayStart      int64  `json:"decayStart"`               // unix ms
	DecayEnd        int64  `json:"decayEnd"`                 // unix ms
	StartAmount     string `json:"startAmount"`
	EndAmount       string `json:"endAmount"`
	Deadline        int64  `json:"deadline"` // unix ms

	// EncodedOrder is the raw signed order forwarded to the reactor.
	EncodedOrder []byte `json:"encodedOrder"`
}

// IntentFill fills Dutch-auction intents against whitelisted reactor
// contracts. The whitelist is configuration: reactor deployments change
// across chains and upgrades.
type IntentFill struct {
	cfg      config.IntentConfig
	reactors mapset.Set[string]
	now      func() time.Time
	log      log.Logger
}

// NewIntentFill builds the filler from its config.
func NewIntentFill(cfg config.IntentConfig) *IntentFill {
	reactors := mapset.NewSet[string]()
	for _, r := range cfg.Reactors {
		reactors.Add(strings.ToLower(common.HexToAddress(r).Hex()))
	}
	return &IntentFill{
		cfg:      cfg,
		reactors: reactors,
		now:      time.Now,
		log:      log.New("component", "strategy", "strategy", "intent-fill"),
	}
}

func (s *IntentFill) Name() string { return "intent-fill" }

func (s *IntentFill) Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult {
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
	var order intentOrder
	if err := json.Unmarshal(opp.IntentPayload, &order); err != nil {
		return fail(types.Codef(types.CodeUnexpected, "intent payload unparseable: %v", err))
	}

	// Unknown reactors are rejected outright: a malicious settlement
	// contract can drain the filler.
	reactor := strings.ToLower(common.HexToAddress(order.Reactor).Hex())
	if !s.reactors.Contains(reactor) {
		return fail(types.Codef(types.CodeNoRoute, "reactor %s is not whitelisted", order.Reactor))
	}
	if order.ChainID != cfg.ChainID {
		return fail(types.Codef(types.CodeNoChain,
			"order chain id %d does not match %s (%d)", order.ChainID, chain, cfg.ChainID))
	}

	now := s.now()
	if order.Deadline != 0 && !now.Before(time.UnixMilli(order.Deadline)) {
		return fail(types.Codef(types.CodeQuoteExpired, "order deadline passed"))
	}

	wallet, ok := sc.Wallets.EVM(chain)
	if !ok {
		return fail(types.Codef(types.CodeNoProvider, "no wallet for chain %s", chain))
	}
	// During the exclusivity window only the named filler may act.
	if order.ExclusiveFiller != "" && now.UnixMilli() < order.ExclusivityEnd {
		if !strings.EqualFold(order.ExclusiveFiller, wallet.Address.Hex()) {
			sc.Stats.RiskCaution.Add(1)
			return fail(types.Codef(types.CodeLowProfit, "order is exclusive to %s", order.ExclusiveFiller))
		}
	}

	current, err := decayedAmount(order, now)
	if err != nil {
		return fail(types.WrapCoded(types.CodeUnexpected, err))
	}
	profitUSD := opp.ExpectedProfitUSD
	if profitUSD < s.cfg.MinProfitUSD {
		return fail(types.Codef(types.CodeLowProfit,
			"current fill profit %.2f USD below minimum %.2f USD", profitUSD, s.cfg.MinProfitUSD))
	}

	client, err := sc.Providers.Client(ctx, chain)
	if err != nil {
		return fail(err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return fail(types.WrapCoded(types.CodeNoProvider, err))
	}
	// The ceiling compares as float gwei; integer wei division would
	// truncate sub-gwei prices to zero.
	if s.cfg.MaxGasPriceGwei > 0 && gas.WeiToGwei(gasPrice) > s.cfg.MaxGasPriceGwei {
		return fail(types.Codef(types.CodeGasSpike,
			"gas price %.2f gwei above intent ceiling %.2f gwei", gas.WeiToGwei(gasPrice), s.cfg.MaxGasPriceGwei))
	}

	if sc.shuttingDown() {
		return fail(types.NewCodedError(types.CodeShutdown, "shutdown before fill"))
	}

	sender := &txSender{sc: sc, chain: chain}
	txHash, receipt, err := sender.send(ctx, client, common.HexToAddress(order.Reactor), order.EncodedOrder, gasPrice, 60*time.Second)
	if err != nil {
		res := fail(err)
		res.TxHash = txHash.Hex()
		return res
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		res := fail(types.Codef(types.CodeRevert, "fill tx %s reverted", txHash.Hex()))
		res.TxHash = txHash.Hex()
		return res
	}

	gasCost := gas.CostUSD(receipt.GasUsed, gasPrice, cfg.NativeTokenUSD)
	s.log.Info("Intent filled", "opportunity", opp.ID, "reactor", order.Reactor, "amount", current, "tx", txHash)
	return &types.ExecutionResult{
		OpportunityID: opp.ID,
		Strategy:      s.Name(),
		Success:       true,
		Chain:         chain,
		TxHash:        txHash.Hex(),
		ProfitUSD:     profitUSD - gasCost,
		GasCostUSD:    gasCost,
		Duration:      time.Since(start),
	}
}

// decayedAmount interpolates the current output amount linearly between
// decayStart and decayEnd, clamped at both endpoints.
func decayedAmount(order intentOrder, now time.Time) (*big.Int, error) {
	startAmount, ok := new(big.Int).SetString(order.StartAmount, 10)
	if !ok {
		return nil, errors.New("startAmount unparseable")
	}
	endAmount, ok := new(big.Int).SetString(order.EndAmount, 10)
	if !ok {
		return nil, errors.New("endAmount unparseable")
	}
	t := now.UnixMilli()
	if order.DecayEnd <= order.DecayStart || t <= order.DecayStart {
		return startAmount, nil
	}
	if t >= order.DecayEnd {
		return endAmount, nil
	}
	// start + (end-start) * elapsed / window
	span := new(big.Int).Sub(endAmount, startAmount)
	span.Mul(span, big.NewInt(t-order.DecayStart))
	span.Div(span, big.NewInt(order.DecayEnd-order.DecayStart))
	return span.Add(span, startAmount), nil
}
