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
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/commitreveal"
	"github.com/nvx-labs/xarb/types"
)

// revealDeadline bounds how long a committed trade stays executable on
// chain. It comfortably exceeds the one-block reveal delay plus retries.
const revealDeadline = 10 * time.Minute

// minProfitBps is the on-chain profit floor encoded into the commitment,
// in basis points of the input amount.
const minProfitBps = 10

// CommitReveal drives the two-phase commit, wait one block, reveal
// sequence through the commitreveal service. The plaintext parameters
// stay private until the commitment is already on chain.
type CommitReveal struct {
	svc *commitreveal.Service
	log log.Logger
}

// NewCommitReveal wraps the commit-reveal service as a strategy.
func NewCommitReveal(svc *commitreveal.Service) *CommitReveal {
	return &CommitReveal{
		svc: svc,
		log: log.New("component", "strategy", "strategy", "commit-reveal"),
	}
}

func (s *CommitReveal) Name() string { return "commit-reveal" }

func (s *CommitReveal) Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult {
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
	steps, err := sc.Steps.Steps(opp, chain, cfg.WrappedNative, cfg.SlippageBps)
	if err != nil {
		return fail(err)
	}
	salt, err := commitreveal.NewSalt()
	if err != nil {
		return fail(types.WrapCoded(types.CodeUnexpected, err))
	}
	params := &types.RevealParams{
		Asset:     common.HexToAddress(opp.TokenIn),
		AmountIn:  opp.AmountIn,
		SwapPath:  toSwapSteps(steps),
		MinProfit: profitFloor(opp.AmountIn),
		Deadline:  big.NewInt(time.Now().Add(revealDeadline).Unix()),
		Salt:      salt,
	}

	record, err := s.svc.Commit(ctx, chain, params, opp.ExpectedProfitUSD)
	if err != nil {
		return fail(err)
	}
	if err := s.svc.WaitForRevealBlock(ctx, chain, record.RevealBlock); err != nil {
		// The commitment stays stored; a later manual reveal or cancel can
		// still settle it.
		s.log.Warn("Reveal block wait failed, commitment retained",
			"opportunity", opp.ID, "hash", record.Hash, "err", err)
		return fail(err)
	}

	reveal, err := s.svc.Reveal(ctx, chain, record.Hash)
	if err != nil {
		if types.CodeOf(err) == "" {
			// The service reports state errors as plain text; the dispatch
			// layer needs a coded failure.
			err = types.WrapCoded(types.CodeUnexpected, err)
		}
		return fail(err)
	}

	res := &types.ExecutionResult{
		OpportunityID: opp.ID,
		Strategy:      s.Name(),
		Success:       true,
		Chain:         chain,
		TxHash:        reveal.TxHash.Hex(),
		ProfitUSD:     opp.ExpectedProfitUSD,
		Duration:      time.Since(start),
	}
	if reveal.Profit != nil {
		s.log.Info("Reveal settled", "opportunity", opp.ID, "hash", record.Hash, "profitWei", reveal.Profit)
	}
	return res
}

// profitFloor derives the on-chain minimum profit from the input amount.
func profitFloor(amountIn *big.Int) *big.Int {
	floor := new(big.Int).Mul(amountIn, big.NewInt(minProfitBps))
	return floor.Div(floor, big.NewInt(10000))
}
