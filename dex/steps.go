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

package dex

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nvx-labs/xarb/types"
)

const (
	// DefaultSlippageBps bounds per-step minimum-out when no override is
	// configured.
	DefaultSlippageBps = 50

	stepCacheTTL  = 60 * time.Second
	stepCacheSize = 1024
	bpsDenom      = 10000
)

// Step is one hop of the execution path with its minimum acceptable output.
type Step struct {
	Router   common.Address
	DEX      string
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	MinOut   *big.Int
}

type stepKey struct {
	oppID       string
	chain       string
	slippageBps int
}

type cachedSteps struct {
	steps []Step
	at    time.Time
}

// StepBuilder turns a two-leg opportunity into an ordered swap path
// [tokenIn -> intermediate -> tokenOut]. Results are cached for up to 60s
// per (opportunityId, chain, slippageBps) with LRU eviction.
type StepBuilder struct {
	registry *Registry
	cache    *lru.Cache[stepKey, cachedSteps]
	now      func() time.Time
}

// NewStepBuilder builds a StepBuilder over the registry.
func NewStepBuilder(registry *Registry) *StepBuilder {
	cache, _ := lru.New[stepKey, cachedSteps](stepCacheSize)
	return &StepBuilder{registry: registry, cache: cache, now: time.Now}
}

// Steps resolves both legs' routers and computes per-step minimum-out from
// the slippage bps. The intermediate token comes from the opportunity's
// path hints, falling back to wrappedNative.
func (b *StepBuilder) Steps(opp *types.Opportunity, chain, wrappedNative string, slippageBps int) ([]Step, error) {
	if slippageBps <= 0 {
		slippageBps = DefaultSlippageBps
	}
	key := stepKey{oppID: opp.ID, chain: chain, slippageBps: slippageBps}
	if cached, ok := b.cache.Get(key); ok && b.now().Sub(cached.at) < stepCacheTTL {
		return cached.steps, nil
	}

	buyRouter, err := b.registry.Router(chain, opp.BuyVenue)
	if err != nil {
		return nil, err
	}
	sellRouter, err := b.registry.Router(chain, opp.SellVenue)
	if err != nil {
		return nil, err
	}

	intermediate := wrappedNative
	if len(opp.PathHints) > 0 {
		intermediate = opp.PathHints[0]
	}
	if intermediate == "" {
		return nil, types.Codef(types.CodeNoRoute, "no intermediate token for %s on %s", opp.ID, chain)
	}

	leg1Out := MinOut(opp.AmountIn, slippageBps)
	steps := []Step{
		{
			Router:   buyRouter,
			DEX:      opp.BuyVenue,
			TokenIn:  common.HexToAddress(opp.TokenIn),
			TokenOut: common.HexToAddress(intermediate),
			AmountIn: new(big.Int).Set(opp.AmountIn),
			MinOut:   leg1Out,
		},
		{
			Router:   sellRouter,
			DEX:      opp.SellVenue,
			TokenIn:  common.HexToAddress(intermediate),
			TokenOut: common.HexToAddress(opp.TokenOut),
			AmountIn: leg1Out,
			MinOut:   MinOut(leg1Out, slippageBps),
		},
	}
	b.cache.Add(key, cachedSteps{steps: steps, at: b.now()})
	return steps, nil
}

// MinOut applies a slippage haircut in basis points.
func MinOut(amount *big.Int, slippageBps int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(bpsDenom-slippageBps)))
	return out.Div(out, big.NewInt(bpsDenom))
}

// CacheLen reports the number of cached paths, for health output.
func (b *StepBuilder) CacheLen() int { return b.cache.Len() }

func (k stepKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.oppID, k.chain, k.slippageBps)
}
