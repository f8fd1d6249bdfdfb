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

// Package gas holds the spike guard and small gas-price policy helpers.
package gas

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"

	"github.com/nvx-labs/xarb/types"
)

// ewmaAlpha is the smoothing factor of the per-chain rolling baseline.
const ewmaAlpha = 0.2

// SpikeGuard rejects executions when the current gas price exceeds a
// multiple of a rolling per-chain baseline. Baselines are cleared whenever
// the chain's provider reconnects.
type SpikeGuard struct {
	mu         sync.Mutex
	multiplier float64
	baselines  map[string]float64 // gwei EWMA
}

// NewSpikeGuard builds a guard with the configured multiplier.
func NewSpikeGuard(multiplier float64) *SpikeGuard {
	return &SpikeGuard{
		multiplier: multiplier,
		baselines:  make(map[string]float64),
	}
}

// Check folds price into the chain baseline and errors with ERR_GAS_SPIKE
// when the price exceeds multiplier times the prior baseline. The first
// observation on a chain seeds the baseline and always passes.
func (g *SpikeGuard) Check(chain string, price *big.Int) error {
	gwei := WeiToGwei(price)
	g.mu.Lock()
	defer g.mu.Unlock()
	baseline, ok := g.baselines[chain]
	if !ok {
		g.baselines[chain] = gwei
		return nil
	}
	if gwei > baseline*g.multiplier {
		return types.Codef(types.CodeGasSpike,
			"gas price %.2f gwei exceeds %.1fx baseline %.2f gwei on %s",
			gwei, g.multiplier, baseline, chain)
	}
	g.baselines[chain] = baseline + ewmaAlpha*(gwei-baseline)
	return nil
}

// Reset clears the chain baseline. Invoked from the provider-reconnect
// callback because a fresh provider may report a different fee market view.
func (g *SpikeGuard) Reset(chain string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.baselines, chain)
}

// Baseline returns the current baseline in gwei, if any.
func (g *SpikeGuard) Baseline(chain string) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.baselines[chain]
	return b, ok
}

// WeiToGwei converts without truncating sub-gwei precision; the intent
// strategy's ceiling comparison depends on the fractional part.
func WeiToGwei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(params.GWei))
	out, _ := f.Float64()
	return out
}

// CapPrice clamps price at maxGwei, returning the original when under the
// cap.
func CapPrice(price *big.Int, maxGwei float64) *big.Int {
	if price == nil || maxGwei <= 0 {
		return price
	}
	cap256 := uint256.NewInt(uint64(maxGwei * params.GWei))
	cur, overflow := uint256.FromBig(price)
	if overflow || cur.Gt(cap256) {
		return cap256.ToBig()
	}
	return price
}

// BumpLimit raises a gas limit estimate by pct percent. The reveal retry
// path uses a 10% bump.
func BumpLimit(limit uint64, pct uint64) uint64 {
	return limit + limit*pct/100
}

// CostUSD converts a (gasUsed, price) pair to USD at the chain's native
// token price.
func CostUSD(gasUsed uint64, price *big.Int, nativeUSD float64) float64 {
	if price == nil {
		return 0
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), price)
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	out, _ := new(big.Float).Mul(eth, big.NewFloat(nativeUSD)).Float64()
	return out
}
