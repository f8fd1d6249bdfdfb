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

package gas

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/params"

	"github.com/nvx-labs/xarb/types"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}

func TestSpikeGuard(t *testing.T) {
	g := NewSpikeGuard(3.0)

	// First observation seeds the baseline.
	if err := g.Check("ethereum", gwei(20)); err != nil {
		t.Fatalf("seed observation rejected: %v", err)
	}
	// Under the multiplier: accepted and folded in.
	if err := g.Check("ethereum", gwei(40)); err != nil {
		t.Fatalf("2x baseline rejected: %v", err)
	}
	// Way past multiplier x baseline: rejected with ERR_GAS_SPIKE.
	err := g.Check("ethereum", gwei(200))
	if err == nil {
		t.Fatal("spike not rejected")
	}
	if types.CodeOf(err) != types.CodeGasSpike {
		t.Fatalf("code = %q, want ERR_GAS_SPIKE", types.CodeOf(err))
	}
	// The rejected sample must not poison the baseline.
	if b, _ := g.Baseline("ethereum"); b > 50 {
		t.Fatalf("baseline contaminated by rejected sample: %.2f", b)
	}
}

func TestSpikeGuardPerChain(t *testing.T) {
	g := NewSpikeGuard(2.0)
	if err := g.Check("ethereum", gwei(20)); err != nil {
		t.Fatal(err)
	}
	// A different chain has its own baseline.
	if err := g.Check("arbitrum", gwei(1000)); err != nil {
		t.Fatalf("independent chain rejected on first sample: %v", err)
	}
}

func TestSpikeGuardReset(t *testing.T) {
	g := NewSpikeGuard(2.0)
	_ = g.Check("ethereum", gwei(10))
	g.Reset("ethereum")
	// After reconnect the old baseline is gone; a high price seeds anew.
	if err := g.Check("ethereum", gwei(500)); err != nil {
		t.Fatalf("post-reset seed rejected: %v", err)
	}
}

func TestWeiToGweiKeepsFraction(t *testing.T) {
	// 1.5 gwei must not truncate to 1.
	wei := big.NewInt(1500000000)
	if got := WeiToGwei(wei); got != 1.5 {
		t.Fatalf("WeiToGwei = %v, want 1.5", got)
	}
}

func TestCapPrice(t *testing.T) {
	capped := CapPrice(gwei(500), 300)
	if capped.Cmp(gwei(300)) != 0 {
		t.Fatalf("capped = %s, want 300 gwei", capped)
	}
	under := CapPrice(gwei(100), 300)
	if under.Cmp(gwei(100)) != 0 {
		t.Fatalf("under-cap price altered: %s", under)
	}
}

func TestBumpLimit(t *testing.T) {
	if got := BumpLimit(200000, 10); got != 220000 {
		t.Fatalf("BumpLimit = %d, want 220000", got)
	}
}

func TestCostUSD(t *testing.T) {
	// 100k gas at 10 gwei = 0.001 ETH; at $2000 that's $2.
	got := CostUSD(100000, gwei(10), 2000)
	if got < 1.99 || got > 2.01 {
		t.Fatalf("CostUSD = %v, want ~2.0", got)
	}
}
