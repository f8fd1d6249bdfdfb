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
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/types"
)

const (
	routerA = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
	routerB = "0xE592427A0AEce92De3Edee1F18E0157C05861564"
	weth    = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

func testRegistry() *Registry {
	return NewRegistry(map[string]config.ChainConfig{
		"Ethereum": {
			ChainID: 1,
			RPCURL:  "http://node",
			DEXes: map[string]config.DEXConfig{
				"UniswapV2": {Router: routerA},
				"UniswapV3": {Router: routerB},
				"SushiSwap": {Router: routerA, Disabled: true},
			},
		},
	})
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	r := testRegistry()
	got, err := r.Router("ETHEREUM", "uniswapv2")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(routerA), got)

	name, ok := r.Name("ethereum", common.HexToAddress(routerB))
	require.True(t, ok)
	require.Equal(t, "uniswapv3", name)
}

func TestRegistryExcludesDisabled(t *testing.T) {
	r := testRegistry()
	_, err := r.Router("ethereum", "sushiswap")
	require.Equal(t, types.CodeNoRoute, types.CodeOf(err))
}

func testOpp() *types.Opportunity {
	return &types.Opportunity{
		ID:        "opp-1",
		Kind:      types.KindSingleChain,
		BuyChain:  "ethereum",
		SellChain: "ethereum",
		BuyVenue:  "uniswapv2",
		SellVenue: "uniswapv3",
		TokenIn:   "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		TokenOut:  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		AmountIn:  big.NewInt(1000000),
	}
}

func TestStepsOrderedPath(t *testing.T) {
	b := NewStepBuilder(testRegistry())
	steps, err := b.Steps(testOpp(), "ethereum", weth, 50)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	// tokenIn -> intermediate -> tokenOut, legs chained.
	require.Equal(t, common.HexToAddress(weth), steps[0].TokenOut)
	require.Equal(t, common.HexToAddress(weth), steps[1].TokenIn)
	require.Equal(t, steps[0].MinOut, steps[1].AmountIn)

	// 50 bps haircut on 1_000_000 is 995_000.
	require.Equal(t, big.NewInt(995000), steps[0].MinOut)
}

func TestStepsCached(t *testing.T) {
	b := NewStepBuilder(testRegistry())
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	first, err := b.Steps(testOpp(), "ethereum", weth, 50)
	require.NoError(t, err)
	second, _ := b.Steps(testOpp(), "ethereum", weth, 50)
	require.Same(t, &first[0], &second[0], "expected the cached slice")

	// Past the TTL the cache entry is stale and rebuilt.
	now = now.Add(61 * time.Second)
	third, err := b.Steps(testOpp(), "ethereum", weth, 50)
	require.NoError(t, err)
	require.NotSame(t, &first[0], &third[0])
}

func TestStepsPathHintOverridesIntermediate(t *testing.T) {
	b := NewStepBuilder(testRegistry())
	opp := testOpp()
	usdc := "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	opp.PathHints = []string{usdc}
	steps, err := b.Steps(opp, "ethereum", weth, 50)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(usdc), steps[0].TokenOut)
}

func TestFlashFee(t *testing.T) {
	amount := big.NewInt(1000000000)
	// Chain-specific 30 bps.
	require.Equal(t, big.NewInt(3000000), FlashFeeWei(amount, 30))
	// Fallback 9 bps.
	require.Equal(t, big.NewInt(900000), FlashFeeWei(amount, 0))
}

func TestRecommendFunding(t *testing.T) {
	tests := []struct {
		flash, direct float64
		hasCapital    bool
		want          Recommendation
	}{
		{5, 7, true, UseDirect},
		{7, 5, true, UseFlashLoan},
		{-1, -2, true, Skip},
		{5, 0, false, UseFlashLoan},
		{-1, 99, false, Skip}, // no capital: direct profit is unreachable
	}
	for _, tt := range tests {
		got := RecommendFunding(tt.flash, tt.direct, tt.hasCapital)
		require.Equal(t, tt.want, got, "flash=%v direct=%v capital=%v", tt.flash, tt.direct, tt.hasCapital)
	}
}
