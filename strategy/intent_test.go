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
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/types"
)

const testReactor = "0x3333333333333333333333333333333333333333"

func intentCfg() config.IntentConfig {
	return config.IntentConfig{
		MinProfitUSD:    1.0,
		MaxGasPriceGwei: 300,
		Reactors:        []string{testReactor},
	}
}

func intentOpportunity(t *testing.T, order intentOrder) *types.Opportunity {
	t.Helper()
	payload, err := json.Marshal(order)
	require.NoError(t, err)
	opp := sampleOpportunity(types.KindIntentFill)
	opp.IntentPayload = payload
	return opp
}

func baseOrder(now time.Time) intentOrder {
	return intentOrder{
		Reactor:      testReactor,
		ChainID:      1,
		DecayStart:   now.Add(-time.Minute).UnixMilli(),
		DecayEnd:     now.Add(-time.Second).UnixMilli(),
		StartAmount:  "1000000",
		EndAmount:    "900000",
		Deadline:     now.Add(time.Minute).UnixMilli(),
		EncodedOrder: []byte{0x01, 0x02, 0x03},
	}
}

func TestDecayClampsAtEndpoints(t *testing.T) {
	order := intentOrder{
		DecayStart:  1000,
		DecayEnd:    2000,
		StartAmount: "1000",
		EndAmount:   "500",
	}
	at := func(ms int64) *big.Int {
		out, err := decayedAmount(order, time.UnixMilli(ms))
		require.NoError(t, err)
		return out
	}
	require.Equal(t, big.NewInt(1000), at(500))  // before the window
	require.Equal(t, big.NewInt(1000), at(1000)) // at start
	require.Equal(t, big.NewInt(750), at(1500))  // midpoint
	require.Equal(t, big.NewInt(500), at(2000))  // at end
	require.Equal(t, big.NewInt(500), at(9999))  // after the window
}

func TestDecayZeroWindowUsesStartAmount(t *testing.T) {
	order := intentOrder{DecayStart: 1000, DecayEnd: 1000, StartAmount: "7", EndAmount: "3"}
	out, err := decayedAmount(order, time.UnixMilli(5000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(7), out)
}

func TestIntentHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	s := NewIntentFill(intentCfg())
	res := s.Execute(context.Background(), intentOpportunity(t, baseOrder(time.Now())), h.sc)
	require.NoError(t, res.Err)
	require.True(t, res.Success)
	require.Equal(t, 1, h.client.sentCount())
	require.NotEmpty(t, res.TxHash)
}

func TestIntentRejectsUnknownReactor(t *testing.T) {
	h := newHarness(t, nil)
	order := baseOrder(time.Now())
	order.Reactor = "0x4444444444444444444444444444444444444444"
	res := NewIntentFill(intentCfg()).Execute(context.Background(), intentOpportunity(t, order), h.sc)
	require.Equal(t, types.CodeNoRoute, res.ErrorCode())
	require.Zero(t, h.client.sentCount())
}

func TestIntentChainIDMismatch(t *testing.T) {
	h := newHarness(t, nil)
	order := baseOrder(time.Now())
	order.ChainID = 137
	res := NewIntentFill(intentCfg()).Execute(context.Background(), intentOpportunity(t, order), h.sc)
	require.Equal(t, types.CodeNoChain, res.ErrorCode())
}

func TestIntentExpiredDeadline(t *testing.T) {
	h := newHarness(t, nil)
	order := baseOrder(time.Now())
	order.Deadline = time.Now().Add(-time.Second).UnixMilli()
	res := NewIntentFill(intentCfg()).Execute(context.Background(), intentOpportunity(t, order), h.sc)
	require.Equal(t, types.CodeQuoteExpired, res.ErrorCode())
}

func TestIntentExclusivityWindow(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Now()
	order := baseOrder(now)
	order.ExclusiveFiller = "0x5555555555555555555555555555555555555555"
	order.ExclusivityEnd = now.Add(time.Minute).UnixMilli()

	s := NewIntentFill(intentCfg())
	res := s.Execute(context.Background(), intentOpportunity(t, order), h.sc)
	require.Equal(t, types.CodeLowProfit, res.ErrorCode())
	require.Zero(t, h.client.sentCount())

	// Past the window anyone may fill.
	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	order.Deadline = now.Add(time.Hour).UnixMilli()
	res = s.Execute(context.Background(), intentOpportunity(t, order), h.sc)
	require.NoError(t, res.Err)
	require.Equal(t, 1, h.client.sentCount())
}

func TestIntentMinProfit(t *testing.T) {
	h := newHarness(t, nil)
	opp := intentOpportunity(t, baseOrder(time.Now()))
	opp.ExpectedProfitUSD = 0.5
	res := NewIntentFill(intentCfg()).Execute(context.Background(), opp, h.sc)
	require.Equal(t, types.CodeLowProfit, res.ErrorCode())
}

func TestIntentGasCeiling(t *testing.T) {
	h := newHarness(t, nil)
	cfg := intentCfg()
	cfg.MaxGasPriceGwei = 1 // stub suggests 2 gwei
	res := NewIntentFill(cfg).Execute(context.Background(), intentOpportunity(t, baseOrder(time.Now())), h.sc)
	require.Equal(t, types.CodeGasSpike, res.ErrorCode())
	require.Zero(t, h.client.sentCount())
}
