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

package simulation

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/types"
)

type stubProvider struct {
	name string
	res  *Result
	err  error
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Simulate(context.Context, *Request) (*Result, error) {
	return s.res, s.err
}

func simCfg() config.SimulationConfig {
	return config.SimulationConfig{
		Enabled:                true,
		MinProfitForSimulation: 5.0,
		TimeCriticalThreshold:  config.Millis(500 * time.Millisecond),
		UseFallback:            true,
	}
}

func TestGatingPolicy(t *testing.T) {
	svc := NewService(simCfg(), &stubProvider{name: "managed"})
	now := time.Unix(1700000000, 0)
	svc.now = func() time.Time { return now }

	opp := &types.Opportunity{ID: "a", ExpectedProfitUSD: 10, DetectedAt: now.Add(-2 * time.Second)}
	ok, _ := svc.ShouldSimulate(opp)
	require.True(t, ok)

	// Below the profit threshold: skip.
	opp.ExpectedProfitUSD = 1
	ok, reason := svc.ShouldSimulate(opp)
	require.False(t, ok)
	require.Equal(t, "below-profit-threshold", reason)

	// Fresh opportunity inside the latency budget: time-critical skip.
	opp.ExpectedProfitUSD = 10
	opp.DetectedAt = now.Add(-100 * time.Millisecond)
	ok, reason = svc.ShouldSimulate(opp)
	require.False(t, ok)
	require.Equal(t, "time-critical", reason)

	// Disabled entirely.
	disabled := simCfg()
	disabled.Enabled = false
	svc2 := NewService(disabled, &stubProvider{name: "managed"})
	ok, reason = svc2.ShouldSimulate(opp)
	require.False(t, ok)
	require.Equal(t, "disabled", reason)
}

func TestFallbackOrder(t *testing.T) {
	primary := &stubProvider{name: "managed", err: errors.New("api down")}
	fallback := &stubProvider{name: "rpc", res: &Result{WillRevert: false, GasUsed: 90000}}
	svc := NewService(simCfg(), primary, fallback)

	res, err := svc.Simulate(context.Background(), &Request{Chain: "ethereum"})
	require.NoError(t, err)
	require.Equal(t, "rpc", res.Provider)

	m := svc.Metrics()
	require.Equal(t, uint64(1), m["managed"].Failed)
	require.Equal(t, uint64(1), m["rpc"].Successful)
	require.Equal(t, uint64(1), m["rpc"].Fallbacks)
}

func TestFallbackDisabled(t *testing.T) {
	cfg := simCfg()
	cfg.UseFallback = false
	primary := &stubProvider{name: "managed", err: errors.New("api down")}
	fallback := &stubProvider{name: "rpc", res: &Result{}}
	svc := NewService(cfg, primary, fallback)

	_, err := svc.Simulate(context.Background(), &Request{})
	require.Equal(t, types.CodeSimError, types.CodeOf(err))
	require.Zero(t, svc.Metrics()["rpc"].Total)
}

func TestPredictedRevertIsNotAFailure(t *testing.T) {
	p := &stubProvider{name: "managed", res: &Result{WillRevert: true, RevertReason: "INSUFFICIENT_OUTPUT_AMOUNT"}}
	svc := NewService(simCfg(), p)

	res, err := svc.Simulate(context.Background(), &Request{})
	require.NoError(t, err)
	require.True(t, res.WillRevert)

	m := svc.Metrics()["managed"]
	require.Equal(t, uint64(1), m.PredictedReverts)
	require.Zero(t, m.Failed)
	require.Equal(t, Healthy, svc.Health())
}

func TestAggregateHealth(t *testing.T) {
	require.Equal(t, NotConfigured, NewService(simCfg()).Health())

	sick := &stubProvider{name: "managed", err: errors.New("down")}
	svc := NewService(simCfg(), sick)
	for i := 0; i < 3; i++ {
		_, _ = svc.Simulate(context.Background(), &Request{})
	}
	require.Equal(t, Degraded, svc.Health())
	h := svc.ProviderHealths()["managed"]
	require.False(t, h.Healthy)
	require.Equal(t, 3, h.ConsecutiveFailures)
	require.Zero(t, h.SuccessRate)
}

func TestMinOutFromDeclared(t *testing.T) {
	declared := big.NewInt(1000000)
	require.Equal(t, big.NewInt(995000), MinOutFromDeclared(declared, 50))
	require.Equal(t, declared, MinOutFromDeclared(declared, 0))
}
