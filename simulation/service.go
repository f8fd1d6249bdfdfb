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

// Package simulation predicts whether a transaction will revert before it
// is broadcast, and exposes the pending-state simulator used to price
// post-trade pool states.
package simulation

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/types"
)

// Request is one simulation call.
type Request struct {
	Chain    string
	From     common.Address
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasPrice *big.Int
	Gas      uint64
}

// Result is the provider's prediction.
type Result struct {
	WillRevert   bool
	RevertReason string
	GasUsed      uint64
	Provider     string
}

// Provider is one simulation backend.
type Provider interface {
	Name() string
	Simulate(ctx context.Context, req *Request) (*Result, error)
}

// ProviderMetrics aggregates one provider's history.
type ProviderMetrics struct {
	Total            uint64        `json:"total"`
	Successful       uint64        `json:"successful"`
	PredictedReverts uint64        `json:"predictedReverts"`
	Failed           uint64        `json:"failed"`
	AvgLatency       time.Duration `json:"avgLatency"`
	Fallbacks        uint64        `json:"fallbacks"`
	CacheHits        uint64        `json:"cacheHits"`
}

// ProviderHealth is one provider's health view.
type ProviderHealth struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	SuccessRate         float64   `json:"successRate"`
}

// AggregateHealth summarizes the service.
type AggregateHealth string

const (
	Healthy       AggregateHealth = "healthy"
	Degraded      AggregateHealth = "degraded"
	NotConfigured AggregateHealth = "not_configured"
)

const unhealthyAfter = 3

type providerState struct {
	provider Provider
	mu       sync.Mutex
	metrics  ProviderMetrics
	health   ProviderHealth
	totalLat time.Duration
}

// Service runs an ordered provider list with fallback. Skips are counted
// separately from failures; the gating policy lives in ShouldSimulate.
type Service struct {
	cfg       config.SimulationConfig
	providers []*providerState
	now       func() time.Time
	log       log.Logger
}

// NewService orders providers primary-first.
func NewService(cfg config.SimulationConfig, providers ...Provider) *Service {
	s := &Service{cfg: cfg, now: time.Now, log: log.New("component", "simulation")}
	for _, p := range providers {
		s.providers = append(s.providers, &providerState{provider: p, health: ProviderHealth{Healthy: true}})
	}
	return s
}

// ShouldSimulate applies the gating policy. A false return carries the skip
// reason; skips are not failures.
func (s *Service) ShouldSimulate(opp *types.Opportunity) (bool, string) {
	if !s.cfg.Enabled {
		return false, "disabled"
	}
	if len(s.providers) == 0 {
		return false, "not_configured"
	}
	if opp.ExpectedProfitUSD < s.cfg.MinProfitForSimulation {
		return false, "below-profit-threshold"
	}
	if age := opp.Age(s.now()); age > 0 && age < s.cfg.TimeCriticalThreshold.Duration() {
		return false, "time-critical"
	}
	return true, ""
}

// Simulate walks the provider list in order. A provider error falls back to
// the next provider (when enabled); exhausting the list yields
// ERR_SIM_ERROR. A predicted revert is a successful simulation.
func (s *Service) Simulate(ctx context.Context, req *Request) (*Result, error) {
	if len(s.providers) == 0 {
		return nil, types.NewCodedError(types.CodeSimError, "no simulation provider configured")
	}
	var lastErr error
	for i, ps := range s.providers {
		if i > 0 {
			if !s.cfg.UseFallback {
				break
			}
			ps.mu.Lock()
			ps.metrics.Fallbacks++
			ps.mu.Unlock()
		}
		start := s.now()
		res, err := ps.provider.Simulate(ctx, req)
		s.record(ps, res, err, s.now().Sub(start))
		if err != nil {
			lastErr = err
			s.log.Warn("Simulation provider failed", "provider", ps.provider.Name(), "err", err)
			continue
		}
		res.Provider = ps.provider.Name()
		return res, nil
	}
	return nil, types.Codef(types.CodeSimError, "all simulation providers failed: %v", lastErr)
}

func (s *Service) record(ps *providerState, res *Result, err error, latency time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.metrics.Total++
	ps.totalLat += latency
	ps.metrics.AvgLatency = ps.totalLat / time.Duration(ps.metrics.Total)
	ps.health.LastCheck = s.now()
	if err != nil {
		ps.metrics.Failed++
		ps.health.ConsecutiveFailures++
		ps.health.Healthy = ps.health.ConsecutiveFailures < unhealthyAfter
		metrics.Simulations.WithLabelValues(ps.provider.Name(), "error").Inc()
	} else {
		ps.metrics.Successful++
		ps.health.ConsecutiveFailures = 0
		ps.health.Healthy = true
		if res.WillRevert {
			ps.metrics.PredictedReverts++
			metrics.Simulations.WithLabelValues(ps.provider.Name(), "revert").Inc()
		} else {
			metrics.Simulations.WithLabelValues(ps.provider.Name(), "ok").Inc()
		}
	}
	ps.health.SuccessRate = float64(ps.metrics.Successful) / float64(ps.metrics.Total)
}

// Metrics returns a copy of each provider's aggregates keyed by name.
func (s *Service) Metrics() map[string]ProviderMetrics {
	out := make(map[string]ProviderMetrics, len(s.providers))
	for _, ps := range s.providers {
		ps.mu.Lock()
		out[ps.provider.Name()] = ps.metrics
		ps.mu.Unlock()
	}
	return out
}

// ProviderHealths returns a copy of each provider's health keyed by name.
func (s *Service) ProviderHealths() map[string]ProviderHealth {
	out := make(map[string]ProviderHealth, len(s.providers))
	for _, ps := range s.providers {
		ps.mu.Lock()
		out[ps.provider.Name()] = ps.health
		ps.mu.Unlock()
	}
	return out
}

// Health aggregates: healthy when at least one provider is healthy,
// degraded when all present providers are unhealthy, not_configured when
// none was registered.
func (s *Service) Health() AggregateHealth {
	if len(s.providers) == 0 {
		return NotConfigured
	}
	for _, ps := range s.providers {
		ps.mu.Lock()
		ok := ps.health.Healthy
		ps.mu.Unlock()
		if ok {
			return Healthy
		}
	}
	return Degraded
}
