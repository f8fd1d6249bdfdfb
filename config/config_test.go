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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoadAppliesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service: xarb-test
circuitBreaker:
  failureThreshold: 3
  cooldownPeriodMs: 1000
consumer:
  scanIntervalMs: 5000
chains:
  ethereum:
    chainId: 1
    rpcUrl: http://localhost:8545
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "xarb-test", cfg.Service)
	require.Equal(t, 3, cfg.Breaker.FailureThreshold)
	require.Equal(t, time.Second, cfg.Breaker.CooldownPeriod.Duration())
	require.Equal(t, 5*time.Second, cfg.Consumer.ScanInterval.Duration())
	// Untouched sections keep their defaults.
	require.Equal(t, int64(100), cfg.Consumer.MaxMessagesPerScan)
	require.Equal(t, "arb:execution", cfg.Streams.ExecutionStream)
	require.Equal(t, []string{"ethereum"}, cfg.SupportedChains())
}

func TestLoadEmptyPathIsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestNegativeMillisRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consumer:\n  scanIntervalMs: -1\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "negative duration")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "failureThreshold"},
		{"zero half-open attempts", func(c *Config) { c.Breaker.HalfOpenMaxAttempts = 0 }, "halfOpenMaxAttempts"},
		{"zero concurrency", func(c *Config) { c.Executor.MaxConcurrent = 0 }, "maxConcurrent"},
		{"multiplier at one", func(c *Config) { c.Executor.GasSpikeMultiplier = 1 }, "gasSpikeMultiplier"},
		{"confidence above one", func(c *Config) { c.Consumer.ConfidenceThreshold = 1.5 }, "confidenceThreshold"},
		{"missing stream names", func(c *Config) { c.Streams.DLQStream = "" }, "dlqStream"},
		{"chain without rpc", func(c *Config) {
			c.Chains = map[string]ChainConfig{"ethereum": {ChainID: 1}}
		}, "rpcUrl"},
		{"chain without id", func(c *Config) {
			c.Chains = map[string]ChainConfig{"ethereum": {RPCURL: "http://localhost:8545"}}
		}, "chainId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
