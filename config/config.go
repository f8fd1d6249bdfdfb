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

// Package config defines the explicit configuration surface of the
// execution core. Every recognized option is a struct field with a default;
// there are no dynamic option maps. Invalid configuration is fatal: the
// service refuses to run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Millis is a duration configured as integer milliseconds on the wire.
type Millis time.Duration

// Duration converts to time.Duration.
func (m Millis) Duration() time.Duration { return time.Duration(m) }

// UnmarshalYAML decodes an integer millisecond count.
func (m *Millis) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err != nil {
		return err
	}
	if ms < 0 {
		return fmt.Errorf("negative duration %dms", ms)
	}
	*m = Millis(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML encodes back to integer milliseconds.
func (m Millis) MarshalYAML() (interface{}, error) {
	return time.Duration(m).Milliseconds(), nil
}

// Config is the root configuration object.
type Config struct {
	Service    string                 `yaml:"service"`
	Streams    StreamsConfig          `yaml:"streams"`
	Consumer   ConsumerConfig         `yaml:"consumer"`
	Breaker    BreakerConfig          `yaml:"circuitBreaker"`
	Executor   ExecutorConfig         `yaml:"executor"`
	Simulation SimulationConfig       `yaml:"simulation"`
	Solana     SolanaConfig           `yaml:"solana"`
	Intent     IntentConfig           `yaml:"intent"`
	Wallet     WalletConfig           `yaml:"wallet"`
	Chains     map[string]ChainConfig `yaml:"chains"`

	// SimulationMode routes every opportunity to the simulation strategy
	// and never broadcasts.
	SimulationMode bool `yaml:"simulationMode"`
}

// StreamsConfig names the durable streams and the store backing them.
type StreamsConfig struct {
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	ExecutionStream string `yaml:"executionStream"`
	DLQStream       string `yaml:"dlqStream"`

	// DistributedCommitStore toggles redis-backed commit-reveal storage;
	// without it the in-memory store alone is used.
	DistributedCommitStore bool `yaml:"distributedCommitStore"`
}

// ConsumerConfig covers the opportunity consumer and the co-located DLQ
// monitor.
type ConsumerConfig struct {
	ScanInterval          Millis  `yaml:"scanIntervalMs"`
	MaxMessagesPerScan    int64   `yaml:"maxMessagesPerScan"`
	MaxMessageAge         Millis  `yaml:"maxMessageAgeMs"`
	MaxStreamLength       int64   `yaml:"maxStreamLength"`
	AutoRecoveryEnabled   bool    `yaml:"autoRecoveryEnabled"`
	MaxAutoReplaysPerScan int     `yaml:"maxAutoReplaysPerScan"`
	ReplayCooldown        Millis  `yaml:"replayCooldownMs"`
	ConfidenceThreshold   float64 `yaml:"confidenceThreshold"`
	MinProfitPercentage   float64 `yaml:"minProfitPercentage"`
	BatchSize             int64   `yaml:"batchSize"`
}

// BreakerConfig parameterizes the circuit breaker.
type BreakerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	FailureThreshold    int    `yaml:"failureThreshold"`
	CooldownPeriod      Millis `yaml:"cooldownPeriodMs"`
	HalfOpenMaxAttempts int    `yaml:"halfOpenMaxAttempts"`
}

// ExecutorConfig bounds the orchestrator.
type ExecutorConfig struct {
	MaxConcurrent      int     `yaml:"maxConcurrent"`
	ExecutionTimeout   Millis  `yaml:"executionTimeoutMs"`
	ShutdownGrace      Millis  `yaml:"shutdownGraceMs"`
	GasSpikeMultiplier float64 `yaml:"gasSpikeMultiplier"`
}

// SimulationConfig gates the pre-submission simulation service.
type SimulationConfig struct {
	Enabled                bool    `yaml:"enabled"`
	MinProfitForSimulation float64 `yaml:"minProfitForSimulation"`
	TimeCriticalThreshold  Millis  `yaml:"timeCriticalThresholdMs"`
	UseFallback            bool    `yaml:"useFallback"`

	// ManagedAPIKey enables the managed simulation provider when present.
	ManagedAPIKey string `yaml:"managedApiKey"`
	ManagedAPIURL string `yaml:"managedApiUrl"`
	// FallbackRPCKey enables the RPC-trace fallback provider when present.
	FallbackRPCKey string `yaml:"fallbackRpcKey"`
}

// SolanaConfig parameterizes the Solana bundle strategy.
type SolanaConfig struct {
	RPCURL                 string   `yaml:"rpcUrl"`
	AggregatorURL          string   `yaml:"aggregatorUrl"`
	TrustedAggregatorHosts []string `yaml:"trustedAggregatorHosts"`
	MaxPriceDeviationPct   float64  `yaml:"maxPriceDeviationPct"`
	TipLamports            uint64   `yaml:"tipLamports"`
	MaxSlippageBps         int      `yaml:"maxSlippageBps"`
	MinProfitLamports      uint64   `yaml:"minProfitLamports"`
	TipAccounts            []string `yaml:"tipAccounts"`
}

// IntentConfig parameterizes the intent-fill strategy. Reactors is the
// whitelist of settlement contracts; it is configuration, not a constant,
// because it changes across chains and upgrades.
type IntentConfig struct {
	MinProfitUSD    float64  `yaml:"minProfitUsd"`
	MaxGasPriceGwei float64  `yaml:"maxGasPriceGwei"`
	Reactors        []string `yaml:"reactors"`
}

// WalletConfig binds signing identities. The mnemonic and Solana key are
// environment references, never inline secrets.
type WalletConfig struct {
	MnemonicEnv   string `yaml:"mnemonicEnv"`
	PassphraseEnv string `yaml:"passphraseEnv"`
	SolanaKeyEnv  string `yaml:"solanaKeyEnv"`

	// AccountIndexes assigns each EVM chain its BIP-44 account index. The
	// assignment is stable and documented; changing it changes every
	// derived address.
	AccountIndexes map[string]uint32 `yaml:"accountIndexes"`
}

// ChainConfig describes one supported chain.
type ChainConfig struct {
	ChainID          int64                `yaml:"chainId"`
	RPCURL           string               `yaml:"rpcUrl"`
	NativeTokenUSD   float64              `yaml:"nativeTokenUsd"`
	WrappedNative    string               `yaml:"wrappedNative"`
	ExecutorContract string               `yaml:"executorContract"`
	CommitContract   string               `yaml:"commitContract"`
	FlashLoanFeeBps  int                  `yaml:"flashLoanFeeBps"`
	SlippageBps      int                  `yaml:"slippageBps"`
	DEXes            map[string]DEXConfig `yaml:"dexes"`
}

// DEXConfig describes one venue on a chain.
type DEXConfig struct {
	Router   string `yaml:"router"`
	Disabled bool   `yaml:"disabled"`
}

// Defaults returns a Config with every default of the recognized surface
// filled in.
func Defaults() *Config {
	return &Config{
		Service: "xarb-executor",
		Streams: StreamsConfig{
			RedisAddr:       "127.0.0.1:6379",
			ExecutionStream: "arb:execution",
			DLQStream:       "arb:dlq",
		},
		Consumer: ConsumerConfig{
			ScanInterval:          Millis(60 * time.Second),
			MaxMessagesPerScan:    100,
			MaxMessageAge:         Millis(24 * time.Hour),
			MaxStreamLength:       10000,
			AutoRecoveryEnabled:   true,
			MaxAutoReplaysPerScan: 5,
			ReplayCooldown:        Millis(5 * time.Minute),
			ConfidenceThreshold:   0.70,
			MinProfitPercentage:   0.01,
			BatchSize:             32,
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			FailureThreshold:    5,
			CooldownPeriod:      Millis(5 * time.Minute),
			HalfOpenMaxAttempts: 1,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:      8,
			ExecutionTimeout:   Millis(60 * time.Second),
			ShutdownGrace:      Millis(30 * time.Second),
			GasSpikeMultiplier: 3.0,
		},
		Simulation: SimulationConfig{
			Enabled:                true,
			MinProfitForSimulation: 0.0,
			TimeCriticalThreshold:  Millis(500 * time.Millisecond),
			UseFallback:            true,
		},
		Solana: SolanaConfig{
			MaxPriceDeviationPct: 1.0,
			TipLamports:          10000,
			MaxSlippageBps:       50,
			MinProfitLamports:    100000,
		},
		Intent: IntentConfig{
			MinProfitUSD:    1.0,
			MaxGasPriceGwei: 300,
		},
	}
}

// Load reads path (optional), applies it over Defaults and validates.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the fatal-error class of spec'd constraints.
func (c *Config) Validate() error {
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuitBreaker.failureThreshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.CooldownPeriod < 0 {
		return fmt.Errorf("circuitBreaker.cooldownPeriodMs must be >= 0")
	}
	// A zero attempt cap would permanently strand the breaker in half-open.
	if c.Breaker.HalfOpenMaxAttempts < 1 {
		return fmt.Errorf("circuitBreaker.halfOpenMaxAttempts must be >= 1, got %d", c.Breaker.HalfOpenMaxAttempts)
	}
	if c.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("executor.maxConcurrent must be >= 1")
	}
	if c.Executor.GasSpikeMultiplier <= 1 {
		return fmt.Errorf("executor.gasSpikeMultiplier must be > 1")
	}
	if c.Consumer.ConfidenceThreshold < 0 || c.Consumer.ConfidenceThreshold > 1 {
		return fmt.Errorf("consumer.confidenceThreshold must be within [0,1]")
	}
	if c.Streams.ExecutionStream == "" || c.Streams.DLQStream == "" {
		return fmt.Errorf("streams.executionStream and streams.dlqStream are required")
	}
	for name, chain := range c.Chains {
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %s: rpcUrl is required", name)
		}
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %s: chainId is required", name)
		}
	}
	return nil
}

// SupportedChains lists the configured chain names.
func (c *Config) SupportedChains() []string {
	out := make([]string, 0, len(c.Chains))
	for name := range c.Chains {
		out = append(out, name)
	}
	return out
}
