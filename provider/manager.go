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

// Package provider manages one RPC client per configured chain: lazy
// reconnection, a background health loop, and wallet re-registration with
// the nonce manager on every reconnect.
package provider

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/nonce"
	"github.com/nvx-labs/xarb/types"
)

const (
	healthInterval     = 30 * time.Second
	probeTimeout       = 5 * time.Second
	failuresBeforeSwap = 3
)

// EVMClient is the subset of ethclient the execution core uses. ethclient
// satisfies it; tests substitute fakes.
type EVMClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// DialFunc produces a client for a chain RPC URL. The default dials
// ethclient; tests inject fakes.
type DialFunc func(ctx context.Context, url string) (EVMClient, error)

func defaultDial(ctx context.Context, url string) (EVMClient, error) {
	return ethclient.DialContext(ctx, url)
}

// Health is the per-chain provider-health record.
type Health struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

type managed struct {
	mu     sync.Mutex
	chain  string
	url    string
	client EVMClient
	health Health
}

// Manager owns the chain clients and the health loop.
type Manager struct {
	mu      sync.Mutex
	chains  map[string]*managed
	dial    DialFunc
	nonces  *nonce.Manager
	wallets *WalletRegistry

	// OnReconnect is invoked after a provider is replaced so callers can
	// invalidate provider-derived caches (gas baselines).
	OnReconnect func(chain string)

	quit chan struct{}
	wg   sync.WaitGroup
	log  log.Logger
}

// NewManager dials every configured chain lazily on first use.
func NewManager(cfgs map[string]config.ChainConfig, nonces *nonce.Manager, wallets *WalletRegistry, dial DialFunc) *Manager {
	if dial == nil {
		dial = defaultDial
	}
	m := &Manager{
		chains:  make(map[string]*managed),
		dial:    dial,
		nonces:  nonces,
		wallets: wallets,
		quit:    make(chan struct{}),
		log:     log.New("component", "provider"),
	}
	for name, cfg := range cfgs {
		m.chains[name] = &managed{chain: name, url: cfg.RPCURL}
	}
	return m
}

// Client returns the chain's client, dialing on first use.
func (m *Manager) Client(ctx context.Context, chain string) (EVMClient, error) {
	m.mu.Lock()
	mc, ok := m.chains[chain]
	m.mu.Unlock()
	if !ok {
		return nil, types.Codef(types.CodeNoChain, "chain %s is not configured", chain)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.client == nil {
		client, err := m.dial(ctx, mc.url)
		if err != nil {
			return nil, types.Codef(types.CodeNoProvider, "dial %s: %v", chain, err)
		}
		mc.client = client
		m.registerWallet(ctx, mc)
	}
	return mc.client, nil
}

// HealthSnapshot copies every chain's health record.
func (m *Manager) HealthSnapshot() map[string]Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Health, len(m.chains))
	for name, mc := range m.chains {
		mc.mu.Lock()
		out[name] = mc.health
		mc.mu.Unlock()
	}
	return out
}

// Start launches the background health loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.healthLoop()
}

// Stop terminates the health loop and waits for it.
func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) probeAll() {
	m.mu.Lock()
	chains := make([]*managed, 0, len(m.chains))
	for _, mc := range m.chains {
		chains = append(chains, mc)
	}
	m.mu.Unlock()
	for _, mc := range chains {
		m.probe(mc)
	}
}

// probe runs a bounded getBlockNumber against the chain. Three consecutive
// failures replace the client with a fresh instance.
func (m *Manager) probe(mc *managed) {
	mc.mu.Lock()
	client := mc.client
	mc.mu.Unlock()
	if client == nil {
		return // never dialed, nothing to check
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	_, err := client.BlockNumber(ctx)
	cancel()

	mc.mu.Lock()
	mc.health.LastCheck = time.Now()
	if err == nil {
		mc.health.Healthy = true
		mc.health.ConsecutiveFailures = 0
		mc.health.LastError = ""
		mc.mu.Unlock()
		metrics.ProviderHealthy.WithLabelValues(mc.chain).Set(1)
		return
	}
	mc.health.Healthy = false
	mc.health.ConsecutiveFailures++
	mc.health.LastError = err.Error()
	failures := mc.health.ConsecutiveFailures
	mc.mu.Unlock()

	metrics.ProviderHealthy.WithLabelValues(mc.chain).Set(0)
	m.log.Warn("Provider probe failed", "chain", mc.chain, "failures", failures, "err", err)
	if failures >= failuresBeforeSwap {
		m.reconnect(mc)
	}
}

// reconnect replaces the chain's client, re-registers the wallet with the
// nonce manager and fires the reconnect callback.
func (m *Manager) reconnect(mc *managed) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	client, err := m.dial(ctx, mc.url)
	if err != nil {
		m.log.Error("Provider reconnect failed", "chain", mc.chain, "err", err)
		return
	}
	mc.mu.Lock()
	mc.client = client
	mc.health.ConsecutiveFailures = 0
	mc.mu.Unlock()

	metrics.ProviderReconnects.WithLabelValues(mc.chain).Inc()
	m.nonces.ResetChain(mc.chain)
	mc.mu.Lock()
	m.registerWallet(ctx, mc)
	mc.mu.Unlock()
	if m.OnReconnect != nil {
		m.OnReconnect(mc.chain)
	}
	m.log.Info("Provider reconnected", "chain", mc.chain)
}

// registerWallet binds the chain wallet's pending-nonce source to the fresh
// client. Caller holds mc.mu.
func (m *Manager) registerWallet(_ context.Context, mc *managed) {
	if m.wallets == nil {
		return
	}
	w, ok := m.wallets.EVM(mc.chain)
	if !ok {
		return
	}
	client := mc.client
	addr := w.Address
	m.nonces.RegisterWallet(mc.chain, addr.Hex(), func(ctx context.Context) (uint64, error) {
		return client.PendingNonceAt(ctx, addr)
	})
}
