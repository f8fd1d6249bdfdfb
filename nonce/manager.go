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

// Package nonce issues strictly increasing transaction nonces per
// (chain, wallet) and tracks every reservation to a terminal confirm or
// fail. Callers must pair each GetNextNonce with exactly one terminal call;
// a leaked reservation blocks the pipeline.
package nonce

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/types"
)

// Status of one issued nonce.
type Status string

const (
	Reserved  Status = "reserved"
	Confirmed Status = "confirmed"
	Failed    Status = "failed"
)

// PendingNonceFunc fetches the node's reported pending nonce for the
// account.
type PendingNonceFunc func(ctx context.Context) (uint64, error)

type reservation struct {
	status Status
	txHash string
	reason string
}

type account struct {
	chain       string
	address     string
	fetch       PendingNonceFunc
	initialized bool
	next        uint64
	slots       map[uint64]*reservation
}

// Manager serializes nonce issuance per chain. A GetNextNonce call observes
// every prior confirmation and failure on that chain.
type Manager struct {
	mu       sync.Mutex
	accounts map[string]*account
	log      log.Logger
}

// NewManager returns an empty manager; wallets register as providers come
// up and re-register on every reconnect.
func NewManager() *Manager {
	return &Manager{
		accounts: make(map[string]*account),
		log:      log.New("component", "nonce"),
	}
}

func key(chain, address string) string {
	return chain + ":" + strings.ToLower(address)
}

// RegisterWallet binds an account to its pending-nonce source. Re-register
// after provider reconnection; registration resets the local sequence so
// the next issuance resynchronizes against the node.
func (m *Manager) RegisterWallet(chain, address string, fetch PendingNonceFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[key(chain, address)] = &account{
		chain:   chain,
		address: address,
		fetch:   fetch,
		slots:   make(map[uint64]*reservation),
	}
	m.log.Debug("Wallet registered", "chain", chain, "address", address)
}

// GetNextNonce reserves and returns the next nonce for the account. The
// sequence is strictly increasing except that a contiguous tail of failed
// reservations is reclaimed so abandoned slots never block submissions.
func (m *Manager) GetNextNonce(ctx context.Context, chain, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[key(chain, address)]
	if !ok {
		return 0, types.Codef(types.CodeNonce, "no wallet registered for %s:%s", chain, address)
	}
	if !acct.initialized {
		pending, err := acct.fetch(ctx)
		if err != nil {
			return 0, types.Codef(types.CodeNonce, "fetch pending nonce for %s: %v", chain, err)
		}
		acct.next = pending
		acct.initialized = true
	}
	// Reclaim the failed tail.
	for acct.next > 0 {
		prev, ok := acct.slots[acct.next-1]
		if !ok || prev.status != Failed {
			break
		}
		delete(acct.slots, acct.next-1)
		acct.next--
	}
	n := acct.next
	acct.slots[n] = &reservation{status: Reserved}
	acct.next++
	return n, nil
}

// ConfirmTransaction marks a reservation confirmed. A confirmed nonce is
// final; confirming twice or confirming a failed slot is an error.
func (m *Manager) ConfirmTransaction(chain, address string, nonce uint64, txHash string) error {
	return m.settle(chain, address, nonce, Confirmed, txHash, "")
}

// FailTransaction marks a reservation failed, releasing the slot for reuse.
func (m *Manager) FailTransaction(chain, address string, nonce uint64, reason string) error {
	return m.settle(chain, address, nonce, Failed, "", reason)
}

func (m *Manager) settle(chain, address string, nonce uint64, to Status, txHash, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[key(chain, address)]
	if !ok {
		return fmt.Errorf("nonce: unknown account %s:%s", chain, address)
	}
	slot, ok := acct.slots[nonce]
	if !ok {
		return fmt.Errorf("nonce: %d was never issued for %s:%s", nonce, chain, address)
	}
	if slot.status != Reserved {
		return fmt.Errorf("nonce: %d already terminal (%s)", nonce, slot.status)
	}
	slot.status = to
	slot.txHash = txHash
	slot.reason = reason
	if to == Failed {
		m.log.Debug("Nonce released", "chain", chain, "nonce", nonce, "reason", reason)
	}
	return nil
}

// ResetChain drops local sequences for every account on chain so the next
// issuance resynchronizes against the node's pending nonce. Called from the
// provider-reconnect path.
func (m *Manager) ResetChain(chain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.chain == chain {
			acct.initialized = false
			acct.slots = make(map[uint64]*reservation)
		}
	}
	m.log.Info("Nonce sequences reset", "chain", chain)
}

// Outstanding lists reservations that have not reached a terminal state,
// for leak detection.
func (m *Manager) Outstanding(chain, address string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[key(chain, address)]
	if !ok {
		return nil
	}
	var out []uint64
	for n, slot := range acct.slots {
		if slot.status == Reserved {
			out = append(out, n)
		}
	}
	return out
}
