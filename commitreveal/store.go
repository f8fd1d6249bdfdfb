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

package commitreveal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

// RecordTTL auto-expires stale commitments. A commitment unresolved after
// ten minutes is dead either way: the deadline has passed or the chain has
// long moved on.
const RecordTTL = 10 * time.Minute

// ErrRecordNotFound is returned by Get for unknown or expired commitments.
var ErrRecordNotFound = errors.New("commitreveal: record not found")

// Store keeps pending commitments keyed by (chain, hash). Put is
// set-if-absent: a second Put for the same key fails with
// ERR_DUPLICATE_COMMITMENT.
type Store interface {
	Put(ctx context.Context, rec *types.CommitmentRecord) error
	Get(ctx context.Context, chain string, hash common.Hash) (*types.CommitmentRecord, error)
	Delete(ctx context.Context, chain string, hash common.Hash) error
}

func recordKey(chain string, hash common.Hash) string {
	return "commit-reveal:" + chain + ":" + strings.ToLower(hash.Hex())
}

type memoryEntry struct {
	rec       *types.CommitmentRecord
	expiresAt time.Time
}

// MemoryStore is the same-process store and the mirror half of the hybrid
// store. Duplicate detection here is required even when a distributed store
// is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// SetNow injects the clock for TTL tests.
func (s *MemoryStore) SetNow(now func() time.Time) { s.now = now }

func (s *MemoryStore) Put(_ context.Context, rec *types.CommitmentRecord) error {
	key := recordKey(rec.Chain, rec.Hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && s.now().Before(e.expiresAt) {
		return types.Codef(types.CodeDuplicateCommitment, "commitment %s already pending on %s", rec.Hash.Hex(), rec.Chain)
	}
	s.entries[key] = memoryEntry{rec: rec, expiresAt: s.now().Add(RecordTTL)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, chain string, hash common.Hash) (*types.CommitmentRecord, error) {
	key := recordKey(chain, hash)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, ErrRecordNotFound
	}
	return e.rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, chain string, hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, recordKey(chain, hash))
	return nil
}

// remove drops a key without touching the distributed half; the hybrid
// store uses it to roll back a mirror write that lost the SetNX race.
func (s *MemoryStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// HybridStore layers the distributed set-if-absent store over the in-memory
// mirror. The mirror answers reads without a network hop; the distributed
// half arbitrates duplicates across processes.
type HybridStore struct {
	kv     streams.Client
	mirror *MemoryStore
}

// NewHybridStore wraps the KV client.
func NewHybridStore(kv streams.Client) *HybridStore {
	return &HybridStore{kv: kv, mirror: NewMemoryStore()}
}

func (s *HybridStore) Put(ctx context.Context, rec *types.CommitmentRecord) error {
	if err := s.mirror.Put(ctx, rec); err != nil {
		return err
	}
	key := recordKey(rec.Chain, rec.Hash)
	raw, err := json.Marshal(rec)
	if err != nil {
		s.mirror.remove(key)
		return fmt.Errorf("commitreveal: encode record: %w", err)
	}
	ok, err := s.kv.SetNX(ctx, key, raw, RecordTTL)
	if err != nil {
		s.mirror.remove(key)
		return fmt.Errorf("commitreveal: store record: %w", err)
	}
	if !ok {
		// Another process committed the same hash first.
		s.mirror.remove(key)
		return types.Codef(types.CodeDuplicateCommitment, "commitment %s already pending on %s", rec.Hash.Hex(), rec.Chain)
	}
	return nil
}

func (s *HybridStore) Get(ctx context.Context, chain string, hash common.Hash) (*types.CommitmentRecord, error) {
	if rec, err := s.mirror.Get(ctx, chain, hash); err == nil {
		return rec, nil
	}
	raw, err := s.kv.Get(ctx, recordKey(chain, hash))
	if errors.Is(err, streams.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("commitreveal: load record: %w", err)
	}
	rec := new(types.CommitmentRecord)
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("commitreveal: decode record: %w", err)
	}
	return rec, nil
}

func (s *HybridStore) Delete(ctx context.Context, chain string, hash common.Hash) error {
	_ = s.mirror.Delete(ctx, chain, hash)
	return s.kv.Del(ctx, recordKey(chain, hash))
}
