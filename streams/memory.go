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

package streams

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is a same-process Client used for tests and single-node runs. It
// mirrors the Redis stream id format so trim-by-id behaves identically.
type Memory struct {
	mu      sync.Mutex
	streams map[string][]Entry
	kv      map[string]kvItem
	lastMs  int64
	lastSeq int64
	now     func() time.Time
}

type kvItem struct {
	value   []byte
	expires time.Time
}

// NewMemory returns an empty in-memory client.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string][]Entry),
		kv:      make(map[string]kvItem),
		now:     time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (m *Memory) SetNow(now func() time.Time) { m.now = now }

func formatID(ms, seq int64) string {
	return strconv.FormatInt(ms, 10) + "-" + strconv.FormatInt(seq, 10)
}

func parseID(id string) (ms, seq int64, err error) {
	parts := strings.SplitN(id, "-", 2)
	ms, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad stream id %q", id)
	}
	if len(parts) == 2 {
		seq, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad stream id %q", id)
		}
	}
	return ms, seq, nil
}

func idLess(a, b string) bool {
	ams, aseq, _ := parseID(a)
	bms, bseq, _ := parseID(b)
	if ams != bms {
		return ams < bms
	}
	return aseq < bseq
}

func (m *Memory) nextID() string {
	ms := m.now().UnixMilli()
	if ms <= m.lastMs {
		ms = m.lastMs
		m.lastSeq++
	} else {
		m.lastMs = ms
		m.lastSeq = 0
	}
	return formatID(ms, m.lastSeq)
}

func (m *Memory) XAdd(_ context.Context, stream string, values map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	id := m.nextID()
	m.streams[stream] = append(m.streams[stream], Entry{ID: id, Values: cp})
	return id, nil
}

func (m *Memory) XAddWithLimit(ctx context.Context, stream string, values map[string]string, maxLen int64) (string, error) {
	id, err := m.XAdd(ctx, stream, values)
	if err != nil {
		return "", err
	}
	_, err = m.XTrimMaxLen(ctx, stream, maxLen)
	return id, err
}

func (m *Memory) XRead(_ context.Context, stream, cursor string, count int64, _ time.Duration) ([]Entry, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor == "" {
		cursor = "0"
	}
	var out []Entry
	for _, e := range m.streams[stream] {
		if idLess(cursor, e.ID) {
			out = append(out, e)
			if int64(len(out)) >= count && count > 0 {
				break
			}
		}
	}
	if len(out) > 0 {
		cursor = out[len(out)-1].ID
	}
	return out, cursor, nil
}

func (m *Memory) XRange(_ context.Context, stream, start, end string, count int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.streams[stream] {
		if start != "-" && start != "" && idLess(e.ID, start) {
			continue
		}
		if end != "+" && end != "" && idLess(end, e.ID) {
			continue
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (m *Memory) XLen(_ context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[stream])), nil
}

func (m *Memory) XTrimMinID(_ context.Context, stream, minID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.streams[stream]
	idx := sort.Search(len(entries), func(i int) bool {
		return !idLess(entries[i].ID, minID)
	})
	m.streams[stream] = append([]Entry(nil), entries[idx:]...)
	return int64(idx), nil
}

func (m *Memory) XTrimMaxLen(_ context.Context, stream string, maxLen int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.streams[stream]
	if maxLen <= 0 || int64(len(entries)) <= maxLen {
		return 0, nil
	}
	drop := int64(len(entries)) - maxLen
	m.streams[stream] = append([]Entry(nil), entries[drop:]...)
	return drop, nil
}

func (m *Memory) XDel(_ context.Context, stream string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []Entry
	for _, e := range m.streams[stream] {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	m.streams[stream] = kept
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.kv[key]; ok && (item.expires.IsZero() || m.now().Before(item.expires)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.kv[key] = kvItem{value: append([]byte(nil), value...), expires: exp}
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.kv[key]
	if !ok || (!item.expires.IsZero() && !m.now().Before(item.expires)) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *Memory) Close() error { return nil }
