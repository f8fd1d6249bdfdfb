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

// Package streams wraps the durable log-structured stream and key-value
// store behind a minimal interface. The production implementation is Redis
// streams; an in-memory implementation backs single-process runs and tests.
package streams

import (
	"context"
	"errors"
	"time"
)

// Entry is one stream record. IDs are timestamp-prefixed ("<unix-ms>-<seq>")
// and strictly ordered within a stream.
type Entry struct {
	ID     string
	Values map[string]string
}

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("streams: not found")

// Client is the stream and KV surface the execution core relies on.
type Client interface {
	// XAdd appends an entry and returns its id.
	XAdd(ctx context.Context, stream string, values map[string]string) (string, error)
	// XAddWithLimit appends and approximately caps the stream length.
	XAddWithLimit(ctx context.Context, stream string, values map[string]string, maxLen int64) (string, error)
	// XRead returns up to count entries with ids strictly greater than
	// cursor, blocking up to block (0 = no blocking). The returned cursor
	// is the id of the last entry read, or the input cursor when empty.
	XRead(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, string, error)
	// XRange pages through [start, end] inclusive.
	XRange(ctx context.Context, stream, start, end string, count int64) ([]Entry, error)
	XLen(ctx context.Context, stream string) (int64, error)
	// XTrimMinID approximately drops entries with ids below minID.
	XTrimMinID(ctx context.Context, stream, minID string) (int64, error)
	// XTrimMaxLen approximately caps the stream at maxLen entries.
	XTrimMaxLen(ctx context.Context, stream string, maxLen int64) (int64, error)
	XDel(ctx context.Context, stream string, ids ...string) error

	// SetNX stores value under key only if absent, with a TTL. Reports
	// whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error

	Close() error
}

// MinIDForAge renders the stream id cutoff for entries older than age, using
// the timestamp prefix of stream ids. The cutoff is approximate by design.
func MinIDForAge(now time.Time, age time.Duration) string {
	cutoff := now.Add(-age).UnixMilli()
	if cutoff < 0 {
		cutoff = 0
	}
	return formatID(cutoff, 0)
}
