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
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient implements Client on Redis streams.
type redisClient struct {
	rdb *redis.Client
}

// NewRedis connects to addr and returns a stream client backed by Redis.
func NewRedis(addr, password string) Client {
	return &redisClient{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})}
}

func toValues(values map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func (c *redisClient) XAdd(ctx context.Context, stream string, values map[string]string) (string, error) {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: toValues(values)}).Result()
}

func (c *redisClient) XAddWithLimit(ctx context.Context, stream string, values map[string]string, maxLen int64) (string, error) {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: toValues(values),
	}).Result()
}

func (c *redisClient) XRead(ctx context.Context, stream, cursor string, count int64, block time.Duration) ([]Entry, string, error) {
	if cursor == "" {
		cursor = "0"
	}
	args := &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   count,
	}
	if block > 0 {
		args.Block = block
	} else {
		args.Block = -1 // non-blocking
	}
	res, err := c.rdb.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cursor, nil
		}
		return nil, cursor, fmt.Errorf("xread %s: %w", stream, err)
	}
	var entries []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			entries = append(entries, fromMessage(m))
		}
	}
	if len(entries) > 0 {
		cursor = entries[len(entries)-1].ID
	}
	return entries, cursor, nil
}

func (c *redisClient) XRange(ctx context.Context, stream, start, end string, count int64) ([]Entry, error) {
	msgs, err := c.rdb.XRangeN(ctx, stream, start, end, count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, fromMessage(m))
	}
	return entries, nil
}

func (c *redisClient) XLen(ctx context.Context, stream string) (int64, error) {
	return c.rdb.XLen(ctx, stream).Result()
}

func (c *redisClient) XTrimMinID(ctx context.Context, stream, minID string) (int64, error) {
	return c.rdb.XTrimMinIDApprox(ctx, stream, minID, 0).Result()
}

func (c *redisClient) XTrimMaxLen(ctx context.Context, stream string, maxLen int64) (int64, error) {
	return c.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Result()
}

func (c *redisClient) XDel(ctx context.Context, stream string, ids ...string) error {
	return c.rdb.XDel(ctx, stream, ids...).Err()
}

func (c *redisClient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *redisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (c *redisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *redisClient) Close() error { return c.rdb.Close() }

func fromMessage(m redis.XMessage) Entry {
	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		if s, ok := v.(string); ok {
			values[k] = s
		} else {
			values[k] = fmt.Sprint(v)
		}
	}
	return Entry{ID: m.ID, Values: values}
}
