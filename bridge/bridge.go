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

// Package bridge specifies the cross-chain bridge boundary. Concrete wire
// formats live behind the Bridge interface; the execution core only depends
// on quotes, submission and the status lifecycle.
package bridge

import (
	"context"
	"math/big"
	"time"

	"github.com/nvx-labs/xarb/types"
)

// Status lifecycle: pending -> in-flight -> {completed, failed, refunded}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in-flight"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether the transfer reached a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Request describes one transfer of the intermediate asset.
type Request struct {
	SourceChain string
	DestChain   string
	Token       string
	Amount      *big.Int
	Recipient   string
}

// Quote prices a transfer. A quote is only valid until ExpiresAt.
type Quote struct {
	FeeWei    *big.Int
	FeeUSD    float64
	Route     string
	ExpiresAt time.Time
}

// Expired reports whether the quote is stale at t. A quote expiring exactly
// at t is expired.
func (q *Quote) Expired(t time.Time) bool {
	return !q.ExpiresAt.IsZero() && !t.Before(q.ExpiresAt)
}

// Bridge is one bridging venue.
type Bridge interface {
	Name() string
	Quote(ctx context.Context, req *Request) (*Quote, error)
	// Submit broadcasts the source-chain transfer and returns its tx hash
	// plus the bridge's transfer id used for status polling.
	Submit(ctx context.Context, req *Request, quote *Quote) (txHash, transferID string, err error)
	Status(ctx context.Context, transferID string) (Status, error)
}

// Factory resolves a bridge for a route; no bridge means the route is
// unsupported.
type Factory interface {
	BridgeFor(sourceChain, destChain string) (Bridge, error)
}

// PollInterval is the bridge status cadence.
const PollInterval = 15 * time.Second

// Await polls the transfer until a terminal status, the deadline, or
// shutdown. Timeout surfaces as ERR_BRIDGE_TIMEOUT; shutdown as
// ERR_SHUTDOWN. Transient status errors keep polling.
func Await(ctx context.Context, b Bridge, transferID string, maxWait time.Duration, shuttingDown func() bool) (Status, error) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		if shuttingDown != nil && shuttingDown() {
			return "", types.NewCodedError(types.CodeShutdown, "shutdown during bridge wait")
		}
		status, err := b.Status(ctx, transferID)
		if err == nil && status.Terminal() {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, types.Codef(types.CodeBridgeTimeout, "transfer %s not terminal after %s", transferID, maxWait)
		}
		select {
		case <-ctx.Done():
			return status, types.WrapCoded(types.CodeBridgeTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
