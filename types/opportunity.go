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

// Package types holds the data model shared by the execution core: the
// opportunity descriptor, tagged errors, execution results, DLQ wire
// entries, commitment records and the execution stats counters.
package types

import (
	"math/big"
	"time"
)

// Kind classifies an opportunity and selects the execution strategy.
type Kind string

const (
	KindSingleChain  Kind = "single-chain"
	KindCrossChain   Kind = "cross-chain"
	KindIntentFill   Kind = "intent-fill"
	KindCommitReveal Kind = "commit-reveal"
	KindSolanaBundle Kind = "solana-bundle"
)

// Valid reports whether k is a recognized opportunity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSingleChain, KindCrossChain, KindIntentFill, KindCommitReveal, KindSolanaBundle:
		return true
	}
	return false
}

// Opportunity is one candidate arbitrage execution as published by an
// upstream detector. Amounts are unbounded integers in the input token's
// smallest unit; profit enters as an opaque USD number.
type Opportunity struct {
	ID        string
	Kind      Kind
	BuyChain  string
	SellChain string
	BuyVenue  string
	SellVenue string
	TokenIn   string
	TokenOut  string
	AmountIn  *big.Int

	ExpectedProfitUSD float64
	Confidence        float64

	// Expiry is the absolute deadline after which the opportunity is stale.
	// The zero value means no expiry.
	Expiry time.Time

	// DetectedAt is when the upstream detector emitted the opportunity,
	// used for time-critical simulation gating.
	DetectedAt time.Time

	// IntentPayload carries the opaque signed order for intent-fill
	// opportunities.
	IntentPayload []byte

	// PathHints optionally names intermediate tokens for multi-hop routes.
	PathHints []string

	// Raw preserves the original inbound payload bytes for dead-lettering.
	Raw []byte
}

// Age returns how long ago the opportunity was detected, or zero when the
// detection time is unknown.
func (o *Opportunity) Age(now time.Time) time.Duration {
	if o.DetectedAt.IsZero() {
		return 0
	}
	return now.Sub(o.DetectedAt)
}

// Chain returns the chain of record for single-venue kinds; cross-chain
// callers use BuyChain/SellChain explicitly.
func (o *Opportunity) Chain() string {
	if o.BuyChain != "" {
		return o.BuyChain
	}
	return o.SellChain
}
