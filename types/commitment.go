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

package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SwapStep is one hop of an on-chain swap path. The field order and widths
// are part of the commitment hash contract and must not change.
type SwapStep struct {
	Router       common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountOutMin *big.Int
}

// RevealParams is the parameter tuple hashed at commit time and disclosed
// at reveal time. Its canonical ABI encoding must match the on-chain
// contract byte for byte.
type RevealParams struct {
	Asset     common.Address
	AmountIn  *big.Int
	SwapPath  []SwapStep
	MinProfit *big.Int
	Deadline  *big.Int
	Salt      [32]byte
}

// CommitmentRecord is the stored state between commit and reveal, keyed by
// (chain, hash). RevealBlock is always CommitBlock+1.
type CommitmentRecord struct {
	Hash        common.Hash  `json:"hash"`
	Chain       string       `json:"chain"`
	CommitBlock uint64       `json:"commitBlock"`
	RevealBlock uint64       `json:"revealBlock"`
	Params      RevealParams `json:"params"`

	ExpectedProfitUSD float64   `json:"expectedProfitUsd,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}
