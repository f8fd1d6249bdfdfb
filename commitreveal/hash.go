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

// Package commitreveal implements two-phase transaction submission: the
// commit publishes only keccak(params) on-chain, and one block later the
// reveal discloses the plaintext parameters and executes the swap.
package commitreveal

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nvx-labs/xarb/types"
)

// The commitment hash is keccak-256 of the standard ABI encoding of
//
//	(address asset, uint256 amountIn,
//	 (address router, address tokenIn, address tokenOut, uint256 amountOutMin)[] swapPath,
//	 uint256 minProfit, uint256 deadline, bytes32 salt)
//
// This schema is wire-compatible with the on-chain contract; changing it is
// a breaking contract upgrade.
var (
	addressT, _  = abi.NewType("address", "", nil)
	uint256T, _  = abi.NewType("uint256", "", nil)
	bytes32T, _  = abi.NewType("bytes32", "", nil)
	swapPathT, _ = abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "router", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "amountOutMin", Type: "uint256"},
	})

	revealArgs = abi.Arguments{
		{Type: addressT},  // asset
		{Type: uint256T},  // amountIn
		{Type: swapPathT}, // swapPath
		{Type: uint256T},  // minProfit
		{Type: uint256T},  // deadline
		{Type: bytes32T},  // salt
	}

	commitSelector = crypto.Keccak256([]byte("commit(bytes32)"))[:4]
	cancelSelector = crypto.Keccak256([]byte("cancelCommit(bytes32)"))[:4]
	revealSelector = crypto.Keccak256([]byte(
		"reveal(address,uint256,(address,address,address,uint256)[],uint256,uint256,bytes32)"))[:4]

	// revealedTopic identifies the contract's Revealed(bytes32,uint256)
	// event; the uint256 is the realized profit.
	revealedTopic = crypto.Keccak256Hash([]byte("Revealed(bytes32,uint256)"))
)

// EncodeRevealParams renders the canonical ABI encoding of the tuple.
func EncodeRevealParams(p *types.RevealParams) ([]byte, error) {
	if p.AmountIn == nil || p.MinProfit == nil || p.Deadline == nil {
		return nil, fmt.Errorf("commitreveal: nil numeric field in reveal params")
	}
	if len(p.SwapPath) == 0 {
		return nil, fmt.Errorf("commitreveal: empty swap path")
	}
	path := make([]struct {
		Router       common.Address
		TokenIn      common.Address
		TokenOut     common.Address
		AmountOutMin *big.Int
	}, len(p.SwapPath))
	for i, step := range p.SwapPath {
		if step.AmountOutMin == nil {
			return nil, fmt.Errorf("commitreveal: nil amountOutMin at hop %d", i)
		}
		path[i].Router = step.Router
		path[i].TokenIn = step.TokenIn
		path[i].TokenOut = step.TokenOut
		path[i].AmountOutMin = step.AmountOutMin
	}
	return revealArgs.Pack(p.Asset, p.AmountIn, path, p.MinProfit, p.Deadline, p.Salt)
}

// HashParams computes the commitment hash for the tuple. Deterministic:
// identical params always hash identically.
func HashParams(p *types.RevealParams) (common.Hash, error) {
	encoded, err := EncodeRevealParams(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// CommitCalldata builds the commit(bytes32) call.
func CommitCalldata(hash common.Hash) []byte {
	return append(append([]byte{}, commitSelector...), hash.Bytes()...)
}

// CancelCalldata builds the cancelCommit(bytes32) call.
func CancelCalldata(hash common.Hash) []byte {
	return append(append([]byte{}, cancelSelector...), hash.Bytes()...)
}

// RevealCalldata builds the reveal(...) call from the stored params.
func RevealCalldata(p *types.RevealParams) ([]byte, error) {
	encoded, err := EncodeRevealParams(p)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, revealSelector...), encoded...), nil
}

// NewSalt draws a random 32-byte salt.
func NewSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("commitreveal: salt: %w", err)
	}
	return salt, nil
}
