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

package simulation

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PoolKind distinguishes constant-product V2 pools from concentrated V3
// pools.
type PoolKind int

const (
	PoolV2 PoolKind = iota
	PoolV3
)

// Pool is one registered liquidity pool.
type Pool struct {
	Chain    string
	Address  common.Address
	Kind     PoolKind
	Token0   common.Address
	Token1   common.Address
	FeeTier  uint32 // V3 fee tier; 0 for V2
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// pairKey orders the two tokens so reversed token0/token1 still matches.
func pairKey(a, b common.Address) string {
	x, y := strings.ToLower(a.Hex()), strings.ToLower(b.Hex())
	if x > y {
		x, y = y, x
	}
	return x + "|" + y
}

// PoolRegistry indexes pools by unordered token pair for O(1) affected-pool
// detection from mempool swaps.
type PoolRegistry struct {
	mu     sync.RWMutex
	byPair map[string][]*Pool
}

// NewPoolRegistry returns an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{byPair: make(map[string][]*Pool)}
}

// Add indexes the pool under its unordered pair.
func (r *PoolRegistry) Add(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(p.Token0, p.Token1)
	r.byPair[key] = append(r.byPair[key], p)
}

// AffectedPools returns every pool trading the pair, regardless of the
// order the mempool transaction names the tokens in.
func (r *PoolRegistry) AffectedPools(tokenA, tokenB common.Address) []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPair[pairKey(tokenA, tokenB)]
}

// WalkPath resolves the affected pools for each hop of a multi-hop path.
func (r *PoolRegistry) WalkPath(path []common.Address) [][]*Pool {
	if len(path) < 2 {
		return nil
	}
	out := make([][]*Pool, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		out = append(out, r.AffectedPools(path[i], path[i+1]))
	}
	return out
}

// DefaultV3FeeTier is used when the mempool intent does not carry one.
const DefaultV3FeeTier = 3000

var (
	addressT, _    = abi.NewType("address", "", nil)
	uint256T, _    = abi.NewType("uint256", "", nil)
	addressArrT, _ = abi.NewType("address[]", "", nil)

	v2SwapSelector = crypto.Keccak256([]byte("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"))[:4]

	v2SwapArgs = abi.Arguments{
		{Type: uint256T},    // amountIn
		{Type: uint256T},    // amountOutMin
		{Type: addressArrT}, // path
		{Type: addressT},    // to
		{Type: uint256T},    // deadline
	}

	exactInputSingleSelector = crypto.Keccak256([]byte("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"))[:4]
	exactInputSelector       = crypto.Keccak256([]byte("exactInput((bytes,address,uint256,uint256,uint256))"))[:4]

	exactInputSingleT, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint160"},
	})
	exactInputT, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "path", Type: "bytes"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
	})
)

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

// BuildV2SwapCalldata encodes a swapExactTokensForTokens call.
func BuildV2SwapCalldata(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	packed, err := v2SwapArgs.Pack(amountIn, minOut, path, to, deadline)
	if err != nil {
		return nil, fmt.Errorf("pack v2 swap: %w", err)
	}
	return append(append([]byte{}, v2SwapSelector...), packed...), nil
}

// EncodeV3Path packs the tight V3 path encoding: 20-byte token, 3-byte fee
// tier, repeated. fees[i] prices the hop tokens[i] -> tokens[i+1].
func EncodeV3Path(tokens []common.Address, fees []uint32) ([]byte, error) {
	if len(tokens) < 2 || len(fees) != len(tokens)-1 {
		return nil, fmt.Errorf("v3 path: %d tokens need %d fees, got %d", len(tokens), len(tokens)-1, len(fees))
	}
	out := make([]byte, 0, len(tokens)*20+len(fees)*3)
	for i, token := range tokens {
		out = append(out, token.Bytes()...)
		if i < len(fees) {
			fee := fees[i]
			if fee == 0 {
				fee = DefaultV3FeeTier
			}
			out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		}
	}
	return out, nil
}

// BuildV3SwapCalldata chooses exactInputSingle for single-hop swaps and
// exactInput with a packed bytes path for multi-hop.
func BuildV3SwapCalldata(amountIn, minOut *big.Int, tokens []common.Address, fees []uint32, recipient common.Address, deadline *big.Int) ([]byte, error) {
	if len(tokens) < 2 {
		return nil, fmt.Errorf("v3 swap: need at least two tokens")
	}
	if len(tokens) == 2 {
		fee := uint32(DefaultV3FeeTier)
		if len(fees) > 0 && fees[0] != 0 {
			fee = fees[0]
		}
		args := abi.Arguments{{Type: exactInputSingleT}}
		packed, err := args.Pack(exactInputSingleParams{
			TokenIn:           tokens[0],
			TokenOut:          tokens[1],
			Fee:               big.NewInt(int64(fee)),
			Recipient:         recipient,
			Deadline:          deadline,
			AmountIn:          amountIn,
			AmountOutMinimum:  minOut,
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return nil, fmt.Errorf("pack exactInputSingle: %w", err)
		}
		return append(append([]byte{}, exactInputSingleSelector...), packed...), nil
	}
	path, err := EncodeV3Path(tokens, fees)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: exactInputT}}
	packed, err := args.Pack(exactInputParams{
		Path:             path,
		Recipient:        recipient,
		Deadline:         deadline,
		AmountIn:         amountIn,
		AmountOutMinimum: minOut,
	})
	if err != nil {
		return nil, fmt.Errorf("pack exactInput: %w", err)
	}
	return append(append([]byte{}, exactInputSelector...), packed...), nil
}

// MinOutFromDeclared derives the minimum output from the user-declared
// expected output and their slippage tolerance. It deliberately ignores our
// own quote: mempool data is adversarial and must not set our bounds.
func MinOutFromDeclared(declaredOut *big.Int, slippageBps int) *big.Int {
	if slippageBps < 0 {
		slippageBps = 0
	}
	out := new(big.Int).Mul(declaredOut, big.NewInt(int64(10000-slippageBps)))
	return out.Div(out, big.NewInt(10000))
}
