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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/types"
)

func sampleParams() *types.RevealParams {
	return &types.RevealParams{
		Asset:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		AmountIn: big.NewInt(1e18),
		SwapPath: []types.SwapStep{
			{
				Router:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
				TokenIn:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
				TokenOut:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
				AmountOutMin: big.NewInt(990000),
			},
			{
				Router:       common.HexToAddress("0x4444444444444444444444444444444444444444"),
				TokenIn:      common.HexToAddress("0x3333333333333333333333333333333333333333"),
				TokenOut:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
				AmountOutMin: big.NewInt(1010000),
			},
		},
		MinProfit: big.NewInt(20000),
		Deadline:  big.NewInt(1900000000),
		Salt:      [32]byte{0xde, 0xad, 0xbe, 0xef},
	}
}

func TestHashDeterminism(t *testing.T) {
	p := sampleParams()
	enc1, err := EncodeRevealParams(p)
	require.NoError(t, err)
	enc2, err := EncodeRevealParams(p)
	require.NoError(t, err)
	require.Equal(t, enc1, enc2)

	h1, err := HashParams(p)
	require.NoError(t, err)
	h2, err := HashParams(p)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.NotEqual(t, common.Hash{}, h1)
}

func TestHashSensitivity(t *testing.T) {
	base, err := HashParams(sampleParams())
	require.NoError(t, err)

	amount := sampleParams()
	amount.AmountIn = big.NewInt(2e18)
	h, err := HashParams(amount)
	require.NoError(t, err)
	require.NotEqual(t, base, h)

	salt := sampleParams()
	salt.Salt[31] = 0x01
	h, err = HashParams(salt)
	require.NoError(t, err)
	require.NotEqual(t, base, h)

	// Swap-path order is part of the contract.
	reordered := sampleParams()
	reordered.SwapPath[0], reordered.SwapPath[1] = reordered.SwapPath[1], reordered.SwapPath[0]
	h, err = HashParams(reordered)
	require.NoError(t, err)
	require.NotEqual(t, base, h)
}

func TestEncodeRejectsIncompleteParams(t *testing.T) {
	p := sampleParams()
	p.SwapPath = nil
	_, err := EncodeRevealParams(p)
	require.Error(t, err)

	p = sampleParams()
	p.AmountIn = nil
	_, err = EncodeRevealParams(p)
	require.Error(t, err)

	p = sampleParams()
	p.SwapPath[1].AmountOutMin = nil
	_, err = EncodeRevealParams(p)
	require.Error(t, err)
}

func TestCalldataSelectors(t *testing.T) {
	h, err := HashParams(sampleParams())
	require.NoError(t, err)

	commit := CommitCalldata(h)
	require.Len(t, commit, 36)
	require.Equal(t, commitSelector, commit[:4])
	require.Equal(t, h.Bytes(), commit[4:])

	cancel := CancelCalldata(h)
	require.Equal(t, cancelSelector, cancel[:4])
	require.NotEqual(t, commit[:4], cancel[:4])

	reveal, err := RevealCalldata(sampleParams())
	require.NoError(t, err)
	require.Equal(t, revealSelector, reveal[:4])
	enc, _ := EncodeRevealParams(sampleParams())
	require.Equal(t, enc, reveal[4:])
}

func TestNewSaltIsRandom(t *testing.T) {
	a, err := NewSalt()
	require.NoError(t, err)
	b, err := NewSalt()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
