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

package dex

import "math/big"

// defaultFlashFeeBps is the fallback when a chain has no configured rate
// (Aave v3's 0.09%).
const defaultFlashFeeBps = 9

// Recommendation is the funding decision for one execution.
type Recommendation string

const (
	UseFlashLoan Recommendation = "flash-loan"
	UseDirect    Recommendation = "direct"
	Skip         Recommendation = "skip"
)

// FlashFeeWei computes the flash-loan fee for borrowing amount at the
// chain-specific bps rate.
func FlashFeeWei(amount *big.Int, chainBps int) *big.Int {
	bps := int64(chainBps)
	if bps <= 0 {
		bps = defaultFlashFeeBps
	}
	fee := new(big.Int).Mul(amount, big.NewInt(bps))
	return fee.Div(fee, big.NewInt(bpsDenom))
}

// RecommendFunding compares net profit of a flash-loan execution against
// direct execution from the caller's own capital. Callers without capital
// can only flash-loan; if neither nets positive the opportunity is skipped.
func RecommendFunding(netFlashUSD, netDirectUSD float64, hasCapital bool) Recommendation {
	if !hasCapital {
		if netFlashUSD > 0 {
			return UseFlashLoan
		}
		return Skip
	}
	if netDirectUSD <= 0 && netFlashUSD <= 0 {
		return Skip
	}
	if netDirectUSD >= netFlashUSD {
		return UseDirect
	}
	return UseFlashLoan
}
