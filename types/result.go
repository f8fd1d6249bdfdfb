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

import "time"

// ExecutionResult is what a strategy returns across its boundary. Strategies
// never panic or return bare errors; failures are tagged CodedErrors carried
// here.
type ExecutionResult struct {
	OpportunityID string
	Strategy      string
	Success       bool

	// Chain is the chain of record for the result. For cross-chain
	// executions this is the destination chain.
	Chain  string
	TxHash string

	// BridgeTxHash is set on cross-chain results, including partial
	// failures where funds already crossed and need operator attention.
	BridgeTxHash string

	Err error // nil on success; otherwise a *CodedError

	ProfitUSD    float64
	GasCostUSD   float64
	BridgeFeeUSD float64

	Duration time.Duration
}

// Failure builds a failed result tagged with the given coded error.
func Failure(oppID, strategy, chain string, err *CodedError) *ExecutionResult {
	return &ExecutionResult{
		OpportunityID: oppID,
		Strategy:      strategy,
		Chain:         chain,
		Err:           err,
	}
}

// ErrorCode returns the bracketed code of the result's error, or "".
func (r *ExecutionResult) ErrorCode() string {
	if r.Err == nil {
		return ""
	}
	return CodeOf(r.Err)
}
