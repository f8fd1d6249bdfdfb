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
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Error codes form two disjoint families. VAL_* marks permanently bad input
// that is dead-lettered and never replayed. ERR_* marks execution failures,
// a subset of which the DLQ monitor may replay.
const (
	// Validation codes.
	CodeValEmpty         = "VAL_EMPTY_MESSAGE"
	CodeValMissingField  = "VAL_MISSING_FIELD"
	CodeValUnknownKind   = "VAL_UNKNOWN_KIND"
	CodeValBadAmount     = "VAL_INVALID_AMOUNT"
	CodeValZeroAmount    = "VAL_ZERO_AMOUNT"
	CodeValExpired       = "VAL_EXPIRED"
	CodeValSameChain     = "VAL_SAME_CHAIN"
	CodeValUnknownChain  = "VAL_UNKNOWN_CHAIN"
	CodeValLowConfidence = "VAL_LOW_CONFIDENCE"
	CodeValLowProfit     = "VAL_LOW_PROFIT"

	// Environment codes.
	CodeNoProvider = "ERR_NO_PROVIDER"
	CodeNoChain    = "ERR_NO_CHAIN"
	CodeNoBridge   = "ERR_NO_BRIDGE"
	CodeNoRoute    = "ERR_NO_ROUTE"

	// Concurrency codes.
	CodeLockConflict = "ERR_LOCK_CONFLICT"
	CodeCircuitOpen  = "ERR_CIRCUIT_OPEN"
	CodeQueueFull    = "ERR_QUEUE_FULL"

	// Economic codes.
	CodeGasSpike       = "ERR_GAS_SPIKE"
	CodeLowProfit      = "ERR_LOW_PROFIT"
	CodePriceDeviation = "ERR_PRICE_DEVIATION"
	CodeQuoteExpired   = "ERR_QUOTE_EXPIRED"

	// Simulation codes.
	CodeSimRevert     = "ERR_SIM_REVERT"
	CodeSimRevertDest = "ERR_SIM_REVERT_DEST"
	CodeSimError      = "ERR_SIM_ERROR"

	// On-chain codes.
	CodeRevert        = "ERR_REVERT"
	CodeNonce         = "ERR_NONCE"
	CodeApproval      = "ERR_APPROVAL"
	CodeBridgeTimeout = "ERR_BRIDGE_TIMEOUT"

	// Commit-reveal.
	CodeDuplicateCommitment = "ERR_DUPLICATE_COMMITMENT"

	// Lifecycle.
	CodeShutdown   = "ERR_SHUTDOWN"
	CodeTimeout    = "ERR_TIMEOUT"
	CodeUnexpected = "ERR_UNEXPECTED"
)

// ReplayableCodes is the set of ERR_* codes the DLQ monitor is allowed to
// auto-replay. Everything else stays dead-lettered until trimmed.
var ReplayableCodes = mapset.NewSet(
	CodeNonce,
	CodeNoProvider,
	CodeApproval,
	CodeNoRoute,
	CodeNoBridge,
)

// CodedError is a tagged domain error rendered as "[CODE] message". It is
// the only error type that crosses strategy and consumer boundaries.
type CodedError struct {
	code string
	msg  string
	err  error // optional underlying cause
}

// NewCodedError wraps msg under the given bracketed code.
func NewCodedError(code, msg string) *CodedError {
	return &CodedError{code: code, msg: msg}
}

// Codef is NewCodedError with formatting.
func Codef(code, format string, args ...interface{}) *CodedError {
	return &CodedError{code: code, msg: fmt.Sprintf(format, args...)}
}

// WrapCoded tags an underlying error with a code, preserving the cause for
// errors.Is/As chains.
func WrapCoded(code string, err error) *CodedError {
	return &CodedError{code: code, msg: err.Error(), err: err}
}

func (e *CodedError) Error() string { return "[" + e.code + "] " + e.msg }

// Code returns the bare code without brackets.
func (e *CodedError) Code() string { return e.code }

// Message returns the human-readable part without the bracketed code.
func (e *CodedError) Message() string { return e.msg }

func (e *CodedError) Unwrap() error { return e.err }

// CodeOf extracts the bracketed code from err, or "" when err carries none.
func CodeOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ""
}

// ParseCode pulls the leading "[CODE]" tag out of a rendered error string,
// as stored in DLQ entries.
func ParseCode(s string) string {
	if !strings.HasPrefix(s, "[") {
		return ""
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return ""
	}
	return s[1:end]
}

// IsValidationCode reports whether code belongs to the permanent VAL_*
// family.
func IsValidationCode(code string) bool {
	return strings.HasPrefix(code, "VAL_")
}

// IsReplayableCode reports whether the DLQ monitor may auto-replay entries
// carrying this code.
func IsReplayableCode(code string) bool {
	return ReplayableCodes.Contains(code)
}
