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
	"testing"
)

func TestCodedErrorRendering(t *testing.T) {
	err := Codef(CodeGasSpike, "current %d exceeds baseline", 42)
	want := "[ERR_GAS_SPIKE] current 42 exceeds baseline"
	if err.Error() != want {
		t.Fatalf("rendered %q, want %q", err.Error(), want)
	}
	if err.Code() != CodeGasSpike {
		t.Fatalf("code %q, want %q", err.Code(), CodeGasSpike)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("submit: %w", WrapCoded(CodeNoProvider, cause))
	if got := CodeOf(err); got != CodeNoProvider {
		t.Fatalf("CodeOf = %q, want %q", got, CodeNoProvider)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not preserved through wrap")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatal("plain error should carry no code")
	}
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[VAL_EXPIRED] opportunity expired", "VAL_EXPIRED"},
		{"[ERR_NONCE] nonce too low", "ERR_NONCE"},
		{"no code here", ""},
		{"[unterminated", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseCode(tt.in); got != tt.want {
			t.Errorf("ParseCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCodeFamilies(t *testing.T) {
	if !IsValidationCode(CodeValExpired) {
		t.Fatal("VAL_EXPIRED not recognized as validation code")
	}
	if IsValidationCode(CodeNonce) {
		t.Fatal("ERR_NONCE misclassified as validation code")
	}
	// The replayable set is exactly the five retryable environment and
	// on-chain codes.
	for _, code := range []string{CodeNonce, CodeNoProvider, CodeApproval, CodeNoRoute, CodeNoBridge} {
		if !IsReplayableCode(code) {
			t.Errorf("%s should be replayable", code)
		}
	}
	for _, code := range []string{CodeValExpired, CodeRevert, CodeCircuitOpen, CodeGasSpike} {
		if IsReplayableCode(code) {
			t.Errorf("%s should not be replayable", code)
		}
	}
}
