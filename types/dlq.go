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

// DLQEntry is the wire contract for a dead-letter record. Once written an
// entry is immutable until trimmed. OriginalPayload preserves the full
// original data as a string so replay is always possible.
type DLQEntry struct {
	OriginalMessageID string `json:"originalMessageId"`
	OriginalStream    string `json:"originalStream"`
	OpportunityID     string `json:"opportunityId"`
	OpportunityType   string `json:"opportunityType"`

	// Error is rendered as "[CODE] message".
	Error string `json:"error"`

	// Timestamp is unix milliseconds at write time.
	Timestamp int64 `json:"timestamp"`

	Service    string `json:"service"`
	InstanceID string `json:"instanceId"`

	OriginalPayload string `json:"originalPayload"`
}

// Code returns the bracketed code embedded in the entry's error string.
func (e *DLQEntry) Code() string { return ParseCode(e.Error) }
