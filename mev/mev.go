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

// Package mev specifies the private-submission boundary. Concrete relay
// wire formats live behind the Provider interface; the execution core only
// depends on raw-transaction forwarding.
package mev

import "context"

// Provider is one private-submission channel (a relay or builder endpoint).
type Provider interface {
	Name() string
	// SubmitPrivate forwards a signed raw transaction for private
	// inclusion. The transaction still confirms through normal receipt
	// polling on the public chain.
	SubmitPrivate(ctx context.Context, chain string, rawTx []byte) error
}

// Factory resolves a provider for a chain; no provider means the chain
// broadcasts through the public mempool.
type Factory interface {
	ProviderFor(chain string) (Provider, error)
}
