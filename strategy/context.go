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

// Package strategy holds the execution strategies and their dispatch
// registry. Each strategy turns one validated opportunity into at most one
// transaction submission and never returns a bare error across its
// boundary.
package strategy

import (
	"context"

	"github.com/nvx-labs/xarb/bridge"
	"github.com/nvx-labs/xarb/commitreveal"
	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/dex"
	"github.com/nvx-labs/xarb/gas"
	"github.com/nvx-labs/xarb/mev"
	"github.com/nvx-labs/xarb/nonce"
	"github.com/nvx-labs/xarb/provider"
	"github.com/nvx-labs/xarb/simulation"
	"github.com/nvx-labs/xarb/types"
)

// Context carries non-owning references to the shared services. The
// orchestrator owns every field; lifetimes tie to it and strategies must
// not retain the context past Execute.
type Context struct {
	Providers *provider.Manager
	Wallets   *provider.WalletRegistry
	Nonces    *nonce.Manager
	Bridges   bridge.Factory
	MEV       mev.Factory
	Sim       *simulation.Service
	Registry  *dex.Registry
	Steps     *dex.StepBuilder
	Gas       *gas.SpikeGuard
	Commit    *commitreveal.Service
	Chains    map[string]config.ChainConfig
	Stats     *types.ExecutionStats

	// ShuttingDown is checked at every poll iteration; strategies observe
	// it and return ERR_SHUTDOWN without broadcasting new transactions.
	ShuttingDown func() bool
}

func (c *Context) shuttingDown() bool {
	return c.ShuttingDown != nil && c.ShuttingDown()
}

// Strategy is one execution backend.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult
}
