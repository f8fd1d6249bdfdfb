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

// Package dex provides constant-time venue lookup, the swap-step builder
// and the flash-loan fee calculator.
package dex

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/types"
)

// Registry maps chain x dexName -> router and back. Built once at startup;
// all names and addresses are normalized to lowercase. Disabled DEXes are
// excluded entirely.
type Registry struct {
	routers map[string]common.Address // chain|dex -> router
	names   map[string]string         // chain|router -> dex
}

// NewRegistry builds the lookup tables from chain configuration.
func NewRegistry(chains map[string]config.ChainConfig) *Registry {
	r := &Registry{
		routers: make(map[string]common.Address),
		names:   make(map[string]string),
	}
	for chainName, chain := range chains {
		cn := strings.ToLower(chainName)
		for dexName, dex := range chain.DEXes {
			if dex.Disabled || dex.Router == "" {
				continue
			}
			dn := strings.ToLower(dexName)
			router := common.HexToAddress(dex.Router)
			r.routers[cn+"|"+dn] = router
			r.names[cn+"|"+strings.ToLower(router.Hex())] = dn
		}
	}
	return r
}

// Router resolves a venue name to its router address.
func (r *Registry) Router(chain, dexName string) (common.Address, error) {
	router, ok := r.routers[strings.ToLower(chain)+"|"+strings.ToLower(dexName)]
	if !ok {
		return common.Address{}, types.Codef(types.CodeNoRoute, "no router for %s on %s", dexName, chain)
	}
	return router, nil
}

// Name reverse-resolves a router address to its venue name.
func (r *Registry) Name(chain string, router common.Address) (string, bool) {
	name, ok := r.names[strings.ToLower(chain)+"|"+strings.ToLower(router.Hex())]
	return name, ok
}
