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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nvx-labs/xarb/provider"
)

// ManagedProvider calls a hosted simulation API. Enabled by the presence of
// an API key; the wire format is the API's concern and stays behind this
// type.
type ManagedProvider struct {
	url    string
	key    string
	client *http.Client
}

// NewManagedProvider builds the primary hosted provider.
func NewManagedProvider(url, key string) *ManagedProvider {
	return &ManagedProvider{
		url:    url,
		key:    key,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *ManagedProvider) Name() string { return "managed" }

type managedRequest struct {
	Chain    string `json:"chain"`
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Gas      uint64 `json:"gas,omitempty"`
	Pending  bool   `json:"pending"`
}

type managedResponse struct {
	WillRevert   bool   `json:"willRevert"`
	RevertReason string `json:"revertReason"`
	GasUsed      uint64 `json:"gasUsed"`
}

func (p *ManagedProvider) Simulate(ctx context.Context, req *Request) (*Result, error) {
	body := managedRequest{
		Chain:   req.Chain,
		From:    req.From.Hex(),
		To:      req.To.Hex(),
		Data:    hexutil.Encode(req.Data),
		Gas:     req.Gas,
		Pending: true,
	}
	if req.Value != nil {
		body.Value = req.Value.String()
	}
	if req.GasPrice != nil {
		body.GasPrice = req.GasPrice.String()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Access-Key", p.key)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("managed simulation: status %d", resp.StatusCode)
	}
	var out managedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &Result{WillRevert: out.WillRevert, RevertReason: out.RevertReason, GasUsed: out.GasUsed}, nil
}

// RPCProvider is the eth_call fallback: a revert surfaces as an execution
// error from the node rather than a provider failure.
type RPCProvider struct {
	clients func(ctx context.Context, chain string) (provider.EVMClient, error)
}

// NewRPCProvider builds the fallback over the chain client source.
func NewRPCProvider(clients func(ctx context.Context, chain string) (provider.EVMClient, error)) *RPCProvider {
	return &RPCProvider{clients: clients}
}

func (p *RPCProvider) Name() string { return "rpc" }

func (p *RPCProvider) Simulate(ctx context.Context, req *Request) (*Result, error) {
	client, err := p.clients(ctx, req.Chain)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{
		From:     req.From,
		To:       &req.To,
		Data:     req.Data,
		Value:    req.Value,
		GasPrice: req.GasPrice,
		Gas:      req.Gas,
	}
	_, err = client.CallContract(ctx, msg, nil)
	if err != nil {
		// The node reports reverts as call errors; anything else is a
		// provider failure.
		if isRevert(err) {
			return &Result{WillRevert: true, RevertReason: err.Error()}, nil
		}
		return nil, err
	}
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		if isRevert(err) {
			return &Result{WillRevert: true, RevertReason: err.Error()}, nil
		}
		return nil, err
	}
	return &Result{WillRevert: false, GasUsed: gas}, nil
}

func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "out of gas")
}
