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

package strategy

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/dex"
	"github.com/nvx-labs/xarb/provider"
	"github.com/nvx-labs/xarb/types"
)

const receiptPollInterval = 2 * time.Second

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	pathT, _    = abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "router", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "amountOutMin", Type: "uint256"},
	})

	allowanceSelector = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	approveSelector   = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]

	executeSelector = crypto.Keccak256([]byte(
		"executeArbitrage(address,uint256,(address,address,address,uint256)[])"))[:4]
	executeArgs = abi.Arguments{
		{Type: addressT}, // asset
		{Type: uint256T}, // amountIn
		{Type: pathT},    // swap path
	}
)

type pathStep struct {
	Router       common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountOutMin *big.Int
}

// executeCalldata encodes the executor contract's arbitrage entry point
// from built swap steps.
func executeCalldata(asset common.Address, amountIn *big.Int, steps []dex.Step) ([]byte, error) {
	path := make([]pathStep, len(steps))
	for i, s := range steps {
		path[i] = pathStep{Router: s.Router, TokenIn: s.TokenIn, TokenOut: s.TokenOut, AmountOutMin: s.MinOut}
	}
	packed, err := executeArgs.Pack(asset, amountIn, path)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, executeSelector...), packed...), nil
}

// toSwapSteps converts built steps into the commit-reveal parameter shape.
func toSwapSteps(steps []dex.Step) []types.SwapStep {
	out := make([]types.SwapStep, len(steps))
	for i, s := range steps {
		out[i] = types.SwapStep{Router: s.Router, TokenIn: s.TokenIn, TokenOut: s.TokenOut, AmountOutMin: s.MinOut}
	}
	return out
}

// allowanceOf reads the ERC-20 allowance granted by owner to spender.
func allowanceOf(ctx context.Context, client provider.EVMClient, token, owner, spender common.Address) (*big.Int, error) {
	data := append(append([]byte{}, allowanceSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// approveCalldata encodes approve(spender, amount).
func approveCalldata(spender common.Address, amount *big.Int) []byte {
	data := append(append([]byte{}, approveSelector...), common.LeftPadBytes(spender.Bytes(), 32)...)
	return append(data, common.LeftPadBytes(amount.FillBytes(make([]byte, 32)), 32)...)
}

// txSender bundles the per-call plumbing shared by every EVM strategy:
// nonce pairing, signing, broadcast and the receipt wait.
type txSender struct {
	sc    *Context
	chain string
}

// send submits one contract call and blocks until its receipt or the
// timeout. Every reserved nonce is settled exactly once.
func (t *txSender) send(ctx context.Context, client provider.EVMClient, to common.Address, data []byte, gasPrice *big.Int, timeout time.Duration) (common.Hash, *ethtypes.Receipt, error) {
	wallet, ok := t.sc.Wallets.EVM(t.chain)
	if !ok {
		return common.Hash{}, nil, types.Codef(types.CodeNoProvider, "no wallet for chain %s", t.chain)
	}
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: wallet.Address, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, nil, types.WrapCoded(types.CodeRevert, err)
	}
	nextNonce, err := t.sc.Nonces.GetNextNonce(ctx, t.chain, wallet.Address.Hex())
	if err != nil {
		return common.Hash{}, nil, err
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nextNonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := wallet.SignTx(tx)
	if err != nil {
		_ = t.sc.Nonces.FailTransaction(t.chain, wallet.Address.Hex(), nextNonce, "sign: "+err.Error())
		return common.Hash{}, nil, types.WrapCoded(types.CodeUnexpected, err)
	}
	if err := t.broadcast(ctx, client, signed); err != nil {
		_ = t.sc.Nonces.FailTransaction(t.chain, wallet.Address.Hex(), nextNonce, "send: "+err.Error())
		return common.Hash{}, nil, types.WrapCoded(types.CodeNoProvider, err)
	}
	txHash := signed.Hash()
	_ = t.sc.Nonces.ConfirmTransaction(t.chain, wallet.Address.Hex(), nextNonce, txHash.Hex())

	receipt, err := waitReceipt(ctx, client, txHash, timeout)
	if err != nil {
		return txHash, nil, err
	}
	return txHash, receipt, nil
}

// broadcast routes the signed transaction through the chain's private
// submission provider when one is configured. A provider failure falls
// back to the public mempool; the receipt wait is unaffected either way.
func (t *txSender) broadcast(ctx context.Context, client provider.EVMClient, tx *ethtypes.Transaction) error {
	if t.sc.MEV != nil {
		if prov, err := t.sc.MEV.ProviderFor(t.chain); err == nil && prov != nil {
			raw, err := tx.MarshalBinary()
			if err == nil {
				if err := prov.SubmitPrivate(ctx, t.chain, raw); err == nil {
					return nil
				}
				log.Warn("Private submission failed, falling back to public mempool",
					"chain", t.chain, "provider", prov.Name(), "tx", tx.Hash().Hex())
			}
		}
	}
	return client.SendTransaction(ctx, tx)
}

// ensureAllowance issues an approval when the current allowance cannot
// cover amount. Approval failures surface as ERR_APPROVAL.
func (t *txSender) ensureAllowance(ctx context.Context, client provider.EVMClient, token, spender common.Address, amount, gasPrice *big.Int) error {
	wallet, ok := t.sc.Wallets.EVM(t.chain)
	if !ok {
		return types.Codef(types.CodeNoProvider, "no wallet for chain %s", t.chain)
	}
	current, err := allowanceOf(ctx, client, token, wallet.Address, spender)
	if err != nil {
		return types.WrapCoded(types.CodeApproval, err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	_, receipt, err := t.send(ctx, client, token, approveCalldata(spender, amount), gasPrice, 60*time.Second)
	if err != nil {
		return types.WrapCoded(types.CodeApproval, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.Codef(types.CodeApproval, "approve reverted for %s on %s", token.Hex(), t.chain)
	}
	return nil
}

func waitReceipt(ctx context.Context, client provider.EVMClient, txHash common.Hash, timeout time.Duration) (*ethtypes.Receipt, error) {
	deadline := time.Now().Add(timeout)
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, types.Codef(types.CodeTimeout, "no receipt for %s after %s", txHash.Hex(), timeout)
		}
		select {
		case <-ctx.Done():
			return nil, types.WrapCoded(types.CodeTimeout, ctx.Err())
		case <-time.After(receiptPollInterval):
		}
	}
}
