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

package commitreveal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/gas"
	"github.com/nvx-labs/xarb/nonce"
	"github.com/nvx-labs/xarb/provider"
	"github.com/nvx-labs/xarb/types"
)

const (
	blockPollInterval = 2 * time.Second
	blockWaitBudget   = 120 * time.Second
	receiptTimeout    = 30 * time.Second

	// Up to four transient provider errors keep polling; the fifth
	// consecutive error fails the wait.
	maxConsecutivePollErrors = 5
)

// QuoteOracle is the profitability re-check seam between block-wait and
// reveal submission. The default trusts the contract's on-chain
// minimum-profit guard and always confirms.
type QuoteOracle interface {
	StillProfitable(ctx context.Context, rec *types.CommitmentRecord) (bool, error)
}

type trustContractOracle struct{}

func (trustContractOracle) StillProfitable(context.Context, *types.CommitmentRecord) (bool, error) {
	return true, nil
}

// ClientFunc resolves the chain RPC client.
type ClientFunc func(ctx context.Context, chain string) (provider.EVMClient, error)

// RevealResult is the conclusion of a successful reveal.
type RevealResult struct {
	TxHash common.Hash
	// Profit is the realized profit from the Revealed event; nil when the
	// event was absent (warned, still success).
	Profit *big.Int
}

// Service drives the commit, block-wait and reveal phases against the
// per-chain commit contract.
type Service struct {
	store   Store
	clients ClientFunc
	wallets *provider.WalletRegistry
	nonces  *nonce.Manager
	chains  map[string]config.ChainConfig
	oracle  QuoteOracle

	// ShuttingDown short-circuits block waits during shutdown.
	ShuttingDown func() bool

	pollInterval time.Duration
	waitBudget   time.Duration
	log          log.Logger
}

// NewService wires the commit-reveal pipeline. A nil oracle installs the
// trust-the-contract default.
func NewService(store Store, clients ClientFunc, wallets *provider.WalletRegistry, nonces *nonce.Manager, chains map[string]config.ChainConfig, oracle QuoteOracle) *Service {
	if oracle == nil {
		oracle = trustContractOracle{}
	}
	return &Service{
		store:        store,
		clients:      clients,
		wallets:      wallets,
		nonces:       nonces,
		chains:       chains,
		oracle:       oracle,
		pollInterval: blockPollInterval,
		waitBudget:   blockWaitBudget,
		log:          log.New("component", "commit-reveal"),
	}
}

func (s *Service) contract(chain string) (common.Address, error) {
	cfg, ok := s.chains[chain]
	if !ok || cfg.CommitContract == "" {
		return common.Address{}, types.Codef(types.CodeNoChain, "no commit contract configured for %s", chain)
	}
	return common.HexToAddress(cfg.CommitContract), nil
}

// Commit hashes params, publishes the hash on-chain and stores the pending
// record. The reveal block is always the commit block plus one.
func (s *Service) Commit(ctx context.Context, chain string, params *types.RevealParams, expectedProfitUSD float64) (*types.CommitmentRecord, error) {
	hash, err := HashParams(params)
	if err != nil {
		return nil, types.WrapCoded(types.CodeUnexpected, err)
	}
	to, err := s.contract(chain)
	if err != nil {
		return nil, err
	}
	receipt, txHash, err := s.sendAndWait(ctx, chain, to, CommitCalldata(hash), 0)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, types.Codef(types.CodeRevert, "commit tx %s reverted on %s", txHash.Hex(), chain)
	}
	commitBlock := receipt.BlockNumber.Uint64()
	rec := &types.CommitmentRecord{
		Hash:              hash,
		Chain:             chain,
		CommitBlock:       commitBlock,
		RevealBlock:       commitBlock + 1,
		Params:            *params,
		ExpectedProfitUSD: expectedProfitUSD,
		CreatedAt:         time.Now(),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	s.log.Info("Commitment published", "chain", chain, "hash", hash, "commitBlock", commitBlock, "tx", txHash)
	return rec, nil
}

// WaitForRevealBlock polls the chain head every two seconds until it
// reaches revealBlock. Transient provider errors keep polling up to four in
// a row; the fifth fails fast. The overall budget is about two minutes.
func (s *Service) WaitForRevealBlock(ctx context.Context, chain string, revealBlock uint64) error {
	client, err := s.clients(ctx, chain)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(s.waitBudget)
	consecutiveErrors := 0
	for {
		if s.ShuttingDown != nil && s.ShuttingDown() {
			return types.NewCodedError(types.CodeShutdown, "shutdown during reveal-block wait")
		}
		current, err := client.BlockNumber(ctx)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutivePollErrors {
				return types.Codef(types.CodeNoProvider, "block poll failed %d times on %s: %v", consecutiveErrors, chain, err)
			}
			s.log.Warn("Block poll failed", "chain", chain, "consecutive", consecutiveErrors, "err", err)
		} else {
			consecutiveErrors = 0
			if current >= revealBlock {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return types.Codef(types.CodeTimeout, "chain %s did not reach block %d within %s", chain, revealBlock, s.waitBudget)
		}
		select {
		case <-ctx.Done():
			return types.WrapCoded(types.CodeShutdown, ctx.Err())
		case <-time.After(s.pollInterval):
		}
	}
}

// Reveal loads the record, enforces the one-block delay and submits the
// plaintext parameters. A provider error on submission is retried exactly
// once with a 10% gas-limit bump. Any outcome that concludes the
// commitment deletes the record.
func (s *Service) Reveal(ctx context.Context, chain string, hash common.Hash) (*RevealResult, error) {
	rec, err := s.store.Get(ctx, chain, hash)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, errors.New("Commitment state not found (may have expired)")
	}
	if err != nil {
		return nil, err
	}

	client, err := s.clients(ctx, chain)
	if err != nil {
		return nil, err
	}
	current, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, types.WrapCoded(types.CodeNoProvider, err)
	}
	if current < rec.RevealBlock {
		return nil, fmt.Errorf("Too early to reveal. Current: %d, Need: %d", current, rec.RevealBlock)
	}

	ok, err := s.oracle.StillProfitable(ctx, rec)
	if err != nil {
		s.log.Warn("Profitability re-check failed, trusting on-chain guard", "chain", chain, "hash", hash, "err", err)
	} else if !ok {
		_ = s.store.Delete(ctx, chain, hash)
		return nil, types.Codef(types.CodeLowProfit, "commitment %s no longer profitable", hash.Hex())
	}

	to, err := s.contract(chain)
	if err != nil {
		return nil, err
	}
	calldata, err := RevealCalldata(&rec.Params)
	if err != nil {
		return nil, types.WrapCoded(types.CodeUnexpected, err)
	}

	receipt, txHash, err := s.sendAndWait(ctx, chain, to, calldata, 0)
	if err != nil && types.CodeOf(err) == types.CodeNoProvider {
		// One retry with a bumped gas limit over the estimate.
		estimate, estErr := client.EstimateGas(ctx, ethereum.CallMsg{From: s.walletAddr(chain), To: &to, Data: calldata})
		if estErr != nil {
			estimate = 500000
		}
		s.log.Warn("Reveal submission failed, retrying once", "chain", chain, "hash", hash, "err", err)
		receipt, txHash, err = s.sendAndWait(ctx, chain, to, calldata, gas.BumpLimit(estimate, 10))
	}
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		_ = s.store.Delete(ctx, chain, hash)
		return nil, types.Codef(types.CodeRevert, "reveal tx %s reverted on %s", txHash.Hex(), chain)
	}

	result := &RevealResult{TxHash: txHash, Profit: extractProfit(receipt, hash)}
	if result.Profit == nil {
		s.log.Warn("Revealed event absent from receipt", "chain", chain, "hash", hash, "tx", txHash)
	} else {
		s.log.Info("Reveal confirmed", "chain", chain, "hash", hash, "tx", txHash, "profit", result.Profit)
	}
	_ = s.store.Delete(ctx, chain, hash)
	return result, nil
}

// CancelCommit withdraws a pending commitment on-chain and deletes the
// record.
func (s *Service) CancelCommit(ctx context.Context, chain string, hash common.Hash) error {
	to, err := s.contract(chain)
	if err != nil {
		return err
	}
	receipt, txHash, err := s.sendAndWait(ctx, chain, to, CancelCalldata(hash), 0)
	if err != nil {
		return err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.Codef(types.CodeRevert, "cancelCommit tx %s reverted on %s", txHash.Hex(), chain)
	}
	_ = s.store.Delete(ctx, chain, hash)
	s.log.Info("Commitment cancelled", "chain", chain, "hash", hash, "tx", txHash)
	return nil
}

func (s *Service) walletAddr(chain string) common.Address {
	if w, ok := s.wallets.EVM(chain); ok {
		return w.Address
	}
	return common.Address{}
}

// sendAndWait builds, signs and broadcasts one contract call, then waits
// for its receipt. A zero gasLimit estimates; a broadcast failure releases
// the nonce and surfaces as ERR_NO_PROVIDER so callers can retry.
func (s *Service) sendAndWait(ctx context.Context, chain string, to common.Address, data []byte, gasLimit uint64) (*ethtypes.Receipt, common.Hash, error) {
	client, err := s.clients(ctx, chain)
	if err != nil {
		return nil, common.Hash{}, err
	}
	wallet, ok := s.wallets.EVM(chain)
	if !ok {
		return nil, common.Hash{}, types.Codef(types.CodeNoProvider, "no wallet for chain %s", chain)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, common.Hash{}, types.WrapCoded(types.CodeNoProvider, err)
	}
	if gasLimit == 0 {
		gasLimit, err = client.EstimateGas(ctx, ethereum.CallMsg{From: wallet.Address, To: &to, Data: data})
		if err != nil {
			return nil, common.Hash{}, types.WrapCoded(types.CodeSimRevert, err)
		}
	}
	nextNonce, err := s.nonces.GetNextNonce(ctx, chain, wallet.Address.Hex())
	if err != nil {
		return nil, common.Hash{}, err
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
		_ = s.nonces.FailTransaction(chain, wallet.Address.Hex(), nextNonce, "sign: "+err.Error())
		return nil, common.Hash{}, types.WrapCoded(types.CodeUnexpected, err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		_ = s.nonces.FailTransaction(chain, wallet.Address.Hex(), nextNonce, "send: "+err.Error())
		return nil, common.Hash{}, types.WrapCoded(types.CodeNoProvider, err)
	}
	txHash := signed.Hash()
	_ = s.nonces.ConfirmTransaction(chain, wallet.Address.Hex(), nextNonce, txHash.Hex())

	receipt, err := s.waitReceipt(ctx, client, txHash)
	if err != nil {
		return nil, txHash, err
	}
	return receipt, txHash, nil
}

func (s *Service) waitReceipt(ctx context.Context, client provider.EVMClient, txHash common.Hash) (*ethtypes.Receipt, error) {
	deadline := time.Now().Add(receiptTimeout)
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, types.Codef(types.CodeTimeout, "no receipt for %s after %s", txHash.Hex(), receiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, types.WrapCoded(types.CodeTimeout, ctx.Err())
		case <-time.After(s.pollInterval):
		}
	}
}

// extractProfit pulls the realized profit out of the Revealed event, when
// present.
func extractProfit(receipt *ethtypes.Receipt, hash common.Hash) *big.Int {
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != revealedTopic {
			continue
		}
		// Indexed hash in topics[1]; profit is the sole data word.
		if len(lg.Topics) > 1 && lg.Topics[1] != hash {
			continue
		}
		if len(lg.Data) >= 32 {
			return new(big.Int).SetBytes(lg.Data[:32])
		}
	}
	return nil
}
