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

package provider

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	bip39 "github.com/tyler-smith/go-bip39"
)

// Wallet is one EVM signing identity bound to a chain.
type Wallet struct {
	Chain   string
	Address common.Address
	ChainID *big.Int

	key *ecdsa.PrivateKey
}

// SignTx signs with the chain's EIP-155 signer.
func (w *Wallet) SignTx(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(w.ChainID), w.key)
}

// WalletRegistry holds the per-chain EVM wallets and the separate Solana
// keypair. All EVM chains share one coin type (60) with distinct account
// indexes; a passphrase deterministically changes every derived address.
type WalletRegistry struct {
	evm    map[string]*Wallet
	solana *solana.PrivateKey
}

// DeriveWallets derives one wallet per (chain, accountIndex) entry along
// m/44'/60'/<account>'/0/0.
func DeriveWallets(mnemonic, passphrase string, accountIndexes map[string]uint32, chainIDs map[string]int64) (*WalletRegistry, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("wallet: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	hd, err := hdwallet.NewFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	reg := &WalletRegistry{evm: make(map[string]*Wallet, len(accountIndexes))}

	// Deterministic iteration keeps derivation logs stable across restarts.
	chains := make([]string, 0, len(accountIndexes))
	for chain := range accountIndexes {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		index := accountIndexes[chain]
		path := hdwallet.MustParseDerivationPath(fmt.Sprintf("m/44'/60'/%d'/0/0", index))
		account, err := hd.Derive(path, false)
		if err != nil {
			return nil, fmt.Errorf("wallet: derive %s: %w", chain, err)
		}
		key, err := hd.PrivateKey(account)
		if err != nil {
			return nil, fmt.Errorf("wallet: key %s: %w", chain, err)
		}
		reg.evm[chain] = &Wallet{
			Chain:   chain,
			Address: crypto.PubkeyToAddress(key.PublicKey),
			ChainID: big.NewInt(chainIDs[chain]),
			key:     key,
		}
	}
	return reg, nil
}

// SetSolanaKey installs the Solana keypair from its base58 encoding.
func (r *WalletRegistry) SetSolanaKey(base58Key string) error {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return fmt.Errorf("wallet: solana key: %w", err)
	}
	r.solana = &key
	return nil
}

// EVM returns the wallet for chain.
func (r *WalletRegistry) EVM(chain string) (*Wallet, bool) {
	w, ok := r.evm[chain]
	return w, ok
}

// Solana returns the Solana keypair if installed.
func (r *WalletRegistry) Solana() (solana.PrivateKey, bool) {
	if r.solana == nil {
		return nil, false
	}
	return *r.solana, true
}
