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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/types"
)

const aggregatorTimeout = 5 * time.Second

// solanaRPC is the slice of the RPC client the strategy uses. *rpc.Client
// satisfies it; tests substitute a fake.
type solanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// routeQuote is the aggregator's answer for a round-trip route. Amounts are
// decimal strings in the mint's smallest unit.
type routeQuote struct {
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct float64         `json:"priceImpactPct,string"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

// routeInstruction is one pre-built instruction returned by the
// aggregator's swap-instructions endpoint.
type routeInstruction struct {
	ProgramID string `json:"programId"`
	Accounts  []struct {
		Pubkey     string `json:"pubkey"`
		IsSigner   bool   `json:"isSigner"`
		IsWritable bool   `json:"isWritable"`
	} `json:"accounts"`
	Data string `json:"data"` // base64
}

// SolanaBundle executes Solana-native round trips through an external
// route aggregator and submits them with preflight simulation enabled.
type SolanaBundle struct {
	cfg         config.SolanaConfig
	aggregator  *url.URL
	tipAccounts []solana.PublicKey
	client      solanaRPC
	httpClient  *http.Client
	pickTip     func(n int) int
	log         log.Logger
}

// NewSolanaBundle validates the aggregator endpoint and builds the
// strategy. An aggregator hostname outside the trusted set is rejected
// here, before any request can be issued against it.
func NewSolanaBundle(cfg config.SolanaConfig) (*SolanaBundle, error) {
	aggregator, err := url.Parse(cfg.AggregatorURL)
	if err != nil {
		return nil, fmt.Errorf("solana: aggregator url: %w", err)
	}
	trusted := false
	for _, host := range cfg.TrustedAggregatorHosts {
		if strings.EqualFold(host, aggregator.Hostname()) {
			trusted = true
			break
		}
	}
	if !trusted {
		return nil, fmt.Errorf("solana: aggregator host %q is not trusted", aggregator.Hostname())
	}
	tips := make([]solana.PublicKey, 0, len(cfg.TipAccounts))
	for _, acc := range cfg.TipAccounts {
		key, err := solana.PublicKeyFromBase58(acc)
		if err != nil {
			return nil, fmt.Errorf("solana: tip account %q: %w", acc, err)
		}
		tips = append(tips, key)
	}
	if len(tips) == 0 {
		return nil, errors.New("solana: no tip accounts configured")
	}
	return &SolanaBundle{
		cfg:         cfg,
		aggregator:  aggregator,
		tipAccounts: tips,
		client:      rpc.New(cfg.RPCURL),
		httpClient:  &http.Client{Timeout: aggregatorTimeout},
		pickTip:     rand.Intn,
		log:         log.New("component", "strategy", "strategy", "solana-bundle"),
	}, nil
}

func (s *SolanaBundle) Name() string { return "solana-bundle" }

func (s *SolanaBundle) Execute(ctx context.Context, opp *types.Opportunity, sc *Context) *types.ExecutionResult {
	start := time.Now()
	fail := func(err error) *types.ExecutionResult {
		var coded *types.CodedError
		if !errors.As(err, &coded) {
			coded = types.WrapCoded(types.CodeUnexpected, err)
		}
		res := types.Failure(opp.ID, s.Name(), "solana", coded)
		res.Duration = time.Since(start)
		return res
	}

	wallet, ok := sc.Wallets.Solana()
	if !ok {
		return fail(types.NewCodedError(types.CodeNoProvider, "no solana keypair installed"))
	}

	quote, err := s.quote(ctx, opp)
	if err != nil {
		return fail(types.WrapCoded(types.CodeNoRoute, err))
	}
	quotedOut, ok := new(big.Int).SetString(quote.OutAmount, 10)
	if !ok {
		return fail(types.Codef(types.CodeNoRoute, "aggregator out amount %q unparseable", quote.OutAmount))
	}

	// The route price must not have drifted from the detection estimate by
	// more than the configured percentage.
	if quote.PriceImpactPct > s.cfg.MaxPriceDeviationPct {
		sc.Stats.RiskCaution.Add(1)
		return fail(types.Codef(types.CodePriceDeviation,
			"route price deviates %.2f%% from estimate, limit %.2f%%",
			quote.PriceImpactPct, s.cfg.MaxPriceDeviationPct))
	}

	// Net profit in lamports after the validator tip.
	gross := new(big.Int).Sub(quotedOut, opp.AmountIn)
	net := new(big.Int).Sub(gross, new(big.Int).SetUint64(s.cfg.TipLamports))
	if net.Sign() <= 0 || net.Cmp(new(big.Int).SetUint64(s.cfg.MinProfitLamports)) < 0 {
		return fail(types.Codef(types.CodeLowProfit,
			"net profit %s lamports after %d tip below minimum %d",
			net, s.cfg.TipLamports, s.cfg.MinProfitLamports))
	}

	instructions, err := s.swapInstructions(ctx, opp, wallet.PublicKey(), quote)
	if err != nil {
		return fail(types.WrapCoded(types.CodeNoRoute, err))
	}
	tipAccount := s.tipAccounts[s.pickTip(len(s.tipAccounts))]
	instructions = append(instructions,
		system.NewTransferInstruction(s.cfg.TipLamports, wallet.PublicKey(), tipAccount).Build())

	blockhash, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return fail(types.WrapCoded(types.CodeNoProvider, err))
	}
	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash,
		solana.TransactionPayer(wallet.PublicKey()))
	if err != nil {
		return fail(types.WrapCoded(types.CodeUnexpected, err))
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet
		}
		return nil
	}); err != nil {
		return fail(types.WrapCoded(types.CodeUnexpected, err))
	}

	sim, err := s.client.SimulateTransaction(ctx, tx)
	if err != nil {
		s.log.Warn("Bundle simulation unavailable, proceeding unguarded", "opportunity", opp.ID, "err", err)
	} else {
		sc.Stats.Simulated.Add(1)
		if sim.Value != nil && sim.Value.Err != nil {
			sc.Stats.SimulatedReverts.Add(1)
			return fail(types.Codef(types.CodeSimRevert, "bundle simulation failed: %v", sim.Value.Err))
		}
	}

	if sc.shuttingDown() {
		return fail(types.NewCodedError(types.CodeShutdown, "shutdown before bundle submit"))
	}
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return fail(types.WrapCoded(types.CodeNoProvider, err))
	}

	s.log.Info("Bundle submitted", "opportunity", opp.ID, "signature", sig,
		"netLamports", net, "tipAccount", tipAccount)
	return &types.ExecutionResult{
		OpportunityID: opp.ID,
		Strategy:      s.Name(),
		Success:       true,
		Chain:         "solana",
		TxHash:        sig.String(),
		ProfitUSD:     opp.ExpectedProfitUSD,
		Duration:      time.Since(start),
	}
}

// quote fetches the round-trip route quote from the aggregator.
func (s *SolanaBundle) quote(ctx context.Context, opp *types.Opportunity) (*routeQuote, error) {
	endpoint := *s.aggregator
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/quote"
	endpoint.RawQuery = url.Values{
		"inputMint":   {opp.TokenIn},
		"outputMint":  {opp.TokenOut},
		"amount":      {opp.AmountIn.String()},
		"slippageBps": {strconv.Itoa(s.cfg.MaxSlippageBps)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator quote: status %d", resp.StatusCode)
	}
	var quote routeQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("aggregator quote: %w", err)
	}
	return &quote, nil
}

// swapInstructions asks the aggregator to pre-build the route's
// instructions for our payer and decodes them into signable form.
func (s *SolanaBundle) swapInstructions(ctx context.Context, opp *types.Opportunity, payer solana.PublicKey, quote *routeQuote) ([]solana.Instruction, error) {
	endpoint := *s.aggregator
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/swap-instructions"
	body, err := json.Marshal(map[string]any{
		"userPublicKey": payer.String(),
		"inputMint":     opp.TokenIn,
		"outputMint":    opp.TokenOut,
		"amount":        opp.AmountIn.String(),
		"slippageBps":   s.cfg.MaxSlippageBps,
		"routePlan":     quote.RoutePlan,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator swap-instructions: status %d", resp.StatusCode)
	}
	var payload struct {
		Instructions []routeInstruction `json:"instructions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("aggregator swap-instructions: %w", err)
	}
	if len(payload.Instructions) == 0 {
		return nil, errors.New("aggregator returned no instructions")
	}

	out := make([]solana.Instruction, 0, len(payload.Instructions)+1)
	for _, ins := range payload.Instructions {
		programID, err := solana.PublicKeyFromBase58(ins.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("instruction program id %q: %w", ins.ProgramID, err)
		}
		accounts := make(solana.AccountMetaSlice, 0, len(ins.Accounts))
		for _, acc := range ins.Accounts {
			key, err := solana.PublicKeyFromBase58(acc.Pubkey)
			if err != nil {
				return nil, fmt.Errorf("instruction account %q: %w", acc.Pubkey, err)
			}
			accounts = append(accounts, &solana.AccountMeta{
				PublicKey:  key,
				IsSigner:   acc.IsSigner,
				IsWritable: acc.IsWritable,
			})
		}
		data, err := base64.StdEncoding.DecodeString(ins.Data)
		if err != nil {
			return nil, fmt.Errorf("instruction data: %w", err)
		}
		out = append(out, solana.NewInstruction(programID, accounts, data))
	}
	return out, nil
}
