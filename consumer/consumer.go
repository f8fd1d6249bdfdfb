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

// Package consumer pulls opportunity batches off the inbound execution
// stream, runs the validation pipeline and hands accepted opportunities to
// the orchestrator. Rejections go to the dead-letter stream with a
// bracketed code.
package consumer

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/dlq"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

// Dispatch receives each accepted opportunity.
type Dispatch func(ctx context.Context, opp *types.Opportunity)

// wireOpportunity is the inbound JSON contract, carried in the "data" field
// of each stream entry.
type wireOpportunity struct {
	// Type marks system-control messages ("stream-init"), which are
	// discarded silently.
	Type string `json:"type,omitempty"`

	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	BuyChain       string   `json:"buyChain,omitempty"`
	SellChain      string   `json:"sellChain,omitempty"`
	BuyDex         string   `json:"buyDex,omitempty"`
	SellDex        string   `json:"sellDex,omitempty"`
	TokenIn        string   `json:"tokenIn"`
	TokenOut       string   `json:"tokenOut"`
	AmountIn       string   `json:"amountIn"`
	ExpectedProfit float64  `json:"expectedProfit,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Expiry         int64    `json:"expiry,omitempty"`     // unix ms
	DetectedAt     int64    `json:"detectedAt,omitempty"` // unix ms
	IntentPayload  []byte   `json:"intentPayload,omitempty"`
	PathHints      []string `json:"pathHints,omitempty"`

	// Replay annotations from the DLQ monitor.
	Replayed      bool   `json:"replayed,omitempty"`
	OriginalError string `json:"originalError,omitempty"`
}

// Consumer owns the scan loop over the execution stream.
type Consumer struct {
	client   streams.Client
	cfg      config.ConsumerConfig
	stream   string
	writer   *dlq.Writer
	dispatch Dispatch

	// supported is the configured chain set; cross-chain validation
	// rejects anything outside it.
	supported mapset.Set[string]

	mu      sync.Mutex
	started bool
	cursor  string

	stats *types.ExecutionStats
	now   func() time.Time
	quit  chan struct{}
	wg    sync.WaitGroup
	log   log.Logger
}

// New wires the consumer. supportedChains comes from the configured chain
// map.
func New(client streams.Client, cfg config.ConsumerConfig, stream string, supportedChains []string, writer *dlq.Writer, stats *types.ExecutionStats, dispatch Dispatch) *Consumer {
	return &Consumer{
		client:    client,
		cfg:       cfg,
		stream:    stream,
		writer:    writer,
		dispatch:  dispatch,
		supported: mapset.NewSet(supportedChains...),
		stats:     stats,
		now:       time.Now,
		quit:      make(chan struct{}),
		log:       log.New("component", "consumer"),
	}
}

// SetNow injects the clock, for tests.
func (c *Consumer) SetNow(now func() time.Time) { c.now = now }

// Start launches the scan loop. Calling Start twice logs a warning and
// does nothing.
func (c *Consumer) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.log.Warn("Consumer already started")
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
	c.log.Info("Consumer started", "stream", c.stream)
}

// Stop terminates the scan loop and waits for in-flight batch handling.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()
	close(c.quit)
	c.wg.Wait()
	c.log.Info("Consumer stopped")
}

func (c *Consumer) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.Poll(ctx); err != nil {
				// Transient stream errors schedule the next scan; they never
				// tear down the loop.
				c.log.Warn("Stream poll failed", "err", err)
			}
			cancel()
		case <-c.quit:
			return
		}
	}
}

// Poll reads one batch past the cursor and processes it.
func (c *Consumer) Poll(ctx context.Context) error {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	entries, next, err := c.client.XRead(ctx, c.stream, cursor, c.cfg.BatchSize, 0)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cursor = next
	c.mu.Unlock()

	for _, entry := range entries {
		c.handle(ctx, entry)
	}
	// A full batch means more is waiting; the gauge saturates at the batch
	// size rather than paying for an exact backlog count.
	if c.cfg.BatchSize > 0 && int64(len(entries)) >= c.cfg.BatchSize {
		metrics.ConsumerLag.Set(float64(len(entries)))
	} else {
		metrics.ConsumerLag.Set(0)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, entry streams.Entry) {
	c.stats.Received.Add(1)
	data := entry.Values["data"]

	opp, code, msg := c.validate(data)
	if code == "" && opp == nil {
		return // control message, discarded silently
	}
	if code != "" {
		c.reject(ctx, entry, data, code, msg)
		return
	}
	c.dispatch(ctx, opp)
}

func (c *Consumer) reject(ctx context.Context, entry streams.Entry, data, code, msg string) {
	c.stats.Rejected.Add(1)
	var wire wireOpportunity
	_ = json.Unmarshal([]byte(data), &wire)
	_, err := c.writer.Write(ctx, &types.DLQEntry{
		OriginalMessageID: entry.ID,
		OriginalStream:    c.stream,
		OpportunityID:     wire.ID,
		OpportunityType:   wire.Kind,
		Error:             "[" + code + "] " + msg,
		OriginalPayload:   data,
	})
	if err != nil {
		c.log.Error("Rejection not dead-lettered", "entry", entry.ID, "code", code, "err", err)
	}
}

// validate runs the ordered pipeline. It returns (opp, "", "") on accept,
// (nil, "", "") for silently discarded control messages, and (nil, code,
// message) on rejection.
func (c *Consumer) validate(data string) (*types.Opportunity, string, string) {
	// 1. Envelope: non-empty, non-array object.
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return nil, types.CodeValEmpty, "empty message"
	}
	if strings.HasPrefix(trimmed, "[") {
		return nil, types.CodeValEmpty, "message is not an object"
	}
	var wire wireOpportunity
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, types.CodeValEmpty, "message is not an object: " + err.Error()
	}
	if wire.Type == "stream-init" {
		return nil, "", ""
	}

	// 2. Required fields.
	for _, f := range []struct{ name, value string }{
		{"id", wire.ID},
		{"kind", wire.Kind},
		{"tokenIn", wire.TokenIn},
		{"tokenOut", wire.TokenOut},
		{"amountIn", wire.AmountIn},
	} {
		if f.value == "" {
			return nil, types.CodeValMissingField, "missing required field " + f.name
		}
	}

	// 3. Kind.
	kind := types.Kind(wire.Kind)
	if !kind.Valid() {
		return nil, types.CodeValUnknownKind, "unknown kind " + wire.Kind
	}

	// 4. Amount: digits only, no sign, fraction or hex prefix.
	if !digitsOnly(wire.AmountIn) {
		return nil, types.CodeValBadAmount, "amountIn must be a base-10 integer string, got " + wire.AmountIn
	}
	amount, ok := new(big.Int).SetString(wire.AmountIn, 10)
	if !ok {
		return nil, types.CodeValBadAmount, "amountIn unparseable: " + wire.AmountIn
	}
	if amount.Sign() == 0 {
		return nil, types.CodeValZeroAmount, "amountIn is zero"
	}

	now := c.now()

	// 5. Expiry, when present, must be in the future. An expiry equal to
	// now is already stale.
	var expiry time.Time
	if wire.Expiry != 0 {
		expiry = time.UnixMilli(wire.Expiry)
		if !now.Before(expiry) {
			return nil, types.CodeValExpired, "opportunity expired at " + expiry.UTC().Format(time.RFC3339)
		}
	}

	// 6. Cross-chain fields.
	if kind == types.KindCrossChain {
		if wire.BuyChain == "" || wire.SellChain == "" {
			return nil, types.CodeValMissingField, "cross-chain opportunity needs buyChain and sellChain"
		}
		if wire.BuyChain == wire.SellChain {
			return nil, types.CodeValSameChain, "cross-chain opportunity on a single chain " + wire.BuyChain
		}
		for _, chain := range []string{wire.BuyChain, wire.SellChain} {
			if !c.supported.Contains(chain) {
				return nil, types.CodeValUnknownChain, "unsupported chain " + chain
			}
		}
	}

	// 7. Business rules. Low confidence outranks low profit in reporting.
	if wire.Confidence < c.cfg.ConfidenceThreshold {
		return nil, types.CodeValLowConfidence, "confidence below threshold"
	}
	if wire.ExpectedProfit < c.cfg.MinProfitPercentage {
		return nil, types.CodeValLowProfit, "expected profit below minimum"
	}

	opp := &types.Opportunity{
		ID:                wire.ID,
		Kind:              kind,
		BuyChain:          wire.BuyChain,
		SellChain:         wire.SellChain,
		BuyVenue:          wire.BuyDex,
		SellVenue:         wire.SellDex,
		TokenIn:           wire.TokenIn,
		TokenOut:          wire.TokenOut,
		AmountIn:          amount,
		ExpectedProfitUSD: wire.ExpectedProfit,
		Confidence:        wire.Confidence,
		Expiry:            expiry,
		IntentPayload:     wire.IntentPayload,
		PathHints:         wire.PathHints,
		Raw:               []byte(data),
	}
	if wire.DetectedAt != 0 {
		opp.DetectedAt = time.UnixMilli(wire.DetectedAt)
	}
	if wire.Replayed {
		c.stats.Replayed.Add(1)
	}
	return opp, "", ""
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
