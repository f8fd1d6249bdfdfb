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
	"errors"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/mev"
	"github.com/nvx-labs/xarb/types"
)

// stubRelay records private submissions and forwards the decoded
// transaction to the stub chain so receipt polling still concludes.
type stubRelay struct {
	client    *stubClient
	submitErr error
	private   int
}

func (r *stubRelay) Name() string { return "stub-relay" }

func (r *stubRelay) SubmitPrivate(ctx context.Context, _ string, rawTx []byte) error {
	if r.submitErr != nil {
		return r.submitErr
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return err
	}
	r.private++
	return r.client.SendTransaction(ctx, tx)
}

func (r *stubRelay) ProviderFor(string) (mev.Provider, error) { return r, nil }

func TestPrivateSubmissionPreferred(t *testing.T) {
	h := newHarness(t, nil)
	relay := &stubRelay{client: h.client}
	h.sc.MEV = relay

	res := NewSingleChain().Execute(context.Background(), sampleOpportunity(types.KindSingleChain), h.sc)
	require.True(t, res.Success)
	require.Equal(t, 2, relay.private) // approve and execute both go private
	require.Equal(t, 2, h.client.sentCount())
}

func TestPrivateSubmissionFallsBackToPublic(t *testing.T) {
	h := newHarness(t, nil)
	relay := &stubRelay{client: h.client, submitErr: errors.New("relay unavailable")}
	h.sc.MEV = relay

	res := NewSingleChain().Execute(context.Background(), sampleOpportunity(types.KindSingleChain), h.sc)
	require.True(t, res.Success)
	require.Zero(t, relay.private)
	require.Equal(t, 2, h.client.sentCount()) // public mempool carried both
}
