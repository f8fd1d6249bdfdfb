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

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvx-labs/xarb/config"
)

func newTestBreaker(t *testing.T, threshold int, cooldown time.Duration, probes int) (*Breaker, *time.Time) {
	t.Helper()
	b, err := New(config.BreakerConfig{
		Enabled:             true,
		FailureThreshold:    threshold,
		CooldownPeriod:      config.Millis(cooldown),
		HalfOpenMaxAttempts: probes,
	})
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestConfigValidation(t *testing.T) {
	_, err := New(config.BreakerConfig{FailureThreshold: 0, HalfOpenMaxAttempts: 1})
	require.Error(t, err)
	_, err = New(config.BreakerConfig{FailureThreshold: 1, HalfOpenMaxAttempts: 0})
	require.Error(t, err)
	_, err = New(config.BreakerConfig{FailureThreshold: 1, HalfOpenMaxAttempts: 1})
	require.NoError(t, err)
}

func TestTripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute, 1)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, Closed, b.StateNow())
	require.True(t, b.CanExecute())

	b.RecordFailure()
	require.Equal(t, Open, b.StateNow())
	require.False(t, b.CanExecute())
	require.Equal(t, uint64(1), b.SnapshotNow().Counters.Trips)
}

func TestThresholdOneTripsOnFirstFailure(t *testing.T) {
	b, _ := newTestBreaker(t, 1, time.Minute, 1)
	b.RecordFailure()
	require.Equal(t, Open, b.StateNow())
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Second, 1)
	b.RecordFailure()
	require.Equal(t, Open, b.StateNow())
	require.False(t, b.CanExecute())

	// Advance past the cooldown: the first CanExecute performs the lazy
	// open -> half-open transition and consumes the single probe slot.
	*now = now.Add(1100 * time.Millisecond)
	require.True(t, b.CanExecute())
	require.Equal(t, HalfOpen, b.StateNow())
	// Slot exhausted.
	require.False(t, b.CanExecute())

	b.RecordSuccess()
	require.Equal(t, Closed, b.StateNow())
	require.Equal(t, 0, b.SnapshotNow().ConsecutiveFailures)
	require.True(t, b.CanExecute())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Second, 1)
	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	require.True(t, b.CanExecute())
	require.Equal(t, HalfOpen, b.StateNow())

	b.RecordFailure()
	require.Equal(t, Open, b.StateNow())
	// Cooldown restarts from the re-trip.
	require.False(t, b.CanExecute())
	*now = now.Add(2 * time.Second)
	require.True(t, b.CanExecute())
}

func TestProbeBudgetResetsPerCooldownCycle(t *testing.T) {
	b, now := newTestBreaker(t, 1, time.Second, 2)
	b.RecordFailure()
	*now = now.Add(2 * time.Second)

	require.True(t, b.CanExecute())
	require.True(t, b.CanExecute())
	require.False(t, b.CanExecute())
	snap := b.SnapshotNow()
	require.LessOrEqual(t, snap.HalfOpenAttempts, 2)

	b.RecordFailure()
	*now = now.Add(2 * time.Second)
	require.True(t, b.CanExecute())
	require.True(t, b.CanExecute())
	require.False(t, b.CanExecute())
}

func TestSuccessWhileOpenIgnored(t *testing.T) {
	b, _ := newTestBreaker(t, 1, time.Minute, 1)
	b.RecordFailure()
	b.RecordSuccess() // stale inflight completion
	require.Equal(t, Open, b.StateNow())
	require.Equal(t, uint64(1), b.SnapshotNow().Counters.Successes)
}

func TestManualOverrides(t *testing.T) {
	b, _ := newTestBreaker(t, 5, time.Minute, 1)
	b.RecordFailure()
	b.ForceOpen("operator halt")
	require.Equal(t, Open, b.StateNow())

	b.ForceClose()
	require.Equal(t, Closed, b.StateNow())
	require.Equal(t, 0, b.SnapshotNow().ConsecutiveFailures)
}

func TestStateChangeEvents(t *testing.T) {
	b, _ := newTestBreaker(t, 1, time.Minute, 1)
	ch := make(chan StateChangeEvent, 8)
	sub := b.SubscribeStateChanges(ch)
	defer sub.Unsubscribe()

	b.RecordFailure()
	ev := <-ch
	require.Equal(t, Closed, ev.Previous)
	require.Equal(t, Open, ev.New)
	require.Equal(t, 1, ev.ConsecutiveFailures)
	require.Equal(t, time.Minute, ev.RemainingCooldown)
}

func TestDisabledBreakerAlwaysAllows(t *testing.T) {
	b, err := New(config.BreakerConfig{
		Enabled:             false,
		FailureThreshold:    1,
		HalfOpenMaxAttempts: 1,
	})
	require.NoError(t, err)
	b.RecordFailure()
	require.True(t, b.CanExecute())
}
