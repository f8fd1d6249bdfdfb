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

// Package breaker implements the execution circuit breaker: closed under
// normal operation, open after a run of consecutive failures, half-open for
// a bounded number of recovery probes after the cooldown.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/nvx-labs/xarb/config"
)

// State is the breaker state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// StateChangeEvent is emitted on every transition, including manual
// overrides.
type StateChangeEvent struct {
	Previous            State
	New                 State
	Reason              string
	Time                time.Time
	ConsecutiveFailures int
	RemainingCooldown   time.Duration
}

// Counters are the breaker's cumulative monotonic counters.
type Counters struct {
	Failures      uint64
	Successes     uint64
	Trips         uint64
	TotalOpenTime time.Duration
}

// Snapshot is a copy of the observable breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	HalfOpenAttempts    int
	LastTrip            time.Time
	Counters            Counters
}

// Breaker is safe for concurrent use; a single mutex serializes every entry
// point so check-then-act sequences are uninterruptible.
type Breaker struct {
	mu sync.Mutex

	cfg config.BreakerConfig // frozen at construction

	state            State
	consecutive      int
	halfOpenAttempts int
	lastTrip         time.Time
	openedAt         time.Time
	counters         Counters

	feed event.FeedOf[StateChangeEvent]
	now  func() time.Time
	log  log.Logger
}

// New validates cfg and constructs a closed breaker.
func New(cfg config.BreakerConfig) (*Breaker, error) {
	if cfg.FailureThreshold < 1 {
		return nil, fmt.Errorf("breaker: failureThreshold must be >= 1, got %d", cfg.FailureThreshold)
	}
	if cfg.CooldownPeriod < 0 {
		return nil, fmt.Errorf("breaker: cooldownPeriod must be >= 0")
	}
	if cfg.HalfOpenMaxAttempts < 1 {
		// A zero cap would strand the breaker in half-open forever.
		return nil, fmt.Errorf("breaker: halfOpenMaxAttempts must be >= 1, got %d", cfg.HalfOpenMaxAttempts)
	}
	return &Breaker{
		cfg:   cfg,
		state: Closed,
		now:   time.Now,
		log:   log.New("component", "breaker"),
	}, nil
}

// Config returns the effective configuration. The value is a copy; the
// breaker's own config never changes after construction.
func (b *Breaker) Config() config.BreakerConfig { return b.cfg }

// SubscribeStateChanges delivers transition events on ch. The subscriber
// owns the channel and must keep draining it; slow subscribers cannot stall
// the breaker because sends happen outside the state mutex.
func (b *Breaker) SubscribeStateChanges(ch chan<- StateChangeEvent) event.Subscription {
	return b.feed.Subscribe(ch)
}

// CanExecute reports whether a call is permitted, consuming a half-open
// probe slot when one is granted. In the open state the first call after
// the cooldown performs the lazy open -> half-open transition.
func (b *Breaker) CanExecute() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	var ev *StateChangeEvent
	allowed := false
	switch b.state {
	case Closed:
		allowed = true
	case Open:
		if b.now().Sub(b.lastTrip) >= b.cfg.CooldownPeriod.Duration() {
			ev = b.transition(HalfOpen, "cooldown elapsed")
			if b.halfOpenAttempts < b.cfg.HalfOpenMaxAttempts {
				b.halfOpenAttempts++
				allowed = true
			}
		}
	case HalfOpen:
		if b.halfOpenAttempts < b.cfg.HalfOpenMaxAttempts {
			b.halfOpenAttempts++
			allowed = true
		}
	}
	b.mu.Unlock()
	b.emit(ev)
	return allowed
}

// RecordSuccess advances the state machine on a successful outcome. Success
// while open denotes a stale inflight completion and is ignored.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.counters.Successes++
	var ev *StateChangeEvent
	switch b.state {
	case Closed:
		b.consecutive = 0
	case HalfOpen:
		b.consecutive = 0
		ev = b.transition(Closed, "probe succeeded")
	case Open:
		b.log.Warn("Success recorded while open, ignoring stale completion")
	}
	b.mu.Unlock()
	b.emit(ev)
}

// RecordFailure advances the state machine on a failed outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.counters.Failures++
	var ev *StateChangeEvent
	switch b.state {
	case Closed:
		b.consecutive++
		if b.consecutive >= b.cfg.FailureThreshold {
			ev = b.trip("failure threshold reached")
		}
	case HalfOpen:
		b.consecutive++
		ev = b.trip("probe failed")
	case Open:
		b.consecutive++
	}
	b.mu.Unlock()
	b.emit(ev)
}

// ForceOpen trips the breaker manually.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	var ev *StateChangeEvent
	if b.state != Open {
		ev = b.trip("forced open: " + reason)
	}
	b.mu.Unlock()
	b.emit(ev)
}

// ForceClose closes the breaker manually and resets the consecutive-failure
// counter.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	b.consecutive = 0
	var ev *StateChangeEvent
	if b.state != Closed {
		ev = b.transition(Closed, "forced close")
	}
	b.mu.Unlock()
	b.emit(ev)
}

// StateNow returns the current state without side effects.
func (b *Breaker) StateNow() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SnapshotNow copies the observable state and counters.
func (b *Breaker) SnapshotNow() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutive,
		HalfOpenAttempts:    b.halfOpenAttempts,
		LastTrip:            b.lastTrip,
		Counters:            b.counters,
	}
}

// trip moves to open from any state. Caller holds the mutex.
func (b *Breaker) trip(reason string) *StateChangeEvent {
	b.counters.Trips++
	b.lastTrip = b.now()
	return b.transition(Open, reason)
}

// transition switches state and builds the event. Caller holds the mutex.
func (b *Breaker) transition(to State, reason string) *StateChangeEvent {
	from := b.state
	now := b.now()
	if from == Open {
		b.counters.TotalOpenTime += now.Sub(b.openedAt)
	}
	if to == Open {
		b.openedAt = now
	}
	if to == HalfOpen {
		// The probe budget resets on every entry into half-open.
		b.halfOpenAttempts = 0
	}
	b.state = to
	remaining := time.Duration(0)
	if to == Open {
		remaining = b.cfg.CooldownPeriod.Duration()
	}
	b.log.Info("Circuit breaker state change", "from", from, "to", to, "reason", reason, "consecutiveFailures", b.consecutive)
	return &StateChangeEvent{
		Previous:            from,
		New:                 to,
		Reason:              reason,
		Time:                now,
		ConsecutiveFailures: b.consecutive,
		RemainingCooldown:   remaining,
	}
}

// emit publishes ev outside the mutex so subscriber behavior cannot
// corrupt breaker state. Subscribers must use ample channel buffers.
func (b *Breaker) emit(ev *StateChangeEvent) {
	if ev != nil {
		b.feed.Send(*ev)
	}
}
