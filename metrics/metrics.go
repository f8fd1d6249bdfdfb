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

// Package metrics registers the execution core's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	ExecutionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_execution_attempts_total",
		Help: "Executions dispatched to a strategy.",
	}, []string{"chain", "strategy"})

	ExecutionSuccesses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_execution_successes_total",
		Help: "Executions that produced a confirmed transaction.",
	}, []string{"chain", "strategy"})

	ExecutionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_execution_failures_total",
		Help: "Executions that failed, labeled by error code.",
	}, []string{"chain", "strategy", "code"})

	ExecutionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xarb_execution_latency_seconds",
		Help:    "Wall-clock latency of strategy execution.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"chain", "strategy"})

	ActiveExecutions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xarb_active_executions",
		Help: "Executions currently in flight.",
	})

	QueueRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xarb_queue_rejects_total",
		Help: "Opportunities rejected at the concurrency cap.",
	})

	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xarb_circuit_breaker_state",
		Help: "Breaker state: 0 closed, 1 half-open, 2 open.",
	})

	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xarb_circuit_breaker_trips_total",
		Help: "Closed/half-open to open transitions.",
	})

	CircuitBreakerBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xarb_circuit_breaker_blocks_total",
		Help: "Opportunities dropped because the breaker was open.",
	})

	DLQEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_dlq_entries_total",
		Help: "Entries written to the dead-letter stream, by code.",
	}, []string{"code"})

	DLQLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xarb_dlq_length",
		Help: "Authoritative dead-letter stream length.",
	})

	DLQOldestAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xarb_dlq_oldest_age_seconds",
		Help: "Age of the oldest sampled dead-letter entry.",
	})

	DLQReplays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xarb_dlq_replays_total",
		Help: "Dead-letter entries auto-replayed to the execution stream.",
	})

	ConsumerLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xarb_consumer_lag",
		Help: "Entries behind the head of the execution stream.",
	})

	GasPriceGwei = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xarb_gas_price_gwei",
		Help: "Last observed gas price per chain.",
	}, []string{"chain"})

	ProviderReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_provider_reconnects_total",
		Help: "RPC provider replacements after repeated health failures.",
	}, []string{"chain"})

	ProviderHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xarb_provider_healthy",
		Help: "Provider health flag per chain.",
	}, []string{"chain"})

	Simulations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xarb_simulations_total",
		Help: "Simulation outcomes per provider.",
	}, []string{"provider", "outcome"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ExecutionAttempts, ExecutionSuccesses, ExecutionFailures, ExecutionLatency,
		ActiveExecutions, QueueRejects,
		CircuitBreakerState, CircuitBreakerTrips, CircuitBreakerBlocks,
		DLQEntries, DLQLength, DLQOldestAge, DLQReplays,
		ConsumerLag, GasPriceGwei,
		ProviderReconnects, ProviderHealthy, Simulations,
	)
}

// Handler serves the registry in the standard text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
