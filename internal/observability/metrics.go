// Copyright 2025 The Hive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability exposes run-level metrics (agent calls, validation
// outcomes, challenge outcomes, token spend) through a real Prometheus
// registry, so an operator can point a scrape job at the process and watch
// a run without tailing the event log.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the narrow surface every Hive component records through. A
// *NoopMetrics satisfies it for callers (tests, one-shot CLI runs) that
// don't want a registry.
type Metrics interface {
	RecordAgentCall(ctx context.Context, agent string, duration time.Duration, tokens int, err error)
	RecordValidationOutcome(ctx context.Context, phase string, passed bool)
	RecordChallengeOutcome(ctx context.Context, outcome string)
	RecordCostSpend(ctx context.Context, agent string, costUSD float64)
	RecordCheckpointResume(ctx context.Context, phase string)
}

// PrometheusMetrics backs Metrics with real histograms/counters, grounded
// on the teacher's PrometheusMetrics recorder.
type PrometheusMetrics struct {
	agentDuration    *prometheus.HistogramVec
	agentCallsTotal  *prometheus.CounterVec
	agentErrorsTotal *prometheus.CounterVec
	agentTokensTotal *prometheus.CounterVec

	validationTotal *prometheus.CounterVec
	challengeTotal  *prometheus.CounterVec
	costUSDTotal    *prometheus.CounterVec
	resumeTotal     *prometheus.CounterVec
}

// NewPrometheusMetrics registers every collector against reg and returns a
// ready Metrics implementation.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hive",
			Name:      "agent_call_duration_seconds",
			Help:      "Duration of one agent invocation.",
		}, []string{"agent"}),
		agentCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "agent_calls_total",
			Help:      "Total agent invocations.",
		}, []string{"agent"}),
		agentErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "agent_errors_total",
			Help:      "Total failed agent invocations.",
		}, []string{"agent"}),
		agentTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "agent_tokens_total",
			Help:      "Total estimated tokens consumed by agent invocations.",
		}, []string{"agent"}),
		validationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "validation_outcomes_total",
			Help:      "Validator outcomes by phase and result.",
		}, []string{"phase", "result"}),
		challengeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "challenge_outcomes_total",
			Help:      "Challenge protocol outcomes.",
		}, []string{"outcome"}),
		costUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "cost_usd_total",
			Help:      "Estimated USD spend by agent.",
		}, []string{"agent"}),
		resumeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hive",
			Name:      "checkpoint_resumes_total",
			Help:      "Checkpoint-driven resumes by phase.",
		}, []string{"phase"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.agentDuration, m.agentCallsTotal, m.agentErrorsTotal, m.agentTokensTotal,
			m.validationTotal, m.challengeTotal, m.costUSDTotal, m.resumeTotal,
		)
	}
	return m
}

func (m *PrometheusMetrics) RecordAgentCall(_ context.Context, agent string, duration time.Duration, tokens int, err error) {
	if m == nil {
		return
	}
	m.agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
	m.agentCallsTotal.WithLabelValues(agent).Inc()
	if tokens > 0 {
		m.agentTokensTotal.WithLabelValues(agent).Add(float64(tokens))
	}
	if err != nil {
		m.agentErrorsTotal.WithLabelValues(agent).Inc()
	}
}

func (m *PrometheusMetrics) RecordValidationOutcome(_ context.Context, phase string, passed bool) {
	if m == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	m.validationTotal.WithLabelValues(phase, result).Inc()
}

func (m *PrometheusMetrics) RecordChallengeOutcome(_ context.Context, outcome string) {
	if m == nil {
		return
	}
	m.challengeTotal.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) RecordCostSpend(_ context.Context, agent string, costUSD float64) {
	if m == nil {
		return
	}
	m.costUSDTotal.WithLabelValues(agent).Add(costUSD)
}

func (m *PrometheusMetrics) RecordCheckpointResume(_ context.Context, phase string) {
	if m == nil {
		return
	}
	m.resumeTotal.WithLabelValues(phase).Inc()
}

// NoopMetrics discards everything. It is the default until a composition
// root wires in a real registry.
type NoopMetrics struct{}

func (NoopMetrics) RecordAgentCall(context.Context, string, time.Duration, int, error) {}
func (NoopMetrics) RecordValidationOutcome(context.Context, string, bool)              {}
func (NoopMetrics) RecordChallengeOutcome(context.Context, string)                     {}
func (NoopMetrics) RecordCostSpend(context.Context, string, float64)                   {}
func (NoopMetrics) RecordCheckpointResume(context.Context, string)                     {}

var (
	globalMu      sync.RWMutex
	globalMetrics Metrics = NoopMetrics{}
)

// SetGlobal installs the process-wide Metrics instance.
func SetGlobal(m Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// Global returns the process-wide Metrics instance, defaulting to a no-op.
func Global() Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}
