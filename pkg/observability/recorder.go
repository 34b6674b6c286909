// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the domain events worth counting. Implementations must
// tolerate a nil receiver so call sites stay unconditional.
type Metrics interface {
	RecordAnalysis(ctx context.Context, region, pipeline string, duration time.Duration, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordSessionOpen(ctx context.Context, server string, duration time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, responseSize int)
}

// PrometheusMetrics implements Metrics on OTel instruments backed by the
// Prometheus exporter. The zero value records nothing.
type PrometheusMetrics struct {
	analysisDuration    metric.Float64Histogram
	analysesTotal       metric.Int64Counter
	analysisErrorsTotal metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	sessionOpenDuration    metric.Float64Histogram
	sessionOpensTotal      metric.Int64Counter
	sessionOpenErrorsTotal metric.Int64Counter

	httpDuration      metric.Float64Histogram
	httpRequestsTotal metric.Int64Counter
	httpResponseSize  metric.Int64Histogram
}

// observe is the shared duration-count-error recording shape. errs may be
// nil when a family has no error counter.
func observe(ctx context.Context, hist metric.Float64Histogram, total, errs metric.Int64Counter, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	opt := metric.WithAttributes(attrs...)
	hist.Record(ctx, duration.Seconds(), opt)
	total.Add(ctx, 1, opt)
	if err != nil && errs != nil {
		errs.Add(ctx, 1, opt)
	}
}

func (m *PrometheusMetrics) RecordAnalysis(ctx context.Context, region, pipeline string, duration time.Duration, err error) {
	if m == nil || m.analysisDuration == nil || m.analysesTotal == nil {
		return
	}
	observe(ctx, m.analysisDuration, m.analysesTotal, m.analysisErrorsTotal, duration, err,
		attribute.String("region", region),
		attribute.String("pipeline", pipeline),
	)
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCallsTotal == nil {
		return
	}
	observe(ctx, m.toolDuration, m.toolCallsTotal, m.toolErrorsTotal, duration, err,
		attribute.String("tool", tool),
	)
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	opt := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), opt)
	m.llmInputTokens.Add(ctx, int64(inputTokens), opt)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), opt)
	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, opt)
	}
}

func (m *PrometheusMetrics) RecordSessionOpen(ctx context.Context, server string, duration time.Duration, err error) {
	if m == nil || m.sessionOpenDuration == nil || m.sessionOpensTotal == nil {
		return
	}
	observe(ctx, m.sessionOpenDuration, m.sessionOpensTotal, m.sessionOpenErrorsTotal, duration, err,
		attribute.String("server", server),
	)
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, responseSize int) {
	if m == nil || m.httpDuration == nil || m.httpRequestsTotal == nil {
		return
	}

	opt := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", statusCode),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), opt)
	m.httpRequestsTotal.Add(ctx, 1, opt)
	if m.httpResponseSize != nil {
		m.httpResponseSize.Record(ctx, int64(responseSize), opt)
	}
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, nil when observability
// was never initialized. Callers must nil-check.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
