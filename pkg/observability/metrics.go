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
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig enables the Prometheus-exported metric set.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// InitMetrics builds the instrument set on a Prometheus-exporting meter
// provider. Disabled config yields an empty recorder whose methods are
// no-ops. The exporter registers with the default Prometheus registry, so
// promhttp serves the result.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("consult")

	m := &PrometheusMetrics{}

	m.analysisDuration, err = meter.Float64Histogram(
		"consult_analysis_duration_seconds",
		metric.WithDescription("End-to-end analysis duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis duration histogram: %w", err)
	}

	m.analysesTotal, err = meter.Int64Counter(
		"consult_analyses_total",
		metric.WithDescription("Total analysis runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyses counter: %w", err)
	}

	m.analysisErrorsTotal, err = meter.Int64Counter(
		"consult_analysis_errors_total",
		metric.WithDescription("Total analysis runs that returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis errors counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"consult_tool_execution_duration_seconds",
		metric.WithDescription("Knowledge-server tool call duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.toolCallsTotal, err = meter.Int64Counter(
		"consult_tool_calls_total",
		metric.WithDescription("Total knowledge-server tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.toolErrorsTotal, err = meter.Int64Counter(
		"consult_tool_errors_total",
		metric.WithDescription("Total knowledge-server tool call errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	m.llmDuration, err = meter.Float64Histogram(
		"consult_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	m.llmInputTokens, err = meter.Int64Counter(
		"consult_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	m.llmOutputTokens, err = meter.Int64Counter(
		"consult_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from the LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	m.llmErrorsTotal, err = meter.Int64Counter(
		"consult_llm_errors_total",
		metric.WithDescription("Total LLM request errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	m.sessionOpenDuration, err = meter.Float64Histogram(
		"consult_session_open_duration_seconds",
		metric.WithDescription("Knowledge-server session open duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session open duration histogram: %w", err)
	}

	m.sessionOpensTotal, err = meter.Int64Counter(
		"consult_session_opens_total",
		metric.WithDescription("Total knowledge-server session opens"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session opens counter: %w", err)
	}

	m.sessionOpenErrorsTotal, err = meter.Int64Counter(
		"consult_session_open_errors_total",
		metric.WithDescription("Total knowledge-server session open failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session open errors counter: %w", err)
	}

	m.httpDuration, err = meter.Float64Histogram(
		"consult_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	m.httpRequestsTotal, err = meter.Int64Counter(
		"consult_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	m.httpResponseSize, err = meter.Int64Histogram(
		"consult_http_response_size_bytes",
		metric.WithDescription("HTTP response size in bytes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http response size histogram: %w", err)
	}

	return m, nil
}
