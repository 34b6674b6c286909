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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter type strings for TracerConfig.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// TracerConfig configures trace export.
type TracerConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	ExporterType string  `yaml:"exporter_type,omitempty"`
	EndpointURL  string  `yaml:"endpoint_url,omitempty"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`
	ServiceName  string  `yaml:"service_name,omitempty"`
}

func (c *TracerConfig) SetDefaults() {
	if c.ExporterType == "" {
		c.ExporterType = ExporterOTLP
	}
	if c.EndpointURL == "" {
		c.EndpointURL = "localhost:4317"
	}
	if c.SamplingRate <= 0 {
		c.SamplingRate = 1.0
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
}

func (c *TracerConfig) Validate() error {
	switch c.ExporterType {
	case ExporterOTLP, ExporterStdout, "":
	default:
		return fmt.Errorf("unknown exporter type: %s (supported: otlp, stdout)", c.ExporterType)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %v", c.SamplingRate)
	}
	return nil
}

// InitGlobalTracer installs the global tracer provider. Disabled config
// installs a noop provider.
func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.ExporterType {
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.EndpointURL),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.ExporterType, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// GetTracer returns a tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
