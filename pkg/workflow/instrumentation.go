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

package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/llm"
	"github.com/kadirpekel/consult/pkg/observability"
)

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func startAnalyzeSpan(ctx context.Context, profile, pipeline, scenario string) (context.Context, trace.Span) {
	tracer := observability.GetTracer("consult.workflow")

	newCtx, span := tracer.Start(ctx, observability.SpanAnalyze,
		trace.WithAttributes(
			attribute.String(observability.AttrRegion, profile),
			attribute.String(observability.AttrPipeline, pipeline),
			attribute.String("input_preview", truncateString(scenario, 100)),
		),
	)

	return newCtx, span
}

func startFleetSpan(ctx context.Context, servers []string) (context.Context, trace.Span) {
	tracer := observability.GetTracer("consult.workflow")
	return tracer.Start(ctx, observability.SpanFleetOpen,
		trace.WithAttributes(attribute.StringSlice(observability.AttrServerName, servers)))
}

func startSearchSpan(ctx context.Context, regionName string) (context.Context, trace.Span) {
	tracer := observability.GetTracer("consult.workflow")
	return tracer.Start(ctx, observability.SpanSearch,
		trace.WithAttributes(attribute.String(observability.AttrRegion, regionName)))
}

func startEnrichSpan(ctx context.Context) (context.Context, trace.Span) {
	return observability.GetTracer("consult.workflow").Start(ctx, observability.SpanEnrich)
}

func recordAnalysis(ctx context.Context, profile, pipeline string, duration time.Duration, err error) {
	metrics := observability.GetGlobalMetrics()
	if metrics == nil {
		return
	}

	metrics.RecordAnalysis(ctx, profile, pipeline, duration, err)
}

// recordFleetOpen emits one session-open sample per requested server. The
// registry opens servers in parallel, so all samples share the batch
// elapsed time; servers missing from the opened set count as failures.
func recordFleetOpen(ctx context.Context, requested, opened []string, duration time.Duration) {
	metrics := observability.GetGlobalMetrics()
	if metrics == nil {
		return
	}

	up := make(map[string]bool, len(opened))
	for _, name := range opened {
		up[name] = true
	}
	for _, name := range requested {
		var err error
		if !up[name] {
			err = fleet.ErrTransport
		}
		metrics.RecordSessionOpen(ctx, name, duration, err)
	}
}

// instrumentedLLM decorates a model client with per-call spans and metrics.
type instrumentedLLM struct {
	client llm.Client
}

func instrumentLLM(client llm.Client) llm.Client {
	return &instrumentedLLM{client: client}
}

func (i *instrumentedLLM) Name() string           { return i.client.Name() }
func (i *instrumentedLLM) Provider() llm.Provider { return i.client.Provider() }
func (i *instrumentedLLM) Close() error           { return i.client.Close() }

func (i *instrumentedLLM) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	tracer := observability.GetTracer("consult.workflow")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, i.client.Name())))
	defer span.End()

	start := time.Now()
	resp, err := i.client.Send(ctx, req)

	model := i.client.Name()
	var inputTokens, outputTokens int
	if resp != nil {
		inputTokens = resp.Usage.InputTokens
		outputTokens = resp.Usage.OutputTokens
		if resp.Model != "" {
			model = resp.Model
		}
	}
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, model, time.Since(start), inputTokens, outputTokens, err)
	}
	if err != nil {
		span.RecordError(err)
	} else {
		span.SetAttributes(
			attribute.Int(observability.AttrLLMTokensInput, inputTokens),
			attribute.Int(observability.AttrLLMTokensOutput, outputTokens),
		)
	}
	return resp, err
}

// instrumentedCaller decorates a tool caller with per-call spans and metrics.
type instrumentedCaller struct {
	caller fleet.Caller
}

func instrumentCaller(caller fleet.Caller) fleet.Caller {
	return &instrumentedCaller{caller: caller}
}

func (i *instrumentedCaller) Tools() []fleet.ToolDescriptor { return i.caller.Tools() }

func (i *instrumentedCaller) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	tracer := observability.GetTracer("consult.workflow")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, tool)))
	defer span.End()

	start := time.Now()
	payload, err := i.caller.Call(ctx, tool, args)
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordToolExecution(ctx, tool, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
	}
	return payload, err
}
