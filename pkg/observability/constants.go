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

// Package observability wires OpenTelemetry metrics (exported through
// Prometheus) and tracing (OTLP gRPC or stdout) for the consult service. A
// nil global recorder is a safe no-op, so instrumented packages never need
// to know whether observability was initialized.
package observability

const (
	AttrRegion          = "consult.region"
	AttrPipeline        = "consult.pipeline"
	AttrToolName        = "tool.name"
	AttrServerName      = "server.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrErrorType       = "error.type"

	SpanAnalyze       = "consult.analyze"
	SpanFleetOpen     = "consult.fleet_open"
	SpanLLMRequest    = "consult.llm_request"
	SpanToolExecution = "consult.tool_execution"
	SpanSearch        = "consult.search"
	SpanEnrich        = "consult.enrich"

	DefaultServiceName = "consult"
)
