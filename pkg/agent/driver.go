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

// Package agent drives the tool-use conversation between the language
// model and the knowledge fleet.
//
// The driver seeds the model with a clinical scenario and the fleet's
// tool catalog, executes every requested tool concurrently, and feeds
// the results back as a single user turn until the model stops asking
// for tools or the iteration cap is reached. The final text is mined
// for the structured clinical answer; a model that fails to produce
// parseable JSON degrades to an empty answer with a warning, never an
// error.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/llm"
)

const (
	// DefaultMaxIterations caps assistant/tool round trips per scenario.
	DefaultMaxIterations = 8

	// WarnToolLoopExhausted is appended to the result warnings when the
	// conversation hits the iteration cap before the model finishes.
	WarnToolLoopExhausted = "tool_loop_exhausted"
)

// Config configures the Driver.
type Config struct {
	// MaxIterations caps the number of model turns. Zero means
	// DefaultMaxIterations.
	MaxIterations int
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
}

// Driver runs the scenario conversation. A nil model client is legal and
// short-circuits to an empty result so the surrounding workflow can
// degrade gracefully when no LLM is configured.
type Driver struct {
	llm    llm.Client
	caller fleet.Caller
	cfg    Config
}

// NewDriver creates a driver over the given model client and tool caller.
func NewDriver(client llm.Client, caller fleet.Caller, cfg Config) *Driver {
	cfg.SetDefaults()
	return &Driver{llm: client, caller: caller, cfg: cfg}
}

// Result carries the outcome of one driven conversation.
type Result struct {
	// Diagnoses parsed from the model's final answer. Empty when the
	// model produced nothing usable.
	Diagnoses []clinical.Diagnosis

	// RawText is the model's final text, kept for diagnostics.
	RawText string

	// Warnings records soft failures: unparseable output, exhausted
	// iterations, missing model.
	Warnings []string

	// Usage sums token accounting across all model turns.
	Usage llm.Usage

	// Iterations is the number of model turns taken.
	Iterations int
}

// Run drives the conversation for one scenario until the model answers,
// the iteration cap is reached, or the context dies.
func (d *Driver) Run(ctx context.Context, scenario string) (*Result, error) {
	result := &Result{}

	if d.llm == nil {
		result.Warnings = append(result.Warnings, "no llm configured, returning empty analysis")
		return result, nil
	}

	tools := offerTools(d.caller)
	messages := []llm.Message{llm.UserText(userPrompt(scenario))}

	var lastText string
	for iteration := 0; iteration < d.cfg.MaxIterations; iteration++ {
		resp, err := d.llm.Send(ctx, &llm.Request{
			System:   systemPrompt,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return nil, d.classifySendErr(ctx, err)
		}

		result.Iterations = iteration + 1
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens

		if text := resp.Text(); text != "" {
			lastText = text
		}

		calls := resp.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(calls) == 0 {
			return d.finish(result, lastText), nil
		}

		slog.Debug("Executing tool batch",
			"iteration", iteration+1,
			"calls", len(calls),
		)

		replies, err := d.runToolBatch(ctx, calls)
		if err != nil {
			return nil, err
		}

		// Replay the assistant turn verbatim, then answer every
		// tool_use with one batched user turn in the same order.
		messages = append(messages, llm.AssistantMessage(resp.Blocks...))
		messages = append(messages, llm.UserMessage(replies...))
	}

	result.Warnings = append(result.Warnings, WarnToolLoopExhausted)
	return d.finish(result, lastText), nil
}

// runToolBatch executes one assistant turn's tool calls concurrently.
// Reply order follows the tool_use order, not completion order. A failed
// call becomes an error-tagged result so the model can react; only a dead
// context aborts the batch.
func (d *Driver) runToolBatch(ctx context.Context, calls []llm.Block) ([]llm.Block, error) {
	if d.caller == nil {
		return nil, fmt.Errorf("%w: no tool caller wired", fleet.ErrConfig)
	}

	replies := make([]llm.Block, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			payload, err := d.caller.Call(gctx, call.Name, call.Input)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				replies[i] = llm.ToolResult(call.ID, call.Name, errorPayload(err), true)
				return nil
			}
			replies[i] = llm.ToolResult(call.ID, call.Name, payload, false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return replies, nil
}

// finish extracts the structured answer from the model's final text.
func (d *Driver) finish(result *Result, text string) *Result {
	result.RawText = text

	payload, ok := ExtractJSON(text)
	if !ok {
		result.Warnings = append(result.Warnings, "no JSON object found in model output")
		return result
	}

	diagnoses, err := clinical.ParseDiagnoses(payload)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("model output could not be parsed: %v", err))
		return result
	}

	result.Diagnoses = diagnoses
	return result
}

// classifySendErr maps a failed model call onto the fleet error kinds so
// callers see one error vocabulary for the whole workflow.
func (d *Driver) classifySendErr(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.Canceled:
		return fmt.Errorf("%w: llm call aborted: %v", fleet.ErrCancelled, err)
	case context.DeadlineExceeded:
		return fmt.Errorf("%w: llm call aborted: %v", fleet.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: llm: %v", fleet.ErrUpstream, err)
	}
}

// offerTools converts the fleet's tool catalog for the model.
func offerTools(caller fleet.Caller) []llm.Tool {
	if caller == nil {
		return nil
	}
	descriptors := caller.Tools()
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		tools = append(tools, llm.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return tools
}

// errorPayload serializes a tool failure for the model.
func errorPayload(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}
