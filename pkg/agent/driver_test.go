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

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/llm"
)

// scriptedLLM pops one canned response per Send and records requests.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []*llm.Request
}

func (s *scriptedLLM) Name() string           { return "scripted" }
func (s *scriptedLLM) Provider() llm.Provider { return llm.Provider("test") }
func (s *scriptedLLM) Close() error           { return nil }

func (s *scriptedLLM) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot the conversation so later turns can't alias it.
	recorded := *req
	recorded.Messages = append([]llm.Message(nil), req.Messages...)
	s.requests = append(s.requests, &recorded)

	if len(s.responses) == 0 {
		return &llm.Response{StopReason: llm.StopEndTurn}, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// blockingLLM never answers; it waits for the context to die.
type blockingLLM struct{}

func (b *blockingLLM) Name() string           { return "blocking" }
func (b *blockingLLM) Provider() llm.Provider { return llm.Provider("test") }
func (b *blockingLLM) Close() error           { return nil }

func (b *blockingLLM) Send(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeCaller answers tool calls from canned replies with optional delays
// and failures, recording completion order.
type fakeCaller struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	calls   []string
}

func (f *fakeCaller) Call(ctx context.Context, tool string, _ map[string]any) (string, error) {
	if d := f.delays[tool]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", fleet.ErrCancelled, ctx.Err())
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, tool)
	f.mu.Unlock()

	if err, ok := f.errs[tool]; ok {
		return "", err
	}
	if reply, ok := f.replies[tool]; ok {
		return reply, nil
	}
	return "", fmt.Errorf("%w: %s", fleet.ErrUnknownTool, tool)
}

func (f *fakeCaller) Tools() []fleet.ToolDescriptor {
	names := make([]string, 0, len(f.replies))
	for name := range f.replies {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptors := make([]fleet.ToolDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, fleet.ToolDescriptor{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return descriptors
}

const answerText = "```json\n{\"diagnoses\": [{\"name\": \"Sepsis\", \"confidence\": \"high\", \"treatments\": [{\"name\": \"IV antibiotics\", \"drug_names\": [\"Ceftriaxone\"]}]}]}\n```"

func TestDriver_DirectAnswer(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{Blocks: []llm.Block{llm.Text(answerText)}, StopReason: llm.StopEndTurn},
	}}
	caller := &fakeCaller{replies: map[string]string{"search_guidelines": "{}"}}

	driver := NewDriver(model, caller, Config{})
	result, err := driver.Run(context.Background(), "fever and hypotension")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Diagnoses) != 1 || result.Diagnoses[0].Name != "Sepsis" {
		t.Fatalf("unexpected diagnoses: %+v", result.Diagnoses)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}

	if len(model.requests) != 1 {
		t.Fatalf("model saw %d requests, want 1", len(model.requests))
	}
	req := model.requests[0]
	if req.System != systemPrompt {
		t.Error("system prompt not wired")
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "search_guidelines" {
		t.Errorf("tool catalog not offered: %+v", req.Tools)
	}
	seed := req.Messages[0].Blocks[0].Text
	if !strings.Contains(seed, "fever and hypotension") {
		t.Error("seed prompt missing scenario")
	}
	if !strings.Contains(seed, "confidence") || !strings.Contains(seed, "drug_names") {
		t.Error("seed prompt missing answer schema")
	}
}

func TestDriver_ToolLoop_OrderedBatch(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{
			Blocks: []llm.Block{
				llm.Text("checking sources"),
				llm.ToolUse("t1", "slow_probe", map[string]any{"query": "a"}),
				llm.ToolUse("t2", "fast_probe", map[string]any{"query": "b"}),
			},
			StopReason: llm.StopToolUse,
			Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
		},
		{
			Blocks:     []llm.Block{llm.Text(answerText)},
			StopReason: llm.StopEndTurn,
			Usage:      llm.Usage{InputTokens: 7, OutputTokens: 3},
		},
	}}
	caller := &fakeCaller{
		replies: map[string]string{"slow_probe": "slow data", "fast_probe": "fast data"},
		delays:  map[string]time.Duration{"slow_probe": 80 * time.Millisecond},
	}

	driver := NewDriver(model, caller, Config{})
	result, err := driver.Run(context.Background(), "scenario")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Diagnoses) != 1 {
		t.Fatalf("unexpected diagnoses: %+v", result.Diagnoses)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if result.Usage.InputTokens != 17 || result.Usage.OutputTokens != 8 {
		t.Errorf("usage not accumulated: %+v", result.Usage)
	}

	// The fast tool completed first but replies must follow tool_use order.
	if len(model.requests) != 2 {
		t.Fatalf("model saw %d requests, want 2", len(model.requests))
	}
	conversation := model.requests[1].Messages
	if len(conversation) != 3 {
		t.Fatalf("second request has %d messages, want 3", len(conversation))
	}

	assistant := conversation[1]
	if assistant.Role != llm.RoleAssistant || len(assistant.Blocks) != 3 {
		t.Fatalf("assistant turn not replayed verbatim: %+v", assistant)
	}

	batch := conversation[2]
	if batch.Role != llm.RoleUser {
		t.Fatalf("tool results not sent as a user turn: %+v", batch)
	}
	if len(batch.Blocks) != 2 {
		t.Fatalf("got %d result blocks, want 2", len(batch.Blocks))
	}
	first, second := batch.Blocks[0], batch.Blocks[1]
	if first.ToolUseID != "t1" || first.Content != "slow data" {
		t.Errorf("first reply = %+v, want t1/slow data", first)
	}
	if second.ToolUseID != "t2" || second.Content != "fast data" {
		t.Errorf("second reply = %+v, want t2/fast data", second)
	}

	// Completion order was the reverse.
	if caller.calls[0] != "fast_probe" {
		t.Errorf("expected fast_probe to complete first, got order %v", caller.calls)
	}
}

func TestDriver_ToolFailureBecomesErrorResult(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{
			Blocks: []llm.Block{
				llm.ToolUse("t1", "broken_tool", nil),
				llm.ToolUse("t2", "ok_tool", nil),
			},
			StopReason: llm.StopToolUse,
		},
		{Blocks: []llm.Block{llm.Text(answerText)}, StopReason: llm.StopEndTurn},
	}}
	caller := &fakeCaller{
		replies: map[string]string{"ok_tool": "fine"},
		errs:    map[string]error{"broken_tool": fmt.Errorf("%w: server crashed", fleet.ErrTransport)},
	}

	driver := NewDriver(model, caller, Config{})
	result, err := driver.Run(context.Background(), "scenario")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Diagnoses) != 1 {
		t.Fatalf("tool failure should not sink the conversation: %+v", result)
	}

	batch := model.requests[1].Messages[2]
	failed := batch.Blocks[0]
	if !failed.IsError {
		t.Error("failed call should produce an error-tagged result")
	}
	if !strings.Contains(failed.Content, `"error"`) {
		t.Errorf("failure not serialized as error payload: %q", failed.Content)
	}
	if batch.Blocks[1].IsError || batch.Blocks[1].Content != "fine" {
		t.Errorf("sibling call affected by failure: %+v", batch.Blocks[1])
	}
}

func TestDriver_ExhaustionReturnsPartial(t *testing.T) {
	partial := "```json\n{\"diagnoses\": [{\"name\": \"Pneumonia\", \"confidence\": \"medium\"}]}\n```"
	model := &scriptedLLM{responses: []*llm.Response{
		{
			Blocks:     []llm.Block{llm.ToolUse("t1", "probe", nil)},
			StopReason: llm.StopToolUse,
		},
		{
			Blocks:     []llm.Block{llm.Text(partial), llm.ToolUse("t2", "probe", nil)},
			StopReason: llm.StopToolUse,
		},
	}}
	caller := &fakeCaller{replies: map[string]string{"probe": "{}"}}

	driver := NewDriver(model, caller, Config{MaxIterations: 2})
	result, err := driver.Run(context.Background(), "scenario")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, w := range result.Warnings {
		if w == WarnToolLoopExhausted {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want %q", result.Warnings, WarnToolLoopExhausted)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if len(result.Diagnoses) != 1 || result.Diagnoses[0].Name != "Pneumonia" {
		t.Errorf("partial answer not recovered: %+v", result.Diagnoses)
	}
}

func TestDriver_UnparseableOutputIsSoftFailure(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no json at all", "I could not determine anything useful."},
		{"broken json in fence", "```json\n{\"diagnoses\": [\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedLLM{responses: []*llm.Response{
				{Blocks: []llm.Block{llm.Text(tt.text)}, StopReason: llm.StopEndTurn},
			}}
			driver := NewDriver(model, &fakeCaller{}, Config{})

			result, err := driver.Run(context.Background(), "scenario")
			if err != nil {
				t.Fatalf("parse trouble must not error: %v", err)
			}
			if len(result.Diagnoses) != 0 {
				t.Errorf("expected empty diagnoses, got %+v", result.Diagnoses)
			}
			if len(result.Warnings) == 0 {
				t.Error("expected a parse warning")
			}
			if result.RawText != tt.text {
				t.Errorf("RawText = %q, want original text", result.RawText)
			}
		})
	}
}

func TestDriver_NilModelShortCircuits(t *testing.T) {
	driver := NewDriver(nil, &fakeCaller{}, Config{})

	result, err := driver.Run(context.Background(), "scenario")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.Diagnoses) != 0 || result.Iterations != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", result.Warnings)
	}
}

func TestDriver_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	driver := NewDriver(&blockingLLM{}, &fakeCaller{}, Config{})

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := driver.Run(ctx, "scenario")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, fleet.ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not abort the run")
	}
}

func TestDriver_TimeoutClassified(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	driver := NewDriver(&blockingLLM{}, &fakeCaller{}, Config{})
	_, err := driver.Run(ctx, "scenario")
	if !errors.Is(err, fleet.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}
