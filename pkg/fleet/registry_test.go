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

package fleet

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func namedPayloadTool(toolName, payload string) testTool {
	return testTool{
		name: toolName,
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult(payload), nil
		},
	}
}

func TestRegistry_OpenDiscoverCall(t *testing.T) {
	specs := map[string]SpawnSpec{
		"icmr": {InProcess: newTestServer("icmr",
			namedPayloadTool("search_guidelines", `{"source":"icmr"}`),
			namedPayloadTool("get_guideline_detail", `{"detail":true}`),
		)},
		"pubmed": {InProcess: newTestServer("pubmed",
			namedPayloadTool("search_articles", `{"source":"pubmed"}`),
		)},
	}

	reg := NewRegistry(SessionConfig{})
	if err := reg.Open(context.Background(), specs); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = reg.CloseAll() })

	if got := reg.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "icmr" || got[1] != "pubmed" {
		t.Fatalf("Names() = %v, want [icmr pubmed]", got)
	}
	if len(reg.Warnings()) != 0 {
		t.Fatalf("Warnings() = %v, want none", reg.Warnings())
	}

	router, err := reg.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if got := len(router.Tools()); got != 3 {
		t.Fatalf("router.Tools() = %d descriptors, want 3", got)
	}

	payload, err := reg.Call(context.Background(), "pubmed", "search_articles", map[string]any{"query": "dengue"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !strings.Contains(payload, "pubmed") {
		t.Errorf("Call() payload = %q, want pubmed payload", payload)
	}

	if got := len(reg.Tools()); got != 3 {
		t.Errorf("Tools() = %d descriptors, want 3", got)
	}
}

func TestRegistry_Open_PartialFailure(t *testing.T) {
	specs := map[string]SpawnSpec{
		"icmr": {InProcess: newTestServer("icmr",
			namedPayloadTool("search_guidelines", `{"source":"icmr"}`),
		)},
		"fogsi": {Command: "/nonexistent/fogsi-server"},
	}

	reg := NewRegistry(SessionConfig{})
	if err := reg.Open(context.Background(), specs); err != nil {
		t.Fatalf("Open() error = %v, want nil on partial failure", err)
	}
	t.Cleanup(func() { _ = reg.CloseAll() })

	if got := reg.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}

	warnings := reg.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "fogsi") {
		t.Fatalf("Warnings() = %v, want one warning naming fogsi", warnings)
	}

	// The healthy server still serves calls.
	if _, err := reg.Call(context.Background(), "icmr", "search_guidelines", nil); err != nil {
		t.Errorf("Call(icmr) error = %v", err)
	}

	// The failed server is unknown.
	_, err := reg.Call(context.Background(), "fogsi", "search_guidelines", nil)
	if !errors.Is(err, ErrUnknownServer) {
		t.Errorf("Call(fogsi) error = %v, want ErrUnknownServer", err)
	}
}

func TestRegistry_Open_DuplicateName(t *testing.T) {
	reg := NewRegistry(SessionConfig{})
	specs := map[string]SpawnSpec{
		"icmr": {InProcess: newTestServer("icmr")},
	}
	if err := reg.Open(context.Background(), specs); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = reg.CloseAll() })

	err := reg.Open(context.Background(), map[string]SpawnSpec{
		"icmr": {InProcess: newTestServer("icmr")},
	})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Open() with duplicate name error = %v, want ErrConfig", err)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	specs := map[string]SpawnSpec{
		"icmr":   {InProcess: newTestServer("icmr", echoTool("search_guidelines"))},
		"pubmed": {InProcess: newTestServer("pubmed", echoTool("search_articles"))},
	}

	reg := NewRegistry(SessionConfig{})
	if err := reg.Open(context.Background(), specs); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	icmr, err := reg.Get("icmr")
	if err != nil {
		t.Fatalf("Get(icmr) error = %v", err)
	}

	if err := reg.CloseAll(); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}

	if got := reg.Count(); got != 0 {
		t.Errorf("Count() after CloseAll = %d, want 0", got)
	}
	if got := icmr.State(); got != StateClosed {
		t.Errorf("session state after CloseAll = %v, want %v", got, StateClosed)
	}

	_, err = reg.Call(context.Background(), "icmr", "search_guidelines", nil)
	if !errors.Is(err, ErrUnknownServer) {
		t.Errorf("Call() after CloseAll error = %v, want ErrUnknownServer", err)
	}
}

func TestRegistry_Warnings_CopyAndClear(t *testing.T) {
	reg := NewRegistry(SessionConfig{})
	reg.warnf("server %s failed to start: boom", "fogsi")

	warnings := reg.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("Warnings() = %v, want 1 entry", warnings)
	}

	// Mutating the returned slice must not affect the registry.
	warnings[0] = "mutated"
	if got := reg.Warnings()[0]; got == "mutated" {
		t.Error("Warnings() returned a live reference, want a copy")
	}

	reg.ClearWarnings()
	if got := reg.Warnings(); len(got) != 0 {
		t.Errorf("Warnings() after ClearWarnings = %v, want empty", got)
	}
}

func TestRegistry_Open_Empty(t *testing.T) {
	reg := NewRegistry(SessionConfig{})
	if err := reg.Open(context.Background(), nil); err != nil {
		t.Fatalf("Open(nil) error = %v", err)
	}
	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}
