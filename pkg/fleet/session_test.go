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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type testTool struct {
	name    string
	handler server.ToolHandlerFunc
}

func newTestServer(name string, tools ...testTool) *server.MCPServer {
	srv := server.NewMCPServer(name, "0.0.1",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, tool := range tools {
		mcpTool := mcp.NewToolWithRawSchema(tool.name, "test tool "+tool.name,
			json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}}}`))
		srv.AddTool(mcpTool, tool.handler)
	}
	return srv
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
		IsError: true,
	}
}

func echoTool(name string) testTool {
	return testTool{
		name: name,
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			payload, _ := json.Marshal(request.GetArguments())
			return textResult(string(payload)), nil
		},
	}
}

// slowTool blocks for delay or until the call context ends.
func slowTool(name string, delay time.Duration) testTool {
	return testTool{
		name: name,
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			select {
			case <-time.After(delay):
				return textResult("slow done"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func openInProcess(t *testing.T, name string, srv *server.MCPServer, callTimeout time.Duration) *Session {
	t.Helper()
	cfg := SessionConfig{
		Name:        name,
		Spawn:       SpawnSpec{InProcess: srv},
		CallTimeout: callTimeout,
	}
	sess, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open(%s) error = %v", name, err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSessionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  SessionConfig
		wantErr bool
	}{
		{
			name:    "missing name",
			config:  SessionConfig{Spawn: SpawnSpec{Command: "/bin/true"}},
			wantErr: true,
		},
		{
			name:    "missing command",
			config:  SessionConfig{Name: "icmr"},
			wantErr: true,
		},
		{
			name:    "valid stdio",
			config:  SessionConfig{Name: "icmr", Spawn: SpawnSpec{Command: "/bin/true"}},
			wantErr: false,
		},
		{
			name:    "valid in-process",
			config:  SessionConfig{Name: "icmr", Spawn: SpawnSpec{InProcess: newTestServer("icmr")}},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestSessionConfig_SetDefaults(t *testing.T) {
	cfg := SessionConfig{Name: "icmr"}
	cfg.SetDefaults()

	if cfg.CallTimeout != DefaultCallTimeout {
		t.Errorf("CallTimeout = %v, want %v", cfg.CallTimeout, DefaultCallTimeout)
	}
	if cfg.CloseGrace != DefaultCloseGrace {
		t.Errorf("CloseGrace = %v, want %v", cfg.CloseGrace, DefaultCloseGrace)
	}
	if cfg.ClientName != defaultClientName {
		t.Errorf("ClientName = %q, want %q", cfg.ClientName, defaultClientName)
	}
}

func TestSpawnSpec_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		spec       SpawnSpec
		serversDir string
		want       string
	}{
		{
			name:       "relative command joined to servers dir",
			spec:       SpawnSpec{Command: "bin/icmr-server"},
			serversDir: "/opt/consult/servers",
			want:       "/opt/consult/servers/bin/icmr-server",
		},
		{
			name:       "absolute command untouched",
			spec:       SpawnSpec{Command: "/usr/bin/icmr-server"},
			serversDir: "/opt/consult/servers",
			want:       "/usr/bin/icmr-server",
		},
		{
			name:       "bare name resolved via PATH untouched",
			spec:       SpawnSpec{Command: "medsrv"},
			serversDir: "/opt/consult/servers",
			want:       "medsrv",
		},
		{
			name:       "empty servers dir untouched",
			spec:       SpawnSpec{Command: "bin/icmr-server"},
			serversDir: "",
			want:       "bin/icmr-server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.spec.Resolve(tt.serversDir)
			if got.Command != tt.want {
				t.Errorf("Resolve() command = %q, want %q", got.Command, tt.want)
			}
		})
	}
}

func TestSession_CallRoundTrip(t *testing.T) {
	srv := newTestServer("icmr", echoTool("search_guidelines"))
	sess := openInProcess(t, "icmr", srv, 0)

	if got := sess.State(); got != StateReady {
		t.Fatalf("State() = %v, want %v", got, StateReady)
	}

	tools, err := sess.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search_guidelines" {
		t.Fatalf("ListTools() = %+v, want one search_guidelines descriptor", tools)
	}
	if tools[0].InputSchema["type"] != "object" {
		t.Errorf("InputSchema type = %v, want object", tools[0].InputSchema["type"])
	}

	payload, err := sess.Call(context.Background(), "search_guidelines", map[string]any{"query": "dengue fever"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("Call() payload is not JSON: %v", err)
	}
	if decoded["query"] != "dengue fever" {
		t.Errorf("echoed query = %v, want dengue fever", decoded["query"])
	}
}

func TestSession_Call_UpstreamErrorKeepsSessionAlive(t *testing.T) {
	calls := 0
	srv := newTestServer("icmr", testTool{
		name: "search_guidelines",
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			calls++
			if calls == 1 {
				return errorResult("rate limit exceeded"), nil
			}
			return textResult(`{"results":[]}`), nil
		},
	})
	sess := openInProcess(t, "icmr", srv, 0)

	_, err := sess.Call(context.Background(), "search_guidelines", nil)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("Call() error = %v, want ErrUpstream", err)
	}
	if got := sess.State(); got != StateReady {
		t.Fatalf("State() after upstream error = %v, want %v", got, StateReady)
	}

	if _, err := sess.Call(context.Background(), "search_guidelines", nil); err != nil {
		t.Fatalf("Call() after upstream error = %v, want nil", err)
	}
}

func TestSession_Call_TimeoutStrikesForceClose(t *testing.T) {
	srv := newTestServer("icmr", slowTool("search_guidelines", time.Second))
	sess := openInProcess(t, "icmr", srv, 50*time.Millisecond)

	for i := 0; i < timeoutStrikeLimit; i++ {
		_, err := sess.Call(context.Background(), "search_guidelines", nil)
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("Call() #%d error = %v, want ErrTimeout", i+1, err)
		}
	}

	// Force-close runs asynchronously.
	deadline := time.After(2 * time.Second)
	for sess.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatalf("session state = %v after consecutive timeouts, want %v", sess.State(), StateClosed)
		case <-time.After(10 * time.Millisecond):
		}
	}

	_, err := sess.Call(context.Background(), "search_guidelines", nil)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Call() on closed session error = %v, want ErrTransport", err)
	}
}

func TestSession_Call_SuccessResetsTimeoutStrikes(t *testing.T) {
	calls := 0
	srv := newTestServer("icmr", testTool{
		name: "search_guidelines",
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			calls++
			if calls%2 == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return textResult(`{"results":[]}`), nil
		},
	})
	sess := openInProcess(t, "icmr", srv, 50*time.Millisecond)

	// Timeout, success, timeout: strikes never reach the limit.
	if _, err := sess.Call(context.Background(), "search_guidelines", nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("first Call() error = %v, want ErrTimeout", err)
	}
	if _, err := sess.Call(context.Background(), "search_guidelines", nil); err != nil {
		t.Fatalf("second Call() error = %v, want nil", err)
	}
	if _, err := sess.Call(context.Background(), "search_guidelines", nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("third Call() error = %v, want ErrTimeout", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := sess.State(); got != StateReady {
		t.Errorf("State() = %v, want %v (strikes should reset on success)", got, StateReady)
	}
}

func TestSession_Call_CallerCancelled(t *testing.T) {
	srv := newTestServer("icmr", slowTool("search_guidelines", time.Minute))
	sess := openInProcess(t, "icmr", srv, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Call(ctx, "search_guidelines", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Call() error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call() did not return after cancellation")
	}
}

func TestSession_Call_MultipleTextBlocksJoined(t *testing.T) {
	srv := newTestServer("icmr", testTool{
		name: "search_guidelines",
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent("first"),
					mcp.NewTextContent("second"),
				},
			}, nil
		},
	})
	sess := openInProcess(t, "icmr", srv, 0)

	payload, err := sess.Call(context.Background(), "search_guidelines", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if payload != "first\nsecond" {
		t.Errorf("Call() payload = %q, want %q", payload, "first\nsecond")
	}
}

func TestSession_Call_EmptyResultIsParseError(t *testing.T) {
	srv := newTestServer("icmr", testTool{
		name: "search_guidelines",
		handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{}, nil
		},
	})
	sess := openInProcess(t, "icmr", srv, 0)

	_, err := sess.Call(context.Background(), "search_guidelines", nil)
	if !errors.Is(err, ErrParse) {
		t.Errorf("Call() error = %v, want ErrParse", err)
	}
}

func TestSession_Close_Idempotent(t *testing.T) {
	srv := newTestServer("icmr", echoTool("search_guidelines"))
	sess := openInProcess(t, "icmr", srv, 0)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := sess.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}

	_, err := sess.Call(context.Background(), "search_guidelines", nil)
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Call() after Close error = %v, want ErrTransport", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateDraining, "draining"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
