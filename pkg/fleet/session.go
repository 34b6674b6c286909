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

// Package fleet manages the pool of external knowledge servers that back a
// consultation: spawning them as child processes, speaking the MCP stdio
// protocol to each, routing tool calls by discovered tool name, and tearing
// everything down without leaving orphans.
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultCallTimeout bounds a single RPC (initialize, tools/list or
	// tools/call) against one server.
	DefaultCallTimeout = 30 * time.Second

	// DefaultCloseGrace is how long Close waits for a clean exit before
	// killing the child process.
	DefaultCloseGrace = 2 * time.Second

	// timeoutStrikeLimit is the number of consecutive timed-out calls after
	// which a session is considered unresponsive and force-closed.
	timeoutStrikeLimit = 2

	protocolVersion = "2024-11-05"

	defaultClientName    = "consult"
	defaultClientVersion = "0.1.0-alpha"
)

// State is the lifecycle phase of a session.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ToolDescriptor is one tool advertised by a knowledge server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SessionConfig configures a single knowledge server session.
type SessionConfig struct {
	Name  string    `yaml:"name" json:"name"`
	Spawn SpawnSpec `yaml:"spawn" json:"spawn"`

	// CallTimeout bounds each RPC against the server.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty"`

	// CloseGrace bounds how long Close waits before killing the child.
	CloseGrace time.Duration `yaml:"close_grace,omitempty" json:"close_grace,omitempty"`

	// ClientName and ClientVersion identify this process in the MCP
	// initialize handshake.
	ClientName    string `yaml:"client_name,omitempty" json:"client_name,omitempty"`
	ClientVersion string `yaml:"client_version,omitempty" json:"client_version,omitempty"`
}

// SetDefaults applies default configuration values.
func (c *SessionConfig) SetDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.ClientVersion == "" {
		c.ClientVersion = defaultClientVersion
	}
}

// Validate checks the configuration.
func (c *SessionConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: session name is required", ErrConfig)
	}
	return c.Spawn.Validate()
}

// Session is one live connection to a knowledge server. All methods are safe
// for concurrent use; a session serves interleaved calls from multiple
// goroutines over the same child process.
type Session struct {
	name        string
	callTimeout time.Duration
	closeGrace  time.Duration

	cli *client.Client

	// cmd is the child process handle, nil for in-process servers. Written
	// once by the transport's command hook during Open.
	cmdMu sync.Mutex
	cmd   *exec.Cmd

	state   atomic.Int32
	strikes atomic.Int32 // consecutive timed-out calls

	toolsMu sync.RWMutex
	tools   []ToolDescriptor

	closeOnce sync.Once
	closeErr  error
}

// Open spawns the configured server and performs the MCP handshake:
// initialize, then the initialized notification. The returned session is in
// StateReady. Tools are not discovered here; call ListTools afterwards.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		name:        cfg.Name,
		callTimeout: cfg.CallTimeout,
		closeGrace:  cfg.CloseGrace,
	}
	s.state.Store(int32(StateStarting))

	var cli *client.Client
	if cfg.Spawn.InProcess != nil {
		c, err := client.NewInProcessClient(cfg.Spawn.InProcess)
		if err != nil {
			return nil, fmt.Errorf("creating in-process client for %s: %w: %v", cfg.Name, ErrTransport, err)
		}
		cli = c
	} else {
		// The command hook keeps the child's lifetime decoupled from the
		// open context; Close owns teardown. The spec is closed over rather
		// than taken from the hook arguments so the child handle can be
		// captured for the kill path.
		spawn := cfg.Spawn
		stdio := transport.NewStdioWithOptions(
			spawn.Command,
			convertEnv(spawn.Env),
			spawn.Args,
			transport.WithCommandFunc(func(_ context.Context, _ string, _ []string, _ []string) (*exec.Cmd, error) {
				cmd := exec.Command(spawn.Command, spawn.Args...)
				cmd.Env = append(os.Environ(), convertEnv(spawn.Env)...)
				s.cmdMu.Lock()
				s.cmd = cmd
				s.cmdMu.Unlock()
				return cmd, nil
			}),
		)
		cli = client.NewClient(stdio)
	}
	s.cli = cli

	if err := s.handshake(ctx, cfg.ClientName, cfg.ClientVersion); err != nil {
		_ = cli.Close()
		s.state.Store(int32(StateClosed))
		return nil, err
	}

	s.state.Store(int32(StateReady))
	slog.Debug("Knowledge server session ready", "server", s.name)
	return s, nil
}

func (s *Session) handshake(ctx context.Context, clientName, clientVersion string) error {
	hctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.cli.Start(hctx); err != nil {
		return fmt.Errorf("starting %s: %w: %v", s.name, ErrTransport, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := s.cli.Initialize(hctx, initReq); err != nil {
		if hctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("initializing %s: %w", s.name, ErrTimeout)
		}
		return fmt.Errorf("initializing %s: %w: %v", s.name, ErrTransport, err)
	}
	return nil
}

// Name returns the configured server name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Pid returns the child process id, or 0 for in-process servers.
func (s *Session) Pid() int {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Tools returns the cached tool descriptors from the last ListTools call.
func (s *Session) Tools() []ToolDescriptor {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()
	out := make([]ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

// ListTools asks the server for its tool catalog and caches the result.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if st := s.State(); st != StateReady {
		return nil, fmt.Errorf("listing tools on %s: %w: session %s", s.name, ErrTransport, st)
	}

	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	resp, err := s.cli.ListTools(cctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, s.classifyCallError(cctx, ctx, "tools/list", err)
	}
	s.strikes.Store(0)

	descriptors := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: convertSchema(tool.InputSchema),
		})
	}

	s.toolsMu.Lock()
	s.tools = descriptors
	s.toolsMu.Unlock()
	return descriptors, nil
}

// Call invokes one tool on the server and returns the text payload. Payloads
// with multiple text blocks are joined by newlines. Error-tagged results map
// to ErrUpstream with the server's message preserved.
func (s *Session) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if st := s.State(); st != StateReady {
		return "", fmt.Errorf("calling %s on %s: %w: session %s", tool, s.name, ErrTransport, st)
	}

	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	resp, err := s.cli.CallTool(cctx, req)
	if err != nil {
		return "", s.classifyCallError(cctx, ctx, tool, err)
	}
	s.strikes.Store(0)

	return s.parseResult(tool, resp)
}

// classifyCallError maps a raw client error onto the fleet error taxonomy and
// updates session state. A per-request deadline counts as a timeout strike;
// two strikes in a row force-close the session.
func (s *Session) classifyCallError(cctx, parent context.Context, tool string, err error) error {
	switch {
	case cctx.Err() == context.DeadlineExceeded && parent.Err() == nil:
		strikes := s.strikes.Add(1)
		if strikes >= timeoutStrikeLimit {
			slog.Warn("Force-closing unresponsive knowledge server",
				"server", s.name, "consecutive_timeouts", strikes)
			go func() { _ = s.Close() }()
		}
		return fmt.Errorf("calling %s on %s: %w after %s", tool, s.name, ErrTimeout, s.callTimeout)

	case errors.Is(parent.Err(), context.Canceled):
		return fmt.Errorf("calling %s on %s: %w", tool, s.name, ErrCancelled)

	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return fmt.Errorf("calling %s on %s: %w", tool, s.name, ErrTimeout)

	case s.transportDead(err):
		s.state.Store(int32(StateClosed))
		return fmt.Errorf("calling %s on %s: %w: %v", tool, s.name, ErrTransport, err)

	default:
		// JSON-RPC error envelope from a live server.
		return fmt.Errorf("calling %s on %s: %w: %v", tool, s.name, ErrUpstream, err)
	}
}

// transportDead reports whether err indicates the pipe or process is gone,
// as opposed to a live server answering with an error envelope.
func (s *Session) transportDead(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return true
	}
	s.cmdMu.Lock()
	cmd := s.cmd
	s.cmdMu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	// Signal 0 probes liveness without delivering anything.
	return cmd.Process.Signal(syscall.Signal(0)) != nil
}

func (s *Session) parseResult(tool string, resp *mcp.CallToolResult) (string, error) {
	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}
	payload := strings.Join(texts, "\n")

	if resp.IsError {
		msg := payload
		if msg == "" {
			msg = "tool call failed"
		}
		return "", fmt.Errorf("calling %s on %s: %w: %s", tool, s.name, ErrUpstream, msg)
	}
	if len(texts) == 0 {
		return "", fmt.Errorf("calling %s on %s: %w: no text content in result", tool, s.name, ErrParse)
	}
	return payload, nil
}

// Close drains the session and shuts the server down. The stdio pipe is
// closed first so a well-behaved server exits on EOF; after the grace period
// the child is killed. Close is idempotent and never blocks past twice the
// grace period.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateDraining)))
		if prev == StateClosed {
			s.state.Store(int32(StateClosed))
			return
		}

		done := make(chan error, 1)
		go func() { done <- s.cli.Close() }()

		select {
		case err := <-done:
			if err != nil {
				slog.Debug("Knowledge server close returned error", "server", s.name, "error", err)
			}
		case <-time.After(s.closeGrace):
			slog.Warn("Knowledge server did not exit within grace period, killing",
				"server", s.name, "grace", s.closeGrace)
			s.kill()
			select {
			case <-done:
			case <-time.After(s.closeGrace):
				s.closeErr = fmt.Errorf("closing %s: %w: close timed out", s.name, ErrTransport)
			}
		}

		s.state.Store(int32(StateClosed))
		slog.Debug("Knowledge server session closed", "server", s.name)
	})
	return s.closeErr
}

func (s *Session) kill() {
	s.cmdMu.Lock()
	cmd := s.cmd
	s.cmdMu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// convertSchema converts an MCP tool schema to a plain map via a JSON
// round-trip, the shape LLM providers expect for tool definitions.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return map[string]any{"type": "object"}
	}
	return result
}
