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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

// Fixture scripts one knowledge server: the name it advertises during the
// handshake and the tools it answers for.
type Fixture struct {
	Name    string        `yaml:"name"`
	Version string        `yaml:"version,omitempty"`
	Tools   []ToolFixture `yaml:"tools"`
}

// ToolFixture scripts a single tool. Plain tools return Response on every
// call. Keyed tools pick from Responses by the value of the KeyArg argument,
// which is how detail lookups (fetch a document by url or id) are simulated.
// A non-empty Error makes every call fail with that message.
type ToolFixture struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Args        []string       `yaml:"args,omitempty"`
	Response    any            `yaml:"response,omitempty"`
	KeyArg      string         `yaml:"key_arg,omitempty"`
	Responses   map[string]any `yaml:"responses,omitempty"`
	Error       string         `yaml:"error,omitempty"`
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture file %s: %w", path, err)
	}
	return &fx, nil
}

// Validate catches the mistakes that are easy to make when writing fixtures
// by hand.
func (f *Fixture) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(f.Tools) == 0 {
		return fmt.Errorf("at least one tool is required")
	}

	seen := make(map[string]bool, len(f.Tools))
	for i, tool := range f.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tool %d: name is required", i)
		}
		if seen[tool.Name] {
			return fmt.Errorf("tool %s: duplicate name", tool.Name)
		}
		seen[tool.Name] = true

		if len(tool.Responses) > 0 && tool.KeyArg == "" {
			return fmt.Errorf("tool %s: responses requires key_arg", tool.Name)
		}
		if tool.KeyArg != "" && len(tool.Responses) == 0 {
			return fmt.Errorf("tool %s: key_arg requires responses", tool.Name)
		}
	}
	return nil
}

// BuildServer assembles an MCP server from the fixture. Tools named in fail
// error out on every call even when the fixture scripts a response.
func BuildServer(fx *Fixture, fail map[string]bool) *server.MCPServer {
	version := fx.Version
	if version == "" {
		version = "0.1.0"
	}

	srv := server.NewMCPServer(fx.Name, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, tool := range fx.Tools {
		mcpTool := mcp.NewToolWithRawSchema(tool.Name, tool.Description, toolSchema(tool.Args))
		srv.AddTool(mcpTool, toolHandler(tool, fail[tool.Name]))
	}
	return srv
}

// toolSchema declares every scripted argument as a required string. That is
// all the demo servers need, and it keeps fixture files terse.
func toolSchema(args []string) json.RawMessage {
	props := make(map[string]any, len(args))
	for _, arg := range args {
		props[arg] = map[string]any{"type": "string"}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(args) > 0 {
		schema["required"] = args
	}
	data, _ := json.Marshal(schema)
	return data
}

func toolHandler(fx ToolFixture, forceFail bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if forceFail {
			return nil, fmt.Errorf("%s: forced failure", fx.Name)
		}
		if fx.Error != "" {
			return nil, fmt.Errorf("%s", fx.Error)
		}

		payload := fx.Response
		if fx.KeyArg != "" {
			key, _ := request.GetArguments()[fx.KeyArg].(string)
			scripted, ok := fx.Responses[key]
			if !ok {
				return nil, fmt.Errorf("no fixture response for %s=%q", fx.KeyArg, key)
			}
			payload = scripted
		}

		text, err := renderPayload(payload)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(text), nil
	}
}

// renderPayload turns a fixture value into the text content of a tool result.
// Strings pass through verbatim so prose fixtures read naturally; everything
// else is rendered as JSON, matching what real search endpoints return.
func renderPayload(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to render fixture response: %w", err)
	}
	return string(data), nil
}
