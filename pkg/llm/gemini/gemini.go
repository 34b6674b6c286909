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

// Package gemini implements llm.Client for Google Gemini models using the
// official google.golang.org/genai SDK. Tool invocations map to Gemini
// function calls; tool results map to function responses addressed by
// function name.
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/kadirpekel/consult/pkg/llm"
)

const defaultModel = "gemini-2.0-flash"

// Config contains configuration for the Gemini client.
type Config struct {
	// APIKey is the Google AI API key.
	APIKey string

	// Model is the model name (e.g., "gemini-2.0-flash").
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0-2).
	Temperature float64
}

// Client implements llm.Client for Gemini.
type Client struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a new Gemini client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	// Constructors shouldn't require a context.
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		client: client,
		name:   cfg.Model,
		config: cfg,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.name
}

// Provider returns the provider type.
func (c *Client) Provider() llm.Provider {
	return llm.ProviderGemini
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// Send performs one generation call.
func (c *Client) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	contents, systemInstruction := buildContents(req)
	config := c.buildConfig(systemInstruction, req)

	genResp, err := c.client.Models.GenerateContent(ctx, c.name, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}

	return parseResponse(genResp)
}

// buildContents converts the request conversation to Gemini format.
func buildContents(req *llm.Request) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	if req.System != "" {
		systemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
			Role:  "user",
		}
	}

	for _, msg := range req.Messages {
		if content := messageToContent(msg); content != nil {
			contents = append(contents, content)
		}
	}

	return contents, systemInstruction
}

// messageToContent converts one conversation turn to genai.Content.
func messageToContent(msg llm.Message) *genai.Content {
	var parts []*genai.Part

	for _, b := range msg.Blocks {
		switch b.Type {
		case llm.BlockText:
			parts = append(parts, &genai.Part{Text: b.Text})

		case llm.BlockToolUse:
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   b.ID,
					Name: b.Name,
					Args: b.Input,
				},
			})

		case llm.BlockToolResult:
			// Gemini addresses results by function name; the content
			// string travels inside a response map.
			if b.Name == "" && b.ToolUseID == "" {
				continue
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       b.ToolUseID,
					Name:     b.Name,
					Response: map[string]any{"result": b.Content},
				},
			})
		}
	}

	if len(parts) == 0 {
		return nil
	}

	role := "user"
	if msg.Role == llm.RoleAssistant {
		role = "model"
	}

	return &genai.Content{
		Parts: parts,
		Role:  role,
	}
}

// buildConfig creates the Gemini generation config.
func (c *Client) buildConfig(systemInstruction *genai.Content, req *llm.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}

	if c.config.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(c.config.Temperature))
	}

	maxTokens := c.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = buildTools(req.Tools)
	}

	return config
}

// buildTools converts tool definitions to Gemini tools.
func buildTools(tools []llm.Tool) []*genai.Tool {
	var genaiTools []*genai.Tool

	for _, t := range tools {
		genaiTools = append(genaiTools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  toGenaiSchema(t.InputSchema),
				},
			},
		})
	}

	return genaiTools
}

// toGenaiSchema converts a JSON schema to a Gemini schema.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

// parseResponse converts a Gemini response to an llm.Response.
func parseResponse(genResp *genai.GenerateContentResponse) (*llm.Response, error) {
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	candidate := genResp.Candidates[0]

	resp := &llm.Response{
		StopReason: llm.StopEndTurn,
	}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				resp.Blocks = append(resp.Blocks, llm.Text(part.Text))
			}
			if part.FunctionCall != nil {
				callID := part.FunctionCall.ID
				if callID == "" {
					callID = stableCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				resp.Blocks = append(resp.Blocks, llm.ToolUse(callID, part.FunctionCall.Name, part.FunctionCall.Args))
			}
		}
	}

	// Gemini has no tool_use stop reason; requesting a function call is
	// the signal that the turn expects tool results next.
	if len(resp.ToolUses()) > 0 {
		resp.StopReason = llm.StopToolUse
	} else if candidate.FinishReason == genai.FinishReasonMaxTokens {
		resp.StopReason = llm.StopMaxTokens
	}

	if genResp.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(genResp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return resp, nil
}

// stableCallID derives a deterministic id for a function call from its
// name and arguments. Gemini may omit call ids; the same call must keep
// the same id so tool results pair up across turns.
func stableCallID(name string, args map[string]any) string {
	data := map[string]any{
		"name": name,
		"args": args,
	}
	jsonBytes, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonBytes)
	return fmt.Sprintf("consult-%x", hash[:16])
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
