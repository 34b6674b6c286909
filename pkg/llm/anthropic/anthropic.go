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

// Package anthropic implements llm.Client against the Anthropic Messages
// API. Tool use maps one to one: tool_use blocks out, tool_result blocks
// back in, paired by tool_use_id.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/consult/pkg/httpclient"
	"github.com/kadirpekel/consult/pkg/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an Anthropic Messages API implementation of llm.Client.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &Client{
		httpClient:  httpClient,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// Provider returns the provider type.
func (c *Client) Provider() llm.Provider {
	return llm.ProviderAnthropic
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// Send performs one Messages API call.
func (c *Client) Send(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	apiReq := c.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return parseResponse(&apiResp), nil
}

// setHeaders sets the required HTTP headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// buildRequest creates an API request from an llm.Request.
func (c *Client) buildRequest(req *llm.Request) *apiRequest {
	apiReq := &apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
	}

	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}

	if c.temperature != nil {
		apiReq.Temperature = *c.temperature
	}

	if req.System != "" {
		apiReq.System = req.System
	}

	for _, msg := range req.Messages {
		content := convertBlocks(msg.Blocks)
		if len(content) == 0 {
			continue
		}
		apiReq.Messages = append(apiReq.Messages, apiMessage{
			Role:    string(msg.Role),
			Content: content,
		})
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return apiReq
}

// convertBlocks maps conversation blocks to wire content.
func convertBlocks(blocks []llm.Block) []apiContent {
	var content []apiContent
	for _, b := range blocks {
		switch b.Type {
		case llm.BlockText:
			content = append(content, apiContent{
				Type: "text",
				Text: b.Text,
			})
		case llm.BlockToolUse:
			content = append(content, apiContent{
				Type:  "tool_use",
				ID:    b.ID,
				Name:  b.Name,
				Input: b.Input,
			})
		case llm.BlockToolResult:
			if b.ToolUseID == "" {
				slog.Warn("Anthropic: tool_result missing tool_use_id, skipping")
				continue
			}
			// The API rejects empty tool result content.
			result := b.Content
			if result == "" {
				result = "(no output)"
			}
			content = append(content, apiContent{
				Type:      "tool_result",
				ToolUseID: b.ToolUseID,
				Content:   result,
				IsError:   b.IsError,
			})
		}
	}
	return content
}

// parseResponse converts an API response to an llm.Response.
func parseResponse(resp *apiResponse) *llm.Response {
	result := &llm.Response{
		StopReason: llm.StopEndTurn,
		Model:      resp.Model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}

	switch resp.StopReason {
	case "tool_use":
		result.StopReason = llm.StopToolUse
	case "max_tokens":
		result.StopReason = llm.StopMaxTokens
	}

	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			result.Blocks = append(result.Blocks, llm.Text(content.Text))
		case "tool_use":
			result.Blocks = append(result.Blocks, llm.ToolUse(content.ID, content.Name, content.Input))
		}
	}

	return result
}

// API types

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature,omitempty"`
	System      string       `json:"system,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Role       string       `json:"role"`
	Model      string       `json:"model"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Ensure Client implements llm.Client
var _ llm.Client = (*Client)(nil)
