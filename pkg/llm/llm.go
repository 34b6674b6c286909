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

// Package llm defines the language-model capability consumed by the
// analysis drivers.
//
// The conversation model is block-oriented: a message is a role plus an
// ordered list of content blocks, where a block is plain text, a tool
// invocation requested by the assistant, or the caller's reply to one.
// Providers translate this shape to and from their own wire formats.
package llm

import "context"

// Provider identifies the LLM vendor backing a client.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason reports why the model stopped generating.
type StopReason string

const (
	// StopEndTurn means the model finished its answer.
	StopEndTurn StopReason = "end_turn"

	// StopToolUse means the model paused to have tools executed. The
	// response carries one or more tool_use blocks that must each be
	// answered with a tool_result block in the next user turn.
	StopToolUse StopReason = "tool_use"

	// StopMaxTokens means generation was truncated by the token limit.
	StopMaxTokens StopReason = "max_tokens"
)

// Block content types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Block is a single content block inside a message. Type selects which
// fields are meaningful.
type Block struct {
	Type string

	// Text carries the payload of a text block.
	Text string

	// ID, Name and Input describe a tool invocation (tool_use). Name is
	// also set on tool_result blocks because some providers address
	// results by function name rather than call id.
	ID    string
	Name  string
	Input map[string]any

	// ToolUseID, Content and IsError describe a tool reply (tool_result).
	ToolUseID string
	Content   string
	IsError   bool
}

// Text builds a text block.
func Text(s string) Block {
	return Block{Type: BlockText, Text: s}
}

// ToolUse builds a tool invocation block.
func ToolUse(id, name string, input map[string]any) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResult builds a reply block for the tool invocation with the given
// id. isError marks results that serialize a failure.
func ToolResult(id, name, content string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: id, Name: name, Content: content, IsError: isError}
}

// Message is one conversation turn.
type Message struct {
	Role   Role
	Blocks []Block
}

// UserMessage builds a user turn from blocks.
func UserMessage(blocks ...Block) Message {
	return Message{Role: RoleUser, Blocks: blocks}
}

// UserText builds a user turn holding a single text block.
func UserText(s string) Message {
	return UserMessage(Text(s))
}

// AssistantMessage builds an assistant turn from blocks. Drivers use it to
// replay the model's own output back into the conversation history.
func AssistantMessage(blocks ...Block) Message {
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// Tool describes a callable tool offered to the model. InputSchema is a
// JSON schema object for the tool's arguments.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is the input for a single model call.
type Request struct {
	// System is the system instruction, prepended to the conversation.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Tools the model may request. Empty means plain generation.
	Tools []Tool

	// MaxTokens overrides the client's response budget when positive.
	MaxTokens int
}

// Usage carries token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns the combined token count.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the model's reply to a request.
type Response struct {
	// Blocks is the generated content in order: text and tool_use blocks.
	Blocks []Block

	// StopReason reports why generation ended.
	StopReason StopReason

	// Usage is the token accounting reported by the provider.
	Usage Usage

	// Model is the concrete model identifier that produced the reply.
	Model string
}

// Text concatenates the response's text blocks.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var text string
	for _, b := range r.Blocks {
		if b.Type == BlockText {
			text += b.Text
		}
	}
	return text
}

// ToolUses returns the tool invocation blocks in generation order.
func (r *Response) ToolUses() []Block {
	if r == nil {
		return nil
	}
	var calls []Block
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// Client is the capability the drivers consume. Implementations are safe
// for concurrent use.
type Client interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the vendor type.
	Provider() Provider

	// Send performs one model call and returns the complete reply.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Close releases any resources held by the client.
	Close() error
}
