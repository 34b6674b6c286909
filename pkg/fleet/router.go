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
	"fmt"
)

// Caller is the tool-call surface consumed by the search, enrichment and
// agent layers. Router implements it over a live fleet; tests implement it
// with fakes.
type Caller interface {
	// Call invokes a tool by name and returns its text payload.
	Call(ctx context.Context, tool string, args map[string]any) (string, error)

	// Tools returns the callable tool descriptors.
	Tools() []ToolDescriptor
}

// Router maps discovered tool names to their owning servers. The mapping is
// immutable after discovery: conflicts resolve deterministically in server
// name order, first one wins, and the shadowed duplicates are reported as
// warnings rather than errors.
type Router struct {
	registry     *Registry
	toolToServer map[string]string
	descriptors  []ToolDescriptor
	warnings     []string
}

func newRouter(reg *Registry, orderedServers []string, discovered map[string][]ToolDescriptor) *Router {
	r := &Router{
		registry:     reg,
		toolToServer: make(map[string]string),
	}
	for _, server := range orderedServers {
		for _, tool := range discovered[server] {
			if owner, exists := r.toolToServer[tool.Name]; exists {
				r.warnings = append(r.warnings, fmt.Sprintf(
					"tool %s from %s shadowed by %s", tool.Name, server, owner))
				continue
			}
			r.toolToServer[tool.Name] = server
			r.descriptors = append(r.descriptors, tool)
		}
	}
	return r
}

// Call dispatches a tool call to the server that owns the tool name.
func (r *Router) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	server, ok := r.toolToServer[tool]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	return r.registry.Call(ctx, server, tool, args)
}

// Tools returns the callable tool descriptors in dispatch order.
func (r *Router) Tools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Owner returns the server that owns a tool name.
func (r *Router) Owner(tool string) (string, bool) {
	server, ok := r.toolToServer[tool]
	return server, ok
}

// Has reports whether the tool name is callable.
func (r *Router) Has(tool string) bool {
	_, ok := r.toolToServer[tool]
	return ok
}

// Warnings returns the conflict warnings produced during router construction.
func (r *Router) Warnings() []string {
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}
