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

package search

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/region"
)

// Hit is one search result: an opaque record tagged with its source. Only
// the keys consumed downstream get accessors; everything else passes through
// to the report unchanged.
type Hit struct {
	Source region.ResourceType
	Fields map[string]any
}

func (h Hit) str(key string) string {
	if v, ok := h.Fields[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Title returns the hit title, empty when absent.
func (h Hit) Title() string { return h.str("title") }

// URL returns the hit URL, empty when absent.
func (h Hit) URL() string { return h.str("url") }

// Reference returns the source-specific reference code (e.g. NICE "CG69").
func (h Hit) Reference() string { return h.str("reference") }

// Identity returns the dedup key for this hit under its source's policy.
// Empty means the hit cannot be identified and is never deduplicated.
func (h Hit) Identity() string {
	field := h.Source.IdentityField()
	value := h.str(field)
	if field == "title" {
		value = strings.ToLower(value)
	}
	return value
}

// Snippet returns the best short text the hit itself carries, for sources
// without a follow-up detail call.
func (h Hit) Snippet() string {
	for _, key := range []string{"abstract", "summary", "snippet", "description", "overview"} {
		if v := h.str(key); v != "" {
			return v
		}
	}
	return ""
}

// MarshalJSON flattens the hit to its fields plus a source tag.
func (h Hit) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Fields)+1)
	for k, v := range h.Fields {
		out[k] = v
	}
	if _, exists := out["source"]; !exists {
		out["source"] = string(h.Source)
	}
	return json.Marshal(out)
}

// parseHits decodes a search tool payload. Servers answer either with a bare
// array of hit objects or with an object wrapping the array under the
// bucket key or a generic key.
func parseHits(payload string, cfg region.SearchConfig) ([]Hit, error) {
	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w: %v", cfg.ToolName, fleet.ErrParse, err)
	}

	items, ok := hitArray(decoded, cfg.ResultKey)
	if !ok {
		return nil, fmt.Errorf("decoding %s payload: %w: no result array found", cfg.ToolName, fleet.ErrParse)
	}

	hits := make([]Hit, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			hits = append(hits, Hit{Source: cfg.ResourceType, Fields: v})
		case string:
			hits = append(hits, Hit{Source: cfg.ResourceType, Fields: map[string]any{"title": v}})
		}
	}
	return hits, nil
}

func hitArray(decoded any, resultKey string) ([]any, bool) {
	if items, ok := decoded.([]any); ok {
		return items, true
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range []string{resultKey, "results", "hits", "items", "guidelines", "articles", "topics", "summaries"} {
		if items, ok := obj[key].([]any); ok {
			return items, true
		}
	}
	// An object with no array at all yields zero hits rather than an error
	// when it looks like an intentional empty reply.
	if len(obj) == 0 {
		return nil, true
	}
	return nil, false
}
