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

import "strings"

// ExtractJSON pulls a JSON object out of model text. Models wrap their
// answers inconsistently, so three envelopes are tried in order: a
// ```json fence, a bare ``` fence, and the first balanced {...} span.
func ExtractJSON(text string) (string, bool) {
	if body, ok := fencedBlock(text, "```json"); ok {
		return body, true
	}
	if body, ok := fencedBlock(text, "```"); ok {
		return body, true
	}
	return braceSpan(text)
}

// fencedBlock returns the trimmed body of the first fenced block opened
// by the given marker.
func fencedBlock(text, opener string) (string, bool) {
	start := strings.Index(text, opener)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(opener):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return "", false
	}
	return body, true
}

// braceSpan returns the first balanced {...} span, honoring JSON string
// literals and escapes so braces inside strings don't end the span.
func braceSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}
