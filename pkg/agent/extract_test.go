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

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "json fence",
			text: "Here is the answer:\n```json\n{\"diagnoses\": []}\n```\nDone.",
			want: `{"diagnoses": []}`,
			ok:   true,
		},
		{
			name: "bare fence",
			text: "```\n{\"diagnoses\": []}\n```",
			want: `{"diagnoses": []}`,
			ok:   true,
		},
		{
			name: "raw object",
			text: `The result is {"diagnoses": [{"name": "Flu"}]} as requested.`,
			want: `{"diagnoses": [{"name": "Flu"}]}`,
			ok:   true,
		},
		{
			name: "nested braces",
			text: `{"a": {"b": {"c": 1}}}`,
			want: `{"a": {"b": {"c": 1}}}`,
			ok:   true,
		},
		{
			name: "braces inside strings",
			text: `{"note": "dose {weight} mg", "x": 1} trailing`,
			want: `{"note": "dose {weight} mg", "x": 1}`,
			ok:   true,
		},
		{
			name: "escaped quote inside string",
			text: `{"note": "he said \"start {now}\"", "x": 1}`,
			want: `{"note": "he said \"start {now}\"", "x": 1}`,
			ok:   true,
		},
		{
			name: "unterminated fence falls back to brace scan",
			text: "```json\n{\"diagnoses\": []}",
			want: `{"diagnoses": []}`,
			ok:   true,
		},
		{
			name: "json fence preferred over earlier brace",
			text: "ignore {this} text\n```json\n{\"diagnoses\": []}\n```",
			want: `{"diagnoses": []}`,
			ok:   true,
		},
		{
			name: "no json",
			text: "nothing to see here",
			ok:   false,
		},
		{
			name: "unbalanced object",
			text: `{"diagnoses": [`,
			ok:   false,
		},
		{
			name: "empty",
			text: "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.text)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tt.ok, got)
			}
			if ok && got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
