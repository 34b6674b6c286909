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

package clinical

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Answer is the shape the LLM is instructed to produce. BNFInfo is excluded
// from the schema: enrichment fills it after parsing.
type Answer struct {
	Diagnoses []Diagnosis `json:"diagnoses" jsonschema:"description=Ranked differential diagnoses for the scenario"`
}

// AnswerSchema reflects the JSON schema the LLM answer must satisfy.
// Definitions are inlined so the schema can be pasted into a prompt.
func AnswerSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Answer{})
	schema.Title = "Clinical Answer Schema"
	schema.Description = "Structured diagnoses and treatments for a clinical scenario"
	return schema
}

// AnswerSchemaJSON renders the answer schema as indented JSON for embedding
// in prompts and for the schema CLI command.
func AnswerSchemaJSON() string {
	data, err := json.MarshalIndent(AnswerSchema(), "", "  ")
	if err != nil {
		// Reflection over our own static types cannot fail at run time.
		return `{"type":"object"}`
	}
	return string(data)
}
