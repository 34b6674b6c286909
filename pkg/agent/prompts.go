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

import (
	"fmt"

	"github.com/kadirpekel/consult/pkg/clinical"
)

const systemPrompt = `You are a clinical decision support assistant. You help clinicians work through a patient scenario by consulting authoritative medical knowledge sources.

Rules:
- Use the available tools to search guidelines, clinical topics and drug references before committing to an answer. Prefer region-specific sources when they are offered.
- Fetch details for the most relevant search hits rather than relying on titles alone.
- Ground every diagnosis and treatment in what the tools returned. Do not invent guidance.
- When a tool fails, continue with the remaining sources.
- Your final message must contain nothing but the answer JSON.`

// userPrompt builds the seed turn: the scenario plus the exact answer
// schema the model must satisfy.
func userPrompt(scenario string) string {
	return fmt.Sprintf(`Clinical scenario:

%s

Work through the scenario using the available knowledge tools, then answer with a single JSON object that conforms to this schema:

%s

List diagnoses in order of likelihood with a confidence of high, medium or low, and for each treatment name the specific drugs in drug_names. Wrap the JSON object in a %s fence and output nothing else.`,
		scenario, clinical.AnswerSchemaJSON(), "```json")
}
