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
	"fmt"
	"strings"
)

// RenderSummary formats the diagnosis tree as readable text for terminals
// and plain-text consumers. Structured consumers use the Report JSON.
func RenderSummary(diagnoses []Diagnosis) string {
	if len(diagnoses) == 0 {
		return "No diagnoses could be derived from the available sources."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d diagnos%s identified.\n", len(diagnoses), plural(len(diagnoses), "is", "es"))

	for i, d := range diagnoses {
		fmt.Fprintf(&b, "\n%d. %s (confidence: %s)\n", i+1, d.Name, d.Confidence)
		for _, t := range d.Treatments {
			if t.Label != "" {
				fmt.Fprintf(&b, "   - %s", t.Label)
			} else {
				b.WriteString("   - Treatment")
			}
			if len(t.DrugNames) > 0 {
				fmt.Fprintf(&b, ": %s", strings.Join(t.DrugNames, ", "))
			}
			b.WriteString("\n")
			if t.Notes != "" {
				fmt.Fprintf(&b, "     %s\n", t.Notes)
			}
			for _, name := range t.DrugNames {
				dossier, ok := t.BNFInfo[name]
				if !ok || dossier.Dosage == NotAvailable {
					continue
				}
				fmt.Fprintf(&b, "     %s dosage: %s\n", name, dossier.Dosage)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
